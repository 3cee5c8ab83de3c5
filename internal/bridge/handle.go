// Package bridge binds one reply socket to one scripting engine and runs
// dispatch activations against it.
//
// Lifecycle: Bind (Unbound -> Bound), any number of DispatchOnce calls,
// Destroy (Bound -> Closed). A Handle is owned by a single caller; overlapping
// activations are refused with ErrDispatchBusy rather than serialized.
package bridge

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/luamq/internal/engine"
	"github.com/danmuck/luamq/internal/protocol"
	"github.com/danmuck/luamq/internal/transport"
	"github.com/danmuck/luamq/internal/transport/zmq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrClosed       = errors.New("bridge: handle closed")
	ErrDispatchBusy = errors.New("bridge: dispatch already in progress")
	ErrNilEngine    = errors.New("bridge: nil engine")
)

// State is the handle lifecycle position.
type State uint8

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type settings struct {
	binder    transport.Binder
	transport transport.Options
	codec     protocol.Options
	logger    *zerolog.Logger
}

// Option customizes Bind.
type Option func(*settings)

// WithBinder replaces the ZeroMQ binder, mainly for tests.
func WithBinder(b transport.Binder) Option {
	return func(s *settings) { s.binder = b }
}

func WithTransportOptions(opts transport.Options) Option {
	return func(s *settings) { s.transport = opts }
}

func WithCodecOptions(opts protocol.Options) Option {
	return func(s *settings) { s.codec = opts }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.logger = &l }
}

// Handle is a bound endpoint, the engine it dispatches into, and the last
// transport error code observed.
type Handle struct {
	address string
	eng     engine.Engine
	codec   *protocol.Codec
	log     zerolog.Logger

	// busy guards activations and Destroy against overlap.
	busy atomic.Bool

	mu      sync.Mutex
	ep      transport.Endpoint
	state   State
	lastErr atomic.Int64
}

// Bind creates the transport context and socket and binds them to address.
func Bind(address string, eng engine.Engine, opts ...Option) (*Handle, error) {
	if eng == nil {
		return nil, ErrNilEngine
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, transport.ErrInvalidAddress
	}
	cfg := settings{
		binder: zmq.Binder,
		codec:  protocol.DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := log.Logger
	if cfg.logger != nil {
		logger = *cfg.logger
	}
	ep, err := cfg.binder(address, cfg.transport)
	if err != nil {
		return nil, fmt.Errorf("bridge: bind %s: %w", address, err)
	}
	h := &Handle{
		address: address,
		eng:     eng,
		codec:   protocol.NewCodec(cfg.codec),
		log:     logger.With().Str("component", "bridge").Str("address", address).Logger(),
		ep:      ep,
		state:   StateBound,
	}
	h.log.Info().Str("charset", h.codec.Options().Charset.Name()).Msg("handle bound")
	return h, nil
}

func (h *Handle) Address() string {
	return h.address
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// LastError returns the last transport error code observed. It is not
// cleared by later successful activations; zero means none was seen.
func (h *Handle) LastError() int {
	return int(h.lastErr.Load())
}

func (h *Handle) recordTransportError(code int) {
	h.lastErr.Store(int64(code))
}

// Destroy closes the socket, then the context. Calling it again returns
// ErrClosed.
func (h *Handle) Destroy() error {
	if !h.busy.CompareAndSwap(false, true) {
		return ErrDispatchBusy
	}
	defer h.busy.Store(false)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateClosed {
		return ErrClosed
	}
	h.state = StateClosed
	ep := h.ep
	h.ep = nil
	if err := ep.Close(); err != nil {
		h.recordTransportError(transport.ErrnoOf(err))
		h.log.Warn().Err(err).Msg("handle close")
		return fmt.Errorf("bridge: destroy: %w", err)
	}
	h.log.Info().Msg("handle closed")
	return nil
}

func (h *Handle) endpoint() (transport.Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateBound {
		return nil, ErrClosed
	}
	return h.ep, nil
}
