// Package client calls functions exposed by a luamq bridge over a REQ
// socket.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/luamq/internal/protocol"
	"github.com/danmuck/luamq/internal/transport"
	"github.com/danmuck/luamq/internal/transport/zmq"
	"github.com/danmuck/luamq/internal/value"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrNotFound     = errors.New("client: function not found")
	ErrEmptyName    = errors.New("client: empty function name")
	ErrUnknownReply = errors.New("client: unknown reply status")
)

// RemoteError is a RUNTIME_ERROR reply.
type RemoteError struct {
	Function string
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("client: %s failed: %s", e.Function, e.Message)
}

// Requester sends one envelope and returns the status and payload frames.
type Requester interface {
	Request(ctx context.Context, envelope []byte) (string, []byte, error)
	Close() error
}

// Result is a decoded reply.
type Result struct {
	Status protocol.Status
	// Values holds the OK results. Integers decode as int64 or uint64 and
	// maps as map[any]any, since the bridge keys them by number as often as
	// by string.
	Values []any
	// Message is the error text or the missing function name.
	Message string
}

type Client struct {
	req   Requester
	codec *protocol.Codec
	log   zerolog.Logger
}

type settings struct {
	timeout time.Duration
	linger  time.Duration
	codec   protocol.Options
}

type Option func(*settings)

// WithTimeout bounds calls whose context has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func WithLinger(d time.Duration) Option {
	return func(s *settings) { s.linger = d }
}

// WithCodecOptions sets the codec used by Invoke.
func WithCodecOptions(opts protocol.Options) Option {
	return func(s *settings) { s.codec = opts }
}

// Dial connects to a bridge over ZeroMQ.
func Dial(address string, opts ...Option) (*Client, error) {
	cfg := settings{codec: protocol.DefaultOptions()}
	for _, opt := range opts {
		opt(&cfg)
	}
	req, err := zmq.Dial(address, transport.Options{RecvTimeout: cfg.timeout, Linger: cfg.linger})
	if err != nil {
		return nil, err
	}
	c := New(req, opts...)
	c.log = c.log.With().Str("address", address).Logger()
	return c, nil
}

// New wraps an existing Requester.
func New(req Requester, opts ...Option) *Client {
	cfg := settings{codec: protocol.DefaultOptions()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{
		req:   req,
		codec: protocol.NewCodec(cfg.codec),
		log:   log.Logger.With().Str("component", "client").Logger(),
	}
}

func (c *Client) Close() error {
	return c.req.Close()
}

// Call invokes name with Go arguments marshalled by msgpack. A NOT_FOUND
// reply returns ErrNotFound and a RUNTIME_ERROR reply a *RemoteError; the
// Result is filled in both cases.
func (c *Client) Call(ctx context.Context, name string, args ...any) (Result, error) {
	if name == "" {
		return Result{}, ErrEmptyName
	}
	envelope, err := msgpack.Marshal(append([]any{name}, args...))
	if err != nil {
		return Result{}, fmt.Errorf("client: encode call: %w", err)
	}
	status, payload, err := c.req.Request(ctx, envelope)
	if err != nil {
		return Result{}, err
	}
	c.log.Debug().Str("function", name).Str("status", status).Int("bytes", len(payload)).Msg("reply")
	return decodeResult(name, status, payload)
}

func decodeResult(name, status string, payload []byte) (Result, error) {
	st, err := protocol.ParseStatus(status)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnknownReply, err)
	}
	res := Result{Status: st}
	if st == protocol.StatusOK {
		dec := msgpack.NewDecoder(bytes.NewReader(payload))
		dec.UseLooseInterfaceDecoding(true)
		dec.SetMapDecoder(func(d *msgpack.Decoder) (any, error) {
			return d.DecodeUntypedMap()
		})
		if err := dec.Decode(&res.Values); err != nil {
			return Result{}, fmt.Errorf("client: decode results: %w", err)
		}
		return res, nil
	}
	if err := msgpack.Unmarshal(payload, &res.Message); err != nil {
		return Result{}, fmt.Errorf("client: decode %s payload: %w", st, err)
	}
	if st == protocol.StatusNotFound {
		return res, fmt.Errorf("%w: %s", ErrNotFound, res.Message)
	}
	return res, &RemoteError{Function: name, Message: res.Message}
}

// Invoke is Call for scripting values, decoded through the client codec.
func (c *Client) Invoke(ctx context.Context, name string, args ...value.Value) (protocol.Reply, error) {
	if name == "" {
		return protocol.Reply{}, ErrEmptyName
	}
	envelope, err := c.codec.EncodeCall(name, args...)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("client: encode call: %w", err)
	}
	status, payload, err := c.req.Request(ctx, envelope)
	if err != nil {
		return protocol.Reply{}, err
	}
	reply, err := c.codec.DecodeReply(status, payload)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("client: decode reply: %w", err)
	}
	switch reply.Status {
	case protocol.StatusNotFound:
		return reply, fmt.Errorf("%w: %s", ErrNotFound, reply.Text)
	case protocol.StatusRuntimeError:
		return reply, &RemoteError{Function: name, Message: reply.Text}
	}
	return reply, nil
}
