// Package service runs the bridge as a standalone daemon: it loads Lua
// scripts, binds a handle, and drives dispatch activations until shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/danmuck/luamq/internal/admin"
	"github.com/danmuck/luamq/internal/auth"
	"github.com/danmuck/luamq/internal/bridge"
	"github.com/danmuck/luamq/internal/engine/luavm"
	"github.com/danmuck/luamq/internal/observability"
	"github.com/danmuck/luamq/internal/protocol"
	"github.com/danmuck/luamq/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Option customizes a Service.
type Option func(*Service)

// WithBinder replaces the ZeroMQ binder.
func WithBinder(b transport.Binder) Option {
	return func(s *Service) { s.binder = b }
}

// WithSetup runs fn against the engine after scripts load and before bind,
// e.g. to register Go functions.
func WithSetup(fn func(*luavm.State) error) Option {
	return func(s *Service) { s.setup = append(s.setup, fn) }
}

// Service owns one engine and one bridge handle.
type Service struct {
	cfg    Config
	binder transport.Binder
	setup  []func(*luavm.State) error
	log    zerolog.Logger

	eng       *luavm.State
	handle    *bridge.Handle
	charset   string
	functions []string
	ready     atomic.Bool

	statsMu       sync.Mutex
	activations   map[protocol.Status]uint64
	empty         uint64
	transportErrs uint64
}

func New(cfg Config, opts ...Option) *Service {
	s := &Service{
		cfg:         cfg,
		log:         log.Logger.With().Str("component", "service").Str("service", cfg.ServiceID).Logger(),
		activations: make(map[protocol.Status]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps, serves until ctx is done, then shuts down.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(); err != nil {
		s.shutdown()
		return err
	}
	defer s.shutdown()
	return s.serve(ctx)
}

func (s *Service) bootstrap() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	codecOpts, err := s.cfg.CodecOptions()
	if err != nil {
		return err
	}

	eng, err := luavm.New(s.cfg.EngineOptions())
	if err != nil {
		return err
	}
	s.eng = eng
	for _, path := range s.cfg.Scripts {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := eng.LoadFile(path); err != nil {
			return err
		}
		s.log.Info().Str("script", path).Msg("script loaded")
	}
	for _, fn := range s.setup {
		if err := fn(eng); err != nil {
			return fmt.Errorf("service: setup: %w", err)
		}
	}

	opts := []bridge.Option{
		bridge.WithCodecOptions(codecOpts),
		bridge.WithTransportOptions(s.cfg.TransportOptions()),
		bridge.WithLogger(log.Logger.With().Str("service", s.cfg.ServiceID).Logger()),
	}
	if s.binder != nil {
		opts = append(opts, bridge.WithBinder(s.binder))
	}
	handle, err := bridge.Bind(s.cfg.Address, eng, opts...)
	if err != nil {
		return err
	}
	functions := eng.Functions()
	s.statsMu.Lock()
	s.handle = handle
	s.charset = codecOpts.Charset.Name()
	s.functions = functions
	s.statsMu.Unlock()
	s.ready.Store(true)

	s.log.Info().
		Str("address", s.cfg.Address).
		Str("charset", codecOpts.Charset.Name()).
		Int("functions", len(functions)).
		Bool("lists_as_arrays", s.cfg.ListsAsArrays).
		Msg("bridge ready")
	return nil
}

func (s *Service) serve(ctx context.Context) error {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	adminErr := make(chan error, 1)
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		var adminOpts []admin.Option
		if s.cfg.AdminToken != "" {
			adminOpts = append(adminOpts, admin.WithValidator(auth.StaticToken{Token: s.cfg.AdminToken}))
		}
		srv := admin.New(s.cfg.ServiceID, addr, s, adminOpts...)
		go func() {
			adminErr <- srv.Serve(ctx)
		}()
	}

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("shutdown")
			return nil
		case err := <-adminErr:
			if err != nil {
				return fmt.Errorf("service: admin: %w", err)
			}
		case <-heartbeat.C:
			s.logHeartbeat()
		default:
		}

		act, err := s.handle.DispatchOnce()
		if err != nil {
			if errors.Is(err, bridge.ErrClosed) {
				return err
			}
			s.log.Warn().Err(err).Msg("dispatch refused")
			continue
		}
		s.record(act)
	}
}

func (s *Service) record(act bridge.Activation) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if act.TransportErr != 0 {
		s.transportErrs++
		observability.RecordTransportError(act.TransportErr)
	}
	if !act.Received {
		if act.TransportErr == 0 {
			s.empty++
			observability.RecordEmptyDispatch()
		}
		return
	}
	s.activations[act.Status]++
	observability.RecordDispatch(string(act.Status), act.Duration)
}

func (s *Service) logHeartbeat() {
	stats := s.Stats()
	s.log.Info().
		Uint64("ok", stats.Activations[string(protocol.StatusOK)]).
		Uint64("runtime_error", stats.Activations[string(protocol.StatusRuntimeError)]).
		Uint64("not_found", stats.Activations[string(protocol.StatusNotFound)]).
		Uint64("transport_errors", stats.TransportErrors).
		Int("last_error", stats.LastError).
		Msg("heartbeat")
}

func (s *Service) shutdown() {
	s.ready.Store(false)
	if s.handle != nil {
		if err := s.handle.Destroy(); err != nil && !errors.Is(err, bridge.ErrClosed) {
			s.log.Warn().Err(err).Msg("destroy handle")
		}
	}
	if s.eng != nil {
		s.eng.Close()
	}
}

// Ready reports whether the handle is bound and dispatching.
func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Stats snapshots the activation counters.
func (s *Service) Stats() admin.Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	acts := make(map[string]uint64, len(s.activations))
	for status, n := range s.activations {
		acts[string(status)] = n
	}
	lastErr := 0
	if s.handle != nil {
		lastErr = s.handle.LastError()
	}
	return admin.Stats{
		Service:         s.cfg.ServiceID,
		Address:         s.cfg.Address,
		Charset:         s.charset,
		Activations:     acts,
		Empty:           s.empty,
		TransportErrors: s.transportErrs,
		LastError:       lastErr,
		Functions:       append([]string(nil), s.functions...),
	}
}

var _ admin.Source = (*Service)(nil)
