// Package admin serves the daemon's HTTP health, readiness, metrics and
// stats routes.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/luamq/internal/auth"
	"github.com/danmuck/luamq/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

const shutdownTimeout = 5 * time.Second

// Stats is the /stats document.
type Stats struct {
	Service         string            `json:"service"`
	Address         string            `json:"address"`
	Charset         string            `json:"charset"`
	Activations     map[string]uint64 `json:"activations"`
	Empty           uint64            `json:"empty"`
	TransportErrors uint64            `json:"transport_errors"`
	LastError       int               `json:"last_error"`
	Functions       []string          `json:"functions"`
}

// Source supplies live daemon state to the routes.
type Source interface {
	Stats() Stats
	Ready() bool
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time

	source    Source
	router    *gin.Engine
	validator auth.Validator
}

type Option func(*Server)

// WithValidator requires a bearer token on /stats and /functions. Probes and
// /metrics stay open.
func WithValidator(v auth.Validator) Option {
	return func(s *Server) { s.validator = v }
}

// New builds the router with logging, metrics and recovery middleware and
// registers every route.
func New(id, addr string, source Source, opts ...Option) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger.With().Str("component", "admin").Logger()))
	r.Use(observability.RequestMetricsMiddleware(id))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		source:   source,
		router:   r,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.source.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	private := s.router.Group("/")
	if s.validator != nil {
		private.Use(auth.Require(s.validator))
	}

	private.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.source.Stats())
	})

	private.GET("/functions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"functions": s.source.Stats().Functions})
	})
}

// Serve listens on Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("component", "admin").Str("addr", s.Addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info().Str("component", "admin").Msg("admin stopped")
		return nil
	}
}
