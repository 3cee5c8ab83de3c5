package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/luamq/internal/engine/luavm"
	"github.com/danmuck/luamq/internal/protocol"
	"github.com/danmuck/luamq/internal/protocol/charset"
	"github.com/danmuck/luamq/internal/transport"
)

var (
	ErrAddressRequired          = errors.New("service: address required")
	ErrInvalidHeartbeatInterval = errors.New("service: invalid heartbeat interval")
	ErrInvalidRecvTimeout       = errors.New("service: recv timeout must be positive")
	ErrInvalidMaxDepth          = errors.New("service: invalid max depth")
)

// Config configures one bridge daemon.
type Config struct {
	ServiceID string
	Address   string
	// Scripts are run in order at startup; they define the callable globals.
	Scripts []string
	// Libs overrides the Lua standard libraries opened. Nil keeps the defaults.
	Libs []string
	// Charset is the engine's native text encoding, by WHATWG name.
	Charset       string
	ListsAsArrays bool
	MaxDepth      int
	// RecvTimeout bounds each receive so the loop can observe shutdown.
	RecvTimeout       time.Duration
	Linger            time.Duration
	HeartbeatInterval time.Duration
	// AdminAddr enables the HTTP admin surface when set.
	AdminAddr string
	// AdminToken, when set, is required as a bearer token on /stats and
	// /functions.
	AdminToken string
}

func DefaultConfig() Config {
	return Config{
		ServiceID:         "luamqd",
		Address:           "tcp://127.0.0.1:8004",
		Charset:           "utf-8",
		MaxDepth:          protocol.DefaultMaxDepth,
		RecvTimeout:       250 * time.Millisecond,
		Linger:            0,
		HeartbeatInterval: 30 * time.Second,
	}
}

// Validate checks the config and resolves the charset.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if c.RecvTimeout <= 0 {
		return ErrInvalidRecvTimeout
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxDepth, c.MaxDepth)
	}
	if _, err := c.CodecOptions(); err != nil {
		return err
	}
	return nil
}

// CodecOptions builds the wire codec configuration.
func (c Config) CodecOptions() (protocol.Options, error) {
	opts := protocol.DefaultOptions()
	name := strings.TrimSpace(c.Charset)
	if name != "" {
		cs, err := charset.Lookup(name)
		if err != nil {
			return protocol.Options{}, err
		}
		opts.Charset = cs
	}
	opts.ListsAsArrays = c.ListsAsArrays
	if c.MaxDepth > 0 {
		opts.MaxDepth = c.MaxDepth
	}
	return opts, nil
}

func (c Config) TransportOptions() transport.Options {
	return transport.Options{RecvTimeout: c.RecvTimeout, Linger: c.Linger}
}

func (c Config) EngineOptions() luavm.Options {
	return luavm.Options{Libs: c.Libs, Limits: luavm.Limits{MaxDepth: c.MaxDepth}}
}
