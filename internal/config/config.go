// Package config loads and validates luamqd and luamqctl TOML files and
// writes starter templates.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/luamq/internal/protocol/charset"
	"github.com/pelletier/go-toml/v2"
)

// ClientConfig mirrors the luamqctl config file.
type ClientConfig struct {
	Address string `toml:"address"`
	Timeout string `toml:"timeout"`
	// Charset is the terminal's text encoding. Arguments are converted from
	// it and printed results back into it; the wire stays UTF-8.
	Charset string `toml:"charset"`
	History string `toml:"history"`
}

// LoadClientConfig reads path strictly: unknown keys fail.
func LoadClientConfig(path string) (ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg ClientConfig
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Address) == "" {
		return fmt.Errorf("client config missing address")
	}
	if err := validateEndpoint(cfg.Address); err != nil {
		return err
	}
	if _, err := cfg.TimeoutDuration(); err != nil {
		return err
	}
	_, err := cfg.TerminalCharset()
	return err
}

// TimeoutDuration parses Timeout; an empty value is zero.
func (c ClientConfig) TimeoutDuration() (time.Duration, error) {
	if strings.TrimSpace(c.Timeout) == "" {
		return 0, nil
	}
	d, err := parseDuration("timeout", c.Timeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %s", d)
	}
	return d, nil
}

// TerminalCharset resolves Charset; an empty value is UTF-8.
func (c ClientConfig) TerminalCharset() (charset.Charset, error) {
	return charset.Lookup(c.Charset)
}

// validateEndpoint checks for a ZeroMQ transport prefix.
func validateEndpoint(addr string) error {
	addr = strings.TrimSpace(addr)
	for _, scheme := range []string{"tcp://", "ipc://", "inproc://"} {
		if strings.HasPrefix(addr, scheme) && len(addr) > len(scheme) {
			return nil
		}
	}
	return fmt.Errorf("address %q must start with tcp://, ipc:// or inproc://", addr)
}
