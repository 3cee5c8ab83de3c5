package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/luamq/internal/service"
)

// DaemonConfig mirrors the luamqd config file. Durations are Go duration
// strings. Keys left out of the file keep service.DefaultConfig values.
type DaemonConfig struct {
	ID                string   `toml:"id"`
	Address           string   `toml:"address"`
	Scripts           []string `toml:"scripts"`
	Libs              []string `toml:"libs"`
	Charset           string   `toml:"charset"`
	RecvTimeout       string   `toml:"recv_timeout"`
	Linger            string   `toml:"linger"`
	ListsAsArrays     bool     `toml:"lists_as_arrays"`
	MaxDepth          int      `toml:"max_depth"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	AdminAddr         string   `toml:"admin_addr"`
	AdminToken        string   `toml:"admin_token"`
}

// LoadDaemonConfig overlays the keys defined in path onto the service
// defaults. Unknown keys and malformed durations fail; blank script and
// lib entries are dropped. The result is not validated so callers can apply
// flag overrides first.
func LoadDaemonConfig(path string) (service.Config, error) {
	var raw DaemonConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return service.Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return service.Config{}, fmt.Errorf("config parse failed (%s): unknown key %q", path, undecoded[0].String())
	}
	return raw.overlay(meta, service.DefaultConfig())
}

// CheckDaemonConfig loads path and validates the result as the daemon
// would before binding.
func CheckDaemonConfig(path string) (service.Config, error) {
	cfg, err := LoadDaemonConfig(path)
	if err != nil {
		return service.Config{}, err
	}
	if err := ValidateDaemon(cfg); err != nil {
		return service.Config{}, err
	}
	return cfg, nil
}

// ValidateDaemon checks a resolved daemon config.
func ValidateDaemon(cfg service.Config) error {
	if err := validateEndpoint(cfg.Address); err != nil {
		return err
	}
	return cfg.Validate()
}

func (raw DaemonConfig) overlay(meta toml.MetaData, cfg service.Config) (service.Config, error) {
	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.ServiceID = id
		}
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("scripts") {
		cfg.Scripts = normalizeList(raw.Scripts)
	}
	if meta.IsDefined("libs") {
		cfg.Libs = normalizeList(raw.Libs)
	}
	if meta.IsDefined("charset") {
		cfg.Charset = strings.TrimSpace(raw.Charset)
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"recv_timeout", raw.RecvTimeout, &cfg.RecvTimeout},
		{"linger", raw.Linger, &cfg.Linger},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := parseDuration(d.key, d.raw)
		if err != nil {
			return service.Config{}, err
		}
		*d.dst = v
	}
	if meta.IsDefined("lists_as_arrays") {
		cfg.ListsAsArrays = raw.ListsAsArrays
	}
	if meta.IsDefined("max_depth") {
		cfg.MaxDepth = raw.MaxDepth
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
