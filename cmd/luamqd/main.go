package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/luamq/internal/config"
	"github.com/danmuck/luamq/internal/logging"
	"github.com/danmuck/luamq/internal/service"
	"github.com/rs/zerolog/log"
)

type overrides struct {
	address string
	admin   string
	scripts []string
}

// resolveConfig loads the optional config file, applies flag overrides and
// validates the result with the same rules configgen uses.
func resolveConfig(path string, o overrides) (service.Config, error) {
	cfg := service.DefaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		loaded, err := config.LoadDaemonConfig(path)
		if err != nil {
			return service.Config{}, err
		}
		cfg = loaded
	}
	if o.address != "" {
		cfg.Address = o.address
	}
	if o.admin != "" {
		cfg.AdminAddr = o.admin
	}
	cfg.Scripts = append(cfg.Scripts, o.scripts...)
	if err := config.ValidateDaemon(cfg); err != nil {
		return service.Config{}, err
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to a luamqd TOML config")
	address := flag.String("address", "", "override the bind address")
	admin := flag.String("admin", "", "override the admin HTTP listen address")
	flag.Parse()

	logging.ConfigureRuntime()
	log.Logger = log.Logger.With().Str("app", "luamqd").Logger()

	cfg, err := resolveConfig(*configPath, overrides{
		address: *address,
		admin:   *admin,
		scripts: flag.Args(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "luamqd: %v\n", err)
		os.Exit(1)
	}

	svc := service.New(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "luamqd: %v\n", err)
		os.Exit(1)
	}
}
