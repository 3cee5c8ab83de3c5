package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/luamq/internal/client"
	"github.com/danmuck/luamq/internal/config"
	"github.com/danmuck/luamq/internal/observability"
	"github.com/danmuck/luamq/internal/protocol/charset"
	"github.com/peterh/liner"
	"github.com/rs/zerolog"
)

const (
	promptMain     = "luamq> "
	defaultHistory = ".luamqctl_history"
)

type settings struct {
	address string
	timeout time.Duration
	history string
	charset charset.Charset
}

// resolveSettings applies the config file over the defaults, then any flag
// the user set explicitly.
func resolveSettings(configPath string, flagAddr string, flagTimeout time.Duration, set map[string]bool) (settings, error) {
	s := settings{
		address: flagAddr,
		timeout: flagTimeout,
		history: filepath.Join(homeDir(), defaultHistory),
		charset: charset.UTF8,
	}
	if configPath != "" {
		cfg, err := config.LoadClientConfig(configPath)
		if err != nil {
			return settings{}, err
		}
		s.address = cfg.Address
		if d, _ := cfg.TimeoutDuration(); d > 0 {
			s.timeout = d
		}
		if cfg.History != "" {
			s.history = cfg.History
		}
		if s.charset, err = cfg.TerminalCharset(); err != nil {
			return settings{}, err
		}
	}
	if set["addr"] {
		s.address = flagAddr
	}
	if set["timeout"] {
		s.timeout = flagTimeout
	}
	return s, nil
}

func main() {
	configPath := flag.String("config", "", "path to a luamqctl TOML config")
	address := flag.String("addr", "tcp://127.0.0.1:8004", "bridge address")
	timeout := flag.Duration("timeout", 5*time.Second, "per-call timeout")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	observability.InitLogger("luamqctl")
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	s, err := resolveSettings(*configPath, *address, *timeout, set)
	if err != nil {
		fatal(err)
	}

	c, err := client.Dial(s.address, client.WithTimeout(s.timeout))
	if err != nil {
		fatal(err)
	}
	defer c.Close()

	args := flag.Args()
	if len(args) == 0 || args[0] == "repl" {
		runREPL(c, s)
		return
	}
	if args[0] == "call" {
		args = args[1:]
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := runCall(ctx, c, s.charset, os.Stdout, args); err != nil {
		printError(os.Stderr, s.charset, err)
		os.Exit(1)
	}
}

func runREPL(c caller, s settings) {
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(s.history); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	for {
		line, err := ln.Prompt(promptMain)
		if errors.Is(err, io.EOF) {
			fmt.Println()
			break
		}
		if err != nil {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ":quit" || line == ":q" {
			break
		}
		if line == ":help" {
			fmt.Println("<function> [args...]   args are YAML: 1, \"1\", [1, 2], {a: 1}")
			fmt.Println(":quit                  leave")
			continue
		}
		ln.AppendHistory(line)

		fields, err := splitLine(line)
		if err != nil {
			printError(os.Stderr, s.charset, err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err = runCall(ctx, c, s.charset, os.Stdout, fields)
		cancel()
		if err != nil {
			printError(os.Stderr, s.charset, err)
		}
	}

	if f, err := os.Create(s.history); err == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "luamqctl: %v\n", err)
	os.Exit(1)
}
