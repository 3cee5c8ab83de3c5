package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/danmuck/luamq/internal/config"
)

func defaultPath(kind string) (string, error) {
	switch kind {
	case "daemon", "luamqd":
		return "cmd/luamqd/config.toml", nil
	case "client", "luamqctl":
		return "cmd/luamqctl/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}

// validateFile applies the same loader and checks the binaries use.
func validateFile(kind, path string) error {
	switch kind {
	case "daemon", "luamqd":
		_, err := config.CheckDaemonConfig(path)
		return err
	case "client", "luamqctl":
		_, err := config.LoadClientConfig(path)
		return err
	default:
		return fmt.Errorf("unknown kind: %s", kind)
	}
}

func main() {
	kind := flag.String("kind", "daemon", "config kind: daemon|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			p, err := defaultPath(*kind)
			if err != nil {
				log.Fatal(err)
			}
			path = p
		}
		if err := validateFile(*kind, path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		p, err := defaultPath(*kind)
		if err != nil {
			log.Fatal(err)
		}
		target = p
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
