package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "daemon", "luamqd":
		return daemonTemplate, nil
	case "client", "luamqctl":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const daemonTemplate = `id = "luamqd"
address = "tcp://127.0.0.1:8004"
scripts = ["scripts/bridge.lua"]
charset = "utf-8"
recv_timeout = "250ms"
linger = "0s"
lists_as_arrays = false
max_depth = 64
heartbeat_interval = "30s"
admin_addr = "127.0.0.1:9104"
admin_token = ""
`

const clientTemplate = `address = "tcp://127.0.0.1:8004"
timeout = "5s"
charset = "utf-8"
history = ".luamqctl_history"
`
