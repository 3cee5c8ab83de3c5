package testlog

import (
	"testing"

	"github.com/danmuck/luamq/internal/logging"
	"github.com/rs/zerolog/log"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("test start")
}

// Logf records a progress line for the running test.
func Logf(format string, args ...any) {
	log.Info().Msgf(format, args...)
}
