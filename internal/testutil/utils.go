package testutil

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

// TestLogger writes to stdout rather than t.Log so goroutines that outlive the
// test (write pumps, timers) cannot trip the testing package.
func TestLogger(t *testing.T) zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("test", t.Name()).Logger()
}
