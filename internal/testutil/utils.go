package testutil

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TestLogger routes the global zerolog logger into t.Log for the test's duration.
func TestLogger(t *testing.T) zerolog.Logger {
	prev := log.Logger
	logger := zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
	log.Logger = logger
	t.Cleanup(func() {
		log.Logger = prev
	})
	return logger
}

// Eventually polls cond until it holds or the deadline passes.
func Eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
