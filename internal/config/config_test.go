package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "missing")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 6*time.Hour, cfg.LiveKit.TokenTTL)
	assert.Equal(t, "officer-stream", cfg.Bot.Room)
	assert.Equal(t, 5, cfg.Bot.MaxReconnectAttempts)
	assert.Contains(t, cfg.Seats.PrivilegedRoles, "officer")
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := []byte("port: 9090\nstore:\n  driver: redis\nbot:\n  seat: 4\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), yaml, 0o644))

	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("STAGE_MODE", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, 4, cfg.Bot.Seat)
	assert.Equal(t, "debug", cfg.Mode)
}
