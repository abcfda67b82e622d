package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/internal/config"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
store {
  backend = "postgres"
  dsn     = "postgres://worker@localhost/tasks?sslmode=disable"
}

defaults {
  interval     = "15m"
  lock_timeout = "2h"
}

parameters = {
  suite   = "main"
  force   = true
  retries = 3
  mirrors = ["primary", "fallback"]
}
`)

	cfg, err := config.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://worker@localhost/tasks?sslmode=disable", cfg.Store.DSN)
	assert.Equal(t, 15*time.Minute, cfg.Defaults.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Defaults.LockTimeout)
	assert.Equal(t, map[string]any{
		"suite":   "main",
		"force":   true,
		"retries": float64(3),
		"mirrors": []any{"primary", "fallback"},
	}, cfg.Parameters)
}

func TestLoadMinimalConfig(t *testing.T) {
	path := writeConfig(t, `
store {
  backend = "memory"
}
`)

	cfg, err := config.Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Empty(t, cfg.Store.DSN)
	assert.Zero(t, cfg.Defaults.Interval)
	assert.Nil(t, cfg.Parameters)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	path := writeConfig(t, `
store {
  backend = "redis"
}
`)

	_, err := config.Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid store backend")
}

func TestLoadRequiresDSNForPostgres(t *testing.T) {
	path := writeConfig(t, `
store {
  backend = "postgres"
}
`)

	_, err := config.Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a dsn")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
defaults {
  interval = "soon"
}
`)

	_, err := config.Load(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaults.interval")
}

func TestDefaultConfig(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.BackendMemory, cfg.Store.Backend)
	assert.Zero(t, cfg.Defaults.LockTimeout)
}
