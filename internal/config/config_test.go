package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5, cfg.Audit.Workers)
	assert.Equal(t, 200, cfg.Audit.QueueSize)
	assert.Equal(t, "drop_oldest", cfg.Audit.OverflowPolicy)
	assert.Equal(t, "audit_logs", cfg.Redis.AuditListKey)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	yaml := []byte("server:\n  port: \"9090\"\naudit:\n  workers: 2\n  overflow_policy: caller_runs\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))
	t.Setenv("TRACELOG_AUDIT_QUEUE_SIZE", "32")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 2, cfg.Audit.Workers)
	assert.Equal(t, "caller_runs", cfg.Audit.OverflowPolicy)
	assert.Equal(t, 32, cfg.Audit.QueueSize)
}
