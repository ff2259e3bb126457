package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistered(t *testing.T) (*pflag.FlagSet, *viper.Viper) {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := New()
	Register(flags, v)
	return flags, v
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "NBKERNEL_NOTEBOOK_ID", EnvName(KeyNotebookID))
	assert.Equal(t, "NBKERNEL_HEARTBEAT_TIMEOUT", EnvName(KeyHeartbeatTimeout))
}

func TestLoad_Defaults(t *testing.T) {
	flags, v := newRegistered(t)
	require.NoError(t, flags.Parse([]string{"--notebook-id", "nb-1"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "nb-1", cfg.NotebookID)
	assert.Equal(t, "nb-1.db", cfg.SyncURL)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, DefaultSyncInterval, cfg.SyncInterval)
	assert.Equal(t, DefaultStatusAddr, cfg.StatusAddr)
	assert.Empty(t, cfg.MetricsAddr)
	assert.Equal(t, []string{"python3", "-"}, cfg.CodeCommand)
	assert.Empty(t, cfg.AICommand)
}

func TestLoad_EnvironmentAndFlagPrecedence(t *testing.T) {
	t.Setenv("NBKERNEL_NOTEBOOK_ID", "from-env")
	t.Setenv("NBKERNEL_HEARTBEAT_INTERVAL", "2s")
	t.Setenv("NBKERNEL_AUTH_TOKEN", "secret")

	flags, v := newRegistered(t)
	require.NoError(t, flags.Parse([]string{"--heartbeat-interval", "3s"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.NotebookID)
	assert.Equal(t, "secret", cfg.AuthToken)
	assert.Equal(t, 3*time.Second, cfg.HeartbeatInterval, "flag beats environment")
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kernel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("notebook-id: nb-file\nsync-url: /tmp/log.db\nai-command: llm --model small\n"), 0o644))

	_, v := newRegistered(t)
	require.NoError(t, ReadFile(v, path))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "nb-file", cfg.NotebookID)
	assert.Equal(t, "/tmp/log.db", cfg.SyncURL)
	assert.Equal(t, []string{"llm", "--model", "small"}, cfg.AICommand)
}

func TestReadFile_Missing(t *testing.T) {
	_, v := newRegistered(t)
	assert.Error(t, ReadFile(v, filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestLoad_Validation(t *testing.T) {
	flags, v := newRegistered(t)
	require.NoError(t, flags.Parse([]string{
		"--heartbeat-interval", "30s",
		"--heartbeat-timeout", "30s",
		"--sync-interval", "0s",
	}))

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notebook-id is required")
	assert.Contains(t, err.Error(), "must be shorter than")
	assert.Contains(t, err.Error(), "sync-interval must be positive")
}
