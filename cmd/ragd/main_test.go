package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragd/internal/config"
	"github.com/fyrsmithlabs/ragd/internal/logging"
	"github.com/fyrsmithlabs/ragd/internal/telemetry"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "ragd by Fyrsmith Labs")
	assert.Contains(t, out.String(), "Version:    "+version)
}

func TestServeCommandFlags(t *testing.T) {
	cmd := newServeCmd()
	assert.NotNil(t, cmd.Flags().Lookup("config"))
	assert.NotNil(t, cmd.Flags().Lookup("env-file"))
}

func TestLoadConfig_EnvFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RAGD_SERVER_HTTP_PORT=9911\nRAGD_CHAT_QUERY_TIMEOUT=45s\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("RAGD_SERVER_HTTP_PORT")
		os.Unsetenv("RAGD_CHAT_QUERY_TIMEOUT")
	})

	cfg, err := loadConfig(&serveOptions{envFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, 9911, cfg.Server.Port)
	assert.Equal(t, "45s", cfg.Chat.QueryTimeout.Duration().String())
}

func TestLoadConfig_MissingEnvFile(t *testing.T) {
	_, err := loadConfig(&serveOptions{envFile: filepath.Join(t.TempDir(), "missing.env")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestNewGate(t *testing.T) {
	gate, reloader, err := newGate(t.Context(), config.IngestionConfig{ChunkSize: 200, ChunkOverlapPercent: 10}, logging.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, gate)
	assert.Nil(t, reloader, "no allowlist path, nothing to watch")

	gate, reloader, err = newGate(t.Context(), config.IngestionConfig{ChunkSize: 200, SecretsAllowlist: filepath.Join(t.TempDir(), "allowlist.toml")}, logging.NewNop())
	require.NoError(t, err, "a missing allowlist file is treated as empty")
	require.NotNil(t, reloader)
	t.Cleanup(reloader.Stop)
	assert.NotNil(t, gate)

	bad := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[allowlist]\nregexes = ['''(''']\n"), 0o600))
	_, _, err = newGate(t.Context(), config.IngestionConfig{ChunkSize: 200, SecretsAllowlist: bad}, logging.NewNop())
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	tel, err := telemetry.New(t.Context(), config.ObservabilityConfig{}, "test")
	require.NoError(t, err)

	logger, err := newLogger(config.ObservabilityConfig{LogLevel: "debug", LogFormat: "console"}, tel)
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger(config.ObservabilityConfig{LogLevel: "loud", LogFormat: "json"}, tel)
	assert.Error(t, err)
}
