package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/harvest/internal/model"
)

func TestRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Credentials = map[string]model.BankCredentials{
		"chase": {Username: "jane", Password: "hunter2"},
	}
	cfg.Extractor.URL = "http://extractor:8481"

	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "harvest.db"), got.Store.Path)
	assert.Equal(t, filepath.Join(dir, "import"), got.Paths.Import)
	assert.Equal(t, "http://extractor:8481", got.Extractor.URL)
	assert.Equal(t, time.Second, got.MFA.PollInterval)
	assert.Equal(t, 240, got.MFA.MaxPolls)
	assert.Equal(t, 3*time.Second, got.Auth.Settle)
	require.Len(t, got.Banks, 1)
	assert.Equal(t, "chase", got.Banks[0].Format)

	creds, ok := got.CredentialsFor("CHASE")
	require.True(t, ok)
	assert.Equal(t, "jane", creds.Username)
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 2, cfg.Concurrency)
	assert.Equal(t, "ndjson", cfg.Extractor.Framing)
	assert.Empty(t, cfg.Extractor.URL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Credentials)
	require.NoError(t, cfg.Validate())
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestYAMLFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(path, Default()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	contents := string(data)

	assert.Contains(t, contents, "poll_interval: 1s")
	assert.Contains(t, contents, "settle: 3s")
	assert.Contains(t, contents, "framing: ndjson")
	assert.NotContains(t, contents, "credentials")
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, os.WriteFile(path, []byte("concurrency: 4\nmfa:\n  max_polls: 10\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Concurrency)
	assert.Equal(t, 10, cfg.MFA.MaxPolls)
	assert.Equal(t, time.Second, cfg.MFA.PollInterval)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDB:           "/var/lib/harvest.db",
		EnvExtractorURL: "http://10.0.0.2:8481",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "/var/lib/harvest.db", cfg.Store.Path)
	assert.Equal(t, "http://10.0.0.2:8481", cfg.Extractor.URL)
	assert.Equal(t, "127.0.0.1:8480", cfg.Server.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvLogLevel, "")
	require.NoError(t, os.Unsetenv(EnvLogLevel))
	require.NoError(t, Save(filepath.Join(dir, FileName), Default()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvLogLevel+"=debug\n"), 0o600))

	cfg, err := Load(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Concurrency = 0
	cfg.Extractor.Framing = "xml"
	cfg.Banks = append(cfg.Banks, BankConfig{ID: "Chase", Format: "chase"})

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "framing")
	assert.Contains(t, err.Error(), "duplicate")
}
