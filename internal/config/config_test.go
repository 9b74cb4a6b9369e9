package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"DATABASE_URL", "JWT_SECRET", "PORT", "CORS_ORIGIN", "SERVICE_KEY_HASH", "STORE",
		"WORKERS", "USER_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "DEFAULT_TIMEZONE", "MIGRATIONS_DIR"} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaultsWithMemoryStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.UserTimeout)
	assert.Equal(t, "UTC", cfg.DefaultTimezone)
	assert.Error(t, cfg.RequireJWT())
}

func TestLoadYAMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "cerveau.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database_url: postgres://file/db
port: "9090"
workers: 8
user_timeout: 45s
default_timezone: Europe/Paris
`), 0o600))
	t.Setenv("PORT", "7070")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://file/db", cfg.DatabaseURL)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, 45*time.Second, cfg.UserTimeout)
	assert.Equal(t, "Europe/Paris", cfg.DefaultTimezone)
	assert.NoError(t, cfg.RequireJWT())
}

func TestLoadRejectsBadEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE", "memory")
	t.Setenv("WORKERS", "many")
	_, err := Load("")
	assert.ErrorContains(t, err, "WORKERS")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Workers = 0
	cfg.DefaultTimezone = "Mars/Olympus"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "DATABASE_URL is required")
	assert.ErrorContains(t, err, "WORKERS must be positive")
	assert.ErrorContains(t, err, "DEFAULT_TIMEZONE")

	cfg = Default()
	cfg.Store = "sqlite"
	assert.ErrorContains(t, cfg.Validate(), `STORE must be`)
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}
