package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func TestNewDefaults(t *testing.T) {
	os.Clearenv()
	setEnv(t, "ADMIN_TOKEN", "secret-token")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "https://api.openai.com", cfg.DefaultAPIURL)
	assert.Equal(t, "", cfg.DefaultAPIKey)
	assert.Equal(t, StoreBackendSQLite, cfg.StoreBackend)
	assert.Equal(t, AdminAuthBearer, cfg.AdminAuth)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)
	assert.False(t, cfg.IsProduction())
}

func TestNewRequiresAdminToken(t *testing.T) {
	os.Clearenv()
	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_TOKEN")
}

func TestNewAllowsNoAuthMode(t *testing.T) {
	os.Clearenv()
	setEnv(t, "ADMIN_AUTH", "none")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, AdminAuthNone, cfg.AdminAuth)
	assert.Empty(t, cfg.AdminToken)
}

func TestNewRejectsNoAuthInProduction(t *testing.T) {
	os.Clearenv()
	setEnv(t, "ADMIN_AUTH", "none")
	setEnv(t, "APP_ENV", "production")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ADMIN_AUTH")
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	os.Clearenv()
	setEnv(t, "ADMIN_TOKEN", "secret")
	setEnv(t, "STORE_BACKEND", "etcd")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_BACKEND")
}

func TestNewPostgresRequiresURL(t *testing.T) {
	os.Clearenv()
	setEnv(t, "ADMIN_TOKEN", "secret")
	setEnv(t, "STORE_BACKEND", "postgres")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestNewDebugOverridesLogLevel(t *testing.T) {
	os.Clearenv()
	setEnv(t, "ADMIN_TOKEN", "secret")
	setEnv(t, "DEBUG", "true")
	setEnv(t, "LOG_LEVEL", "warn")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestNewProduction(t *testing.T) {
	os.Clearenv()
	setEnv(t, "ADMIN_TOKEN", "secret")
	setEnv(t, "APP_ENV", "Production")

	cfg, err := New()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestLoadTargetProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	content := `profiles:
  openai:
    base_url: https://api.openai.com
    api_key: sk-test
  local:
    base_url: http://localhost:11434
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	profiles, err := LoadTargetProfiles(path)
	require.NoError(t, err)

	p, ok := profiles.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com", p.BaseURL)
	assert.Equal(t, "sk-test", p.APIKey)

	p, ok = profiles.Get("local")
	require.True(t, ok)
	assert.Empty(t, p.APIKey)

	_, ok = profiles.Get("missing")
	assert.False(t, ok)
}

func TestLoadTargetProfilesErrors(t *testing.T) {
	_, err := LoadTargetProfiles(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  broken:\n    api_key: only-key\n"), 0644))
	_, err = LoadTargetProfiles(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")

	path = filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{not yaml"), 0644))
	_, err = LoadTargetProfiles(path)
	assert.Error(t, err)
}

func TestGetNilProfiles(t *testing.T) {
	var p *TargetProfiles
	_, ok := p.Get("anything")
	assert.False(t, ok)
}
