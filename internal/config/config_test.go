package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("KIOSK_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "order", cfg.Payment.Flow)
	assert.Equal(t, "USD", cfg.Payment.Currency)
	assert.Equal(t, 500*time.Millisecond, cfg.Auth.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Auth.PollTimeout)
	assert.False(t, cfg.Database.Enabled)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
backend:
  base_url: https://donate.example.org
auth:
  organization_id: org-1
  poll_interval: 1s
payment:
  flow: direct
  lock_ttl: 2m
redis:
  enabled: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://donate.example.org", cfg.Backend.BaseURL)
	assert.Equal(t, "org-1", cfg.Auth.OrganizationID)
	assert.Equal(t, time.Second, cfg.Auth.PollInterval)
	assert.Equal(t, "direct", cfg.Payment.Flow)
	assert.Equal(t, 2*time.Minute, cfg.Payment.LockTTL)
	assert.True(t, cfg.Redis.Enabled)
	// untouched keys keep their defaults
	assert.Equal(t, "USD", cfg.Payment.Currency)
	assert.Equal(t, 30*time.Second, cfg.Auth.PollTimeout)
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, `
auth:
  organization_id: org-from-file
payment:
  currency: EUR
`)
	t.Setenv("AUTH_ORGANIZATION_ID", "org-from-env")
	t.Setenv("PAYMENT_ORDER_TIMEOUT", "5s")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://a.local, http://b.local")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "org-from-env", cfg.Auth.OrganizationID)
	assert.Equal(t, "EUR", cfg.Payment.Currency)
	assert.Equal(t, 5*time.Second, cfg.Payment.OrderTimeout)
	assert.Equal(t, []string{"http://a.local", "http://b.local"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 0, cfg.Redis.DB)
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := writeFile(t, "auth:\n  organization_id: org-env-path\n")
	t.Setenv("KIOSK_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "org-env-path", cfg.Auth.OrganizationID)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "auth: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.OrganizationID = "org-1"
	require.NoError(t, cfg.Validate())

	cfg.Auth.OrganizationID = ""
	cfg.Payment.Flow = "tap"
	cfg.Auth.PollTimeout = time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "organization_id")
	assert.Contains(t, err.Error(), "payment.flow")
	assert.Contains(t, err.Error(), "poll_timeout")
}
