package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk/internal/config"
	"kiosk/internal/domain"
	"kiosk/internal/useragent"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&out)
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "kiosk dev\n", out.String())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestWireKiosk_WithoutStorage(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.OrganizationID = "org-1"

	var out bytes.Buffer
	k, err := wireKiosk(context.Background(), cfg, newLogger(cfg.Log, &out), wireOptions{
		userAgent: useragent.Printer{W: &out},
	})
	require.NoError(t, err)
	defer k.Close()

	assert.Nil(t, k.db)
	assert.Nil(t, k.redisClient)
	assert.Nil(t, k.idempotency)
	assert.Nil(t, k.nrApp)

	assert.Equal(t, domain.AuthorizationStatusIdle, k.auth.Session().Status)
	assert.Equal(t, domain.ConnectionNotConnected, k.readers.Status().Kind)
	_, ok := k.payments.Current()
	assert.False(t, ok)

	router := newRouter(k, cfg, newLogger(cfg.Log, &out))
	assert.NotNil(t, router)
}
