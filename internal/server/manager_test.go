package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	return cfg
}

// --- Config ---

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8182", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.TLSEnabled())
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty addr", func(c *Config) { c.Addr = "" }},
		{"no port", func(c *Config) { c.Addr = "localhost" }},
		{"cert without key", func(c *Config) { c.CertFile = "server.pem" }},
		{"zero shutdown timeout", func(c *Config) { c.ShutdownTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// --- Start / Shutdown lifecycle ---

func TestManager_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	m := NewManager(handler, testConfig(), zap.NewNop())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	assert.NotEqual(t, "127.0.0.1:0", m.Addr())

	resp, err := http.Get(m.URL() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownIdempotentAndFinal(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), nil)
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_WaitReturnsOnContext(t *testing.T) {
	m := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, m.Wait(ctx))
}

func TestManager_StartFailsOnBusyPort(t *testing.T) {
	first := NewManager(http.NewServeMux(), testConfig(), zap.NewNop())
	require.NoError(t, first.Start())
	t.Cleanup(func() { _ = first.Shutdown(context.Background()) })

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestManager_URLScheme(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "10.0.0.1:8443"
	cfg.CertFile = "server.pem"
	cfg.KeyFile = "server.key"
	m := NewManager(http.NewServeMux(), cfg, zap.NewNop())
	assert.Equal(t, "https://10.0.0.1:8443", m.URL())
}
