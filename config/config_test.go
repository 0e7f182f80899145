package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `{
		"endpoint": "broker.internal:4222",
		"name": "orders-svc",
		"transport": "tcp",
		"request_timeout": "3s",
		"reconnect_buffer_cap": 1024
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "broker.internal:4222", cfg.Endpoint)
	assert.Equal(t, "orders-svc", cfg.Name)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout.Std())
	assert.Equal(t, 1024, cfg.ReconnectBufferCap)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `{"endpoint": "file.internal:4222", "name": "from-file"}`)

	t.Setenv("STREAMWIRE_ENDPOINT", "env.internal:4222")
	t.Setenv("STREAMWIRE_REQUEST_TIMEOUT", "750ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env.internal:4222", cfg.Endpoint)
	assert.Equal(t, "from-file", cfg.Name)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestTimeout.Std())
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := Config{}
	assert.Error(t, cfg.Validate(), "missing endpoint")

	cfg = Config{Endpoint: "x:1", Transport: "carrier-pigeon"}
	assert.Error(t, cfg.Validate())

	cfg = Config{Endpoint: "x:1", ReconnectMaxAttempts: -1}
	assert.Error(t, cfg.Validate())

	cfg = Default("x:1")
	assert.NoError(t, cfg.Validate())
}

func TestDurationUnmarshal(t *testing.T) {
	path := writeConfig(t, `{"endpoint": "x:1", "ping_interval": 5000000000}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PingInterval.Std())
}

func TestOptionsSelectsDialer(t *testing.T) {
	cfg := Default("broker.internal:4222")
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.NotEmpty(t, opts)

	cfg.Transport = "ws"
	_, err = cfg.Options()
	require.NoError(t, err)

	cfg.Transport = "bogus"
	_, err = cfg.Options()
	require.Error(t, err)
}
