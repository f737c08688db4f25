package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alsocoders/sockress/errors"
)

func TestServerConfig_Defaults(t *testing.T) {
	cfg := ServerConfig{}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "/sockress", cfg.Socket.Path)
	assert.Equal(t, 30*time.Second, cfg.Socket.HeartbeatInterval)
	assert.Equal(t, 60*time.Second, cfg.Socket.IdleTimeout)
	assert.Equal(t, int64(1<<20), cfg.BodyLimit)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	assert.NotEmpty(t, cfg.CORS.Methods)
	assert.Equal(t, 3600, cfg.CORS.MaxAge)
}

func TestServerConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"socket path without slash", func(c *ServerConfig) { c.Socket.Path = "ws" }},
		{"heartbeat too short", func(c *ServerConfig) { c.Socket.HeartbeatInterval = time.Millisecond }},
		{"idle shorter than heartbeat", func(c *ServerConfig) {
			c.Socket.HeartbeatInterval = 10 * time.Second
			c.Socket.IdleTimeout = time.Second
		}},
		{"negative body limit", func(c *ServerConfig) { c.BodyLimit = -1 }},
		{"excessive body limit", func(c *ServerConfig) { c.BodyLimit = 200 << 20 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ServerConfig{}
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestCORSConfig_AllowsOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		allowed bool
	}{
		{"wildcard allows any", []string{"*"}, "https://x.com", true},
		{"exact match", []string{"https://y.com"}, "https://y.com", true},
		{"case-insensitive match", []string{"https://Y.com"}, "https://y.com", true},
		{"not in list", []string{"https://y.com"}, "https://x.com", false},
		{"empty origin always allowed", []string{"https://y.com"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := CORSConfig{Origins: tt.origins}
			assert.Equal(t, tt.allowed, c.AllowsOrigin(tt.origin))
		})
	}
}

func TestClientConfig_Defaults(t *testing.T) {
	cfg := ClientConfig{BaseURL: "http://localhost:8080"}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/sockress", cfg.SocketPath)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, time.Second, cfg.ReconnectInterval)
	assert.Equal(t, 30*time.Second, cfg.MaxReconnectInterval)
	assert.Equal(t, 128, cfg.QueueSize)
}

func TestClientConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    ClientConfig
		errVar error
	}{
		{"missing base url", ClientConfig{}, errors.ErrMissingConfig},
		{"bad scheme", ClientConfig{BaseURL: "ftp://host"}, errors.ErrInvalidConfig},
		{"no host", ClientConfig{BaseURL: "http://"}, errors.ErrInvalidConfig},
		{"negative queue", ClientConfig{BaseURL: "http://h", QueueSize: -1}, errors.ErrInvalidConfig},
		{"max below base interval", ClientConfig{
			BaseURL:              "http://h",
			ReconnectInterval:    10 * time.Second,
			MaxReconnectInterval: time.Second,
		}, errors.ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.errVar)
		})
	}
}

func TestClientConfig_SocketURL(t *testing.T) {
	tests := []struct {
		base     string
		path     string
		expected string
	}{
		{"http://host:8080", "/ws", "ws://host:8080/ws"},
		{"https://host", "/sockress", "wss://host/sockress"},
	}

	for _, tt := range tests {
		cfg := ClientConfig{BaseURL: tt.base, SocketPath: tt.path}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, tt.expected, cfg.SocketURL())
	}
}
