// Package config defines the configuration surface for Sockress servers and
// clients. Configs are plain structs validated once before serving begins;
// Validate applies defaults in place so zero values are always usable.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alsocoders/sockress/errors"
)

// CORSConfig controls the CORS headers appended to every outgoing response
// and the Origin allow-list enforced during the socket upgrade handshake.
type CORSConfig struct {
	// Origins lists allowed origins. ["*"] allows any origin.
	Origins []string `json:"origins,omitempty"`

	// Credentials sets Access-Control-Allow-Credentials.
	Credentials bool `json:"credentials,omitempty"`

	// Methods sets Access-Control-Allow-Methods.
	Methods []string `json:"methods,omitempty"`

	// AllowedHeaders sets Access-Control-Allow-Headers.
	AllowedHeaders []string `json:"allowed_headers,omitempty"`

	// ExposedHeaders sets Access-Control-Expose-Headers.
	ExposedHeaders []string `json:"exposed_headers,omitempty"`

	// MaxAge sets Access-Control-Max-Age in seconds.
	MaxAge int `json:"max_age,omitempty"`
}

// AllowsOrigin reports whether the given Origin header value passes the
// allow-list. An empty origin (non-browser client) is always allowed.
func (c *CORSConfig) AllowsOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range c.Origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// SocketConfig controls the socket transport on the server side.
type SocketConfig struct {
	// Path is the upgrade endpoint. Upgrade requests to any other path
	// destroy the connection.
	Path string `json:"path,omitempty"`

	// HeartbeatInterval is the ping cadence. A connection that has not
	// answered the previous ping when the next one is due is terminated.
	HeartbeatInterval time.Duration `json:"heartbeat_interval,omitempty"`

	// IdleTimeout is the read deadline applied after each heartbeat.
	IdleTimeout time.Duration `json:"idle_timeout,omitempty"`
}

// ServerConfig holds configuration for a Sockress server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `json:"addr,omitempty"`

	CORS   CORSConfig   `json:"cors,omitempty"`
	Socket SocketConfig `json:"socket,omitempty"`

	// BodyLimit caps buffered HTTP request bodies in bytes. Exceeding it
	// aborts the read and fails the request with 413.
	BodyLimit int64 `json:"body_limit,omitempty"`

	// Production suppresses upgrade-rejection diagnostics.
	Production bool `json:"production,omitempty"`
}

// Validate checks the server configuration and applies defaults in place.
func (c *ServerConfig) Validate() error {
	if c.Addr == "" {
		c.Addr = ":8080"
	}

	if c.Socket.Path == "" {
		c.Socket.Path = "/sockress"
	}
	if !strings.HasPrefix(c.Socket.Path, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ServerConfig", "Validate",
			fmt.Sprintf("socket path %q must start with /", c.Socket.Path))
	}

	if c.Socket.HeartbeatInterval == 0 {
		c.Socket.HeartbeatInterval = 30 * time.Second
	}
	if c.Socket.HeartbeatInterval < 100*time.Millisecond {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ServerConfig", "Validate",
			"heartbeat interval must be at least 100ms")
	}

	if c.Socket.IdleTimeout == 0 {
		c.Socket.IdleTimeout = 2 * c.Socket.HeartbeatInterval
	}
	if c.Socket.IdleTimeout < c.Socket.HeartbeatInterval {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ServerConfig", "Validate",
			"idle timeout must not be shorter than the heartbeat interval")
	}

	if c.BodyLimit < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ServerConfig", "Validate",
			"body_limit cannot be negative")
	}
	if c.BodyLimit == 0 {
		c.BodyLimit = 1 << 20 // 1MB
	}
	if c.BodyLimit > 100<<20 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ServerConfig", "Validate",
			"body_limit cannot exceed 100MB")
	}

	if len(c.CORS.Origins) == 0 {
		c.CORS.Origins = []string{"*"}
	}
	if len(c.CORS.Methods) == 0 {
		c.CORS.Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"Content-Type", "Authorization"}
	}
	if c.CORS.MaxAge == 0 {
		c.CORS.MaxAge = 3600
	}

	return nil
}

// DefaultServerConfig returns a validated server configuration with defaults.
func DefaultServerConfig() ServerConfig {
	cfg := ServerConfig{}
	_ = cfg.Validate() // defaults only, cannot fail
	return cfg
}

// ClientConfig holds configuration for a Sockress client.
type ClientConfig struct {
	// BaseURL is the http(s) origin requests are issued against,
	// e.g. "http://api.example.com:8080".
	BaseURL string `json:"base_url"`

	// SocketPath is the upgrade endpoint on the server. Must match the
	// server's Socket.Path.
	SocketPath string `json:"socket_path,omitempty"`

	// Headers are sent with every request on both transports.
	Headers map[string]string `json:"headers,omitempty"`

	// Timeout bounds each request: for socket requests it is the window a
	// response envelope must arrive in, for HTTP it is the round-trip limit.
	Timeout time.Duration `json:"timeout,omitempty"`

	// ReconnectInterval is the base of the linear reconnect backoff:
	// delay = min(ReconnectInterval * attempt, MaxReconnectInterval).
	ReconnectInterval    time.Duration `json:"reconnect_interval,omitempty"`
	MaxReconnectInterval time.Duration `json:"max_reconnect_interval,omitempty"`

	// AutoConnect dials the socket as soon as the client is constructed.
	AutoConnect bool `json:"auto_connect,omitempty"`

	// PreferSocket routes requests over the socket transport when connected,
	// falling back to HTTP on failure.
	PreferSocket bool `json:"prefer_socket,omitempty"`

	// Credentials includes cookies on HTTP requests.
	Credentials bool `json:"credentials,omitempty"`

	// QueueSize bounds the number of requests queued while disconnected.
	// Requests beyond the bound are rejected with ErrQueueFull.
	QueueSize int `json:"queue_size,omitempty"`
}

// Validate checks the client configuration and applies defaults in place.
func (c *ClientConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ClientConfig", "Validate",
			"base_url is required")
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errors.WrapInvalid(err, "ClientConfig", "Validate",
			fmt.Sprintf("invalid base_url %q", c.BaseURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ClientConfig", "Validate",
			fmt.Sprintf("base_url scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ClientConfig", "Validate",
			"base_url must include a host")
	}

	if c.SocketPath == "" {
		c.SocketPath = "/sockress"
	}
	if !strings.HasPrefix(c.SocketPath, "/") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ClientConfig", "Validate",
			fmt.Sprintf("socket path %q must start with /", c.SocketPath))
	}

	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Timeout < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ClientConfig", "Validate",
			"timeout cannot be negative")
	}

	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = time.Second
	}
	if c.MaxReconnectInterval == 0 {
		c.MaxReconnectInterval = 30 * time.Second
	}
	if c.MaxReconnectInterval < c.ReconnectInterval {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ClientConfig", "Validate",
			"max_reconnect_interval must be >= reconnect_interval")
	}

	if c.QueueSize < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ClientConfig", "Validate",
			"queue_size cannot be negative")
	}
	if c.QueueSize == 0 {
		c.QueueSize = 128
	}

	return nil
}

// SocketURL derives the ws(s) dial URL from BaseURL and SocketPath.
func (c *ClientConfig) SocketURL() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.SocketPath
	return u.String()
}

// DefaultClientConfig returns a validated client configuration for baseURL.
func DefaultClientConfig(baseURL string) ClientConfig {
	cfg := ClientConfig{
		BaseURL:      baseURL,
		AutoConnect:  true,
		PreferSocket: true,
	}
	_ = cfg.Validate()
	return cfg
}
