// Package client implements the transport controller: requests prefer the
// persistent socket when one is up, queue while it is down, and fall back to
// one-shot HTTP when the socket path fails. Handlers on the server see the
// same request either way.
package client

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alsocoders/sockress/config"
	"github.com/alsocoders/sockress/envelope"
	"github.com/alsocoders/sockress/errors"
	"github.com/alsocoders/sockress/pkg/queue"
)

// State is the transport controller's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateClosed is terminal: reconnection is permanently disabled and all
	// queued and pending work is rejected.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Dialer opens the socket transport. Swappable for tests and for embedders
// with custom TLS or proxy needs.
type Dialer func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

func defaultDialer(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	return conn, err
}

// pendingRequest tracks one in-flight socket request. At most one entry per
// id; removed on response, error, timeout or socket teardown, whichever
// comes first.
type pendingRequest struct {
	id    string
	done  chan result
	timer *time.Timer
}

type result struct {
	env *envelope.Envelope
	err error
}

// Client is the dual-transport request controller.
type Client struct {
	config     config.ClientConfig
	logger     *slog.Logger
	httpClient *http.Client
	dial       Dialer

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	writeMu sync.Mutex
	pending map[string]*pendingRequest
	queue   *queue.Ring[*envelope.Envelope]
	attempt int
	timer   *time.Timer

	onPush func(*envelope.Envelope)
	wg     sync.WaitGroup
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the fallback HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDialer replaces the socket dialer.
func WithDialer(d Dialer) Option {
	return func(c *Client) { c.dial = d }
}

// WithPushHandler registers a callback for out-of-band envelopes: inbound
// messages whose id matches no pending request. Unmatched envelopes are not
// an error; without a handler they are dropped.
func WithPushHandler(fn func(*envelope.Envelope)) Option {
	return func(c *Client) { c.onPush = fn }
}

// New builds a client. With AutoConnect set, the socket dial starts
// immediately in the background.
func New(cfg config.ClientConfig, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "New", "config validation")
	}

	c := &Client{
		config:  cfg,
		logger:  slog.Default(),
		dial:    defaultDialer,
		state:   StateDisconnected,
		pending: map[string]*pendingRequest{},
		queue:   queue.New[*envelope.Envelope](cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
		if cfg.Credentials {
			jar, err := cookiejar.New(nil)
			if err != nil {
				return nil, errors.WrapFatal(err, "Client", "New", "build cookie jar")
			}
			c.httpClient.Jar = jar
		}
	}

	if cfg.AutoConnect {
		go func() {
			if err := c.Connect(context.Background()); err != nil {
				c.logger.Debug("initial connect failed", slog.String("error", err.Error()))
			}
		}()
	}

	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the socket transport. It is a no-op while already
// connecting or connected, and an error once closed. On success queued
// envelopes flush in FIFO order and the reconnect attempt counter resets.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return errors.WrapFatal(errors.ErrClientClosed, "Client", "Connect", "client closed")
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	header := http.Header{}
	for key, value := range c.config.Headers {
		header.Set(key, value)
	}

	conn, err := c.dial(ctx, c.config.SocketURL(), header)
	if err != nil {
		c.mu.Lock()
		if c.state == StateConnecting {
			c.state = StateDisconnected
			c.scheduleReconnectLocked()
		}
		c.mu.Unlock()
		return errors.WrapTransient(err, "Client", "Connect", "dial socket")
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.WrapFatal(errors.ErrClientClosed, "Client", "Connect", "client closed during dial")
	}
	c.conn = conn
	c.state = StateConnected
	c.attempt = 0
	queued := c.queue.Drain()
	c.mu.Unlock()

	c.logger.Info("socket connected", slog.String("url", c.config.SocketURL()))

	c.wg.Add(1)
	go c.readLoop(conn)

	for _, env := range queued {
		c.mu.Lock()
		_, stillPending := c.pending[env.ID]
		c.mu.Unlock()
		if !stillPending {
			// Timed out or rejected while queued.
			continue
		}
		if err := c.writeEnvelope(conn, env); err != nil {
			c.logger.Warn("queued envelope send failed",
				slog.String("id", env.ID), slog.String("error", err.Error()))
		}
	}

	return nil
}

// scheduleReconnectLocked arms the reconnect timer with linear backoff:
// min(base × attempt, max). Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	c.attempt++
	delay := time.Duration(c.attempt) * c.config.ReconnectInterval
	if delay > c.config.MaxReconnectInterval {
		delay = c.config.MaxReconnectInterval
	}

	c.logger.Debug("reconnect scheduled",
		slog.Int("attempt", c.attempt),
		slog.Duration("delay", delay))

	c.timer = time.AfterFunc(delay, func() {
		if err := c.Connect(context.Background()); err != nil {
			c.logger.Debug("reconnect failed", slog.String("error", err.Error()))
		}
	})
}

// handleDisconnect rejects every pending request and schedules a reconnect,
// unless the client was closed.
func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		// A newer connection superseded this one.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	rejected := c.takePendingLocked()

	if c.state != StateClosed {
		c.state = StateDisconnected
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	c.logger.Warn("socket disconnected", slog.String("error", cause.Error()))

	lost := errors.WrapTransient(cause, "Client", "handleDisconnect", "connection lost")
	for _, p := range rejected {
		p.deliver(result{err: lost})
	}
}

// takePendingLocked removes and returns every pending entry. Caller holds
// c.mu.
func (c *Client) takePendingLocked() []*pendingRequest {
	taken := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		p.timer.Stop()
		taken = append(taken, p)
		delete(c.pending, id)
	}
	return taken
}

// Close moves the client to its terminal state: the socket closes, queued
// and pending requests are rejected, and reconnection is permanently
// disabled. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	if c.timer != nil {
		c.timer.Stop()
	}
	rejected := c.takePendingLocked()
	c.queue.Close()
	c.queue.Drain()
	c.mu.Unlock()

	closed := errors.WrapFatal(errors.ErrClientClosed, "Client", "Close", "client closed")
	for _, p := range rejected {
		p.deliver(result{err: closed})
	}

	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()

	c.logger.Info("client closed")
	return nil
}

// deliver completes a pending request exactly once; the channel is buffered
// so delivery never blocks.
func (p *pendingRequest) deliver(r result) {
	select {
	case p.done <- r:
	default:
	}
}

// newID returns a fresh correlation id.
func newID() string {
	return uuid.NewString()
}
