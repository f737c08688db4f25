package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alsocoders/sockress/envelope"
	"github.com/alsocoders/sockress/errors"
)

const socketWriteTimeout = 10 * time.Second

// readLoop correlates inbound envelopes against pending requests; anything
// unmatched is an out-of-band push.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}

		env, err := envelope.Decode(data)
		if err != nil {
			c.logger.Warn("dropping malformed inbound envelope",
				slog.String("error", err.Error()))
			continue
		}

		switch env.Type {
		case envelope.TypeResponse, envelope.TypeError:
			if p := c.takePending(env.ID); p != nil {
				if env.Type == envelope.TypeError {
					p.deliver(result{err: env.Err()})
				} else {
					p.deliver(result{env: env})
				}
				continue
			}
			// No pending entry: late response after timeout, or a push
			// disguised with an id. Not an error either way.
			c.push(env)

		default:
			c.push(env)
		}
	}
}

func (c *Client) push(env *envelope.Envelope) {
	if c.onPush != nil {
		c.onPush(env)
	}
}

// takePending removes and returns the pending entry for id, nil if absent.
func (c *Client) takePending(id string) *pendingRequest {
	if id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	p.timer.Stop()
	delete(c.pending, id)
	return p
}

func (c *Client) writeEnvelope(conn *websocket.Conn, env *envelope.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.WrapTransient(err, "Client", "writeEnvelope", "write frame")
	}
	return nil
}

// socketRequest sends one request envelope over the socket and waits for
// its correlated response. While disconnected the envelope is queued with
// the same pending bookkeeping; the timeout clock starts at submission
// either way. A full queue rejects immediately with ErrQueueFull.
func (c *Client) socketRequest(ctx context.Context, env *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	p := &pendingRequest{
		id:   env.ID,
		done: make(chan result, 1),
	}
	p.timer = time.AfterFunc(timeout, func() {
		if taken := c.takePending(env.ID); taken != nil {
			taken.deliver(result{err: errors.WrapTransient(errors.ErrRequestTimeout,
				"Client", "socketRequest", "await response envelope")})
		}
	})

	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		p.timer.Stop()
		return nil, errors.WrapFatal(errors.ErrClientClosed, "Client", "socketRequest", "client closed")

	case StateConnected:
		conn := c.conn
		c.pending[env.ID] = p
		c.mu.Unlock()

		if err := c.writeEnvelope(conn, env); err != nil {
			if taken := c.takePending(env.ID); taken != nil {
				taken.timer.Stop()
			}
			return nil, err
		}

	default:
		// Disconnected or mid-dial: queue for the flush that runs on
		// connect.
		c.pending[env.ID] = p
		if err := c.queue.Push(env); err != nil {
			delete(c.pending, env.ID)
			c.mu.Unlock()
			p.timer.Stop()
			return nil, errors.WrapTransient(err, "Client", "socketRequest", "queue request")
		}
		needReconnect := c.state == StateDisconnected && c.timer == nil
		c.mu.Unlock()

		if needReconnect {
			go func() {
				if err := c.Connect(context.Background()); err != nil {
					c.logger.Debug("connect on demand failed", slog.String("error", err.Error()))
				}
			}()
		}
	}

	select {
	case r := <-p.done:
		return r.env, r.err
	case <-ctx.Done():
		if taken := c.takePending(env.ID); taken != nil {
			taken.timer.Stop()
		}
		return nil, errors.WrapTransient(ctx.Err(), "Client", "socketRequest", "context cancelled")
	}
}
