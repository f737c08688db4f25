package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alsocoders/sockress/envelope"
	"github.com/alsocoders/sockress/errors"
	"github.com/alsocoders/sockress/router"
)

const writeTimeout = 10 * time.Second

// handleUpgrade validates the handshake and, when accepted, hands the
// connection to its read loop. A rejected upgrade destroys the TCP
// connection without completing any HTTP exchange, so a probing client
// learns nothing.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.config.Socket.Path {
		s.metrics.Metrics.UpgradeRejections.WithLabelValues("path").Inc()
		if !s.config.Production {
			s.logger.Warn("upgrade rejected: path mismatch",
				slog.String("path", r.URL.Path),
				slog.String("expected", s.config.Socket.Path))
		}
		s.destroyConnection(w)
		return
	}

	origin := r.Header.Get("Origin")
	if !s.config.CORS.AllowsOrigin(origin) {
		s.metrics.Metrics.UpgradeRejections.WithLabelValues("origin").Inc()
		if !s.config.Production {
			s.logger.Warn("upgrade rejected: origin not allowed",
				slog.String("origin", origin))
		}
		s.destroyConnection(w)
		return
	}

	upgrader := websocket.Upgrader{
		// Origin was validated above against the configured allow-list.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.metrics.Metrics.UpgradeRejections.WithLabelValues("handshake").Inc()
		s.logger.Warn("upgrade handshake failed", slog.String("error", err.Error()))
		return
	}

	conn := &socketConn{
		server:     s,
		conn:       wsConn,
		remoteAddr: clientIP(r),
		origin:     origin,
		hostname:   r.Host,
		secure:     r.TLS != nil,
	}
	conn.alive.Store(true)
	s.addConn(conn)

	s.logger.Info("socket connected", slog.String("remote", conn.remoteAddr))

	s.wg.Add(1)
	go conn.readLoop()
}

// destroyConnection takes over the underlying TCP connection and closes it
// without writing a response.
func (s *Server) destroyConnection(w http.ResponseWriter) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		// Nothing to hijack; close the stream via an empty abort.
		w.WriteHeader(http.StatusForbidden)
		return
	}
	conn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}

// socketConn is one accepted socket connection. Reads happen on a single
// goroutine; envelopes dispatch concurrently; writes serialize on writeMu.
type socketConn struct {
	server     *Server
	conn       *websocket.Conn
	remoteAddr string
	origin     string
	hostname   string
	secure     bool

	writeMu   sync.Mutex
	alive     atomic.Bool
	closeOnce sync.Once
}

func (c *socketConn) readLoop() {
	defer c.server.wg.Done()
	defer c.close("read loop ended")

	idle := c.server.config.Socket.IdleTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.Debug("socket read failed",
					slog.String("remote", c.remoteAddr),
					slog.String("error", err.Error()))
			}
			return
		}

		// Inbound traffic is proof of life, same as a pong.
		c.alive.Store(true)
		_ = c.conn.SetReadDeadline(time.Now().Add(idle))

		if msgType != websocket.TextMessage {
			c.protocolError("", "Unsupported message type")
			continue
		}

		env, err := envelope.Decode(data)
		if err != nil {
			// Only the offending envelope is answered; the connection
			// stays open.
			c.server.metrics.Metrics.ProtocolErrors.Inc()
			if errors.Is(err, errors.ErrSocketProtocol) {
				// The frame parsed but declared a type outside the
				// protocol; such frames are never correlated.
				c.protocolError("", "Unsupported message type")
				continue
			}
			c.protocolError(partialID(data), "Invalid envelope")
			continue
		}

		c.server.metrics.Metrics.EnvelopesTotal.WithLabelValues("in", env.Type).Inc()

		if env.Type != envelope.TypeRequest {
			c.protocolError("", "Unsupported message type")
			continue
		}

		// Envelopes on one connection dispatch independently; response
		// order across ids is not guaranteed.
		c.server.wg.Add(1)
		go c.dispatch(env)
	}
}

// partialID best-effort extracts an id from a frame that failed full
// decoding, so the error envelope can still be correlated.
func partialID(data []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return ""
	}
	return probe.ID
}

func (c *socketConn) dispatch(env *envelope.Envelope) {
	defer c.server.wg.Done()
	start := time.Now()

	req, err := c.buildRequest(env)
	if err != nil {
		c.server.metrics.Metrics.ProtocolErrors.Inc()
		c.protocolError(env.ID, "Invalid envelope")
		return
	}

	res := router.NewResponse(&socketSender{conn: c, id: env.ID, origin: c.origin})
	router.Dispatch(c.server.router, router.NewCtx(req, res))

	status := strconv.Itoa(res.StatusCode())
	c.server.metrics.Metrics.RequestsTotal.WithLabelValues("socket", req.Method, status).Inc()
	c.server.metrics.Metrics.RequestDuration.WithLabelValues("socket").
		Observe(time.Since(start).Seconds())
}

func (c *socketConn) buildRequest(env *envelope.Envelope) (*router.Request, error) {
	method := strings.ToUpper(env.Method)
	req := router.NewRequest(router.TransportSocket, method, env.Path)
	req.ID = env.ID
	req.Query = env.Query.Values()
	req.RawBody = env.Body
	req.IP = c.remoteAddr
	req.Secure = c.secure
	req.Protocol = "ws"
	if c.secure {
		req.Protocol = "wss"
	}
	req.Hostname = c.hostname
	req.OriginalURL = env.Path

	for key, value := range env.Headers {
		req.Headers.Set(key, value)
	}

	contentType := req.Headers.Get("Content-Type")
	if envelope.IsMultipartType(contentType) && len(env.Body) > 0 {
		form, err := envelope.DecodeForm(env.Body)
		if err != nil {
			return nil, err
		}
		req.Form = form
		return req, nil
	}

	body, err := envelope.ParseBody(contentType, env.Body)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// protocolError answers the offending frame with an error envelope, leaving
// the connection open.
func (c *socketConn) protocolError(id, message string) {
	env := envelope.NewError(id, message, "PROTOCOL")
	c.writeEnvelope(env)
}

func (c *socketConn) writeEnvelope(env *envelope.Envelope) {
	data, err := env.Marshal()
	if err != nil {
		c.server.logger.Error("envelope marshal failed", slog.String("error", err.Error()))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.server.logger.Debug("socket write failed",
			slog.String("remote", c.remoteAddr),
			slog.String("error", err.Error()))
		return
	}
	c.server.metrics.Metrics.EnvelopesTotal.WithLabelValues("out", env.Type).Inc()
}

func (c *socketConn) ping() {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

func (c *socketConn) close(reason string) {
	c.closeOnce.Do(func() {
		c.server.logger.Debug("closing socket",
			slog.String("remote", c.remoteAddr),
			slog.String("reason", reason))
		_ = c.conn.Close()
		c.server.removeConn(c)
	})
}

// socketSender re-encodes a finalized Response as a response envelope tagged
// with the originating envelope id.
type socketSender struct {
	conn   *socketConn
	id     string
	origin string
}

func (s *socketSender) Send(res *router.Response, body any) error {
	raw, err := envelope.MarshalSocketBody(body)
	if err != nil {
		return err
	}

	// Socket-encoded responses carry the same default content types and
	// CORS headers HTTP ones do.
	if res.Header("Content-Type") == "" {
		if ct := envelope.DefaultContentType(body); ct != "" {
			res.Headers().Set("Content-Type", ct)
		}
	}
	s.conn.server.applyCORS(res.Headers(), s.origin)

	headers := make(envelope.HeaderMap, len(res.Headers()))
	for key, values := range res.Headers() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	env := &envelope.Envelope{
		Type:    envelope.TypeResponse,
		ID:      s.id,
		Status:  res.StatusCode(),
		Headers: headers,
		Body:    raw,
		Cookies: res.CookieStrings(),
	}
	s.conn.writeEnvelope(env)
	return nil
}

