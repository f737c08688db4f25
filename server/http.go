package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alsocoders/sockress/envelope"
	"github.com/alsocoders/sockress/errors"
	"github.com/alsocoders/sockress/router"
)

// ServeHTTP routes inbound connections: upgrade requests go to the socket
// handshake, everything else through the HTTP adapter.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleUpgrade(w, r)
		return
	}
	s.handleHTTP(w, r)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set("X-Request-ID", requestID)

	s.applyCORS(w.Header(), r.Header.Get("Origin"))
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	defer r.Body.Close()

	// Read one byte past the ceiling so an at-limit body is distinguishable
	// from an over-limit one.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, s.config.BodyLimit+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if int64(len(rawBody)) > s.config.BodyLimit {
		// Abort rather than buffer unbounded data; the connection is not
		// reused.
		w.Header().Set("Connection", "close")
		s.writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.config.BodyLimit))
		s.metrics.Metrics.RequestsTotal.WithLabelValues("http", r.Method, "413").Inc()
		return
	}

	req, err := s.buildHTTPRequest(r, requestID, rawBody)
	if err != nil {
		s.writeError(w, errors.StatusCode(err), err.Error())
		return
	}

	res := router.NewResponse(&httpSender{w: w})
	router.Dispatch(s.router, router.NewCtx(req, res))

	status := strconv.Itoa(res.StatusCode())
	s.metrics.Metrics.RequestsTotal.WithLabelValues("http", r.Method, status).Inc()
	s.metrics.Metrics.RequestDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())
}

func (s *Server) buildHTTPRequest(r *http.Request, requestID string, rawBody []byte) (*router.Request, error) {
	req := router.NewRequest(router.TransportHTTP, r.Method, r.URL.Path)
	req.ID = requestID
	req.Query = r.URL.Query()
	req.Headers = r.Header.Clone()
	req.Cookies = r.Cookies()
	req.RawBody = rawBody
	req.IP = clientIP(r)
	req.Secure = r.TLS != nil
	req.Protocol = "http"
	if req.Secure {
		req.Protocol = "https"
	}
	req.Hostname = r.Host
	req.OriginalURL = r.URL.RequestURI()
	req.WithContext(r.Context())

	contentType := r.Header.Get("Content-Type")
	if envelope.IsMultipartType(contentType) && len(rawBody) > 0 {
		form, err := envelope.ParseMultipartBody(contentType, bytes.NewReader(rawBody))
		if err != nil {
			return nil, err
		}
		req.Form = form
		return req, nil
	}

	body, err := envelope.ParseBody(contentType, rawBody)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			fwd = fwd[:idx]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// applyCORS appends the configured CORS headers for the given Origin. Every
// outgoing response carries them, HTTP and socket-encoded alike.
func (s *Server) applyCORS(h http.Header, origin string) {
	if !s.config.CORS.AllowsOrigin(origin) {
		return
	}

	if origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	if s.config.CORS.Credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	h.Set("Access-Control-Allow-Methods", strings.Join(s.config.CORS.Methods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(s.config.CORS.AllowedHeaders, ", "))
	if len(s.config.CORS.ExposedHeaders) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(s.config.CORS.ExposedHeaders, ", "))
	}
	h.Set("Access-Control-Max-Age", strconv.Itoa(s.config.CORS.MaxAge))
}

// writeError writes a structured error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(router.ErrorBody{Error: message, Status: statusCode})
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("error response write failed", slog.String("error", err.Error()))
	}
}

// httpSender delivers a finalized Response through the native HTTP head and
// body.
type httpSender struct {
	w http.ResponseWriter
}

func (h *httpSender) Send(res *router.Response, body any) error {
	data, defaultType, err := envelope.MarshalBody(body)
	if err != nil {
		return err
	}

	header := h.w.Header()
	for key, values := range res.Headers() {
		for _, v := range values {
			header.Add(key, v)
		}
	}
	if header.Get("Content-Type") == "" && defaultType != "" {
		header.Set("Content-Type", defaultType)
	}
	for _, cookie := range res.CookieStrings() {
		header.Add("Set-Cookie", cookie)
	}

	h.w.WriteHeader(res.StatusCode())
	if len(data) > 0 {
		if _, err := h.w.Write(data); err != nil {
			return errors.WrapTransient(err, "Server", "Send", "write response body")
		}
	}
	return nil
}
