package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alsocoders/sockress/config"
	"github.com/alsocoders/sockress/envelope"
	"github.com/alsocoders/sockress/router"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr: "127.0.0.1:0",
		Socket: config.SocketConfig{
			Path:              "/ws",
			HeartbeatInterval: 150 * time.Millisecond,
			IdleTimeout:       600 * time.Millisecond,
		},
		BodyLimit: 1024,
		CORS:      config.CORSConfig{Origins: []string{"https://y.com"}},
	}
}

func startServer(t *testing.T, cfg config.ServerConfig, r *router.Router) *Server {
	t.Helper()

	s, err := New(cfg, r)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop(2 * time.Second) })
	return s
}

func testRouter() *router.Router {
	r := router.New()
	r.Get("/ping", func(c *router.Ctx) error {
		return c.JSON(map[string]string{"pong": "true"})
	})
	r.Get("/users/:id", func(c *router.Ctx) error {
		return c.JSON(map[string]string{"id": c.Param("id")})
	})
	r.Post("/echo", func(c *router.Ctx) error {
		return c.JSON(c.Request.Body)
	})
	r.Post("/upload", func(c *router.Ctx) error {
		f := c.Request.Form.PrimaryFile()
		if f == nil {
			return c.Response.Status(400).JSON(router.ErrorBody{Error: "no file", Status: 400})
		}
		return c.JSON(map[string]any{
			"name":  f.Name,
			"field": c.Request.Form.Fields.Get("name"),
			"data":  string(f.Data),
		})
	})
	r.Get("/slow", func(c *router.Ctx) error {
		time.Sleep(100 * time.Millisecond)
		return c.Send("slow")
	})
	return r
}

func baseURL(s *Server) string {
	return "http://" + s.Addr().String()
}

func TestServer_HTTPRouteAndParams(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	resp, err := http.Get(baseURL(s) + "/users/42")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "42", body["id"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestServer_HTTPNotFound(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	resp, err := http.Get(baseURL(s) + "/missing")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 404, resp.StatusCode)
	var body router.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 404, body.Status)
}

func TestServer_OptionsShortCircuitsWithCORS(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	req, err := http.NewRequest(http.MethodOptions, baseURL(s)+"/ping", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://y.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 204, resp.StatusCode)
	assert.Equal(t, "https://y.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestServer_CORSHeadersOnEveryResponse(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	req, _ := http.NewRequest(http.MethodGet, baseURL(s)+"/ping", nil)
	req.Header.Set("Origin", "https://y.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "https://y.com", resp.Header.Get("Access-Control-Allow-Origin"))

	// Disallowed origins get no CORS headers, but the request still runs.
	req, _ = http.NewRequest(http.MethodGet, baseURL(s)+"/ping", nil)
	req.Header.Set("Origin", "https://x.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_BodyLimitYields413(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	oversized := strings.Repeat("x", 2048)
	resp, err := http.Post(baseURL(s)+"/echo", "text/plain", strings.NewReader(oversized))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestServer_HTTPMultipartUpload(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	form := &envelope.Form{
		Fields: map[string][]string{"name": {"a"}},
		Files: []*envelope.File{{
			FieldName: "avatar", Name: "x.png",
			ContentType: "image/png", Size: 3, Data: []byte("abc"),
		}},
	}
	var buf bytes.Buffer
	contentType, err := envelope.WriteMultipartBody(form, &buf)
	require.NoError(t, err)

	resp, err := http.Post(baseURL(s)+"/upload", contentType, &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "x.png", body["name"])
	assert.Equal(t, "a", body["field"])
	assert.Equal(t, "abc", body["data"])
}

func dialSocket(t *testing.T, s *Server, origin string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env *envelope.Envelope) {
	t.Helper()
	data, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *envelope.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := envelope.Decode(data)
	require.NoError(t, err)
	return env
}

func TestServer_SocketRequestResponse(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "r1", Method: "GET", Path: "/users/7",
	})

	resp := readEnvelope(t, conn)
	assert.Equal(t, envelope.TypeResponse, resp.Type)
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, 200, resp.Status)
	assert.JSONEq(t, `{"id":"7"}`, string(resp.Body))
}

func TestServer_SocketConcurrentEnvelopes(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	// The slow request is sent first; the fast one must not wait behind it.
	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "slow", Method: "GET", Path: "/slow",
	})
	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "fast", Method: "GET", Path: "/ping",
	})

	first := readEnvelope(t, conn)
	second := readEnvelope(t, conn)
	assert.Equal(t, "fast", first.ID)
	assert.Equal(t, "slow", second.ID)
}

func TestServer_SocketInvalidEnvelopeKeepsConnectionOpen(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	errEnv := readEnvelope(t, conn)
	assert.Equal(t, envelope.TypeError, errEnv.Type)

	// The connection survived; a valid request still works.
	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "after", Method: "GET", Path: "/ping",
	})
	resp := readEnvelope(t, conn)
	assert.Equal(t, "after", resp.ID)
}

func TestServer_SocketUnsupportedTypeEnvelope(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	sendEnvelope(t, conn, &envelope.Envelope{Type: envelope.TypeResponse, ID: "x"})
	errEnv := readEnvelope(t, conn)
	assert.Equal(t, envelope.TypeError, errEnv.Type)
	assert.Equal(t, "Unsupported message type", errEnv.Message)
	assert.Empty(t, errEnv.ID)
}

func TestServer_SocketUnknownTypeEnvelope(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	// The frame parses but declares a type outside the protocol. Unlike
	// malformed frames, the reply never echoes an id.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"weird","id":"z9"}`)))

	errEnv := readEnvelope(t, conn)
	assert.Equal(t, envelope.TypeError, errEnv.Type)
	assert.Equal(t, "Unsupported message type", errEnv.Message)
	assert.Empty(t, errEnv.ID)
}

func TestServer_SocketResponseDefaultContentType(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	// Plain Send of a string defaults to text/plain, same as over HTTP.
	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "txt", Method: "GET", Path: "/slow",
	})
	resp := readEnvelope(t, conn)
	assert.Equal(t, envelope.ContentTypeText, resp.Headers["Content-Type"])

	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "js", Method: "GET", Path: "/ping",
	})
	resp = readEnvelope(t, conn)
	assert.Equal(t, envelope.ContentTypeJSON, resp.Headers["Content-Type"])
}

func TestServer_SocketMultipartEnvelope(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	form := &envelope.Form{
		Fields: map[string][]string{"name": {"a"}},
		Files: []*envelope.File{{
			FieldName: "avatar", Name: "x.png",
			ContentType: "image/png", Size: 3, Data: []byte("abc"),
		}},
	}
	body, err := envelope.EncodeForm(form)
	require.NoError(t, err)

	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "up", Method: "POST", Path: "/upload",
		Headers: envelope.HeaderMap{"Content-Type": "multipart/form-data"},
		Body:    body,
	})

	resp := readEnvelope(t, conn)
	require.Equal(t, 200, resp.Status)
	assert.JSONEq(t, `{"name":"x.png","field":"a","data":"abc"}`, string(resp.Body))
}

func TestServer_UpgradeRejectedForDisallowedOrigin(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	header := http.Header{}
	header.Set("Origin", "https://x.com")
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/ws", header)

	require.Error(t, err, "handshake must not complete")
	assert.Nil(t, conn)
	if resp != nil {
		assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
	}
}

func TestServer_UpgradeRejectedForWrongPath(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/other", nil)
	require.Error(t, err)
	assert.Nil(t, conn)
}

func TestServer_HeartbeatTerminatesUnresponsiveConnection(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	// Suppress pong replies; the default handler would answer pings during
	// reads.
	conn.SetPingHandler(func(string) error { return nil })

	deadline := time.Now().Add(3 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	var readErr error
	for {
		if _, _, readErr = conn.ReadMessage(); readErr != nil {
			break
		}
	}
	assert.Less(t, time.Now().UnixNano(), deadline.UnixNano(),
		"server terminated the connection before the client read deadline")
}

func TestServer_HeartbeatKeepsResponsiveConnection(t *testing.T) {
	s := startServer(t, testConfig(), testRouter())
	conn := dialSocket(t, s, "")

	// One continuous reader for the whole test: the default ping handler
	// answers pings only while a read is in progress, and gorilla read
	// errors are sticky.
	frames := make(chan *envelope.Envelope, 1)
	readFailed := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readFailed <- err
				return
			}
			env, err := envelope.Decode(data)
			if err != nil {
				readFailed <- err
				return
			}
			frames <- env
		}
	}()

	// Outlive several heartbeat cycles, then prove the connection still
	// serves requests.
	time.Sleep(5 * s.config.Socket.HeartbeatInterval)
	sendEnvelope(t, conn, &envelope.Envelope{
		Type: envelope.TypeRequest, ID: "alive", Method: "GET", Path: "/ping",
	})

	select {
	case env := <-frames:
		assert.Equal(t, "alive", env.ID)
	case err := <-readFailed:
		t.Fatalf("connection dropped during heartbeat window: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no response after heartbeat window")
	}
}

func TestServer_Lifecycle(t *testing.T) {
	s, err := New(testConfig(), testRouter())
	require.NoError(t, err)

	assert.Error(t, s.Stop(time.Second), "stop before start rejected")

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "double start rejected")

	var callbackRan bool
	// Registered before Stop; runs after teardown.
	s.OnShutdown(func() { callbackRan = true })

	require.NoError(t, s.Stop(2*time.Second))
	assert.True(t, callbackRan)

	// Stop is idempotent after the first run.
	require.NoError(t, s.Stop(time.Second))
}

func TestServer_StopClosesSocketConnections(t *testing.T) {
	s, err := New(testConfig(), testRouter())
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+s.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, s.Stop(2*time.Second))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, readErr := conn.ReadMessage()
	assert.Error(t, readErr, "connection closed by shutdown")
}

func TestServer_HandlerErrorBecomes500OverHTTP(t *testing.T) {
	r := testRouter()
	r.Get("/boom", func(c *router.Ctx) error {
		return fmt.Errorf("exploded")
	})
	s := startServer(t, testConfig(), r)

	resp, err := http.Get(baseURL(s) + "/boom")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 500, resp.StatusCode)
	data, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(data), "exploded")
}
