// Package sockress is a dual-transport request/response framework: one
// routing pipeline serves requests arriving over persistent socket
// connections and one-shot HTTP, and clients pick the transport per request
// with transparent fallback.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│             client                  │  socket-first requests,
//	│  (queue, reconnect, correlation)    │  HTTP fallback
//	└─────────────────────────────────────┘
//	           ↓ envelope / HTTP
//	┌─────────────────────────────────────┐
//	│             server                  │  upgrade handshake, CORS,
//	│  (listener, heartbeat, shutdown)    │  heartbeat, body limits
//	└─────────────────────────────────────┘
//	           ↓ Request/Response
//	┌─────────────────────────────────────┐
//	│             router                  │  middleware + routes,
//	│   (compose, dispatch, unwind)       │  explicit dispatch loop
//	└─────────────────────────────────────┘
//
// Both transports normalize into the same Request/Response model, so
// handler code never inspects its origin. The socket wire format is a JSON
// envelope correlated by id; HTTP maps head and body onto the same fields.
//
// # Packages
//
//   - router: path patterns, middleware/route registry, dispatch engine
//   - envelope: socket wire codec and the shared body/multipart codec
//   - server: HTTP listener + socket upgrade bound to one router
//   - client: transport controller with queuing and reconnection
//   - middleware: request logging and rate limiting
//   - config: validated server and client configuration
//   - errors: classified errors shared across the framework
//   - metric: Prometheus instrumentation
//
// # Minimal server
//
//	r := router.New()
//	r.Get("/ping", func(c *router.Ctx) error {
//		return c.JSON(map[string]string{"pong": "true"})
//	})
//
//	srv, _ := server.New(config.DefaultServerConfig(), r)
//	_ = srv.Start(context.Background())
//
// # Minimal client
//
//	c, _ := client.New(config.DefaultClientConfig("http://localhost:8080"))
//	resp, _ := c.Get(ctx, "/ping")
package sockress
