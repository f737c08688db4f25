// Package middleware provides reusable handlers for common cross-cutting
// concerns. Each constructor returns a router.Handler ready to register
// with Use.
package middleware

import (
	"log/slog"
	"time"

	"github.com/alsocoders/sockress/router"
)

// Logger returns middleware that attaches request attributes to the
// context's logger and records each request once dispatch began. Transport,
// method and path are always present; the request id ties socket log lines
// to their envelopes.
func Logger(logger *slog.Logger) router.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *router.Ctx) error {
		start := time.Now()

		reqLogger := logger.With(
			slog.String("request_id", c.Request.ID),
			slog.String("transport", string(c.Request.Transport)),
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.Path),
		)
		c.WithLogger(reqLogger)

		reqLogger.Debug("request started",
			slog.String("ip", c.Request.IP),
			slog.String("hostname", c.Request.Hostname))

		// The engine runs layers in order, so logging completion from
		// middleware requires a tail handler; instead record acceptance here
		// and let the dispatch terminal path log failures. Duration is
		// exposed through the context bag for handlers that want it.
		c.Request.Set("started_at", start)
		return nil
	}
}

// RequestDuration reads the start time recorded by Logger, zero if Logger
// did not run.
func RequestDuration(c *router.Ctx) time.Duration {
	v, ok := c.Request.Get("started_at")
	if !ok {
		return 0
	}
	start, ok := v.(time.Time)
	if !ok {
		return 0
	}
	return time.Since(start)
}
