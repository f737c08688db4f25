package middleware

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/alsocoders/sockress/router"
)

type discardSender struct {
	status int
	sends  int
}

func (d *discardSender) Send(res *router.Response, body any) error {
	d.status = res.StatusCode()
	d.sends++
	return nil
}

func dispatchOnce(r *router.Router, ip string) (*router.Ctx, *discardSender) {
	sender := &discardSender{}
	req := router.NewRequest(router.TransportHTTP, "GET", "/ping")
	req.ID = "test-req"
	req.IP = ip
	ctx := router.NewCtx(req, router.NewResponse(sender))
	router.Dispatch(r, ctx)
	return ctx, sender
}

func TestLogger_AttachesRequestLogger(t *testing.T) {
	r := router.New()
	r.Use("/", Logger(slog.Default()))
	r.Get("/ping", func(c *router.Ctx) error {
		assert.Greater(t, RequestDuration(c), time.Duration(0))
		return c.Send("pong")
	})

	_, sender := dispatchOnce(r, "1.2.3.4")
	assert.Equal(t, 200, sender.status)
}

func TestRequestDuration_ZeroWithoutLogger(t *testing.T) {
	r := router.New()
	r.Get("/ping", func(c *router.Ctx) error {
		assert.Equal(t, time.Duration(0), RequestDuration(c))
		return c.Send(nil)
	})
	dispatchOnce(r, "1.2.3.4")
}

func TestRateLimit_RejectsOverBurst(t *testing.T) {
	r := router.New()
	r.Use("/", RateLimit(rate.Limit(1), 2))
	r.Get("/ping", func(c *router.Ctx) error { return c.Send("pong") })

	_, s1 := dispatchOnce(r, "10.0.0.1")
	_, s2 := dispatchOnce(r, "10.0.0.1")
	_, s3 := dispatchOnce(r, "10.0.0.1")

	assert.Equal(t, 200, s1.status)
	assert.Equal(t, 200, s2.status)
	assert.Equal(t, 429, s3.status)
	require.Equal(t, 1, s3.sends, "halt still yields exactly one response")
}

func TestRateLimit_IsolatesClients(t *testing.T) {
	r := router.New()
	r.Use("/", RateLimit(rate.Limit(1), 1))
	r.Get("/ping", func(c *router.Ctx) error { return c.Send("pong") })

	_, a1 := dispatchOnce(r, "10.0.0.1")
	_, a2 := dispatchOnce(r, "10.0.0.1")
	_, b1 := dispatchOnce(r, "10.0.0.2")

	assert.Equal(t, 200, a1.status)
	assert.Equal(t, 429, a2.status)
	assert.Equal(t, 200, b1.status)
}
