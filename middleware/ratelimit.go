package middleware

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/alsocoders/sockress/router"
)

// RateLimit returns middleware enforcing a per-client token bucket keyed by
// request IP. Requests over the limit are answered 429 and halt the
// pipeline. Socket requests share their connection's IP, so one noisy
// connection cannot starve others.
func RateLimit(rps rate.Limit, burst int) router.Handler {
	var (
		mu       sync.Mutex
		limiters = map[string]*rate.Limiter{}
	)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[key]
		if !ok {
			l = rate.NewLimiter(rps, burst)
			limiters[key] = l
		}
		return l
	}

	return func(c *router.Ctx) error {
		if !limiterFor(c.Request.IP).Allow() {
			c.Halt()
			return c.Response.Status(429).JSON(router.ErrorBody{
				Error:  "Too Many Requests",
				Status: 429,
			})
		}
		return nil
	}
}
