// Package router implements the middleware/route registry and the dispatch
// engine that drives a composed handler stack for each request. Routers are
// build-then-freeze: all registration happens before serving begins, and the
// composed state is read-only during dispatch.
package router

import (
	"fmt"
	"log/slog"
	"strings"
)

// Ctx carries one request/response pair through the dispatch stack.
type Ctx struct {
	Request  *Request
	Response *Response

	logger *slog.Logger
	halted bool
}

// NewCtx pairs a request and response for dispatch.
func NewCtx(req *Request, res *Response) *Ctx {
	return &Ctx{Request: req, Response: res, logger: slog.Default()}
}

// Halt stops the dispatch loop after the current handler returns. Handlers
// that already sent a response and want no further layers to run call this;
// without it the engine keeps advancing, and later layers see Sent() true.
func (c *Ctx) Halt() { c.halted = true }

// Logger returns the request-scoped logger.
func (c *Ctx) Logger() *slog.Logger { return c.logger }

// WithLogger replaces the request-scoped logger, typically to attach request
// attributes in middleware.
func (c *Ctx) WithLogger(logger *slog.Logger) { c.logger = logger }

// Param is shorthand for c.Request.Param.
func (c *Ctx) Param(name string) string { return c.Request.Param(name) }

// JSON is shorthand for c.Response.JSON.
func (c *Ctx) JSON(v any) error { return c.Response.JSON(v) }

// Send is shorthand for c.Response.Send.
func (c *Ctx) Send(v any) error { return c.Response.Send(v) }

// Handler processes a request. Returning nil continues to the next layer;
// returning an error starts the unwind to the nearest error handler. A
// handler must not send and also return an error for the same request.
type Handler func(*Ctx) error

// ErrorHandler runs only while an error is pending. Returning nil consumes
// the error and resumes the normal chain; returning an error (the same or a
// new one) continues the unwind.
type ErrorHandler func(*Ctx, error) error

// ParamHandler runs once per dispatch when a matched route captured the
// registered parameter, receiving the captured value.
type ParamHandler func(*Ctx, string) error

// MethodAll registers a route for every method.
const MethodAll = "ALL"

type middlewareLayer struct {
	prefix     string
	handler    Handler
	errHandler ErrorHandler
}

type routeLayer struct {
	method   string
	pattern  *Pattern
	handlers []Handler
}

type paramHook struct {
	name    string
	handler ParamHandler
}

// Router is the ordered registry of middleware, routes and parameter hooks.
// Registration order is significant: it is the execution order for matching
// layers. A Router is not safe for concurrent registration; freeze it (or
// simply stop registering) before dispatching.
type Router struct {
	middleware []middlewareLayer
	routes     []routeLayer
	params     []paramHook
	frozen     bool
}

// New returns an empty router.
func New() *Router {
	return &Router{}
}

func (r *Router) checkMutable(op string) {
	if r.frozen {
		panic(fmt.Sprintf("router: %s after freeze", op))
	}
}

// Freeze marks the router read-only. Any registration afterwards panics.
// The server freezes its router when it starts.
func (r *Router) Freeze() { r.frozen = true }

// Use registers middleware under a path prefix. Prefix "/" (or "") applies
// to every request; otherwise the request path must equal the prefix or
// continue it at a segment boundary. Handlers run in registration order.
func (r *Router) Use(prefix string, handlers ...Handler) *Router {
	r.checkMutable("Use")
	if prefix == "" {
		prefix = "/"
	}
	for _, h := range handlers {
		if h == nil {
			panic("router: Use called with nil handler")
		}
		r.middleware = append(r.middleware, middlewareLayer{prefix: prefix, handler: h})
	}
	return r
}

// UseError registers error-handling middleware under a path prefix. Error
// handlers are skipped on the success path and run only while an error is
// pending. The classification is fixed here, at registration.
func (r *Router) UseError(prefix string, handlers ...ErrorHandler) *Router {
	r.checkMutable("UseError")
	if prefix == "" {
		prefix = "/"
	}
	for _, h := range handlers {
		if h == nil {
			panic("router: UseError called with nil handler")
		}
		r.middleware = append(r.middleware, middlewareLayer{prefix: prefix, errHandler: h})
	}
	return r
}

// Param registers a per-parameter hook, invoked once per dispatch whenever a
// matched route's captured parameters include name.
func (r *Router) Param(name string, handler ParamHandler) *Router {
	r.checkMutable("Param")
	if handler == nil {
		panic("router: Param called with nil handler")
	}
	r.params = append(r.params, paramHook{name: name, handler: handler})
	return r
}

func (r *Router) route(method, pattern string, handlers []Handler) *Router {
	r.checkMutable(method + " route")
	if len(handlers) == 0 {
		panic(fmt.Sprintf("router: route %s %s registered without handlers", method, pattern))
	}
	for _, h := range handlers {
		if h == nil {
			panic(fmt.Sprintf("router: route %s %s registered with nil handler", method, pattern))
		}
	}
	r.routes = append(r.routes, routeLayer{
		method:   method,
		pattern:  MustCompile(pattern),
		handlers: handlers,
	})
	return r
}

// Get registers handlers for GET requests matching pattern.
func (r *Router) Get(pattern string, handlers ...Handler) *Router {
	return r.route("GET", pattern, handlers)
}

// Post registers handlers for POST requests matching pattern.
func (r *Router) Post(pattern string, handlers ...Handler) *Router {
	return r.route("POST", pattern, handlers)
}

// Put registers handlers for PUT requests matching pattern.
func (r *Router) Put(pattern string, handlers ...Handler) *Router {
	return r.route("PUT", pattern, handlers)
}

// Patch registers handlers for PATCH requests matching pattern.
func (r *Router) Patch(pattern string, handlers ...Handler) *Router {
	return r.route("PATCH", pattern, handlers)
}

// Delete registers handlers for DELETE requests matching pattern.
func (r *Router) Delete(pattern string, handlers ...Handler) *Router {
	return r.route("DELETE", pattern, handlers)
}

// Head registers handlers for HEAD requests matching pattern.
func (r *Router) Head(pattern string, handlers ...Handler) *Router {
	return r.route("HEAD", pattern, handlers)
}

// Options registers handlers for OPTIONS requests matching pattern. Note the
// HTTP transport answers preflight OPTIONS before the pipeline; these routes
// see only socket-transported OPTIONS requests.
func (r *Router) Options(pattern string, handlers ...Handler) *Router {
	return r.route("OPTIONS", pattern, handlers)
}

// All registers handlers matching every method.
func (r *Router) All(pattern string, handlers ...Handler) *Router {
	return r.route(MethodAll, pattern, handlers)
}

// Mount copies a sub-router's layers into this router under a prefix,
// rewriting every middleware prefix and route pattern and preserving the
// sub-router's relative ordering. The sub-router is frozen by mounting;
// this is a one-time composition, not a runtime indirection.
func (r *Router) Mount(prefix string, sub *Router) *Router {
	r.checkMutable("Mount")
	if sub == nil {
		panic("router: Mount called with nil sub-router")
	}
	sub.Freeze()

	for _, mw := range sub.middleware {
		r.middleware = append(r.middleware, middlewareLayer{
			prefix:     joinPrefix(prefix, mw.prefix),
			handler:    mw.handler,
			errHandler: mw.errHandler,
		})
	}
	for _, rt := range sub.routes {
		r.routes = append(r.routes, routeLayer{
			method:   rt.method,
			pattern:  MustCompile(joinPrefix(prefix, rt.pattern.String())),
			handlers: rt.handlers,
		})
	}
	r.params = append(r.params, sub.params...)
	return r
}

// step is one entry of a composed dispatch stack: exactly one of handler or
// errHandler is set.
type step struct {
	handler    Handler
	errHandler ErrorHandler
}

// compose assembles the dispatch stack for one request: every middleware
// layer whose prefix matches, in registration order, then for each matching
// route its parameter hooks followed by its handlers. Matching never
// short-circuits; only dispatch control flow does. The merged captured
// parameters are returned alongside the stack so dispatch can make them
// visible to every layer, prefix middleware included.
func (r *Router) compose(method, path string) ([]step, map[string]string) {
	normalized := normalizePath(path)

	var stack []step
	for _, mw := range r.middleware {
		if prefixMatches(mw.prefix, normalized) {
			stack = append(stack, step{handler: mw.handler, errHandler: mw.errHandler})
		}
	}

	merged := map[string]string{}
	hooksRun := map[int]bool{}
	for _, rt := range r.routes {
		if rt.method != MethodAll && rt.method != method {
			continue
		}
		params, ok := rt.pattern.Match(normalized)
		if !ok {
			continue
		}
		for name, value := range params {
			merged[name] = value
		}

		for i, hook := range r.params {
			value, present := params[hook.name]
			if !present || hooksRun[i] {
				continue
			}
			hooksRun[i] = true
			h, v := hook.handler, value
			stack = append(stack, step{handler: func(c *Ctx) error {
				return h(c, v)
			}})
		}

		for _, h := range rt.handlers {
			stack = append(stack, step{handler: h})
		}
	}

	return stack, merged
}

func normalizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}
