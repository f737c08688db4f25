package router

import (
	"context"
	"net/http"
	"net/url"

	"github.com/alsocoders/sockress/envelope"
)

// Transport tags a request with its origin transport.
type Transport string

const (
	TransportHTTP   Transport = "http"
	TransportSocket Transport = "socket"
)

// Request is the transport-agnostic request model. One Request belongs to
// exactly one in-flight dispatch; it is never shared between concurrent
// dispatches, so its fields need no synchronization.
type Request struct {
	// ID correlates the request with its response on the socket transport.
	// HTTP requests get a generated one so middleware can always rely on it.
	ID string

	Method string
	Path   string

	// Params holds captured route parameters, populated when a route matches.
	Params map[string]string

	// Query holds query parameters, repeated keys accumulating in order.
	Query url.Values

	// Headers uses http.Header for case-insensitive lookups on both
	// transports.
	Headers http.Header

	// Body is the parsed payload per the content-type codec rules. RawBody
	// retains the original bytes.
	Body    any
	RawBody []byte

	// Form is set when the payload was multipart, on either transport.
	Form *envelope.Form

	Cookies []*http.Cookie

	// Transport-derived facts.
	Transport   Transport
	IP          string
	Protocol    string
	Secure      bool
	Hostname    string
	OriginalURL string

	ctx    context.Context
	locals map[string]any
}

// NewRequest builds a request with its collections initialized.
func NewRequest(transport Transport, method, path string) *Request {
	return &Request{
		Method:    method,
		Path:      path,
		Transport: transport,
		Params:    map[string]string{},
		Query:     url.Values{},
		Headers:   http.Header{},
		ctx:       context.Background(),
	}
}

// Context returns the request's context. It carries cancellation for HTTP
// requests; socket requests are cancelled by client timeout only.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext sets the request's context.
func (r *Request) WithContext(ctx context.Context) { r.ctx = ctx }

// Param returns a captured route parameter, empty if absent.
func (r *Request) Param(name string) string { return r.Params[name] }

// Header returns the first value of a header, case-insensitively.
func (r *Request) Header(key string) string { return r.Headers.Get(key) }

// QueryValue returns the first value of a query parameter.
func (r *Request) QueryValue(key string) string { return r.Query.Get(key) }

// Cookie returns the named cookie, nil if absent.
func (r *Request) Cookie(name string) *http.Cookie {
	for _, c := range r.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Set stores a value in the request-scoped bag middleware uses to pass data
// downstream. Later writes to the same key win; there is no conflict
// detection.
func (r *Request) Set(key string, value any) {
	if r.locals == nil {
		r.locals = map[string]any{}
	}
	r.locals[key] = value
}

// Get reads a value from the request-scoped bag.
func (r *Request) Get(key string) (any, bool) {
	v, ok := r.locals[key]
	return v, ok
}

// GetString reads a string value from the request-scoped bag, empty if the
// key is absent or holds a non-string.
func (r *Request) GetString(key string) string {
	if v, ok := r.locals[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
