package router

import (
	"net/http"
	"sync/atomic"

	"github.com/alsocoders/sockress/errors"
)

// Sender delivers a finalized response through the transport the request
// arrived on. The sender is fixed when the Response is constructed; handlers
// never choose a transport.
type Sender interface {
	Send(res *Response, body any) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(res *Response, body any) error

func (f SenderFunc) Send(res *Response, body any) error { return f(res, body) }

// Response accumulates status, headers and cookies until a handler sends it.
// Sending is a one-way latch: the first Send wins, every later write is a
// no-op. Status defaults to 200.
type Response struct {
	status  int
	headers http.Header
	cookies []string
	sender  Sender
	sent    atomic.Bool
}

// NewResponse builds a response bound to the given sender.
func NewResponse(sender Sender) *Response {
	return &Response{
		status:  http.StatusOK,
		headers: http.Header{},
		sender:  sender,
	}
}

// Status sets the response status code. No-op once sent.
func (r *Response) Status(code int) *Response {
	if !r.sent.Load() {
		r.status = code
	}
	return r
}

// StatusCode returns the current status code.
func (r *Response) StatusCode() int { return r.status }

// SetHeader sets a header, replacing existing values. No-op once sent.
func (r *Response) SetHeader(key, value string) *Response {
	if !r.sent.Load() {
		r.headers.Set(key, value)
	}
	return r
}

// AddHeader appends a header value. No-op once sent.
func (r *Response) AddHeader(key, value string) *Response {
	if !r.sent.Load() {
		r.headers.Add(key, value)
	}
	return r
}

// Header returns the first value of a response header.
func (r *Response) Header(key string) string { return r.headers.Get(key) }

// Headers returns the response header map.
func (r *Response) Headers() http.Header { return r.headers }

// AddCookie appends an outgoing Set-Cookie directive. No-op once sent.
func (r *Response) AddCookie(cookie *http.Cookie) *Response {
	if !r.sent.Load() && cookie != nil {
		r.cookies = append(r.cookies, cookie.String())
	}
	return r
}

// CookieStrings returns the accumulated Set-Cookie directives.
func (r *Response) CookieStrings() []string { return r.cookies }

// Sent reports whether the response has been sent.
func (r *Response) Sent() bool { return r.sent.Load() }

// Send serializes the body per the content-type codec rules and delivers the
// response. The second and later calls are no-ops returning nil.
func (r *Response) Send(body any) error {
	if !r.sent.CompareAndSwap(false, true) {
		return nil
	}
	if r.sender == nil {
		return errors.WrapFatal(errors.ErrNotStarted, "Response", "Send", "send without transport sender")
	}
	return r.sender.Send(r, body)
}

// JSON sends a JSON response, setting the content type unless the handler
// already chose one.
func (r *Response) JSON(v any) error {
	if r.Header("Content-Type") == "" {
		r.SetHeader("Content-Type", "application/json")
	}
	return r.Send(v)
}

// SendStatus sends an empty response with the given status code.
func (r *Response) SendStatus(code int) error {
	return r.Status(code).Send(nil)
}
