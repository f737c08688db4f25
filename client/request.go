package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alsocoders/sockress/envelope"
	"github.com/alsocoders/sockress/errors"
)

// Response is the transport-agnostic result of a request. Body holds the
// raw payload; JSON decodes it in place.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
	Cookies []string
}

// JSON decodes the response body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errors.WrapInvalid(err, "Response", "JSON", "decode response body")
	}
	return nil
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// requestOptions collects per-request settings.
type requestOptions struct {
	body       any
	form       *envelope.Form
	headers    http.Header
	query      url.Values
	timeout    time.Duration
	noFallback bool
	forceHTTP  bool
}

// RequestOption customizes a single request.
type RequestOption func(*requestOptions)

// WithBody sets the request payload: structs and maps are JSON-encoded,
// strings sent as text, byte slices passed through.
func WithBody(body any) RequestOption {
	return func(o *requestOptions) { o.body = body }
}

// WithForm sets a multipart payload. Over the socket it serializes into the
// fields/files envelope shape; over HTTP, native multipart encoding.
func WithForm(form *envelope.Form) RequestOption {
	return func(o *requestOptions) { o.form = form }
}

// WithHeader adds a request header.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.headers.Set(key, value) }
}

// WithQuery adds a query parameter; repeated keys accumulate.
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) { o.query.Add(key, value) }
}

// WithTimeout overrides the configured per-request timeout.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *requestOptions) { o.timeout = d }
}

// WithoutFallback disables the HTTP retry for this request: a failed socket
// attempt is returned as-is.
func WithoutFallback() RequestOption {
	return func(o *requestOptions) { o.noFallback = true }
}

// ForceHTTP routes this request straight to the HTTP transport.
func ForceHTTP() RequestOption {
	return func(o *requestOptions) { o.forceHTTP = true }
}

// Do issues one logical request. Socket-preferred requests try the socket
// first — queued while disconnected — and retry over HTTP when the socket
// attempt ultimately fails, timeout included, unless fallback is disabled.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	if c.State() == StateClosed {
		return nil, errors.WrapFatal(errors.ErrClientClosed, "Client", "Do", "client closed")
	}

	o := &requestOptions{
		headers: http.Header{},
		query:   url.Values{},
		timeout: c.config.Timeout,
	}
	for _, opt := range opts {
		opt(o)
	}

	method = strings.ToUpper(method)

	if c.config.PreferSocket && !o.forceHTTP {
		resp, err := c.trySocket(ctx, method, path, o)
		if err == nil {
			return resp, nil
		}
		if o.noFallback || errors.Is(err, errors.ErrClientClosed) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		c.logger.Debug("socket attempt failed, falling back to http",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()))
	}

	return c.httpRequest(ctx, method, path, o)
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, opts...)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, opts...)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, opts...)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodPatch, path, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, opts...)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, http.MethodHead, path, opts...)
}

func (c *Client) trySocket(ctx context.Context, method, path string, o *requestOptions) (*Response, error) {
	env, err := c.buildEnvelope(method, path, o)
	if err != nil {
		return nil, err
	}

	respEnv, err := c.socketRequest(ctx, env, o.timeout)
	if err != nil {
		return nil, err
	}

	return &Response{
		Status:  respEnv.Status,
		Headers: headerMapToHTTP(respEnv.Headers),
		Body:    envelopeBodyBytes(respEnv.Body),
		Cookies: respEnv.Cookies,
	}, nil
}

func (c *Client) buildEnvelope(method, path string, o *requestOptions) (*envelope.Envelope, error) {
	env := &envelope.Envelope{
		Type:   envelope.TypeRequest,
		ID:     newID(),
		Method: method,
		Path:   path,
	}

	headers := envelope.HeaderMap{}
	for key, value := range c.config.Headers {
		headers[key] = value
	}
	for key := range o.headers {
		headers[key] = o.headers.Get(key)
	}

	if len(o.query) > 0 {
		env.Query = envelope.QueryMap(o.query)
	}

	switch {
	case o.form != nil:
		body, err := envelope.EncodeForm(o.form)
		if err != nil {
			return nil, err
		}
		env.Body = body
		headers["Content-Type"] = envelope.ContentTypeMultipart

	case o.body != nil:
		body, err := envelope.MarshalSocketBody(o.body)
		if err != nil {
			return nil, err
		}
		env.Body = body
		if _, set := headers["Content-Type"]; !set {
			headers["Content-Type"] = envelope.ContentTypeJSON
		}
	}

	if len(headers) > 0 {
		env.Headers = headers
	}
	return env, nil
}

func (c *Client) httpRequest(ctx context.Context, method, path string, o *requestOptions) (*Response, error) {
	reqURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "httpRequest", "parse base url")
	}
	reqURL.Path = path
	if len(o.query) > 0 {
		reqURL.RawQuery = o.query.Encode()
	}

	var (
		bodyReader  io.Reader
		contentType string
	)
	switch {
	case o.form != nil:
		var buf bytes.Buffer
		contentType, err = envelope.WriteMultipartBody(o.form, &buf)
		if err != nil {
			return nil, err
		}
		bodyReader = &buf

	case o.body != nil:
		data, defaultType, err := envelope.MarshalBody(o.body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
		contentType = defaultType
	}

	reqCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, method, reqURL.String(), bodyReader)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "httpRequest", "build request")
	}
	for key, value := range c.config.Headers {
		req.Header.Set(key, value)
	}
	for key, values := range o.headers {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "httpRequest", "round trip")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "httpRequest", "read response body")
	}

	return &Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    body,
		Cookies: resp.Header.Values("Set-Cookie"),
	}, nil
}

func headerMapToHTTP(m envelope.HeaderMap) http.Header {
	h := http.Header{}
	for key, value := range m {
		h.Set(key, value)
	}
	return h
}

// envelopeBodyBytes normalizes a response envelope body: JSON strings
// unquote to their text, everything else stays raw JSON, matching what the
// HTTP transport would have delivered.
func envelopeBodyBytes(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []byte(s)
	}
	return raw
}
