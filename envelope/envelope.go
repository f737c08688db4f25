// Package envelope implements the JSON wire envelope exchanged over the
// socket transport, and the body codec shared by both transports. The same
// envelope fields describe an HTTP request/response pair, which is what lets
// handlers stay transport-oblivious.
package envelope

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/alsocoders/sockress/errors"
)

// Envelope types. An envelope either carries a request, a response, or an
// out-of-band error. The ID is the correlation key: envelopes without an ID
// are push messages and are never matched against pending requests.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeError    = "error"
)

// Envelope is a self-describing message exchanged over the socket transport
// as a UTF-8 JSON text frame.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Path    string          `json:"path,omitempty"`
	Headers HeaderMap       `json:"headers,omitempty"`
	Query   QueryMap        `json:"query,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Status  int             `json:"status,omitempty"`
	Cookies []string        `json:"cookies,omitempty"`

	// Error envelope fields
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// HeaderMap carries envelope headers. Values on the wire may be a string or
// an array of strings; decoding keeps the first value, matching the
// first-value convenience accessor contract.
type HeaderMap map[string]string

// UnmarshalJSON accepts both string and string-array header values.
func (h *HeaderMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(HeaderMap, len(raw))
	for key, val := range raw {
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			out[key] = s
			continue
		}
		var list []string
		if err := json.Unmarshal(val, &list); err != nil {
			return fmt.Errorf("header %q: value must be string or string array", key)
		}
		if len(list) > 0 {
			out[key] = list[0]
		}
	}
	*h = out
	return nil
}

// QueryMap carries query parameters. Repeated keys accumulate into arrays;
// scalar wire values decode as single-element arrays.
type QueryMap url.Values

// UnmarshalJSON accepts both string and string-array query values.
func (q *QueryMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	out := make(QueryMap, len(raw))
	for key, val := range raw {
		var s string
		if err := json.Unmarshal(val, &s); err == nil {
			out[key] = []string{s}
			continue
		}
		var list []string
		if err := json.Unmarshal(val, &list); err != nil {
			return fmt.Errorf("query %q: value must be string or string array", key)
		}
		out[key] = list
	}
	*q = out
	return nil
}

// Values converts the query map to url.Values.
func (q QueryMap) Values() url.Values {
	return url.Values(q)
}

// Decode parses a wire frame into an Envelope and validates the fields the
// declared type requires.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Decode", "unmarshal frame")
	}

	if env.Type == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Envelope", "Decode",
			"missing type field")
	}

	switch env.Type {
	case TypeRequest:
		if env.ID == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Envelope", "Decode",
				"request envelope missing id")
		}
		if env.Method == "" || env.Path == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Envelope", "Decode",
				"request envelope missing method or path")
		}
	case TypeResponse:
		if env.ID == "" {
			return nil, errors.WrapInvalid(errors.ErrInvalidEnvelope, "Envelope", "Decode",
				"response envelope missing id")
		}
	case TypeError:
		// ID is optional: error envelopes without one are out-of-band.
	default:
		return nil, errors.WrapInvalid(errors.ErrSocketProtocol, "Envelope", "Decode",
			fmt.Sprintf("unsupported envelope type %q", env.Type))
	}

	return &env, nil
}

// Marshal serializes the envelope to a wire frame.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Marshal", "marshal frame")
	}
	return data, nil
}

// NewError builds an error envelope. Pass an empty id for out-of-band
// protocol errors that cannot be correlated to a request.
func NewError(id, message, code string) *Envelope {
	return &Envelope{
		Type:    TypeError,
		ID:      id,
		Message: message,
		Code:    code,
	}
}

// Err converts an error envelope into a Go error carrying the remote
// message. Non-error envelopes yield nil.
func (e *Envelope) Err() error {
	if e.Type != TypeError {
		return nil
	}
	if e.Code != "" {
		return fmt.Errorf("remote error %s: %s", e.Code, e.Message)
	}
	return fmt.Errorf("remote error: %s", e.Message)
}
