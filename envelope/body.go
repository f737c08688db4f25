package envelope

import (
	"encoding/json"
	"mime"
	"net/url"
	"strings"

	"github.com/alsocoders/sockress/errors"
)

// Common content types the codec special-cases.
const (
	ContentTypeJSON      = "application/json"
	ContentTypeForm      = "application/x-www-form-urlencoded"
	ContentTypeMultipart = "multipart/form-data"
	ContentTypeText      = "text/plain"
)

// IsJSONType reports whether a content type declares a JSON payload,
// including +json structured-suffix types.
func IsJSONType(contentType string) bool {
	mediaType := mediaTypeOf(contentType)
	return mediaType == ContentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

// IsMultipartType reports whether a content type declares multipart/form-data.
func IsMultipartType(contentType string) bool {
	return strings.HasPrefix(mediaTypeOf(contentType), "multipart/")
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		// Fall back to the raw value minus parameters.
		if idx := strings.IndexByte(contentType, ';'); idx >= 0 {
			contentType = contentType[:idx]
		}
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// ParseBody interprets a raw request payload according to its declared
// content type:
//
//   - JSON: parsed value (an empty body yields nil, not an error)
//   - form-urlencoded: url.Values, repeated keys accumulating in order
//   - multipart: returned raw — the multipart codec owns that shape
//   - anything else, or no content type: the raw bytes
func ParseBody(contentType string, raw []byte) (any, error) {
	if len(raw) == 0 {
		if IsJSONType(contentType) {
			return nil, nil
		}
		return raw, nil
	}

	switch {
	case IsJSONType(contentType):
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.WrapInvalid(err, "Body", "ParseBody", "parse JSON body")
		}
		return v, nil

	case mediaTypeOf(contentType) == ContentTypeForm:
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, errors.WrapInvalid(err, "Body", "ParseBody", "parse form body")
		}
		return values, nil

	case IsMultipartType(contentType):
		return raw, nil

	default:
		return raw, nil
	}
}

// MarshalBody serializes a response payload for the HTTP transport and
// returns the default content type to apply when the handler set none:
//
//   - []byte: passed through unchanged, no default type
//   - string: sent as-is, text/plain default
//   - nil: empty body
//   - anything else: JSON-encoded, application/json default
func MarshalBody(v any) ([]byte, string, error) {
	switch body := v.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return body, "", nil
	case string:
		return []byte(body), ContentTypeText, nil
	case json.RawMessage:
		return body, ContentTypeJSON, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", errors.WrapInvalid(err, "Body", "MarshalBody", "marshal JSON body")
		}
		return data, ContentTypeJSON, nil
	}
}

// DefaultContentType returns the content type a transport applies when the
// handler set none, following the MarshalBody defaults: text/plain for
// strings, application/json for JSON-encoded values, none for nil and raw
// byte payloads.
func DefaultContentType(v any) string {
	switch v.(type) {
	case nil, []byte:
		return ""
	case string:
		return ContentTypeText
	default:
		return ContentTypeJSON
	}
}

// MarshalSocketBody serializes a response payload into the envelope body
// field, which is always JSON: strings become JSON strings, byte slices
// base64 strings, everything else a JSON value.
func MarshalSocketBody(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Body", "MarshalSocketBody", "marshal envelope body")
	}
	return data, nil
}
