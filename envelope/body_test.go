package envelope

import (
	"encoding/json"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsJSONType(t *testing.T) {
	assert.True(t, IsJSONType("application/json"))
	assert.True(t, IsJSONType("application/json; charset=utf-8"))
	assert.True(t, IsJSONType("application/vnd.api+json"))
	assert.False(t, IsJSONType("text/plain"))
	assert.False(t, IsJSONType(""))
}

func TestParseBody(t *testing.T) {
	t.Run("json object", func(t *testing.T) {
		v, err := ParseBody("application/json", []byte(`{"a":1}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": float64(1)}, v)
	})

	t.Run("empty json body is nil", func(t *testing.T) {
		v, err := ParseBody("application/json", nil)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseBody("application/json", []byte(`{`))
		assert.Error(t, err)
	})

	t.Run("form urlencoded", func(t *testing.T) {
		v, err := ParseBody(ContentTypeForm, []byte("a=1&a=2&b=x"))
		require.NoError(t, err)
		values, ok := v.(url.Values)
		require.True(t, ok)
		assert.Equal(t, []string{"1", "2"}, values["a"])
		assert.Equal(t, "x", values.Get("b"))
	})

	t.Run("unknown type passes raw bytes", func(t *testing.T) {
		raw := []byte{0x1, 0x2, 0x3}
		v, err := ParseBody("application/octet-stream", raw)
		require.NoError(t, err)
		assert.Equal(t, raw, v)
	})
}

func TestMarshalBody(t *testing.T) {
	tests := []struct {
		name        string
		in          any
		expected    string
		contentType string
	}{
		{"nil", nil, "", ""},
		{"bytes pass through", []byte("raw"), "raw", ""},
		{"string", "hello", "hello", ContentTypeText},
		{"struct", map[string]int{"n": 1}, `{"n":1}`, ContentTypeJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, ct, err := MarshalBody(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(data))
			assert.Equal(t, tt.contentType, ct)
		})
	}
}

func TestDefaultContentType(t *testing.T) {
	assert.Empty(t, DefaultContentType(nil))
	assert.Empty(t, DefaultContentType([]byte("raw")))
	assert.Equal(t, ContentTypeText, DefaultContentType("hi"))
	assert.Equal(t, ContentTypeJSON, DefaultContentType(map[string]int{"n": 1}))
}

func TestMarshalSocketBody(t *testing.T) {
	raw, err := MarshalSocketBody(map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"v"}`, string(raw))

	raw, err = MarshalSocketBody(nil)
	require.NoError(t, err)
	assert.Nil(t, raw)

	passthrough := json.RawMessage(`[1,2]`)
	raw, err = MarshalSocketBody(passthrough)
	require.NoError(t, err)
	assert.Equal(t, passthrough, raw)
}
