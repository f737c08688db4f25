package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		params  map[string]string
		ok      bool
	}{
		{"root", "/", "/", map[string]string{}, true},
		{"literal", "/users", "/users", map[string]string{}, true},
		{"literal mismatch", "/users", "/posts", nil, false},
		{"literal case-sensitive", "/Users", "/users", nil, false},
		{"named param", "/users/:id", "/users/42", map[string]string{"id": "42"}, true},
		{"trailing slash on path", "/users/:id", "/users/42/", map[string]string{"id": "42"}, true},
		{"trailing slash on pattern", "/users/:id/", "/users/42", map[string]string{"id": "42"}, true},
		{"param missing segment", "/users/:id", "/users", nil, false},
		{"extra segment", "/users/:id", "/users/42/posts", nil, false},
		{"two params", "/a/:x/b/:y", "/a/1/b/2", map[string]string{"x": "1", "y": "2"}, true},
		{"optional present", "/files/:name?", "/files/report", map[string]string{"name": "report"}, true},
		{"optional absent", "/files/:name?", "/files", map[string]string{}, true},
		{"optional mid-pattern absent", "/a/:x?/b", "/a/b", map[string]string{}, true},
		{"optional mid-pattern present", "/a/:x?/b", "/a/1/b", map[string]string{"x": "1"}, true},
		{"wildcard tail", "/static/*", "/static/css/app.css",
			map[string]string{"*": "css/app.css"}, true},
		{"wildcard empty tail", "/static/*", "/static", map[string]string{"*": ""}, true},
		{"bare wildcard", "*", "/anything/at/all", map[string]string{"*": "anything/at/all"}, true},
		{"slash wildcard", "/*", "/x", map[string]string{"*": "x"}, true},
		{"percent-decoded capture", "/users/:name", "/users/ada%20l", map[string]string{"name": "ada l"}, true},
		{"percent-decoded literal", "/caf%C3%A9", "/café", map[string]string{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.pattern)
			require.NoError(t, err)

			params, ok := p.Match(tt.path)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.params, params)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile("/a/*/b")
	assert.Error(t, err, "wildcard must be last")

	_, err = Compile("/a/:")
	assert.Error(t, err, "unnamed parameter")
}

func TestPrefixMatches(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		ok     bool
	}{
		{"/", "/anything", true},
		{"", "/anything", true},
		{"/api", "/api", true},
		{"/api", "/api/users", true},
		{"/api", "/apiv2", false},
		{"/api", "/other", false},
		{"/api/", "/api/users", true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, prefixMatches(tt.prefix, tt.path),
			"prefix %q path %q", tt.prefix, tt.path)
	}
}

func TestJoinPrefix(t *testing.T) {
	assert.Equal(t, "/api/users", joinPrefix("/api", "/users"))
	assert.Equal(t, "/api", joinPrefix("/api", "/"))
	assert.Equal(t, "/api/users/:id", joinPrefix("/api/", "/users/:id"))
	assert.Equal(t, "/users", joinPrefix("/", "/users"))
}
