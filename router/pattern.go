package router

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/alsocoders/sockress/errors"
)

// WildcardParam is the parameter name a greedy wildcard segment captures
// under.
const WildcardParam = "*"

type segmentKind int

const (
	segLiteral segmentKind = iota
	segParam
	segWildcard
)

type segment struct {
	kind     segmentKind
	value    string // literal text or parameter name
	optional bool
}

// Pattern is a compiled route pattern. Patterns are built from literal
// segments, named parameters (:name), optional parameters (:name?) and a
// trailing greedy wildcard (*). A pattern matches full paths only; prefix
// matching is the middleware rule, not the route rule.
type Pattern struct {
	raw      string
	segments []segment
}

// Compile parses a route pattern. The wildcard segment, if present, must be
// the last segment.
func Compile(pattern string) (*Pattern, error) {
	p := &Pattern{raw: pattern}

	for i, part := range splitSegments(pattern) {
		var seg segment
		switch {
		case part == "*":
			seg = segment{kind: segWildcard}
		case strings.HasPrefix(part, ":"):
			name := strings.TrimPrefix(part, ":")
			if strings.HasSuffix(name, "?") {
				seg = segment{kind: segParam, value: strings.TrimSuffix(name, "?"), optional: true}
			} else {
				seg = segment{kind: segParam, value: name}
			}
			if seg.value == "" {
				return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pattern", "Compile",
					fmt.Sprintf("pattern %q has an unnamed parameter", pattern))
			}
		default:
			seg = segment{kind: segLiteral, value: part}
		}

		if len(p.segments) > 0 && p.segments[len(p.segments)-1].kind == segWildcard {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Pattern", "Compile",
				fmt.Sprintf("pattern %q: wildcard must be the last segment (segment %d)", pattern, i))
		}
		p.segments = append(p.segments, seg)
	}

	return p, nil
}

// MustCompile is Compile for patterns known valid at registration time.
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source pattern.
func (p *Pattern) String() string { return p.raw }

// Match tests a concrete request path against the pattern. On success it
// returns the captured parameters, percent-decoded. Trailing slashes are
// ignored on both sides.
func (p *Pattern) Match(path string) (map[string]string, bool) {
	caps, ok := matchSegments(p.segments, splitSegments(path))
	if !ok {
		return nil, false
	}

	params := make(map[string]string, len(caps))
	for _, c := range caps {
		params[c.name] = c.value
	}
	return params, true
}

type capture struct {
	name  string
	value string
}

func matchSegments(pat []segment, in []string) ([]capture, bool) {
	if len(pat) == 0 {
		return nil, len(in) == 0
	}

	seg := pat[0]
	switch seg.kind {
	case segWildcard:
		return []capture{{WildcardParam, strings.Join(in, "/")}}, true

	case segLiteral:
		if len(in) == 0 || in[0] != seg.value {
			return nil, false
		}
		return matchSegments(pat[1:], in[1:])

	case segParam:
		if len(in) > 0 {
			if rest, ok := matchSegments(pat[1:], in[1:]); ok {
				return append([]capture{{seg.value, in[0]}}, rest...), true
			}
		}
		if seg.optional {
			return matchSegments(pat[1:], in)
		}
		return nil, false
	}

	return nil, false
}

// splitSegments normalizes a path or pattern into its segments: leading and
// trailing slashes dropped, each segment percent-decoded.
func splitSegments(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}

	parts := strings.Split(path, "/")
	for i, part := range parts {
		if decoded, err := url.PathUnescape(part); err == nil {
			parts[i] = decoded
		}
	}
	return parts
}

// prefixMatches implements the middleware prefix rule: "/" matches every
// path; otherwise the path must equal the prefix or continue it at a segment
// boundary.
func prefixMatches(prefix, path string) bool {
	if prefix == "" || prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// joinPrefix prepends a mount prefix to a pattern or middleware prefix,
// normalizing the slash between them.
func joinPrefix(prefix, rest string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if rest == "" || rest == "/" {
		if prefix == "" {
			return "/"
		}
		return prefix
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return prefix + rest
}
