package router

import (
	"fmt"
	"strings"
)

// segment is one path element of a pattern. A dynamic segment matches any
// single non-empty path element and captures it under Name.
type segment struct {
	literal string
	name    string // set for dynamic segments
	dynamic bool
}

// Pattern is a parsed route path such as /api/users/:user-id.
type Pattern struct {
	raw        string
	segments   []segment
	static     bool
	numDynamic int
}

// ParsePattern parses a route path. Segments beginning with ':' are
// dynamic; everything else matches literally.
func ParsePattern(path string) (Pattern, error) {
	if !strings.HasPrefix(path, "/") {
		return Pattern{}, fmt.Errorf("route path %q must start with /", path)
	}

	trimmed := strings.Trim(path, "/")
	var segs []segment
	numDynamic := 0
	if trimmed != "" {
		for _, part := range strings.Split(trimmed, "/") {
			if part == "" {
				return Pattern{}, fmt.Errorf("route path %q has an empty segment", path)
			}
			if strings.HasPrefix(part, ":") {
				name := part[1:]
				if name == "" {
					return Pattern{}, fmt.Errorf("route path %q has an unnamed parameter", path)
				}
				segs = append(segs, segment{name: name, dynamic: true})
				numDynamic++
				continue
			}
			segs = append(segs, segment{literal: part})
		}
	}

	return Pattern{raw: path, segments: segs, static: numDynamic == 0, numDynamic: numDynamic}, nil
}

// String returns the original path the pattern was parsed from.
func (p Pattern) String() string { return p.raw }

// Static reports whether the pattern has no dynamic segments.
func (p Pattern) Static() bool { return p.static }

// Shape returns the pattern with every parameter name erased, so that
// patterns differing only in parameter names collide.
func (p Pattern) Shape() string {
	var b strings.Builder
	for _, seg := range p.segments {
		b.WriteByte('/')
		if seg.dynamic {
			b.WriteByte(':')
		} else {
			b.WriteString(seg.literal)
		}
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Match attempts to match pre-split path elements against the pattern.
// On success it returns the captured parameters, which is nil for static
// patterns.
func (p Pattern) Match(parts []string) (map[string]string, bool) {
	if len(parts) != len(p.segments) {
		return nil, false
	}

	var params map[string]string
	for i, seg := range p.segments {
		if seg.dynamic {
			if parts[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string, 2)
			}
			params[seg.name] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	return params, true
}

// splitPath splits a request path into its elements. "/" and "" yield an
// empty slice.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
