// Package router holds the immutable route table mapping HTTP method and
// path to an upstream gRPC method, and the atomic cell the dispatcher
// reads it from.
package router

import (
	"fmt"
	"net/http"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/grpcgate/grpcgate/internal/logging"
)

// Route source markers, in priority order at build time.
const (
	SourceOverride   = "override"
	SourceDiscovered = "discovered"
)

// Entry is one candidate route produced by configuration overrides or by
// reflection discovery.
type Entry struct {
	HTTPMethod string
	Path       string
	Upstream   string
	GRPCMethod string // fully qualified, e.g. /pkg.Service/Method
	Source     string
}

// Match is the routing decision for one request.
type Match struct {
	Upstream   string
	GRPCMethod string
	Params     map[string]string
}

// route is a compiled entry inside a table.
type route struct {
	pattern    Pattern
	upstream   string
	grpcMethod string
	source     string
}

// Table is an immutable snapshot of the route table. Lookups prefer exact
// static matches over dynamic ones; among dynamic candidates the pattern
// with fewer parameter positions wins, and insertion order breaks ties.
type Table struct {
	static  map[string]*route // key: method + " " + path
	dynamic map[string][]*route
	count   int
}

// Build compiles entries into a table. Entries are considered in order;
// a later entry whose method and pattern shape collide with an earlier
// one is skipped in lenient mode and rejected in strict mode.
func Build(entries []Entry, strict bool) (*Table, error) {
	t := &Table{
		static:  make(map[string]*route),
		dynamic: make(map[string][]*route),
	}
	shapes := make(map[string]Entry)

	for _, e := range entries {
		pat, err := ParsePattern(e.Path)
		if err != nil {
			return nil, fmt.Errorf("route %s %s: %w", e.HTTPMethod, e.Path, err)
		}

		shapeKey := e.HTTPMethod + " " + pat.Shape()
		if prior, dup := shapes[shapeKey]; dup {
			if strict {
				return nil, fmt.Errorf("duplicate route %s %s: %s/%s conflicts with %s/%s",
					e.HTTPMethod, e.Path, e.Upstream, e.GRPCMethod, prior.Upstream, prior.GRPCMethod)
			}
			logging.Warn("duplicate route skipped",
				zap.String("method", e.HTTPMethod),
				zap.String("path", e.Path),
				zap.String("skipped", e.GRPCMethod),
				zap.String("kept", prior.GRPCMethod))
			continue
		}
		shapes[shapeKey] = e

		r := &route{
			pattern:    pat,
			upstream:   e.Upstream,
			grpcMethod: e.GRPCMethod,
			source:     e.Source,
		}
		if pat.Static() {
			t.static[e.HTTPMethod+" "+pat.Shape()] = r
		} else {
			t.dynamic[e.HTTPMethod] = append(t.dynamic[e.HTTPMethod], r)
		}
		t.count++
	}

	// A pattern with fewer parameter positions is more specific and is
	// tried first. The sort is stable, so registration order decides
	// between equally specific candidates.
	for method := range t.dynamic {
		routes := t.dynamic[method]
		sort.SliceStable(routes, func(i, j int) bool {
			return routes[i].pattern.numDynamic < routes[j].pattern.numDynamic
		})
	}

	return t, nil
}

// Len returns the number of routes in the table.
func (t *Table) Len() int { return t.count }

// Lookup resolves method and path to a routing decision. ok is false
// when no route matches.
func (t *Table) Lookup(method, path string) (Match, bool) {
	parts := splitPath(path)

	if r, found := t.static[method+" "+normalize(parts)]; found {
		return Match{Upstream: r.upstream, GRPCMethod: r.grpcMethod}, true
	}

	for _, r := range t.dynamic[method] {
		if params, matched := r.pattern.Match(parts); matched {
			return Match{Upstream: r.upstream, GRPCMethod: r.grpcMethod, Params: params}, true
		}
	}

	return Match{}, false
}

// Routes returns the table contents for the admin listing, static routes
// first (sorted for stable output), then dynamic routes in match-priority
// order.
func (t *Table) Routes() []Entry {
	out := make([]Entry, 0, t.count)

	staticKeys := make([]string, 0, len(t.static))
	for key := range t.static {
		staticKeys = append(staticKeys, key)
	}
	sort.Strings(staticKeys)
	for _, key := range staticKeys {
		r := t.static[key]
		out = append(out, Entry{
			HTTPMethod: httpMethodOf(key),
			Path:       r.pattern.String(),
			Upstream:   r.upstream,
			GRPCMethod: r.grpcMethod,
			Source:     r.source,
		})
	}
	methods := make([]string, 0, len(t.dynamic))
	for method := range t.dynamic {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	for _, method := range methods {
		for _, r := range t.dynamic[method] {
			out = append(out, Entry{
				HTTPMethod: method,
				Path:       r.pattern.String(),
				Upstream:   r.upstream,
				GRPCMethod: r.grpcMethod,
				Source:     r.source,
			})
		}
	}
	return out
}

func httpMethodOf(staticKey string) string {
	for i := 0; i < len(staticKey); i++ {
		if staticKey[i] == ' ' {
			return staticKey[:i]
		}
	}
	return http.MethodGet
}

// normalize rebuilds a canonical path from split elements so that
// trailing-slash variants hit the same static entry.
func normalize(parts []string) string {
	if len(parts) == 0 {
		return "/"
	}
	n := 0
	for _, p := range parts {
		n += len(p) + 1
	}
	b := make([]byte, 0, n)
	for _, p := range parts {
		b = append(b, '/')
		b = append(b, p...)
	}
	return string(b)
}

// Cell is the atomically swappable holder the dispatcher reads the
// current table from. It always holds a non-nil table.
type Cell struct {
	table atomic.Pointer[Table]
}

// NewCell creates a cell holding an empty table.
func NewCell() *Cell {
	c := &Cell{}
	empty, _ := Build(nil, false)
	c.table.Store(empty)
	return c
}

// Load returns the current table.
func (c *Cell) Load() *Table { return c.table.Load() }

// Swap installs a new table and returns the previous one.
func (c *Cell) Swap(t *Table) *Table { return c.table.Swap(t) }
