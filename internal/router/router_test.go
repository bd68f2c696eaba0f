package router

import (
	"net/http"
	"testing"
)

func mustBuild(t *testing.T, entries []Entry) *Table {
	t.Helper()
	tab, err := Build(entries, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return tab
}

func TestParsePattern(t *testing.T) {
	tests := []struct {
		path    string
		static  bool
		shape   string
		wantErr bool
	}{
		{path: "/api/users", static: true, shape: "/api/users"},
		{path: "/api/users/:user-id", static: false, shape: "/api/users/:"},
		{path: "/", static: true, shape: "/"},
		{path: "/api/orders/:order-id/items/:item-id", static: false, shape: "/api/orders/:/items/:"},
		{path: "no-leading-slash", wantErr: true},
		{path: "/api//users", wantErr: true},
		{path: "/api/:", wantErr: true},
	}
	for _, tc := range tests {
		pat, err := ParsePattern(tc.path)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParsePattern(%q): expected error", tc.path)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePattern(%q): %v", tc.path, err)
			continue
		}
		if pat.Static() != tc.static {
			t.Errorf("ParsePattern(%q).Static() = %v, want %v", tc.path, pat.Static(), tc.static)
		}
		if pat.Shape() != tc.shape {
			t.Errorf("ParsePattern(%q).Shape() = %q, want %q", tc.path, pat.Shape(), tc.shape)
		}
	}
}

func TestLookupStaticBeforeDynamic(t *testing.T) {
	tab := mustBuild(t, []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/users/:user-id", Upstream: "users", GRPCMethod: "/users.v1.UserService/GetUser"},
		{HTTPMethod: http.MethodGet, Path: "/api/users/me", Upstream: "users", GRPCMethod: "/users.v1.UserService/GetCurrentUser"},
	})

	m, ok := tab.Lookup(http.MethodGet, "/api/users/me")
	if !ok {
		t.Fatal("expected match")
	}
	if m.GRPCMethod != "/users.v1.UserService/GetCurrentUser" {
		t.Errorf("static route must win over dynamic, got %s", m.GRPCMethod)
	}
	if len(m.Params) != 0 {
		t.Errorf("static match must capture no params, got %v", m.Params)
	}

	m, ok = tab.Lookup(http.MethodGet, "/api/users/42")
	if !ok {
		t.Fatal("expected dynamic match")
	}
	if m.Params["user-id"] != "42" {
		t.Errorf("params = %v, want user-id=42", m.Params)
	}
}

func TestLookupPrefersFewerDynamicSegments(t *testing.T) {
	// The two-parameter pattern is registered first; the more specific
	// one-parameter pattern must still win.
	tab := mustBuild(t, []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/:area/:page", Upstream: "b", GRPCMethod: "/b.B/TwoParams"},
		{HTTPMethod: http.MethodGet, Path: "/api/:section/list", Upstream: "a", GRPCMethod: "/a.A/OneParam"},
	})

	m, ok := tab.Lookup(http.MethodGet, "/api/news/list")
	if !ok {
		t.Fatal("expected match")
	}
	if m.GRPCMethod != "/a.A/OneParam" {
		t.Errorf("pattern with fewer parameters must win, got %s", m.GRPCMethod)
	}

	// Paths only the broader pattern matches still reach it.
	m, ok = tab.Lookup(http.MethodGet, "/api/news/politics")
	if !ok {
		t.Fatal("expected match")
	}
	if m.GRPCMethod != "/b.B/TwoParams" {
		t.Errorf("broader pattern must catch the rest, got %s", m.GRPCMethod)
	}
}

func TestLookupDynamicInsertionOrderBreaksTies(t *testing.T) {
	// Both patterns have one parameter; the earliest registered wins.
	tab := mustBuild(t, []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/news/:id", Upstream: "a", GRPCMethod: "/a.A/First"},
		{HTTPMethod: http.MethodGet, Path: "/api/:section/list", Upstream: "b", GRPCMethod: "/b.B/Second"},
	})

	m, ok := tab.Lookup(http.MethodGet, "/api/news/list")
	if !ok {
		t.Fatal("expected match")
	}
	if m.GRPCMethod != "/a.A/First" {
		t.Errorf("earliest registered of equally specific routes must win, got %s", m.GRPCMethod)
	}
}

func TestLookupMethodMismatch(t *testing.T) {
	tab := mustBuild(t, []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/users", Upstream: "users", GRPCMethod: "/users.v1.UserService/ListUsers"},
	})

	if _, ok := tab.Lookup(http.MethodPost, "/api/users"); ok {
		t.Error("POST must not match a GET route")
	}
	if _, ok := tab.Lookup(http.MethodGet, "/api/unknown"); ok {
		t.Error("unknown path must not match")
	}
}

func TestLookupTrailingSlash(t *testing.T) {
	tab := mustBuild(t, []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/users", Upstream: "users", GRPCMethod: "/users.v1.UserService/ListUsers"},
	})

	if _, ok := tab.Lookup(http.MethodGet, "/api/users/"); !ok {
		t.Error("trailing slash variant should hit the same static route")
	}
}

func TestBuildLenientFirstWins(t *testing.T) {
	tab := mustBuild(t, []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/users/:id", Upstream: "users", GRPCMethod: "/users.v1.UserService/GetUser", Source: SourceOverride},
		{HTTPMethod: http.MethodGet, Path: "/api/users/:user-id", Upstream: "accounts", GRPCMethod: "/accounts.v1.AccountService/GetAccount", Source: SourceDiscovered},
	})

	if tab.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tab.Len())
	}
	m, _ := tab.Lookup(http.MethodGet, "/api/users/7")
	if m.GRPCMethod != "/users.v1.UserService/GetUser" {
		t.Errorf("earlier entry must win dedup, got %s", m.GRPCMethod)
	}
	// Parameter name comes from the kept entry.
	if m.Params["id"] != "7" {
		t.Errorf("params = %v, want id=7", m.Params)
	}
}

func TestBuildStrictRejectsDuplicates(t *testing.T) {
	_, err := Build([]Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/users/:id", Upstream: "a", GRPCMethod: "/a.A/Get"},
		{HTTPMethod: http.MethodGet, Path: "/api/users/:other", Upstream: "b", GRPCMethod: "/b.B/Get"},
	}, true)
	if err == nil {
		t.Fatal("strict build must reject duplicate route shapes")
	}
}

func TestBuildDeterministic(t *testing.T) {
	entries := []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/users/:id", Upstream: "a", GRPCMethod: "/a.A/Get"},
		{HTTPMethod: http.MethodGet, Path: "/api/orders/:id", Upstream: "b", GRPCMethod: "/b.B/Get"},
		{HTTPMethod: http.MethodPost, Path: "/api/orders", Upstream: "b", GRPCMethod: "/b.B/Create"},
	}

	first := mustBuild(t, entries)
	second := mustBuild(t, entries)

	for _, probe := range []struct{ method, path string }{
		{http.MethodGet, "/api/users/1"},
		{http.MethodGet, "/api/orders/1"},
		{http.MethodPost, "/api/orders"},
	} {
		a, okA := first.Lookup(probe.method, probe.path)
		b, okB := second.Lookup(probe.method, probe.path)
		if okA != okB || a.GRPCMethod != b.GRPCMethod {
			t.Errorf("lookup %s %s differs between identical builds", probe.method, probe.path)
		}
	}
}

func TestCellSwap(t *testing.T) {
	c := NewCell()
	if c.Load().Len() != 0 {
		t.Fatal("new cell must hold an empty table")
	}

	tab := mustBuild(t, []Entry{
		{HTTPMethod: http.MethodGet, Path: "/api/users", Upstream: "users", GRPCMethod: "/users.v1.UserService/ListUsers"},
	})
	old := c.Swap(tab)
	if old.Len() != 0 {
		t.Errorf("Swap returned table with %d routes, want 0", old.Len())
	}
	if c.Load().Len() != 1 {
		t.Errorf("cell holds %d routes after swap, want 1", c.Load().Len())
	}
}
