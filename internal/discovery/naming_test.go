package discovery

import "testing"

func TestMapMethodName(t *testing.T) {
	tests := []struct {
		name       string
		kind       MethodKind
		httpMethod string
		path       string
		skip       bool
	}{
		{name: "GetUser", kind: KindGet, httpMethod: "GET", path: "/api/users/:id"},
		{name: "ListUsers", kind: KindList, httpMethod: "GET", path: "/api/users"},
		{name: "CreateUser", kind: KindCreate, httpMethod: "POST", path: "/api/users"},
		{name: "UpdateUser", kind: KindUpdate, httpMethod: "PUT", path: "/api/users/:id"},
		{name: "DeleteUser", kind: KindDelete, httpMethod: "DELETE", path: "/api/users/:id"},
		{name: "AddUserToGroup", kind: KindAddChild, httpMethod: "POST", path: "/api/groups/:id/users"},
		{name: "RemoveUserFromGroup", kind: KindRemoveChild, httpMethod: "DELETE", path: "/api/groups/:id/users/:child_id"},

		// Multi-word resources are kebab-cased.
		{name: "GetOrderItem", kind: KindGet, httpMethod: "GET", path: "/api/order-items/:id"},
		{name: "ListOrderItems", kind: KindList, httpMethod: "GET", path: "/api/order-items"},

		// Pluralization is a bare "s", even where English disagrees.
		{name: "CreateCompany", kind: KindCreate, httpMethod: "POST", path: "/api/companys"},

		// Acronym runs stay together when kebab-casing.
		{name: "GetHTTPProxy", kind: KindGet, httpMethod: "GET", path: "/api/http-proxys/:id"},

		// The linker word must sit on a camel-case boundary; "AddTodo"
		// has no "To<Resource>" and is skipped, not parsed as Add+do.
		{name: "AddTodo", skip: true},
		{name: "RemoveFrost", skip: true},

		// "To" inside the child name: the last boundary linker wins.
		{name: "AddTokenToSession", kind: KindAddChild, httpMethod: "POST", path: "/api/sessions/:id/tokens"},

		{name: "SearchUsers", skip: true},
		{name: "BatchCreateUsers", skip: true},
		{name: "Watch", skip: true},
		{name: "Get", skip: true},
		{name: "List", skip: true},
	}

	for _, tc := range tests {
		conv, ok := MapMethodName(tc.name)
		if tc.skip {
			if ok {
				t.Errorf("MapMethodName(%q) = %+v, want skipped", tc.name, conv)
			}
			continue
		}
		if !ok {
			t.Errorf("MapMethodName(%q): unexpectedly skipped", tc.name)
			continue
		}
		if conv.Kind != tc.kind {
			t.Errorf("MapMethodName(%q).Kind = %v, want %v", tc.name, conv.Kind, tc.kind)
		}
		if conv.HTTPMethod != tc.httpMethod {
			t.Errorf("MapMethodName(%q).HTTPMethod = %q, want %q", tc.name, conv.HTTPMethod, tc.httpMethod)
		}
		if conv.Path != tc.path {
			t.Errorf("MapMethodName(%q).Path = %q, want %q", tc.name, conv.Path, tc.path)
		}
	}
}

func TestKebab(t *testing.T) {
	tests := []struct{ in, want string }{
		{"User", "user"},
		{"OrderItem", "order-item"},
		{"HTTPProxy", "http-proxy"},
		{"APIKey", "api-key"},
		{"A", "a"},
	}
	for _, tc := range tests {
		if got := kebab(tc.in); got != tc.want {
			t.Errorf("kebab(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
