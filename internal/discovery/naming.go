package discovery

import (
	"strings"
	"unicode"
)

// MethodKind classifies a gRPC method short name by its naming prefix.
type MethodKind int

const (
	KindUnknown MethodKind = iota
	KindAddChild
	KindRemoveChild
	KindGet
	KindList
	KindCreate
	KindUpdate
	KindDelete
)

func (k MethodKind) String() string {
	switch k {
	case KindAddChild:
		return "add_child"
	case KindRemoveChild:
		return "remove_child"
	case KindGet:
		return "get"
	case KindList:
		return "list"
	case KindCreate:
		return "create"
	case KindUpdate:
		return "update"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ConventionRoute is the HTTP mapping derived from a method short name.
type ConventionRoute struct {
	Kind       MethodKind
	HTTPMethod string
	Path       string
}

// MapMethodName maps a gRPC method short name to an HTTP route by naming
// convention. More specific prefixes are tried first, so AddUserToGroup
// is nested-add rather than a malformed "Add" route. Returns ok=false for
// names matching no convention; callers count those as skipped.
func MapMethodName(shortName string) (ConventionRoute, bool) {
	switch {
	case strings.HasPrefix(shortName, "Add"):
		child, resource, ok := splitLinked(shortName[len("Add"):], "To")
		if !ok {
			return ConventionRoute{}, false
		}
		return ConventionRoute{
			Kind:       KindAddChild,
			HTTPMethod: "POST",
			Path:       "/api/" + pluralKebab(resource) + "/:id/" + pluralKebab(child),
		}, true

	case strings.HasPrefix(shortName, "Remove"):
		child, resource, ok := splitLinked(shortName[len("Remove"):], "From")
		if !ok {
			return ConventionRoute{}, false
		}
		return ConventionRoute{
			Kind:       KindRemoveChild,
			HTTPMethod: "DELETE",
			Path:       "/api/" + pluralKebab(resource) + "/:id/" + pluralKebab(child) + "/:child_id",
		}, true

	case strings.HasPrefix(shortName, "Get"):
		resource := shortName[len("Get"):]
		if resource == "" {
			return ConventionRoute{}, false
		}
		return ConventionRoute{
			Kind:       KindGet,
			HTTPMethod: "GET",
			Path:       "/api/" + pluralKebab(resource) + "/:id",
		}, true

	case strings.HasPrefix(shortName, "List"):
		// The remainder is already plural, e.g. ListUsers.
		resources := shortName[len("List"):]
		if resources == "" {
			return ConventionRoute{}, false
		}
		return ConventionRoute{
			Kind:       KindList,
			HTTPMethod: "GET",
			Path:       "/api/" + kebab(resources),
		}, true

	case strings.HasPrefix(shortName, "Create"):
		resource := shortName[len("Create"):]
		if resource == "" {
			return ConventionRoute{}, false
		}
		return ConventionRoute{
			Kind:       KindCreate,
			HTTPMethod: "POST",
			Path:       "/api/" + pluralKebab(resource),
		}, true

	case strings.HasPrefix(shortName, "Update"):
		resource := shortName[len("Update"):]
		if resource == "" {
			return ConventionRoute{}, false
		}
		return ConventionRoute{
			Kind:       KindUpdate,
			HTTPMethod: "PUT",
			Path:       "/api/" + pluralKebab(resource) + "/:id",
		}, true

	case strings.HasPrefix(shortName, "Delete"):
		resource := shortName[len("Delete"):]
		if resource == "" {
			return ConventionRoute{}, false
		}
		return ConventionRoute{
			Kind:       KindDelete,
			HTTPMethod: "DELETE",
			Path:       "/api/" + pluralKebab(resource) + "/:id",
		}, true
	}

	return ConventionRoute{}, false
}

// splitLinked splits a name like "UserToGroup" on the last occurrence of
// the linker word that sits on a camel-case boundary, returning the child
// ("User") and resource ("Group") parts.
func splitLinked(name, linker string) (child, resource string, ok bool) {
	for i := len(name) - len(linker) - 1; i > 0; i-- {
		if !strings.HasPrefix(name[i:], linker) {
			continue
		}
		rest := name[i+len(linker):]
		if rest == "" || !unicode.IsUpper(rune(rest[0])) {
			continue
		}
		return name[:i], rest, true
	}
	return "", "", false
}

// kebab converts a CamelCase name to lower-kebab-case. Acronym runs stay
// together: HTTPProxy becomes http-proxy.
func kebab(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// pluralKebab kebab-cases a resource name and pluralizes it by appending
// "s". Deliberately naive: "Company" becomes "companys".
func pluralKebab(name string) string {
	return kebab(name) + "s"
}
