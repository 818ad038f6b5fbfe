// Package routes holds the route constants shared by the request layer and
// the analytics layer.
package routes

import "strings"

const (
	// LoginPath is the back-office login entry point.
	LoginPath = "/admin/login"

	// LandingPath is the public landing route.
	LandingPath = "/"
)

// BackOfficePrefixes lists the administrative route prefixes. Paths under
// these are never tracked and never treated as public.
var BackOfficePrefixes = []string{
	"/admin",
	"/dashboard",
	"/crm",
	"/login",
}

// IsBackOffice reports whether path equals a back-office prefix or lies
// beneath one. Query strings and fragments are ignored.
func IsBackOffice(path string) bool {
	path = clean(path)
	for _, prefix := range BackOfficePrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// RedirectTarget returns where an unauthenticated visitor on path is sent.
func RedirectTarget(path string) string {
	if IsBackOffice(path) {
		return LoginPath
	}
	return LandingPath
}

func clean(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			path = "/"
		}
	}
	return strings.ToLower(path)
}
