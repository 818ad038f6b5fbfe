// Package platform abstracts the browser capabilities the network and
// telemetry layer depends on, so the layer runs unchanged in a headless
// harness, the CLI, and tests.
package platform

import "context"

// Storage is the browser-scoped key-value store (localStorage equivalent).
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Navigator exposes the current route and performs navigations.
type Navigator interface {
	CurrentPath() string
	Navigate(ctx context.Context, path string) error

	// OnChange registers fn for route changes and returns an unsubscribe func.
	OnChange(fn func(path string)) func()
}

// Script describes a third-party script element.
type Script struct {
	ID    string
	Src   string
	Async bool

	// Global names the function the script exposes once loaded.
	Global string

	// NoScript is an optional fallback image URL rendered for clients
	// without script support.
	NoScript string
}

// ScriptHost injects script elements and invokes the globals they expose.
type ScriptHost interface {
	// Inject inserts the element. The returned channel receives exactly one
	// value once the script loaded (nil) or failed.
	Inject(ctx context.Context, script Script) (<-chan error, error)
	Remove(ctx context.Context, id string) error
	Call(ctx context.Context, global string, args ...any) error
}

// Platform bundles the capabilities. Browser reports whether a browser
// context exists; server-side render passes return false.
type Platform interface {
	Browser() bool
	Storage() Storage
	Navigator() Navigator
	Scripts() ScriptHost
}
