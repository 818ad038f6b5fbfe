package platform

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Call records one invocation of a script global.
type Call struct {
	Global string `json:"global"`
	Args   []any  `json:"args"`
}

// Injection records a script element currently present in the document.
type Injection struct {
	Script Script `json:"script"`
	Loaded bool   `json:"loaded"`
}

// Headless is an in-process Platform. It records navigations, script
// injections and global calls so sessions can be inspected.
type Headless struct {
	browser bool
	storage Storage

	mu        sync.Mutex
	path      string
	history   []string
	listeners map[int]func(string)
	nextID    int

	scripts    map[string]*Injection
	injections map[string]int
	calls      []Call
	loadResult func(Script) error
	manualLoad bool
	pending    map[string]chan error
}

// HeadlessOption configures a Headless platform.
type HeadlessOption func(*Headless)

// WithStorage replaces the default MemoryStorage.
func WithStorage(storage Storage) HeadlessOption {
	return func(h *Headless) {
		if storage != nil {
			h.storage = storage
		}
	}
}

// WithPath sets the initial route without recording a navigation.
func WithPath(path string) HeadlessOption {
	return func(h *Headless) {
		h.path = normalizePath(path)
	}
}

// WithoutBrowser simulates a server-side render pass.
func WithoutBrowser() HeadlessOption {
	return func(h *Headless) {
		h.browser = false
	}
}

// WithLoadResult decides the load outcome for each injected script.
func WithLoadResult(fn func(Script) error) HeadlessOption {
	return func(h *Headless) {
		h.loadResult = fn
	}
}

// WithManualLoad defers load callbacks until CompleteLoad is called.
func WithManualLoad() HeadlessOption {
	return func(h *Headless) {
		h.manualLoad = true
	}
}

// NewHeadless returns a browser-capable headless platform at "/".
func NewHeadless(opts ...HeadlessOption) *Headless {
	h := &Headless{
		browser:    true,
		storage:    NewMemoryStorage(),
		path:       "/",
		listeners:  make(map[int]func(string)),
		scripts:    make(map[string]*Injection),
		injections: make(map[string]int),
		pending:    make(map[string]chan error),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Headless) Browser() bool        { return h.browser }
func (h *Headless) Storage() Storage     { return h.storage }
func (h *Headless) Navigator() Navigator { return h }
func (h *Headless) Scripts() ScriptHost  { return h }

// CurrentPath returns the active route.
func (h *Headless) CurrentPath() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.path
}

// Navigate moves to path, records it and notifies listeners.
func (h *Headless) Navigate(_ context.Context, path string) error {
	if !h.browser {
		return errors.New("navigation requires a browser context")
	}
	path = normalizePath(path)

	h.mu.Lock()
	h.path = path
	h.history = append(h.history, path)
	listeners := make([]func(string), 0, len(h.listeners))
	for _, fn := range h.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(path)
	}
	return nil
}

func (h *Headless) OnChange(fn func(path string)) func() {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

// History returns every navigation performed so far.
func (h *Headless) History() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.history...)
}

// Inject adds the script element and resolves its load asynchronously.
func (h *Headless) Inject(_ context.Context, script Script) (<-chan error, error) {
	if !h.browser {
		return nil, errors.New("script injection requires a browser context")
	}
	if strings.TrimSpace(script.ID) == "" {
		return nil, errors.New("script id is required")
	}

	h.mu.Lock()
	if _, exists := h.scripts[script.ID]; exists {
		h.mu.Unlock()
		return nil, fmt.Errorf("script %s already present", script.ID)
	}
	h.scripts[script.ID] = &Injection{Script: script}
	h.injections[script.ID]++
	done := make(chan error, 1)
	if h.manualLoad {
		h.pending[script.ID] = done
		h.mu.Unlock()
		return done, nil
	}
	loadResult := h.loadResult
	h.mu.Unlock()

	go func() {
		var err error
		if loadResult != nil {
			err = loadResult(script)
		}
		h.finishLoad(script.ID, err)
		done <- err
	}()
	return done, nil
}

// CompleteLoad resolves a pending load started under WithManualLoad.
func (h *Headless) CompleteLoad(id string, err error) bool {
	h.mu.Lock()
	done, ok := h.pending[id]
	delete(h.pending, id)
	h.mu.Unlock()
	if !ok {
		return false
	}
	h.finishLoad(id, err)
	done <- err
	return true
}

func (h *Headless) finishLoad(id string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if inj, ok := h.scripts[id]; ok && err == nil {
		inj.Loaded = true
	}
}

func (h *Headless) Remove(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.scripts, id)
	delete(h.pending, id)
	return nil
}

// Call records a global invocation. Globals are only callable once a
// loaded script exposes them.
func (h *Headless) Call(_ context.Context, global string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	loaded := false
	for _, inj := range h.scripts {
		if inj.Loaded && inj.Script.Global == global {
			loaded = true
			break
		}
	}
	if !loaded {
		return fmt.Errorf("%s is not defined", global)
	}
	h.calls = append(h.calls, Call{Global: global, Args: append([]any(nil), args...)})
	return nil
}

// Injected returns the script elements present in the document.
func (h *Headless) Injected() []Injection {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Injection, 0, len(h.scripts))
	for _, inj := range h.scripts {
		out = append(out, *inj)
	}
	return out
}

// InjectionCount reports how many times the script id was injected.
func (h *Headless) InjectionCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.injections[id]
}

// Calls returns recorded global calls, optionally filtered by global name.
func (h *Headless) Calls(global ...string) []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(global) == 0 {
		return append([]Call(nil), h.calls...)
	}
	out := make([]Call, 0, len(h.calls))
	for _, call := range h.calls {
		for _, name := range global {
			if call.Global == name {
				out = append(out, call)
				break
			}
		}
	}
	return out
}

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}
