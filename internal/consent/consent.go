// Package consent records the visitor's cookie consent decision and gates
// tracking on it.
package consent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sitewire/sitewire/internal/metrics"
	"github.com/sitewire/sitewire/internal/platform"
)

// Storage keys for the decision and its timestamp.
const (
	StateKey     = "cookie_consent"
	TimestampKey = "cookie_consent_date"
)

// State is a consent decision.
type State string

const (
	Unset     State = "unset"
	All       State = "all"
	Essential State = "essential"
	Declined  State = "declined"
)

// ParseState accepts the stored and CLI spellings of a decision.
func ParseState(value string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "unset":
		return Unset, nil
	case "all", "accept", "accept-all":
		return All, nil
	case "essential", "necessary":
		return Essential, nil
	case "declined", "decline", "reject":
		return Declined, nil
	default:
		return Unset, fmt.Errorf("unknown consent state %q (expected all, essential or declined)", value)
	}
}

// Decision is the stored decision and when it was made.
type Decision struct {
	State State     `json:"state"`
	At    time.Time `json:"at,omitempty"`
}

// AllowsTracking reports whether analytics may run.
func (d Decision) AllowsTracking() bool {
	return d.State == All
}

// Store persists decisions and notifies subscribers when they change.
type Store struct {
	storage platform.Storage
	clock   func() time.Time

	mu        sync.Mutex
	listeners map[int]func(Decision)
	nextID    int
}

// NewStore binds the store to browser-scoped storage. clock defaults to
// time.Now.
func NewStore(storage platform.Storage, clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		storage:   storage,
		clock:     clock,
		listeners: make(map[int]func(Decision)),
	}
}

// Current reads the stored decision. Missing or unreadable values are
// reported as Unset.
func (s *Store) Current(ctx context.Context) (Decision, error) {
	if s == nil || s.storage == nil {
		return Decision{State: Unset}, nil
	}
	raw, ok, err := s.storage.Get(ctx, StateKey)
	if err != nil {
		return Decision{State: Unset}, fmt.Errorf("read consent: %w", err)
	}
	if !ok {
		return Decision{State: Unset}, nil
	}
	state, err := ParseState(raw)
	if err != nil {
		return Decision{State: Unset}, nil
	}

	decision := Decision{State: state}
	if stamp, ok, err := s.storage.Get(ctx, TimestampKey); err == nil && ok {
		if at, err := time.Parse(time.RFC3339, stamp); err == nil {
			decision.At = at
		}
	}
	return decision, nil
}

// Set records a decision. Decisions may be revised at any time; the
// timestamp always reflects the latest one.
func (s *Store) Set(ctx context.Context, state State) (Decision, error) {
	if s == nil || s.storage == nil {
		return Decision{}, fmt.Errorf("consent storage is not configured")
	}
	if state == Unset {
		return Decision{}, s.Reset(ctx)
	}
	if _, err := ParseState(string(state)); err != nil {
		return Decision{}, err
	}

	decision := Decision{State: state, At: s.clock().UTC().Truncate(time.Second)}
	if err := s.storage.Set(ctx, StateKey, string(state)); err != nil {
		return Decision{}, fmt.Errorf("store consent: %w", err)
	}
	if err := s.storage.Set(ctx, TimestampKey, decision.At.Format(time.RFC3339)); err != nil {
		return Decision{}, fmt.Errorf("store consent timestamp: %w", err)
	}

	metrics.RecordConsentChange(string(state))
	s.notify(decision)
	return decision, nil
}

// Reset forgets the decision so the banner is shown again.
func (s *Store) Reset(ctx context.Context) error {
	if s == nil || s.storage == nil {
		return nil
	}
	if err := s.storage.Delete(ctx, StateKey); err != nil {
		return fmt.Errorf("clear consent: %w", err)
	}
	if err := s.storage.Delete(ctx, TimestampKey); err != nil {
		return fmt.Errorf("clear consent timestamp: %w", err)
	}
	metrics.RecordConsentChange(string(Unset))
	s.notify(Decision{State: Unset})
	return nil
}

// Subscribe registers fn for future decisions and returns an unsubscribe
// function.
func (s *Store) Subscribe(fn func(Decision)) func() {
	if s == nil || fn == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(d Decision) {
	s.mu.Lock()
	listeners := make([]func(Decision), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(d)
	}
}
