// Package throttle paces outbound requests per request signature.
package throttle

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultDelay is the minimum spacing between two dispatches of the same
// signature.
const DefaultDelay = 100 * time.Millisecond

// Ticket identifies one recorded dispatch.
type Ticket struct {
	Signature string
	At        time.Time
	Waited    time.Duration
}

// Entry is a ledger row.
type Entry struct {
	Signature    string    `json:"signature"`
	LastDispatch time.Time `json:"last_dispatch"`
}

// Ledger maps a signature to the time of its last dispatch. Entries are
// never evicted; a failed dispatch removes its own entry so that an
// immediate retry is not delayed.
//
// Submissions for one signature are serialized in submission order.
// Different signatures never wait on each other.
type Ledger struct {
	Delay time.Duration
	Clock func() time.Time
	After func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	entries map[string]time.Time
	tails   map[string]chan struct{}
}

// NewLedger returns a ledger enforcing delay (DefaultDelay when <= 0).
func NewLedger(delay time.Duration) *Ledger {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Ledger{
		Delay:   delay,
		entries: make(map[string]time.Time),
		tails:   make(map[string]chan struct{}),
	}
}

// Signature builds the throttle key for a request.
func Signature(method, path string) string {
	return strings.ToUpper(strings.TrimSpace(method)) + ":" + path
}

// Acquire blocks until the signature may be dispatched, records the
// dispatch and returns its ticket. A cancelled ctx aborts the wait without
// recording anything.
func (l *Ledger) Acquire(ctx context.Context, signature string) (Ticket, error) {
	if l == nil {
		return Ticket{Signature: signature, At: time.Now()}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	l.init()
	prev := l.tails[signature]
	done := make(chan struct{})
	l.tails[signature] = done
	l.mu.Unlock()

	release := func() {
		close(done)
		l.mu.Lock()
		if l.tails[signature] == done {
			delete(l.tails, signature)
		}
		l.mu.Unlock()
	}

	start := l.now()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Later submissions queue behind done, so it may only close
			// once prev has.
			go func() {
				<-prev
				release()
			}()
			return Ticket{}, ctx.Err()
		}
	}

	l.mu.Lock()
	last, ok := l.entries[signature]
	l.mu.Unlock()

	if ok {
		if wait := last.Add(l.delay()).Sub(l.now()); wait > 0 {
			select {
			case <-l.after(wait):
			case <-ctx.Done():
				release()
				return Ticket{}, ctx.Err()
			}
		}
	}

	at := l.now()
	l.mu.Lock()
	l.entries[signature] = at
	l.mu.Unlock()
	release()

	return Ticket{Signature: signature, At: at, Waited: at.Sub(start)}, nil
}

// Release finalizes a dispatch. A failed dispatch removes the ledger entry
// unless a later dispatch of the same signature already replaced it.
func (l *Ledger) Release(ticket Ticket, failed bool) {
	if l == nil || !failed {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if last, ok := l.entries[ticket.Signature]; ok && last.Equal(ticket.At) {
		delete(l.entries, ticket.Signature)
	}
}

// Last returns the recorded dispatch time for signature.
func (l *Ledger) Last(signature string) (time.Time, bool) {
	if l == nil {
		return time.Time{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	at, ok := l.entries[signature]
	return at, ok
}

// Snapshot returns all entries ordered by signature.
func (l *Ledger) Snapshot() []Entry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	entries := make([]Entry, 0, len(l.entries))
	for signature, at := range l.entries {
		entries = append(entries, Entry{Signature: signature, LastDispatch: at})
	}
	l.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Signature < entries[j].Signature
	})
	return entries
}

// Reset drops every entry. In-flight waits are unaffected.
func (l *Ledger) Reset() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make(map[string]time.Time)
}

func (l *Ledger) init() {
	if l.entries == nil {
		l.entries = make(map[string]time.Time)
	}
	if l.tails == nil {
		l.tails = make(map[string]chan struct{})
	}
}

func (l *Ledger) delay() time.Duration {
	if l.Delay <= 0 {
		return DefaultDelay
	}
	return l.Delay
}

func (l *Ledger) now() time.Time {
	if l.Clock != nil {
		return l.Clock()
	}
	return time.Now()
}

func (l *Ledger) after(d time.Duration) <-chan time.Time {
	if l.After != nil {
		return l.After(d)
	}
	return time.After(d)
}
