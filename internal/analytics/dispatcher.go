// Package analytics loads third-party analytics sinks and forwards events
// to them once consent and route allow it.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/consent"
	"github.com/sitewire/sitewire/internal/metrics"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/routes"
)

// Reasons a gated operation was skipped.
const (
	SkipNoBrowser     = "no_browser"
	SkipNoConsent     = "consent_not_granted"
	SkipExcludedRoute = "excluded_route"
)

// ConsentSource reads the current consent decision.
type ConsentSource interface {
	Current(ctx context.Context) (consent.Decision, error)
}

// SinkStatus describes one sink slot.
type SinkStatus struct {
	Name     string `json:"name"`
	ScriptID string `json:"script_id"`
	Injected bool   `json:"injected"`
	Loaded   bool   `json:"loaded"`
	Failures int    `json:"failures"`
}

type slot struct {
	sink     Sink
	injected bool
	loaded   bool
	denied   bool
	failures int
	ready    chan struct{}
}

// Dispatcher owns the process-wide initialization state of every sink.
type Dispatcher struct {
	platform platform.Platform
	consent  ConsentSource
	logger   observability.Logger
	debug    bool

	mu    sync.Mutex
	slots []*slot
	views *PageViews
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDebug logs the failing check whenever a gated operation is skipped.
func WithDebug(debug bool) Option {
	return func(d *Dispatcher) {
		d.debug = debug
	}
}

// NewDispatcher builds a dispatcher over sinks. Sinks are initialized in
// the given order.
func NewDispatcher(p platform.Platform, source ConsentSource, sinks []Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		platform: p,
		consent:  source,
		logger:   observability.Nop(),
	}
	for _, sink := range sinks {
		if sink != nil {
			d.slots = append(d.slots, &slot{sink: sink})
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Initialize injects every sink that is not injected yet. It is a no-op
// outside a browser, without full consent, or on a back-office route.
// Loads complete asynchronously; WaitReady blocks until they settle.
func (d *Dispatcher) Initialize(ctx context.Context) error {
	if !d.allowed(ctx, "initialize") {
		return nil
	}
	host := d.platform.Scripts()

	var errs []error
	for _, s := range d.slots {
		d.mu.Lock()
		if s.injected {
			d.mu.Unlock()
			continue
		}
		s.injected = true
		s.loaded = false
		s.ready = make(chan struct{})
		ready := s.ready
		d.mu.Unlock()

		script := s.sink.Script()
		done, err := host.Inject(ctx, script)
		if err != nil {
			d.loadFailed(ctx, s, ready, fmt.Errorf("inject %s: %w", script.ID, err))
			errs = append(errs, err)
			continue
		}

		d.logger.Debug("Analytics script injected",
			zap.String("sink", s.sink.Name()),
			zap.String("src", script.Src))

		go d.awaitLoad(context.WithoutCancel(ctx), s, ready, done)
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) awaitLoad(ctx context.Context, s *slot, ready chan struct{}, done <-chan error) {
	err := <-done
	if err == nil {
		err = s.sink.OnLoad(ctx, d.platform.Scripts())
	}
	if err != nil {
		d.loadFailed(ctx, s, ready, err)
		return
	}

	d.mu.Lock()
	if s.ready == ready {
		s.loaded = true
	}
	d.mu.Unlock()
	close(ready)

	metrics.RecordSinkLoad(s.sink.Name(), true)
	d.logger.Debug("Analytics sink loaded", zap.String("sink", s.sink.Name()))
}

// loadFailed removes the element and clears the slot so a later
// Initialize injects it again.
func (d *Dispatcher) loadFailed(ctx context.Context, s *slot, ready chan struct{}, cause error) {
	script := s.sink.Script()
	if err := d.platform.Scripts().Remove(ctx, script.ID); err != nil {
		d.logger.Debug("Failed to remove analytics script",
			zap.String("sink", s.sink.Name()),
			zap.Error(err))
	}

	d.mu.Lock()
	if s.ready == ready {
		s.injected = false
		s.loaded = false
		s.denied = false
		s.failures++
	}
	d.mu.Unlock()
	close(ready)

	metrics.RecordSinkLoad(s.sink.Name(), false)
	d.logger.Warn("Analytics sink failed to load",
		zap.String("sink", s.sink.Name()),
		zap.String("src", script.Src),
		zap.Error(cause))
}

// TrackEvent sends an event to every loaded sink. Consent and route are
// checked again at call time.
func (d *Dispatcher) TrackEvent(ctx context.Context, name string, params map[string]any) error {
	_, err := d.track(ctx, name, params)
	return err
}

// track returns the number of sinks that received the event.
func (d *Dispatcher) track(ctx context.Context, name string, params map[string]any) (int, error) {
	if name == "" {
		return 0, errors.New("event name is required")
	}
	if !d.allowed(ctx, "track") {
		return 0, nil
	}

	event := Event{Name: name, Params: params}
	host := d.platform.Scripts()

	var errs []error
	sent := 0
	for _, s := range d.loadedSlots() {
		if err := s.sink.Track(ctx, host, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.sink.Name(), err))
			continue
		}
		sent++
		metrics.RecordAnalyticsEvent(s.sink.Name(), name)
	}
	return sent, errors.Join(errs...)
}

// ConsentChanged reacts to a new decision: full consent initializes the
// sinks, lifts an earlier denial and schedules a page view, anything else
// signals denial to the loaded sinks.
func (d *Dispatcher) ConsentChanged(ctx context.Context, decision consent.Decision) error {
	if decision.AllowsTracking() {
		if err := d.Initialize(ctx); err != nil {
			return err
		}
		if err := d.grantDenied(ctx); err != nil {
			return err
		}
		d.mu.Lock()
		views := d.views
		d.mu.Unlock()
		if views != nil && d.platform != nil && d.platform.Browser() {
			views.RouteChanged(ctx, d.platform.Navigator().CurrentPath())
		}
		return nil
	}

	if d.platform == nil || !d.platform.Browser() {
		return nil
	}
	host := d.platform.Scripts()
	var errs []error
	for _, s := range d.loadedSlots() {
		if err := s.sink.Deny(ctx, host); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.sink.Name(), err))
			continue
		}
		d.mu.Lock()
		s.denied = true
		d.mu.Unlock()
	}
	return errors.Join(errs...)
}

// grantDenied calls Grant on every loaded sink that was denied earlier.
func (d *Dispatcher) grantDenied(ctx context.Context) error {
	if d.platform == nil || !d.platform.Browser() {
		return nil
	}
	host := d.platform.Scripts()
	var errs []error
	for _, s := range d.loadedSlots() {
		d.mu.Lock()
		denied := s.denied
		d.mu.Unlock()
		if !denied {
			continue
		}
		if err := s.sink.Grant(ctx, host); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.sink.Name(), err))
			continue
		}
		d.mu.Lock()
		s.denied = false
		d.mu.Unlock()
		d.logger.Debug("Analytics consent granted again", zap.String("sink", s.sink.Name()))
	}
	return errors.Join(errs...)
}

// WaitReady blocks until every in-flight load has settled.
func (d *Dispatcher) WaitReady(ctx context.Context) error {
	d.mu.Lock()
	waits := make([]chan struct{}, 0, len(d.slots))
	for _, s := range d.slots {
		if s.injected && !s.loaded && s.ready != nil {
			waits = append(waits, s.ready)
		}
	}
	d.mu.Unlock()

	for _, ready := range waits {
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Status reports every sink slot, ordered by name.
func (d *Dispatcher) Status() []SinkStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]SinkStatus, 0, len(d.slots))
	for _, s := range d.slots {
		out = append(out, SinkStatus{
			Name:     s.sink.Name(),
			ScriptID: s.sink.Script().ID,
			Injected: s.injected,
			Loaded:   s.loaded,
			Failures: s.failures,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Dispatcher) loadedSlots() []*slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*slot, 0, len(d.slots))
	for _, s := range d.slots {
		if s.loaded {
			out = append(out, s)
		}
	}
	return out
}

func (d *Dispatcher) allowed(ctx context.Context, op string) bool {
	if d.platform == nil || !d.platform.Browser() {
		d.skip(op, SkipNoBrowser)
		return false
	}

	decision := consent.Decision{State: consent.Unset}
	if d.consent != nil {
		current, err := d.consent.Current(ctx)
		if err != nil {
			d.logger.Warn("Failed to read consent", zap.Error(err))
		}
		decision = current
	}
	if !decision.AllowsTracking() {
		d.skip(op, SkipNoConsent)
		return false
	}

	if routes.IsBackOffice(d.platform.Navigator().CurrentPath()) {
		d.skip(op, SkipExcludedRoute)
		return false
	}
	return true
}

func (d *Dispatcher) skip(op, reason string) {
	metrics.RecordAnalyticsSkip(reason)
	if d.debug {
		d.logger.Debug("Analytics skipped",
			zap.String("operation", op),
			zap.String("check", reason))
	}
}

func (d *Dispatcher) attach(views *PageViews) {
	d.mu.Lock()
	d.views = views
	d.mu.Unlock()
}
