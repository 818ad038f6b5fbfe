package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPageViewDelay lets the route's document settle before the page
// view is sent.
const DefaultPageViewDelay = 100 * time.Millisecond

// PageViews emits one page_view per settled route change. Rapid changes
// within the delay collapse into a single event for the last route.
type PageViews struct {
	dispatcher *Dispatcher
	delay      time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	emitted []string
	stopped bool
}

// NewPageViews attaches a debounced page view emitter to d.
func NewPageViews(d *Dispatcher, delay time.Duration) *PageViews {
	if delay <= 0 {
		delay = DefaultPageViewDelay
	}
	p := &PageViews{dispatcher: d, delay: delay}
	d.attach(p)
	return p
}

// RouteChanged schedules a page view for path.
func (p *PageViews) RouteChanged(ctx context.Context, path string) {
	ctx = context.WithoutCancel(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.gen++
	gen := p.gen
	p.timer = time.AfterFunc(p.delay, func() { p.fire(ctx, path, gen) })
}

func (p *PageViews) fire(ctx context.Context, path string, gen uint64) {
	p.mu.Lock()
	if gen != p.gen || p.stopped {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := p.dispatcher.WaitReady(waitCtx); err != nil {
		p.dispatcher.logger.Warn("Page view dropped, sinks not ready",
			zap.String("path", path),
			zap.Error(err))
		return
	}

	sent, err := p.dispatcher.track(ctx, PageViewEvent, map[string]any{"page_path": path})
	if err != nil {
		p.dispatcher.logger.Warn("Page view failed",
			zap.String("path", path),
			zap.Error(err))
	}
	if sent == 0 {
		return
	}

	p.mu.Lock()
	p.emitted = append(p.emitted, path)
	p.mu.Unlock()
}

// Emitted lists the paths a page view reached at least one sink for,
// oldest first.
func (p *PageViews) Emitted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.emitted...)
}

// Stop cancels any pending page view.
func (p *PageViews) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}
