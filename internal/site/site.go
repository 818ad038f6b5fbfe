// Package site wires the network and telemetry layer together. A Site owns
// the process-wide state: one throttle ledger, one shared client, one set
// of analytics slot flags.
package site

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitewire/sitewire/internal/analytics"
	"github.com/sitewire/sitewire/internal/apiclient"
	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/config"
	"github.com/sitewire/sitewire/internal/consent"
	"github.com/sitewire/sitewire/internal/observability"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/throttle"
)

// Site is the composition root.
type Site struct {
	Config      *config.Config
	Platform    platform.Platform
	Ledger      *throttle.Ledger
	Credentials *auth.Credentials
	Interceptor *auth.Interceptor
	Classifier  *apiclient.Classifier
	Client      *apiclient.Client
	Consent     *consent.Store
	Analytics   *analytics.Dispatcher
	PageViews   *analytics.PageViews

	// SessionID identifies this page session for view de-duplication.
	SessionID string

	logger observability.Logger

	mu          sync.Mutex
	unsubscribe []func()
	closed      bool
}

// Option customizes construction.
type Option func(*options)

type options struct {
	httpClient *http.Client
	clock      func() time.Time
	sinks      []analytics.Sink
	sinksSet   bool
}

// WithHTTPClient replaces the transport's underlying client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithClock sets the clock used for consent timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithSinks replaces the configured analytics sinks.
func WithSinks(sinks ...analytics.Sink) Option {
	return func(o *options) {
		o.sinks = sinks
		o.sinksSet = true
	}
}

// New builds every component once and subscribes analytics to consent and
// route changes.
func New(cfg *config.Config, p platform.Platform, logger observability.Logger, opts ...Option) (*Site, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if p == nil {
		return nil, errors.New("platform is required")
	}
	if logger == nil {
		logger = observability.Nop()
	}

	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	baseURL := config.ResolveBaseURL(cfg)
	storage := p.Storage()

	s := &Site{
		Config:    cfg,
		Platform:  p,
		Ledger:    throttle.NewLedger(cfg.API.RequestDelay),
		SessionID: uuid.NewString(),
		logger:    logger,
	}

	s.Credentials = auth.NewCredentials(storage)
	s.Interceptor = &auth.Interceptor{
		Credentials: s.Credentials,
		Platform:    p,
		Logger:      logger,
	}
	s.Classifier = &apiclient.Classifier{
		Logger:       logger,
		Unauthorized: s.Interceptor,
		DevMode:      cfg.DevMode(),
		BaseURL:      baseURL,
	}
	s.Client = apiclient.New(apiclient.Config{
		BaseURL:    baseURL,
		Timeout:    cfg.API.Timeout,
		UserAgent:  cfg.API.UserAgent,
		HTTPClient: o.httpClient,
	}, apiclient.Deps{
		Platform:    p,
		Ledger:      s.Ledger,
		Interceptor: s.Interceptor,
		Classifier:  s.Classifier,
		Logger:      logger,
	})

	s.Consent = consent.NewStore(storage, o.clock)

	sinks := o.sinks
	if !o.sinksSet {
		sinks = configuredSinks(cfg.Analytics)
	}
	s.Analytics = analytics.NewDispatcher(p, s.Consent, sinks,
		analytics.WithLogger(logger),
		analytics.WithDebug(cfg.Analytics.Debug || cfg.Debug.Enabled))
	s.PageViews = analytics.NewPageViews(s.Analytics, cfg.Analytics.PageViewDelay)

	s.unsubscribe = append(s.unsubscribe,
		s.Consent.Subscribe(s.onConsent),
		p.Navigator().OnChange(s.onRoute),
	)

	logger.Debug("Site initialized",
		zap.String("base_url", baseURL),
		zap.String("mode", cfg.EffectiveMode()),
		zap.Bool("browser", p.Browser()),
		zap.Int("sinks", len(sinks)))

	return s, nil
}

func configuredSinks(cfg config.AnalyticsConfig) []analytics.Sink {
	if !cfg.Enabled {
		return nil
	}
	var sinks []analytics.Sink
	if id := strings.TrimSpace(cfg.MeasurementID); id != "" {
		sinks = append(sinks, &analytics.TagManager{MeasurementID: id})
	}
	if id := strings.TrimSpace(cfg.PixelID); id != "" {
		sinks = append(sinks, &analytics.Pixel{PixelID: id})
	}
	return sinks
}

// Start runs the page-load step: with a stored full consent the sinks are
// initialized and a page view is scheduled for the current route.
func (s *Site) Start(ctx context.Context) error {
	decision, err := s.Consent.Current(ctx)
	if err != nil {
		return err
	}
	if !decision.AllowsTracking() {
		return nil
	}
	return s.Analytics.ConsentChanged(ctx, decision)
}

func (s *Site) onConsent(decision consent.Decision) {
	if err := s.Analytics.ConsentChanged(context.Background(), decision); err != nil {
		s.logger.Warn("Failed to apply consent change",
			zap.String("state", string(decision.State)),
			zap.Error(err))
	}
}

func (s *Site) onRoute(path string) {
	s.PageViews.RouteChanged(context.Background(), path)
}

// Navigate moves to path.
func (s *Site) Navigate(ctx context.Context, path string) error {
	return s.Platform.Navigator().Navigate(ctx, path)
}

// SetConsent records the banner decision.
func (s *Site) SetConsent(ctx context.Context, state consent.State) (consent.Decision, error) {
	return s.Consent.Set(ctx, state)
}

// ResetConsent forgets the decision.
func (s *Site) ResetConsent(ctx context.Context) error {
	return s.Consent.Reset(ctx)
}

// Login stores the credential returned by the authentication endpoint.
func (s *Site) Login(ctx context.Context, token string, profile *auth.Profile) error {
	return s.Credentials.Save(ctx, token, profile)
}

// Logout clears the stored credential.
func (s *Site) Logout(ctx context.Context) error {
	return s.Credentials.Clear(ctx)
}

// TrackEvent forwards a custom event to the analytics sinks.
func (s *Site) TrackEvent(ctx context.Context, name string, params map[string]any) error {
	return s.Analytics.TrackEvent(ctx, name, params)
}

// Request issues an API call through the shared client.
func (s *Site) Request(ctx context.Context, method, path string, body any, opts ...apiclient.Option) (*apiclient.Response, error) {
	return s.Client.Request(ctx, method, path, body, opts...)
}

// Session is a point-in-time view of the site state.
type Session struct {
	SessionID     string                 `json:"session_id"`
	Path          string                 `json:"path"`
	Browser       bool                   `json:"browser"`
	BaseURL       string                 `json:"base_url"`
	Mode          string                 `json:"mode"`
	Consent       consent.Decision       `json:"consent"`
	Authenticated bool                   `json:"authenticated"`
	Profile       *auth.Profile          `json:"profile,omitempty"`
	Throttle      []throttle.Entry       `json:"throttle"`
	Sinks         []analytics.SinkStatus `json:"sinks"`
}

// Snapshot reports the current state.
func (s *Site) Snapshot(ctx context.Context) (*Session, error) {
	decision, err := s.Consent.Current(ctx)
	if err != nil {
		return nil, err
	}

	session := &Session{
		SessionID: s.SessionID,
		Path:      s.Platform.Navigator().CurrentPath(),
		Browser:   s.Platform.Browser(),
		BaseURL:   s.Client.BaseURL(),
		Mode:      s.Config.EffectiveMode(),
		Consent:   decision,
		Throttle:  s.Ledger.Snapshot(),
		Sinks:     s.Analytics.Status(),
	}

	cred, err := s.Credentials.Load(ctx)
	switch {
	case errors.Is(err, auth.ErrNoCredential):
	case err != nil:
		return nil, fmt.Errorf("load credential: %w", err)
	default:
		session.Authenticated = true
		session.Profile = cred.Profile
	}
	return session, nil
}

// Close detaches the subscriptions and cancels pending page views.
func (s *Site) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.PageViews.Stop()
	return nil
}
