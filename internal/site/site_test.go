package site

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sitewire/sitewire/internal/apiclient"
	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/config"
	"github.com/sitewire/sitewire/internal/consent"
	"github.com/sitewire/sitewire/internal/platform"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Mode: config.ModeDevelopment,
		API: config.APIConfig{
			BaseURL:      baseURL,
			Timeout:      5 * time.Second,
			RequestDelay: 20 * time.Millisecond,
		},
		Analytics: config.AnalyticsConfig{
			Enabled:       true,
			MeasurementID: "G-SITETEST",
			PixelID:       "424242",
			PageViewDelay: 20 * time.Millisecond,
		},
		Session: config.SessionConfig{Storage: config.StorageMemory, InitialPath: "/"},
	}
}

func newSite(t *testing.T, baseURL string, opts ...platform.HeadlessOption) (*Site, *platform.Headless, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	host := platform.NewHeadless(opts...)
	s, err := New(testConfig(baseURL), host, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, host, logs
}

func pageViewPaths(host *platform.Headless) []string {
	var paths []string
	for _, call := range host.Calls("gtag") {
		if len(call.Args) == 3 && call.Args[0] == "event" && call.Args[1] == "page_view" {
			params, _ := call.Args[2].(map[string]any)
			path, _ := params["page_path"].(string)
			paths = append(paths, path)
		}
	}
	return paths
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestNewRequiresConfigAndPlatform(t *testing.T) {
	_, err := New(nil, platform.NewHeadless(), nil)
	assert.Error(t, err)
	_, err = New(testConfig(""), nil, nil)
	assert.Error(t, err)
}

func TestAcceptAllScenario(t *testing.T) {
	s, host, _ := newSite(t, "http://127.0.0.1:1")
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	assert.Empty(t, host.Injected())

	decision, err := s.SetConsent(ctx, consent.All)
	require.NoError(t, err)
	assert.True(t, decision.AllowsTracking())

	waitFor(t, func() bool { return len(pageViewPaths(host)) == 1 })
	assert.Equal(t, []string{"/"}, pageViewPaths(host))
	assert.Equal(t, 1, host.InjectionCount("tag-manager"))
	assert.Equal(t, 1, host.InjectionCount("ad-pixel"))

	require.NoError(t, s.Navigate(ctx, "/pricing"))
	waitFor(t, func() bool { return len(pageViewPaths(host)) == 2 })
	assert.Equal(t, "/pricing", pageViewPaths(host)[1])

	// Accepting again does not reload the sinks.
	_, err = s.SetConsent(ctx, consent.All)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(pageViewPaths(host)) == 3 })
	assert.Equal(t, 1, host.InjectionCount("tag-manager"))

	require.NoError(t, s.TrackEvent(ctx, "lead", map[string]any{"form": "demo"}))
	fbq := host.Calls("fbq")
	assert.Equal(t, []any{"track", "Lead", map[string]any{"form": "demo"}}, fbq[len(fbq)-1].Args)
}

func TestBackOfficeRoutesAreNotTracked(t *testing.T) {
	s, host, _ := newSite(t, "http://127.0.0.1:1")
	ctx := context.Background()

	require.NoError(t, s.Navigate(ctx, "/admin/leads"))
	_, err := s.SetConsent(ctx, consent.All)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, host.Injected())
	assert.Empty(t, pageViewPaths(host))

	require.NoError(t, s.Navigate(ctx, "/blog"))
	require.NoError(t, s.Start(ctx))
	waitFor(t, func() bool { return len(pageViewPaths(host)) == 1 })
	assert.Equal(t, []string{"/blog"}, pageViewPaths(host))
}

func TestStartWithStoredConsent(t *testing.T) {
	storage := platform.NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, storage.Set(ctx, consent.StateKey, "all"))

	s, host, _ := newSite(t, "http://127.0.0.1:1", platform.WithStorage(storage), platform.WithPath("/features"))
	require.NoError(t, s.Start(ctx))

	waitFor(t, func() bool { return len(pageViewPaths(host)) == 1 })
	assert.Equal(t, []string{"/features"}, pageViewPaths(host))
}

func TestDeclineAfterAcceptDeniesSinks(t *testing.T) {
	s, host, _ := newSite(t, "http://127.0.0.1:1")
	ctx := context.Background()

	_, err := s.SetConsent(ctx, consent.All)
	require.NoError(t, err)
	waitFor(t, func() bool { return len(pageViewPaths(host)) == 1 })

	_, err = s.SetConsent(ctx, consent.Declined)
	require.NoError(t, err)
	fbq := host.Calls("fbq")
	assert.Equal(t, []any{"consent", "revoke"}, fbq[len(fbq)-1].Args)

	require.NoError(t, s.TrackEvent(ctx, "purchase", nil))
	assert.Equal(t, []any{"consent", "revoke"}, host.Calls("fbq")[len(host.Calls("fbq"))-1].Args)
}

func TestUnauthorizedFromBackOffice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"leads":[]}`))
	}))
	defer srv.Close()

	s, host, logs := newSite(t, srv.URL, platform.WithPath("/admin/leads"))
	ctx := context.Background()
	require.NoError(t, s.Login(ctx, "stale", &auth.Profile{Email: "ops@example.com"}))

	_, err := s.Request(ctx, http.MethodGet, "/crm/leads", nil)
	require.Error(t, err)
	assert.True(t, apiclient.IsCategory(err, apiclient.CategoryUnauthorized))
	assert.Equal(t, "/admin/login", host.CurrentPath())
	assert.Equal(t, 1, logs.FilterMessage("Credential rejected, redirecting").Len())

	session, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, session.Authenticated)
	assert.Nil(t, session.Profile)

	require.NoError(t, s.Login(ctx, "fresh", nil))
	resp, err := s.Request(ctx, http.MethodGet, "/crm/leads", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNonBrowserSite(t *testing.T) {
	s, host, _ := newSite(t, "http://127.0.0.1:1", platform.WithoutBrowser())
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	_, err := s.Request(ctx, http.MethodGet, "/posts", nil)
	assert.True(t, apiclient.IsCategory(err, apiclient.CategoryUnsupported))
	assert.Empty(t, host.Injected())
}

func TestSnapshot(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	core, _ := observer.New(zapcore.DebugLevel)
	host := platform.NewHeadless(platform.WithPath("/about"))
	s, err := New(testConfig("https://api.example.test/api/"), host, zap.New(core), WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	require.NoError(t, s.Login(ctx, "tok", &auth.Profile{Email: "a@b.c", Role: "editor"}))
	_, err = s.SetConsent(ctx, consent.Essential)
	require.NoError(t, err)

	session, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.SessionID, session.SessionID)
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, "/about", session.Path)
	assert.True(t, session.Browser)
	assert.Equal(t, "https://api.example.test/api", session.BaseURL)
	assert.Equal(t, config.ModeDevelopment, session.Mode)
	assert.Equal(t, consent.Essential, session.Consent.State)
	assert.True(t, session.Consent.At.Equal(at))
	assert.True(t, session.Authenticated)
	require.NotNil(t, session.Profile)
	assert.Equal(t, "editor", session.Profile.Role)
	assert.Len(t, session.Sinks, 2)
	assert.Empty(t, session.Throttle)

	require.NoError(t, s.Logout(ctx))
	session, err = s.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, session.Authenticated)
}

func TestAnalyticsDisabled(t *testing.T) {
	cfg := testConfig("")
	cfg.Analytics.Enabled = false
	host := platform.NewHeadless()
	s, err := New(cfg, host, nil)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.SetConsent(context.Background(), consent.All)
	require.NoError(t, err)
	assert.Empty(t, host.Injected())
	assert.Empty(t, s.Analytics.Status())
}
