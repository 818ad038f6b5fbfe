package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/throttle"
)

const testDelay = 40 * time.Millisecond

type harness struct {
	client  *Client
	host    *platform.Headless
	storage *platform.MemoryStorage
	ledger  *throttle.Ledger
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, baseURL string, devMode bool, opts ...platform.HeadlessOption) *harness {
	t.Helper()

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	storage := platform.NewMemoryStorage()
	host := platform.NewHeadless(append([]platform.HeadlessOption{platform.WithStorage(storage)}, opts...)...)
	ledger := throttle.NewLedger(testDelay)
	creds := auth.NewCredentials(storage)
	interceptor := &auth.Interceptor{Credentials: creds, Platform: host, Logger: logger}

	client := New(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, Deps{
		Platform:    host,
		Ledger:      ledger,
		Interceptor: interceptor,
		Classifier: &Classifier{
			Logger:       logger,
			Unauthorized: interceptor,
			DevMode:      devMode,
			BaseURL:      baseURL,
		},
		Logger: logger,
	})

	return &harness{client: client, host: host, storage: storage, ledger: ledger, logs: logs}
}

func statusServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "7")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"status":"x"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewDescriptor(t *testing.T) {
	d := NewDescriptor("post", "leads?src=hero", nil, WithHeader("X-Trace", "abc"), WithSessionID("s-1"))
	assert.Equal(t, http.MethodPost, d.Method)
	assert.Equal(t, "/leads?src=hero", d.Path)
	assert.Equal(t, "POST:/leads?src=hero", d.Signature)
	assert.Equal(t, "abc", d.Header.Get("X-Trace"))
	assert.Equal(t, "s-1", d.Header.Get(SessionIDHeader))

	d = NewDescriptor("", "/", nil)
	assert.Equal(t, "GET:/", d.Signature)
}

func TestRequestSuccess(t *testing.T) {
	var seen http.Header
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}
		assert.Equal(t, "/api/posts/hello", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"slug":"hello","views":3}`))
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL+"/api/", false)
	ctx := context.Background()
	require.NoError(t, h.storage.Set(ctx, auth.TokenKey, "tok-123"))

	resp, err := h.client.Post(ctx, "/posts/hello", map[string]any{"a": 1}, WithSessionID("sess-9"))
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "POST:/posts/hello", resp.Dispatch.Signature)

	var out struct {
		Slug  string `json:"slug"`
		Views int    `json:"views"`
	}
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "hello", out.Slug)
	assert.Equal(t, 3, out.Views)

	assert.Equal(t, "Bearer tok-123", seen.Get("Authorization"))
	assert.Equal(t, "sess-9", seen.Get(SessionIDHeader))
	assert.Equal(t, "application/json", seen.Get("Accept"))
	assert.Contains(t, seen.Get("Content-Type"), "application/json")
	assert.EqualValues(t, 1, body["a"])

	_, ok := h.ledger.Last("POST:/posts/hello")
	assert.True(t, ok)
	assert.Equal(t, srv.URL+"/api", h.client.BaseURL())
}

func TestRequestWithoutTokenSendsNoAuthorization(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL, false)
	_, err := h.client.Get(context.Background(), "/settings")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRequestOutsideBrowser(t *testing.T) {
	var hits atomic.Int32
	srv := statusServer(t, http.StatusOK, &hits)

	h := newHarness(t, srv.URL, true, platform.WithoutBrowser())
	resp, err := h.client.Get(context.Background(), "/posts")
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, IsCategory(err, CategoryUnsupported))
	assert.True(t, errors.Is(err, ErrUnsupportedEnvironment))
	assert.True(t, Degraded(err))

	assert.Zero(t, hits.Load())
	assert.Empty(t, h.ledger.Snapshot())
	assert.Zero(t, h.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestRequestUnauthorizedRedirects(t *testing.T) {
	cases := []struct {
		name string
		from string
		want string
	}{
		{name: "back office", from: "/admin/leads", want: "/admin/login"},
		{name: "dashboard", from: "/dashboard", want: "/admin/login"},
		{name: "public", from: "/pricing", want: "/"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := statusServer(t, http.StatusUnauthorized, nil)
			h := newHarness(t, srv.URL, false, platform.WithPath(tc.from))
			ctx := context.Background()
			require.NoError(t, h.storage.Set(ctx, auth.TokenKey, "stale"))
			require.NoError(t, h.storage.Set(ctx, auth.UserKey, `{"email":"a@b.c"}`))

			_, err := h.client.Get(ctx, "/crm/contacts")
			require.Error(t, err)
			assert.True(t, IsCategory(err, CategoryUnauthorized))

			var reqErr *Error
			require.True(t, errors.As(err, &reqErr))
			assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
			require.NotNil(t, reqErr.Response)

			_, ok, _ := h.storage.Get(ctx, auth.TokenKey)
			assert.False(t, ok)
			_, ok, _ = h.storage.Get(ctx, auth.UserKey)
			assert.False(t, ok)

			assert.Equal(t, []string{tc.want}, h.host.History())
			assert.Equal(t, tc.want, h.host.CurrentPath())
		})
	}
}

func TestRequestStatusTaxonomy(t *testing.T) {
	cases := []struct {
		status  int
		want    Category
		warning string
	}{
		{status: http.StatusForbidden, want: CategoryForbidden},
		{status: http.StatusNotFound, want: CategoryNotFound, warning: "API endpoint not found"},
		{status: http.StatusTooManyRequests, want: CategoryRateLimited, warning: "Rate limited by API"},
		{status: http.StatusInternalServerError, want: CategoryHTTP},
		{status: http.StatusBadRequest, want: CategoryHTTP},
	}

	for _, tc := range cases {
		t.Run(string(tc.want)+"/"+http.StatusText(tc.status), func(t *testing.T) {
			srv := statusServer(t, tc.status, nil)
			h := newHarness(t, srv.URL, true, platform.WithPath("/blog"))

			resp, err := h.client.Get(context.Background(), "/posts")
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tc.want, CategoryOf(err))
			assert.False(t, Degraded(err))

			var reqErr *Error
			require.True(t, errors.As(err, &reqErr))
			require.NotNil(t, reqErr.Response)
			assert.Equal(t, `{"status":"x"}`, reqErr.Response.String())

			warnings := h.logs.FilterLevelExact(zapcore.WarnLevel).All()
			if tc.warning == "" {
				assert.Empty(t, warnings)
			} else {
				require.Len(t, warnings, 1)
				assert.Equal(t, tc.warning, warnings[0].Message)
			}
			if tc.want == CategoryRateLimited {
				assert.Equal(t, 7*time.Second, reqErr.RetryAfter)
			}

			assert.Empty(t, h.host.History())
			_, ok := h.ledger.Last("GET:/posts")
			assert.False(t, ok)
		})
	}
}

func TestRequestTLSFailure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t, srv.URL, false)
	_, err := h.client.Get(context.Background(), "/posts")
	require.Error(t, err)
	assert.True(t, IsCategory(err, CategoryTLS))
	assert.True(t, Degraded(err))

	errs := h.logs.FilterMessage("TLS certificate error").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
}

func TestRequestNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	t.Run("development", func(t *testing.T) {
		h := newHarness(t, url, true)
		_, err := h.client.Get(context.Background(), "/health")
		require.Error(t, err)
		assert.True(t, IsCategory(err, CategoryNetwork))

		entries := h.logs.FilterMessage("API unreachable").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, url+"/health", fields["endpoint"])
		assert.Equal(t, http.MethodGet, fields["method"])
		assert.NotEmpty(t, fields["suggestion"])

		_, ok := h.ledger.Last("GET:/health")
		assert.False(t, ok)
	})

	t.Run("production", func(t *testing.T) {
		h := newHarness(t, url, false)
		_, err := h.client.Get(context.Background(), "/health")
		require.Error(t, err)
		assert.True(t, IsCategory(err, CategoryNetwork))
		assert.Zero(t, h.logs.FilterMessage("API unreachable").Len())
	})
}

func TestRequestThrottleSpacing(t *testing.T) {
	srv := statusServer(t, http.StatusOK, nil)
	h := newHarness(t, srv.URL, false)
	ctx := context.Background()

	first, err := h.client.Get(ctx, "/posts?page=1")
	require.NoError(t, err)
	second, err := h.client.Get(ctx, "/posts?page=1")
	require.NoError(t, err)
	other, err := h.client.Get(ctx, "/posts?page=2")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, second.Dispatch.At.Sub(first.Dispatch.At), testDelay)
	assert.Less(t, other.Dispatch.Waited, testDelay)
	assert.Len(t, h.ledger.Snapshot(), 2)
}

func TestRequestCancelledContext(t *testing.T) {
	srv := statusServer(t, http.StatusOK, nil)
	h := newHarness(t, srv.URL, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.client.Get(ctx, "/posts")
	require.Error(t, err)
	assert.True(t, IsCategory(err, CategoryNetwork))
	assert.True(t, errors.Is(err, context.Canceled))
}
