package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sitewire/sitewire/internal/apiclient"
	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/config"
	"github.com/sitewire/sitewire/internal/consent"
	errwrap "github.com/sitewire/sitewire/internal/errors"
	"github.com/sitewire/sitewire/internal/output"
	"github.com/sitewire/sitewire/internal/platform"
)

// memoryConfig loads defaults with in-memory session storage and no user
// config or dotenv files.
func memoryConfig(t *testing.T, overrides map[string]any) *config.Config {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	base := map[string]any{
		"session":   map[string]any{"storage": config.StorageMemory},
		"analytics": map[string]any{"page_view_delay": "20ms"},
	}
	cfg, err := config.Load(context.Background(), config.LoadOptions{
		EnvFiles:  []string{},
		Overrides: []map[string]any{base, overrides},
	})
	require.NoError(t, err)
	return cfg
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"X-Trace=abc", "Accept: application/json"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Trace": "abc", "Accept": "application/json"}, headers)

	_, err = parseHeaders([]string{"novalue"})
	require.Error(t, err)

	_, err = parseHeaders([]string{"=value"})
	require.Error(t, err)
}

func TestParseRequestBody(t *testing.T) {
	body, err := parseRequestBody("")
	require.NoError(t, err)
	assert.Nil(t, body)

	body, err = parseRequestBody(`{"email":"ada@example.com"}`)
	require.NoError(t, err)
	assert.NotNil(t, body)

	_, err = parseRequestBody("{not json")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "lead.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Ada"}`), 0o600))
	body, err = parseRequestBody("@" + path)
	require.NoError(t, err)
	assert.NotNil(t, body)

	_, err = parseRequestBody("@" + filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestDispatchOffsets(t *testing.T) {
	start := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	results := make([]output.RequestResult, 3)
	dispatchOffsets(results, []time.Time{
		start.Add(100 * time.Millisecond),
		start,
		{},
	})

	assert.Equal(t, 100*time.Millisecond, results[0].Offset)
	assert.Equal(t, time.Duration(0), results[1].Offset)
	assert.Equal(t, time.Duration(0), results[2].Offset)
}

func TestExitCodeFor(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want foundry.ExitCode
	}{
		{"network", &apiclient.Error{Category: apiclient.CategoryNetwork}, foundry.ExitExternalServiceUnavailable},
		{"tls", &apiclient.Error{Category: apiclient.CategoryTLS}, foundry.ExitExternalServiceUnavailable},
		{"rate limited", fmt.Errorf("wrapped: %w", &apiclient.Error{Category: apiclient.CategoryRateLimited}), foundry.ExitExternalServiceUnavailable},
		{"server error", &apiclient.Error{Category: apiclient.CategoryHTTP}, foundry.ExitExternalServiceUnavailable},
		{"unauthorized", &apiclient.Error{Category: apiclient.CategoryUnauthorized}, foundry.ExitFailure},
		{"config", errwrap.NewConfigInvalidError("bad mode"), foundry.ExitConfigInvalid},
		{"plain", fmt.Errorf("boom"), foundry.ExitFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}

func TestFlagOverrides(t *testing.T) {
	t.Cleanup(func() {
		modeFlag, apiURLFlag, verbose = "", "", false
	})

	modeFlag, apiURLFlag, verbose = "", "", false
	assert.Empty(t, flagOverrides())

	modeFlag = " production "
	apiURLFlag = "https://api.example.com"
	verbose = true
	overrides := flagOverrides()
	assert.Equal(t, "production", overrides["mode"])
	assert.Equal(t, map[string]any{"base_url": "https://api.example.com"}, overrides["api"])
	assert.Equal(t, map[string]any{"enabled": true}, overrides["debug"])
}

func TestConfigYAMLMasksSecrets(t *testing.T) {
	cfg := memoryConfig(t, map[string]any{
		"store": map[string]any{"url": "libsql://db.example.com", "auth_token": "s3cret"},
	})

	out, err := configYAML(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "s3cret")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(out, &decoded))
	store := decoded["store"].(map[string]any)
	assert.Equal(t, redacted, store["auth_token"])
	api := decoded["api"].(map[string]any)
	assert.Equal(t, "100ms", api["request_delay"])
}

func TestCredentialStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	creds := auth.NewCredentials(platform.NewMemoryStorage())

	status, err := credentialStatus(ctx, creds, now)
	require.NoError(t, err)
	assert.False(t, status.Authenticated)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "user-7",
		Issuer:    "site",
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
	}).SignedString([]byte("test"))
	require.NoError(t, err)
	require.NoError(t, creds.Save(ctx, token, &auth.Profile{Email: "ada@example.com"}))

	status, err = credentialStatus(ctx, creds, now)
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.Equal(t, "user-7", status.Subject)
	assert.Equal(t, "site", status.Issuer)
	require.NotNil(t, status.ExpiresAt)
	assert.True(t, status.Expired)
	assert.Equal(t, "ada@example.com", status.Profile.Email)

	require.NoError(t, creds.Save(ctx, "opaque-token", nil))
	status, err = credentialStatus(ctx, creds, now)
	require.NoError(t, err)
	assert.True(t, status.Authenticated)
	assert.Equal(t, "opaque token", status.ClaimsError)
	assert.False(t, status.Expired)
}

func TestRunAnalyticsWithConsent(t *testing.T) {
	cfg := memoryConfig(t, nil)
	ctx := context.Background()

	sess, err := openSession(ctx, cfg, sessionOptions{})
	require.NoError(t, err)
	defer sess.Close() // nolint:errcheck

	run, err := runAnalytics(ctx, sess, consent.All, []string{"/pricing"}, []string{"signup"}, cfg.Analytics.PageViewDelay)
	require.NoError(t, err)

	assert.Equal(t, "/pricing", run.Path)
	assert.Equal(t, consent.All, run.Consent)
	assert.Len(t, run.Scripts, 2)
	for _, inj := range run.Scripts {
		assert.True(t, inj.Loaded, inj.Script.ID)
	}
	require.NotEmpty(t, run.PageViews)
	assert.Equal(t, "/pricing", run.PageViews[len(run.PageViews)-1])
	assert.NotEmpty(t, sess.Host.Calls("gtag"))
	assert.NotEmpty(t, sess.Host.Calls("fbq"))
}

func TestRunAnalyticsWithoutConsent(t *testing.T) {
	cfg := memoryConfig(t, nil)
	ctx := context.Background()

	sess, err := openSession(ctx, cfg, sessionOptions{path: "/pricing"})
	require.NoError(t, err)
	defer sess.Close() // nolint:errcheck

	run, err := runAnalytics(ctx, sess, consent.Essential, []string{"/contact"}, []string{"signup"}, cfg.Analytics.PageViewDelay)
	require.NoError(t, err)

	assert.Equal(t, "/contact", run.Path)
	assert.Equal(t, consent.Essential, run.Consent)
	assert.Empty(t, run.Scripts)
	assert.Empty(t, run.Calls)
	assert.Empty(t, run.PageViews)
}

func TestRunAnalyticsFailedScriptIsRemoved(t *testing.T) {
	cfg := memoryConfig(t, nil)
	ctx := context.Background()

	sess, err := openSession(ctx, cfg, sessionOptions{headless: headlessOptions([]string{"ad-pixel"}, false)})
	require.NoError(t, err)
	defer sess.Close() // nolint:errcheck

	run, err := runAnalytics(ctx, sess, consent.All, nil, nil, cfg.Analytics.PageViewDelay)
	require.NoError(t, err)

	require.Len(t, run.Scripts, 1)
	assert.Equal(t, "tag-manager", run.Scripts[0].Script.ID)
	assert.Empty(t, sess.Host.Calls("fbq"))

	var pixelFailures int
	for _, st := range run.Sinks {
		if st.ScriptID == "ad-pixel" {
			assert.False(t, st.Injected)
			pixelFailures = st.Failures
		}
	}
	assert.Equal(t, 1, pixelFailures)
}
