package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewire/sitewire/internal/analytics"
	"github.com/sitewire/sitewire/internal/auth"
	"github.com/sitewire/sitewire/internal/consent"
	"github.com/sitewire/sitewire/internal/platform"
	"github.com/sitewire/sitewire/internal/site"
	"github.com/sitewire/sitewire/internal/throttle"
)

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func sampleResults() RequestResults {
	return RequestResults{Results: []RequestResult{
		{Index: 1, Method: "GET", Path: "/posts", Status: 200, Latency: 12 * time.Millisecond, Signature: "GET:/posts"},
		{Index: 2, Method: "GET", Path: "/posts", Status: 429, Category: "rate_limited", Offset: 100 * time.Millisecond, Waited: 88 * time.Millisecond, Signature: "GET:/posts"},
	}}
}

func TestRequestResultsTable(t *testing.T) {
	rendered, err := Render(FormatTable, sampleResults())
	require.NoError(t, err)
	assert.Contains(t, rendered, "GET /posts")
	assert.Contains(t, rendered, "rate_limited")
	assert.Contains(t, rendered, "+100ms")
	assert.Contains(t, strings.ToLower(rendered), "1/2 ok")
}

func TestRequestResultsJSON(t *testing.T) {
	rendered, err := Render(FormatJSON, sampleResults())
	require.NoError(t, err)

	var decoded RequestResults
	require.NoError(t, json.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded.Results, 2)
	assert.Equal(t, "rate_limited", decoded.Results[1].Category)
}

func TestRequestResultsMarkdown(t *testing.T) {
	rendered, err := Render(FormatMarkdown, sampleResults())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(rendered), "|"))
	assert.Contains(t, rendered, "rate_limited")
}

func TestSessionTables(t *testing.T) {
	session := &site.Session{
		SessionID:     "5f2c",
		Path:          "/pricing",
		Browser:       true,
		BaseURL:       "http://localhost:5000/api",
		Mode:          "development",
		Consent:       consent.Decision{State: consent.All, At: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)},
		Authenticated: true,
		Profile:       &auth.Profile{Name: "Ada", Email: "ada@example.com"},
		Throttle:      []throttle.Entry{{Signature: "GET:/posts", LastDispatch: time.Now()}},
		Sinks:         []analytics.SinkStatus{{Name: "tag-manager", ScriptID: "tag-manager", Injected: true, Loaded: true}},
	}

	rendered, err := Render(FormatTable, Session{Session: session})
	require.NoError(t, err)
	assert.Contains(t, rendered, "/pricing")
	assert.Contains(t, rendered, "Ada <ada@example.com>")
	assert.Contains(t, rendered, "2026-10-01T09:00:00Z")
	assert.Contains(t, rendered, "GET:/posts")
	assert.Contains(t, rendered, "tag-manager")
}

func TestEmptyLedgerIsOmitted(t *testing.T) {
	rendered, err := Render(FormatTable, Ledger(nil))
	require.NoError(t, err)
	assert.Empty(t, rendered)
}

func TestAuthStatusUnauthenticated(t *testing.T) {
	rendered, err := Render(FormatTable, AuthStatus{})
	require.NoError(t, err)
	assert.Contains(t, rendered, "authenticated")
	assert.Contains(t, rendered, "no")
	assert.NotContains(t, rendered, "expires")
}

func TestAnalyticsRunTables(t *testing.T) {
	run := AnalyticsRun{
		Path:    "/",
		Consent: consent.All,
		Scripts: []platform.Injection{{Script: platform.Script{ID: "ad-pixel", Src: "https://connect.facebook.net/en_US/fbevents.js"}, Loaded: true}},
		Calls: []platform.Call{
			{Global: "fbq", Args: []any{"init", "42"}},
			{Global: "fbq", Args: []any{"track", "PageView"}},
		},
		PageViews: []string{"/"},
	}

	rendered, err := Render(FormatTable, run)
	require.NoError(t, err)
	assert.Contains(t, rendered, "fbevents.js")
	assert.Contains(t, rendered, `"init", "42"`)
	assert.Contains(t, rendered, "[/]")
}

func TestRenderNonTabularFallsBackToJSON(t *testing.T) {
	rendered, err := Render(FormatTable, map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, rendered)
}
