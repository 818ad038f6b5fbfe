package server

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/telemetry/exporters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewire/sitewire/internal/observability"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// stubExporter installs an exporter and routes scrapes through transport.
func stubExporter(t *testing.T, transport roundTripFunc) {
	t.Helper()
	originalClient := metricsProxyClient
	originalExporter := observability.PrometheusExporter
	t.Cleanup(func() {
		metricsProxyClient = originalClient
		observability.PrometheusExporter = originalExporter
	})
	metricsProxyClient = &http.Client{Transport: transport}
	observability.PrometheusExporter = exporters.NewPrometheusExporter("sitewire", ":9090")
}

func TestMetricsEndpointServesHarnessCounters(t *testing.T) {
	var scraped string
	stubExporter(t, func(req *http.Request) (*http.Response, error) {
		scraped = req.URL.String()
		body := "# TYPE sitewire_throttle_wait_ms histogram\nsitewire_consent_changes_total{state=\"all\"} 1\n"
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
		}, nil
	})
	srv, _, _ := newTestServer(t, "http://127.0.0.1:1")

	rec := do(t, srv, http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, prometheusTextFormat, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "sitewire_consent_changes_total")
	assert.Equal(t, exporterURL(), scraped)
}

func TestMetricsEndpointErrors(t *testing.T) {
	t.Run("exporter disabled", func(t *testing.T) {
		original := observability.PrometheusExporter
		observability.PrometheusExporter = nil
		t.Cleanup(func() { observability.PrometheusExporter = original })
		srv, _, _ := newTestServer(t, "http://127.0.0.1:1")

		rec := do(t, srv, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SERVICE_UNAVAILABLE", decodeError(t, rec).Error.Code)
	})

	t.Run("exporter unreachable", func(t *testing.T) {
		stubExporter(t, func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})
		srv, _, _ := newTestServer(t, "http://127.0.0.1:1")

		rec := do(t, srv, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusBadGateway, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, "EXTERNAL_SERVICE_ERROR", body.Error.Code)
		assert.NotEmpty(t, body.Error.RequestID)
	})
}
