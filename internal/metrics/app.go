package metrics

import (
	"strconv"
	"time"

	"github.com/sitewire/sitewire/internal/observability"
)

// Metric names for the request and analytics layers.
const (
	RequestsTotal        = "requests_total"
	RequestDuration      = "request_duration_ms"
	RequestErrorsTotal   = "request_errors_total"
	ThrottleWait         = "throttle_wait_ms"
	SinkLoadsTotal       = "analytics_sink_loads_total"
	AnalyticsEventsTotal = "analytics_events_total"
	AnalyticsSkipsTotal  = "analytics_skips_total"
	ConsentChangesTotal  = "consent_changes_total"
)

// RecordRequest records a completed dispatch. status is 0 when no response
// was received.
func RecordRequest(method string, status int, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		RequestsTotal,
		1,
		map[string]string{
			"method": method,
			"status": strconv.Itoa(status),
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		RequestDuration,
		duration,
		map[string]string{"method": method},
	)
}

// RecordRequestError records one classified request failure.
func RecordRequestError(category string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		RequestErrorsTotal,
		1,
		map[string]string{"category": category},
	)
}

// RecordThrottleWait records how long a dispatch waited in the ledger.
func RecordThrottleWait(wait time.Duration) {
	if observability.TelemetrySystem == nil || wait <= 0 {
		return
	}
	_ = observability.TelemetrySystem.Histogram(ThrottleWait, wait, nil)
}

// RecordSinkLoad records a tracking script load outcome.
func RecordSinkLoad(sink string, success bool) {
	if observability.TelemetrySystem == nil {
		return
	}
	status := "loaded"
	if !success {
		status = "failed"
	}
	_ = observability.TelemetrySystem.Counter(
		SinkLoadsTotal,
		1,
		map[string]string{
			"sink":   sink,
			"status": status,
		},
	)
}

// RecordAnalyticsEvent records an event delivered to a sink.
func RecordAnalyticsEvent(sink, event string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		AnalyticsEventsTotal,
		1,
		map[string]string{
			"sink":  sink,
			"event": event,
		},
	)
}

// RecordAnalyticsSkip records a suppressed initialization or event.
func RecordAnalyticsSkip(reason string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		AnalyticsSkipsTotal,
		1,
		map[string]string{"reason": reason},
	)
}

// RecordConsentChange records a consent decision.
func RecordConsentChange(state string) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		ConsentChangesTotal,
		1,
		map[string]string{"state": state},
	)
}
