package metrics

import (
	"errors"
	"net"
	"time"
)

// metrics contains every metric name emitted by the programfilter package.
// Persistent tags can only be attached to names in this list, so it must be
// kept in step with the call sites.
var metrics = []string{
	// Hot path decisions, tagged by policy mode
	"filter.forward",
	"filter.drop",
	"filter.malformed_input", // program ids that are not 32 bytes

	// Allowlist refreshes
	"allowlist.refresh.total", // tagged by success
	"allowlist.refresh.error", // tagged by failure type (status, timeout, transport)
	"allowlist.refresh.time",  // fetch time in ms, tagged by success
	"allowlist.size",          // gauge, emitted by the refresher on every tick
}

type MetricsClientInterface interface {
	AddMetricTags(string, map[string]string) error
	Incr(string, float64) error
	IncrWithTags(string, map[string]string, float64) error
	Gauge(string, float64, float64) error
	TimingWithTags(string, time.Duration, map[string]string, float64) error
	SetStarted()
}

// ReportRefreshError emits allowlist.refresh.error with a tag describing the
// failure type. Errors carrying an HTTP status code (anything with a
// StatusCode() int method in its chain) are tagged "status".
func ReportRefreshError(mc MetricsClientInterface, err error) {
	if err == nil {
		return
	}

	errorTag := map[string]string{"type": "transport"}

	var statusErr interface{ StatusCode() int }
	var netErr net.Error
	switch {
	case errors.As(err, &statusErr):
		errorTag["type"] = "status"
	case errors.As(err, &netErr) && netErr.Timeout():
		errorTag["type"] = "timeout"
	}

	mc.IncrWithTags("allowlist.refresh.error", errorTag, 1)
}
