package http

import (
	"net/http"
	"time"
)

// metricsTransport records every round trip made through the wrapped transport.
type metricsTransport struct {
	next    http.RoundTripper
	metrics *Metrics
	route   string
}

// WithMetrics wraps next so each request is counted and timed under route.
func WithMetrics(next http.RoundTripper, metrics *Metrics, route string) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &metricsTransport{next: next, metrics: metrics, route: route}
}

func (t *metricsTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()

	resp, err := t.next.RoundTrip(r)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	duration := time.Since(start).Seconds()
	t.metrics.RecordRequest(r.Context(), r.Method, t.route, statusCode, duration)

	return resp, err
}
