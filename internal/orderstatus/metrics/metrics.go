package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type Metrics struct {
	fetchTotal          metric.Int64Counter
	fetchDuration       metric.Float64Histogram
	pushFramesTotal     metric.Int64Counter
	pushFailuresTotal   metric.Int64Counter
	failoversTotal      metric.Int64Counter
	sessionsTotal       metric.Int64Counter
	sessionDuration     metric.Float64Histogram
	reportedErrorsTotal metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.fetchTotal, err = meter.Int64Counter(
		"order_fetch_total",
		metric.WithDescription("Total number of order fetch attempts"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_fetch_total counter: %w", err)
	}

	m.fetchDuration, err = meter.Float64Histogram(
		"order_fetch_duration_seconds",
		metric.WithDescription("Duration of order fetch attempts"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create order_fetch_duration histogram: %w", err)
	}

	m.pushFramesTotal, err = meter.Int64Counter(
		"push_frames_total",
		metric.WithDescription("Total number of push frames received"),
		metric.WithUnit("{frame}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create push_frames_total counter: %w", err)
	}

	m.pushFailuresTotal, err = meter.Int64Counter(
		"push_connection_failures_total",
		metric.WithDescription("Total number of push connection failures"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create push_connection_failures_total counter: %w", err)
	}

	m.failoversTotal, err = meter.Int64Counter(
		"monitor_failovers_total",
		metric.WithDescription("Total number of switches from push to polling"),
		metric.WithUnit("{failover}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create monitor_failovers_total counter: %w", err)
	}

	m.sessionsTotal, err = meter.Int64Counter(
		"monitor_sessions_total",
		metric.WithDescription("Total number of finished monitoring sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create monitor_sessions_total counter: %w", err)
	}

	m.sessionDuration, err = meter.Float64Histogram(
		"monitor_session_duration_seconds",
		metric.WithDescription("Time from session start to its outcome"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create monitor_session_duration histogram: %w", err)
	}

	m.reportedErrorsTotal, err = meter.Int64Counter(
		"reported_errors_total",
		metric.WithDescription("Total number of errors sent to the error reporter"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create reported_errors_total counter: %w", err)
	}

	return m, nil
}

// NewNoop returns instruments that record nothing.
func NewNoop() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("noop"))
	return m
}

func (m *Metrics) RecordFetch(ctx context.Context, result string, durationSeconds float64) {
	m.fetchTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
	m.fetchDuration.Record(ctx, durationSeconds)
}

func (m *Metrics) RecordPushFrame(ctx context.Context, result string) {
	m.pushFramesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordPushFailure(ctx context.Context) {
	m.pushFailuresTotal.Add(ctx, 1)
}

func (m *Metrics) RecordFailover(ctx context.Context, reason string) {
	m.failoversTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (m *Metrics) RecordSession(ctx context.Context, outcome string, durationSeconds float64) {
	m.sessionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
	m.sessionDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordReportedError(ctx context.Context, kind string) {
	m.reportedErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
	))
}
