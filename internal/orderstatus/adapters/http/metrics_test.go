package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	metrics, err := NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return metrics, reader
}

func collectRequests(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.DataPoint[int64] {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http_client_requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("expected Sum[int64], got %T", m.Data)
			}
			return sum.DataPoints
		}
	}
	return nil
}

func TestRecordRequest(t *testing.T) {
	metrics, reader := newTestMetrics(t)

	metrics.RecordRequest(context.Background(), "GET", Route, 200, 0.5)
	metrics.RecordRequest(context.Background(), "GET", Route, 503, 0.7)

	points := collectRequests(t, reader)
	if len(points) != 2 {
		t.Fatalf("expected 2 data points, got %d", len(points))
	}
	for _, dp := range points {
		if v, ok := dp.Attributes.Value(attribute.Key("route")); !ok || v.AsString() != Route {
			t.Errorf("expected route %s, got %v", Route, v)
		}
		if dp.Value != 1 {
			t.Errorf("expected count 1, got %d", dp.Value)
		}
	}
}

func TestMetricsRoundTripper(t *testing.T) {
	t.Run("records status code of completed request", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))
		defer srv.Close()

		metrics, reader := newTestMetrics(t)
		client := &http.Client{Transport: WithMetrics(nil, metrics, Route)}

		resp, err := client.Get(srv.URL)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()

		points := collectRequests(t, reader)
		if len(points) != 1 {
			t.Fatalf("expected 1 data point, got %d", len(points))
		}
		if v, _ := points[0].Attributes.Value(attribute.Key("status_code")); v.AsInt64() != http.StatusAccepted {
			t.Errorf("expected status_code 202, got %v", v.AsInt64())
		}
	})

	t.Run("records zero status code on transport failure", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		metrics, reader := newTestMetrics(t)
		client := &http.Client{Transport: WithMetrics(nil, metrics, Route)}

		if _, err := client.Get(url); err == nil {
			t.Fatal("expected request to fail")
		}

		points := collectRequests(t, reader)
		if len(points) != 1 {
			t.Fatalf("expected 1 data point, got %d", len(points))
		}
		if v, _ := points[0].Attributes.Value(attribute.Key("status_code")); v.AsInt64() != 0 {
			t.Errorf("expected status_code 0, got %v", v.AsInt64())
		}
	})
}
