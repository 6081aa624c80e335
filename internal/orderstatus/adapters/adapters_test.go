package adapters_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/dejobratic/orderwatch/internal/orderstatus/adapters"
	"github.com/dejobratic/orderwatch/internal/orderstatus/adapters/memory"
	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/metrics"
	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

func setupTelemetry(t *testing.T) (*metrics.Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := metrics.NewMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics() failed: %v", err)
	}
	return m, reader, exp
}

func counterValues(t *testing.T, reader *sdkmetric.ManualReader, name, attr string) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Failed to collect metrics: %v", err)
	}

	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("expected Sum[int64] for %s, got %T", name, m.Data)
			}
			for _, dp := range sum.DataPoints {
				key := ""
				if v, ok := dp.Attributes.Value(attribute.Key(attr)); ok {
					key = v.Emit()
				}
				out[key] += dp.Value
			}
		}
	}
	return out
}

func TestObservableFetcher(t *testing.T) {
	m, reader, spans := setupTelemetry(t)

	src := memory.NewSource()
	_ = src.Put(domain.OrderStatusEvent{Order: domain.Order{ID: "ord-1", Status: domain.StatusPaid}})
	src.FailFetches("ord-1", domain.InvalidStatus(502))
	fetcher := adapters.NewObservableFetcher(src, m)

	if _, err := fetcher.FetchOrder(context.Background(), "ord-1"); !errors.Is(err, domain.ErrInvalidResponse) {
		t.Fatalf("expected invalid response, got %v", err)
	}
	event, err := fetcher.FetchOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event.Status() != domain.StatusPaid {
		t.Errorf("expected PAID, got %s", event.Status())
	}

	counts := counterValues(t, reader, "order_fetch_total", "result")
	if counts["ok"] != 1 || counts["invalid_response"] != 1 {
		t.Errorf("unexpected fetch counts %v", counts)
	}

	ended := spans.GetSpans()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Name != "OrderFetcher.FetchOrder" {
		t.Errorf("unexpected span name %s", ended[0].Name)
	}
	if ended[0].Status.Code != codes.Error || ended[1].Status.Code != codes.Ok {
		t.Errorf("unexpected span statuses %v, %v", ended[0].Status.Code, ended[1].Status.Code)
	}
}

type refusingTransport struct{}

func (refusingTransport) Subscribe(context.Context, string, ports.PushHandler) (ports.PushSubscription, error) {
	return nil, errors.New("refused")
}

func TestObservableTransport(t *testing.T) {
	t.Run("counts dropped connections", func(t *testing.T) {
		m, reader, _ := setupTelemetry(t)
		src := memory.NewSource()
		transport := adapters.NewObservableTransport(src, m)

		var failures int
		_, err := transport.Subscribe(context.Background(), "ord-1", ports.PushHandler{
			OnFailure: func(error) { failures++ },
		})
		if err != nil {
			t.Fatalf("Subscribe() failed: %v", err)
		}

		src.DropConnections("ord-1", errors.New("reset"))

		if failures != 1 {
			t.Errorf("expected wrapped handler to be called once, got %d", failures)
		}
		if got := counterValues(t, reader, "push_connection_failures_total", "")[""]; got != 1 {
			t.Errorf("expected 1 recorded failure, got %d", got)
		}
	})

	t.Run("counts refused subscriptions", func(t *testing.T) {
		m, reader, spans := setupTelemetry(t)
		transport := adapters.NewObservableTransport(refusingTransport{}, m)

		if _, err := transport.Subscribe(context.Background(), "ord-1", ports.PushHandler{}); err == nil {
			t.Fatal("expected error")
		}

		if got := counterValues(t, reader, "push_connection_failures_total", "")[""]; got != 1 {
			t.Errorf("expected 1 recorded failure, got %d", got)
		}
		if ended := spans.GetSpans(); len(ended) != 1 || ended[0].Status.Code != codes.Error {
			t.Errorf("expected one failed span, got %v", ended)
		}
	})
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	reporter := adapters.NewLogReporter(telemetry.NewLoggerTo(&buf, slog.LevelInfo))

	ctx := telemetry.WithOrderID(context.Background(), "ord-1")
	reporter.Report(ctx, domain.Decoding(domain.ErrMissingOrder), map[string]string{"kind": "decoding_error"})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output: %v", err)
	}

	if entry["level"] != "ERROR" {
		t.Errorf("expected ERROR level, got %v", entry["level"])
	}
	if entry["order_id"] != "ord-1" {
		t.Errorf("expected order_id from context, got %v", entry["order_id"])
	}
	attrs, ok := entry["attrs"].(map[string]any)
	if !ok || attrs["kind"] != "decoding_error" {
		t.Errorf("expected kind attribute, got %v", entry["attrs"])
	}
}
