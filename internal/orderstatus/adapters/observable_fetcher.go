package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/metrics"
	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

type ObservableFetcher struct {
	fetcher ports.OrderFetcher
	metrics *metrics.Metrics
}

func NewObservableFetcher(fetcher ports.OrderFetcher, metrics *metrics.Metrics) *ObservableFetcher {
	return &ObservableFetcher{
		fetcher: fetcher,
		metrics: metrics,
	}
}

func (f *ObservableFetcher) FetchOrder(ctx context.Context, orderID string) (*domain.OrderStatusEvent, error) {
	ctx, span := telemetry.StartSpan(ctx, "OrderFetcher.FetchOrder", attribute.String("order.id", orderID))
	defer span.End()

	start := time.Now()
	event, err := f.fetcher.FetchOrder(ctx, orderID)
	duration := time.Since(start).Seconds()

	if err != nil {
		kind := domain.KindOf(err).String()
		f.metrics.RecordFetch(ctx, kind, duration)
		telemetry.Annotate(span,
			attribute.String("error.kind", kind),
			attribute.Bool("error.retryable", domain.IsRetryable(err)),
		)
		telemetry.SetOutcome(span, err)
		return nil, err
	}

	f.metrics.RecordFetch(ctx, "ok", duration)
	telemetry.Annotate(span, attribute.String("order.status", string(event.Status())))
	telemetry.SetOutcome(span, nil)
	return event, nil
}
