package adapters

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/orderwatch/internal/orderstatus/metrics"
	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

type ObservableTransport struct {
	transport ports.PushTransport
	metrics   *metrics.Metrics
}

func NewObservableTransport(transport ports.PushTransport, metrics *metrics.Metrics) *ObservableTransport {
	return &ObservableTransport{
		transport: transport,
		metrics:   metrics,
	}
}

// Subscribe traces the subscribe call and counts every connection failure
// reported afterwards.
func (t *ObservableTransport) Subscribe(ctx context.Context, orderID string, handler ports.PushHandler) (ports.PushSubscription, error) {
	ctx, span := telemetry.StartSpan(ctx, "PushTransport.Subscribe", attribute.String("order.id", orderID))
	defer span.End()

	onFailure := handler.OnFailure
	handler.OnFailure = func(err error) {
		t.metrics.RecordPushFailure(ctx)
		if onFailure != nil {
			onFailure(err)
		}
	}

	sub, err := t.transport.Subscribe(ctx, orderID, handler)
	if err != nil {
		t.metrics.RecordPushFailure(ctx)
		telemetry.SetOutcome(span, err)
		return nil, err
	}

	telemetry.SetOutcome(span, nil)
	return sub, nil
}
