package ports

import (
	"context"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
)

// OrderFetcher retrieves the current order state over the pull channel.
// Failures are reported as *domain.Error values so callers can tell
// transient from permanent ones.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (*domain.OrderStatusEvent, error)
}
