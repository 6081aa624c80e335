package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/metrics"
	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

var (
	ErrNilTransport = errors.New("nil dependency: push transport")
	ErrEmptyOrderID = errors.New("order id is required")
)

// Channel turns a push subscription into order status results. It does not
// retry; connection failures are reported and the caller decides what next.
type Channel struct {
	orderID   string
	transport ports.PushTransport
	policy    domain.StatusPolicy
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu  sync.Mutex
	gen uint64
	sub ports.PushSubscription
}

func NewChannel(
	orderID string,
	transport ports.PushTransport,
	policy domain.StatusPolicy,
	logger *slog.Logger,
	m *metrics.Metrics,
) (*Channel, error) {
	if orderID == "" {
		return nil, ErrEmptyOrderID
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}
	if m == nil {
		m = metrics.NewNoop()
	}

	return &Channel{
		orderID:   orderID,
		transport: transport,
		policy:    policy,
		logger:    logger.With("channel", "push"),
		metrics:   m,
	}, nil
}

// StartListening subscribes to updates for the order, replacing any previous
// subscription. Every decoded frame and every connection failure is passed
// to onUpdate, which is never called with the channel lock held. A failed
// subscribe is returned as a connection failure and onUpdate is not called.
func (c *Channel) StartListening(ctx context.Context, onUpdate func(domain.Result)) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	prev := c.sub
	c.sub = nil
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	handler := ports.PushHandler{
		OnMessage: func(data []byte) {
			c.handleFrame(ctx, gen, data, onUpdate)
		},
		OnFailure: func(err error) {
			c.handleFailure(ctx, gen, err, onUpdate)
		},
	}

	sub, err := c.transport.Subscribe(ctx, c.orderID, handler)
	if err != nil {
		c.logger.WarnContext(ctx, "push subscribe failed", "error", err)
		return domain.ConnectionFailed(err)
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	c.sub = sub
	c.mu.Unlock()

	c.logger.DebugContext(ctx, "push listening started")
	return nil
}

// StopListening closes the subscription. Callbacks still in flight from it
// are dropped. Safe to call repeatedly.
func (c *Channel) StopListening() {
	c.mu.Lock()
	c.gen++
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Close()
	}
}

// IsConnected reports whether the current subscription has an open connection.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()

	return sub != nil && sub.Connected()
}

func (c *Channel) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return gen == c.gen
}

func (c *Channel) handleFrame(ctx context.Context, gen uint64, data []byte, onUpdate func(domain.Result)) {
	if !c.current(gen) {
		return
	}

	event, err := domain.DecodeEvent(data)
	if err == nil {
		_, err = c.policy.Classify(event.Status())
	}

	if err != nil {
		c.metrics.RecordPushFrame(ctx, domain.KindDecoding.String())
		c.logger.WarnContext(ctx, "push frame rejected", "error", err, "size", len(data))
		onUpdate(domain.Failure(err))
		return
	}

	c.metrics.RecordPushFrame(ctx, "ok")
	c.logger.DebugContext(ctx, "push frame received", "status", string(event.Status()), "event", event.Event)
	onUpdate(domain.Success(event))
}

func (c *Channel) handleFailure(ctx context.Context, gen uint64, err error, onUpdate func(domain.Result)) {
	if !c.current(gen) {
		return
	}

	c.logger.WarnContext(ctx, "push connection failed", "error", err)
	onUpdate(domain.Failure(domain.ConnectionFailed(err)))
}
