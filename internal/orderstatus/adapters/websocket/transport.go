package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

const (
	DefaultPingInterval   = 20 * time.Second
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second

	// A larger frame closes the connection with StatusMessageTooBig. That
	// surfaces as a connection failure, not a decoding error, so the monitor
	// fails over to polling instead of waiting on a stream it cannot read.
	readLimit = 1 << 20
)

var ErrMissingURL = errors.New("push url is required")

type Config struct {
	URL   string
	Token string
	// Query is appended to every subscription URL.
	Query          map[string]string
	PingInterval   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Transport subscribes to order updates over WebSocket. Each subscription
// owns one connection at a time and redials with exponential backoff after
// every failure until it is closed.
type Transport struct {
	base   *url.URL
	cfg    Config
	logger *slog.Logger
	client *http.Client
}

type Option func(*Transport)

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// WithHTTPClient sets the client used for the opening handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.client = c
	}
}

func NewTransport(cfg Config, opts ...Option) (*Transport, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrMissingURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse push url: %w", err)
	}
	switch base.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return nil, fmt.Errorf("push url must be ws or wss, got %q", base.Scheme)
	}

	if cfg.PingInterval < 0 {
		cfg.PingInterval = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	t := &Transport{base: base, cfg: cfg}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = telemetry.DiscardLogger()
	}

	return t, nil
}

// SubscriptionURL returns the endpoint streaming updates for orderID.
func (t *Transport) SubscriptionURL(orderID string) string {
	u := *t.base
	u.Path = t.base.Path + "/ws/order/" + orderID
	u.RawPath = t.base.EscapedPath() + "/ws/order/" + url.PathEscape(orderID)

	if len(t.cfg.Query) > 0 {
		q := url.Values{}
		for k, v := range t.cfg.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (t *Transport) Subscribe(ctx context.Context, orderID string, handler ports.PushHandler) (ports.PushSubscription, error) {
	if orderID == "" {
		return nil, errors.New("order id is required")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		t.run(subCtx, t.SubscriptionURL(orderID), sub, handler)
	}()

	return sub, nil
}

func (t *Transport) run(ctx context.Context, target string, sub *subscription, handler ports.PushHandler) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.InitialBackoff
	b.MaxInterval = t.cfg.MaxBackoff

	for {
		err := t.stream(ctx, target, sub, handler, b)
		if ctx.Err() != nil {
			return
		}

		t.logger.WarnContext(ctx, "push connection failed", "error", err)
		if handler.OnFailure != nil {
			handler.OnFailure(err)
		}

		sleep := b.NextBackOff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// stream holds one connection until it fails or ctx ends.
func (t *Transport) stream(ctx context.Context, target string, sub *subscription, handler ports.PushHandler, b *backoff.ExponentialBackOff) error {
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}

	conn, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: header,
	})
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.CloseNow()

	conn.SetReadLimit(readLimit)
	b.Reset()

	sub.connected.Store(true)
	defer sub.connected.Store(false)
	t.logger.DebugContext(ctx, "push connected", "url", target)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			_, data, err := conn.Read(gctx)
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			if handler.OnMessage != nil {
				handler.OnMessage(data)
			}
		}
	})

	if t.cfg.PingInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(t.cfg.PingInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					pingCtx, cancel := context.WithTimeout(gctx, t.cfg.PingInterval)
					err := conn.Ping(pingCtx)
					cancel()
					if err != nil {
						return fmt.Errorf("ping: %w", err)
					}
				}
			}
		})
	}

	err = g.Wait()
	if ctx.Err() != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		return ctx.Err()
	}
	return err
}

type subscription struct {
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
}

func (s *subscription) Connected() bool {
	return s.connected.Load()
}

// Close cancels the subscription without waiting for the connection to wind down.
func (s *subscription) Close() error {
	s.cancel()
	return nil
}
