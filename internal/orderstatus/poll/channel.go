package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultRetryInterval = 2 * time.Second
	DefaultMaxRetries    = 5
)

var (
	ErrNilFetcher        = errors.New("nil dependency: order fetcher")
	ErrEmptyOrderID      = errors.New("order id is required")
	ErrInvalidInterval   = errors.New("poll and retry intervals must be positive")
	ErrInvalidMaxRetries = errors.New("max retries must be at least 1")
)

// Config controls the polling cadence.
type Config struct {
	PollInterval  time.Duration
	RetryInterval time.Duration
	MaxRetries    int
	Policy        domain.StatusPolicy
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  DefaultPollInterval,
		RetryInterval: DefaultRetryInterval,
		MaxRetries:    DefaultMaxRetries,
		Policy:        domain.UnknownStatusReject,
	}
}

func (c Config) Validate() error {
	if c.PollInterval <= 0 || c.RetryInterval <= 0 {
		return ErrInvalidInterval
	}
	if c.MaxRetries < 1 {
		return ErrInvalidMaxRetries
	}
	return nil
}

// Channel repeatedly fetches one order until it reaches a terminal status,
// retries run out, or the channel is cancelled. It owns at most one pending
// continuation at a time and never runs two fetches concurrently.
type Channel struct {
	orderID string
	fetcher ports.OrderFetcher
	cfg     Config
	logger  *slog.Logger

	mu     sync.Mutex
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc

	// fetchSem serializes fetches across runs; a cancelled run may still be
	// unwinding its request when the next one starts.
	fetchSem chan struct{}
}

func NewChannel(orderID string, fetcher ports.OrderFetcher, cfg Config, logger *slog.Logger) (*Channel, error) {
	if orderID == "" {
		return nil, ErrEmptyOrderID
	}
	if fetcher == nil {
		return nil, ErrNilFetcher
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("poll config: %w", err)
	}
	if logger == nil {
		logger = telemetry.DiscardLogger()
	}

	return &Channel{
		orderID:  orderID,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger.With("channel", "poll"),
		fetchSem: make(chan struct{}, 1),
	}, nil
}

// run is the state of one Start call. It is handed from step to step and
// is only acted upon while its generation is current.
type run struct {
	gen      uint64
	ctx      context.Context
	fast     bool
	onResult func(domain.Result)
}

// Start begins polling, replacing any run in progress. In fast mode the first
// attempt fires after RetryInterval and pending statuses are re-checked at
// RetryInterval; otherwise the first attempt is immediate and PollInterval
// applies. onResult is called at most once per run, without locks held.
func (c *Channel) Start(ctx context.Context, fast bool, onResult func(domain.Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	r := &run{gen: c.gen, ctx: runCtx, fast: fast, onResult: onResult}

	var delay time.Duration
	if fast {
		delay = c.cfg.RetryInterval
	}

	c.logger.DebugContext(ctx, "polling started", "fast", fast, "first_attempt_in", delay)
	c.scheduleLocked(r, 0, delay)
}

// Cancel stops the current run. Pending continuations are discarded and an
// in-flight fetch has its context cancelled; its outcome is ignored.
func (c *Channel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.invalidateLocked()
}

// Active reports whether a run is in progress.
func (c *Channel) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancel != nil
}

func (c *Channel) invalidateLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Channel) scheduleLocked(r *run, attempt int, delay time.Duration) {
	if r.gen != c.gen {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() {
		c.step(r, attempt)
	})
}

func (c *Channel) current(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return r.gen == c.gen
}

func (c *Channel) step(r *run, attempt int) {
	if !c.current(r) {
		return
	}

	select {
	case c.fetchSem <- struct{}{}:
	case <-r.ctx.Done():
		return
	}

	if !c.current(r) {
		<-c.fetchSem
		return
	}

	event, err := c.fetcher.FetchOrder(r.ctx, c.orderID)
	<-c.fetchSem

	result, done := c.advance(r, attempt, event, err)
	if done && r.onResult != nil {
		r.onResult(result)
	}
}

// advance applies one fetch outcome and either schedules the next attempt or
// finishes the run. done is true when result must be emitted.
func (c *Channel) advance(r *run, attempt int, event *domain.OrderStatusEvent, err error) (domain.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.gen != c.gen {
		return domain.Result{}, false
	}

	if err != nil && r.ctx.Err() != nil {
		// The caller's context ended under us; there is nobody left to notify.
		c.invalidateLocked()
		return domain.Result{}, false
	}

	if err == nil && event == nil {
		err = domain.Decoding(domain.ErrMissingOrder)
	}

	if err == nil {
		terminal, perr := c.cfg.Policy.Classify(event.Status())
		switch {
		case perr != nil:
			err = perr
		case terminal:
			c.logger.InfoContext(r.ctx, "terminal status fetched", "status", string(event.Status()))
			c.invalidateLocked()
			return domain.Success(event), true
		default:
			delay := c.cfg.PollInterval
			if r.fast {
				delay = c.cfg.RetryInterval
			}
			c.logger.DebugContext(r.ctx, "order still pending", "status", string(event.Status()), "next_in", delay)
			c.scheduleLocked(r, 0, delay)
			return domain.Result{}, false
		}
	}

	if !domain.IsRetryable(err) {
		c.logger.WarnContext(r.ctx, "fetch failed permanently", "error", err)
		c.invalidateLocked()
		return domain.Failure(err), true
	}

	attempt++
	if attempt < c.cfg.MaxRetries {
		c.logger.InfoContext(r.ctx, "fetch failed, retrying",
			"error", err,
			"attempt", attempt,
			"max_retries", c.cfg.MaxRetries,
		)
		c.scheduleLocked(r, attempt, c.cfg.RetryInterval)
		return domain.Result{}, false
	}

	c.logger.WarnContext(r.ctx, "fetch retries exhausted", "error", err, "attempts", attempt)
	c.invalidateLocked()
	return domain.Failure(domain.Unknown(err)), true
}
