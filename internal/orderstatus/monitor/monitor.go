package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/metrics"
	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
	"github.com/dejobratic/orderwatch/internal/telemetry"
)

var (
	ErrEmptyOrderID = errors.New("order id is required")
	ErrNilPoller    = errors.New("nil dependency: poll channel")
	ErrNilPusher    = errors.New("nil dependency: push channel")
)

// Pusher is the push side as seen by the monitor.
type Pusher interface {
	StartListening(ctx context.Context, onUpdate func(domain.Result)) error
	StopListening()
	IsConnected() bool
}

// Poller is the polling side as seen by the monitor.
type Poller interface {
	Start(ctx context.Context, fast bool, onResult func(domain.Result))
	Cancel()
}

type State int

const (
	StateIdle State = iota
	StateListeningPush
	StatePollingFallback
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateListeningPush:
		return "listening_push"
	case StatePollingFallback:
		return "polling_fallback"
	case StateCompleted:
		return "completed"
	default:
		return "idle"
	}
}

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeStopped = "stopped"
	outcomeTimeout = "timeout"

	reasonConnectionFailed = "connection_failed"
	reasonDecodingError    = "decoding_error"
	reasonFetchNow         = "fetch_now"
)

type Option func(*Monitor)

// WithDelegate registers a callback invoked once per session that ends with
// a result. It is never invoked for stopped sessions.
func WithDelegate(fn func(domain.Result)) Option {
	return func(m *Monitor) {
		m.delegate = fn
	}
}

// WithoutPush disables the push channel; sessions poll at the normal cadence.
func WithoutPush() Option {
	return func(m *Monitor) {
		m.pushDisabled = true
	}
}

// WithFailoverOnDecodeError makes an undecodable push frame switch the
// session to polling instead of being tolerated.
func WithFailoverOnDecodeError(enabled bool) Option {
	return func(m *Monitor) {
		m.failoverOnDecode = enabled
	}
}

func WithReporter(r ports.ErrorReporter) Option {
	return func(m *Monitor) {
		m.reporter = r
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = l
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = mt
	}
}

func WithPolicy(p domain.StatusPolicy) Option {
	return func(m *Monitor) {
		m.policy = p
	}
}

// Monitor reconciles the push and poll channels of one order into a single
// result per session.
type Monitor struct {
	orderID string
	push    Pusher
	poll    Poller

	delegate         func(domain.Result)
	pushDisabled     bool
	failoverOnDecode bool
	policy           domain.StatusPolicy
	reporter         ports.ErrorReporter
	logger           *slog.Logger
	metrics          *metrics.Metrics

	mu      sync.Mutex
	state   State
	session *Session
	// delivering holds finished sessions whose result is not handed out yet.
	delivering map[*Session]struct{}
}

func New(orderID string, pusher Pusher, poller Poller, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		orderID: orderID,
		push:    pusher,
		poll:    poller,
		policy:  domain.UnknownStatusReject,

		delivering: make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	if orderID == "" {
		return nil, ErrEmptyOrderID
	}
	if poller == nil {
		return nil, ErrNilPoller
	}
	if pusher == nil && !m.pushDisabled {
		return nil, ErrNilPusher
	}
	if m.pushDisabled {
		m.push = nil
	}
	if m.logger == nil {
		m.logger = telemetry.DiscardLogger()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewNoop()
	}

	return m, nil
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// FetchOrderStatus starts monitoring, or returns the session already running.
// ctx bounds the session: reaching its deadline completes the session with a
// timeout error, cancelling it stops the session.
func (m *Monitor) FetchOrderStatus(ctx context.Context) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		return m.session
	}
	return m.beginLocked(ctx)
}

// FetchOrderStatusNow asks for an immediate check. It is a no-op while the
// push connection is open; otherwise push is dropped and polling restarts in
// fast mode.
func (m *Monitor) FetchOrderStatusNow(ctx context.Context) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.session
	if s == nil {
		s = m.beginLocked(ctx)
	}

	if m.push != nil && m.state == StateListeningPush && m.push.IsConnected() {
		m.logger.DebugContext(s.ctx, "push connected, immediate check skipped")
		return s
	}

	if m.state == StateListeningPush {
		m.metrics.RecordFailover(s.ctx, reasonFetchNow)
	}
	m.pollFastLocked(s)
	return s
}

// StopFetching ends the current session without a result. The delegate is
// not invoked. Safe to call at any time.
func (m *Monitor) StopFetching() {
	m.stop(nil)
}

// stop ends target, or whichever session is running when target is nil.
func (m *Monitor) stop(target *Session) {
	m.mu.Lock()
	for d := range m.delivering {
		if target == nil || d == target {
			d.stopped = true
			delete(m.delivering, d)
			if m.session == nil {
				m.state = StateIdle
			}
		}
	}
	s := m.session
	if s == nil || (target != nil && s != target) {
		m.mu.Unlock()
		return
	}
	m.stopChannelsLocked()
	m.session = nil
	m.state = StateIdle
	m.mu.Unlock()

	if s.resolve(nil) {
		m.logger.InfoContext(s.ctx, "monitoring stopped")
		m.metrics.RecordSession(s.ctx, outcomeStopped, time.Since(s.startedAt).Seconds())
	}
}

func (m *Monitor) beginLocked(ctx context.Context) *Session {
	id := uuid.NewString()

	runCtx, cancel := context.WithCancel(ctx)
	runCtx = telemetry.WithSessionID(telemetry.WithOrderID(runCtx, m.orderID), id)
	runCtx, span := telemetry.StartSpan(runCtx, "Monitor.Session",
		attribute.String("order.id", m.orderID),
		attribute.String("session.id", id),
		attribute.Bool("push.enabled", m.push != nil),
	)

	s := &Session{
		id:        id,
		orderID:   m.orderID,
		startedAt: time.Now(),
		ctx:       runCtx,
		cancel:    cancel,
		span:      span,
		done:      make(chan struct{}),
	}
	// Registered before any channel starts so it cannot miss the session.
	s.stopWatcher = context.AfterFunc(ctx, func() {
		m.contextDone(s, ctx.Err())
	})

	m.session = s
	m.logger.InfoContext(runCtx, "monitoring started", "push", m.push != nil)

	if m.push == nil {
		m.state = StatePollingFallback
		m.poll.Start(runCtx, false, m.pollHandler(s))
		return s
	}

	m.state = StateListeningPush
	if err := m.push.StartListening(runCtx, m.pushHandler(s)); err != nil {
		m.logger.WarnContext(runCtx, "push unavailable, falling back to polling", "error", err)
		m.metrics.RecordFailover(runCtx, reasonConnectionFailed)
		telemetry.MarkFailover(span, reasonConnectionFailed)
		m.pollFastLocked(s)
	}
	return s
}

func (m *Monitor) pollFastLocked(s *Session) {
	if m.push != nil {
		m.push.StopListening()
	}
	m.state = StatePollingFallback
	m.poll.Start(s.ctx, true, m.pollHandler(s))
}

func (m *Monitor) stopChannelsLocked() {
	if m.push != nil {
		m.push.StopListening()
	}
	m.poll.Cancel()
}

func (m *Monitor) pushHandler(s *Session) func(domain.Result) {
	return func(res domain.Result) {
		m.mu.Lock()
		after := m.onPushLocked(s, res)
		m.mu.Unlock()

		if after != nil {
			after()
		}
	}
}

func (m *Monitor) pollHandler(s *Session) func(domain.Result) {
	return func(res domain.Result) {
		m.mu.Lock()
		if m.session != s || m.state != StatePollingFallback {
			m.mu.Unlock()
			return
		}
		after := m.completeLocked(s, res)
		m.mu.Unlock()

		after()
	}
}

// onPushLocked applies a push update. It returns work to run after the lock
// is released, or nil.
func (m *Monitor) onPushLocked(s *Session, res domain.Result) func() {
	if m.session != s || m.state != StateListeningPush || s.ctx.Err() != nil {
		return nil
	}

	if res.OK() {
		terminal, _ := m.policy.Classify(res.Event.Status())
		if !terminal {
			m.logger.DebugContext(s.ctx, "push reported pending status", "status", string(res.Event.Status()))
			return nil
		}
		return m.completeLocked(s, res)
	}

	switch kind := domain.KindOf(res.Err); {
	case kind == domain.KindDecoding && !m.failoverOnDecode:
		m.logger.WarnContext(s.ctx, "ignoring undecodable push frame", "error", res.Err)
		err := res.Err
		return func() {
			m.report(s, err)
		}
	case kind == domain.KindDecoding:
		m.failoverLocked(s, reasonDecodingError, res.Err)
	default:
		m.failoverLocked(s, reasonConnectionFailed, res.Err)
	}
	return nil
}

func (m *Monitor) failoverLocked(s *Session, reason string, cause error) {
	m.logger.WarnContext(s.ctx, "push failed, falling back to polling", "reason", reason, "error", cause)
	m.metrics.RecordFailover(s.ctx, reason)
	telemetry.MarkFailover(s.span, reason)
	m.pollFastLocked(s)
}

// completeLocked ends the session with res. Both channels are stopped before
// the lock is released; the returned func resolves the session and notifies.
func (m *Monitor) completeLocked(s *Session, res domain.Result) func() {
	return m.finishLocked(s, res, false)
}

func (m *Monitor) finishLocked(s *Session, res domain.Result, timedOut bool) func() {
	m.stopChannelsLocked()
	m.session = nil
	m.state = StateCompleted
	m.delivering[s] = struct{}{}

	delegate := m.delegate
	return func() {
		m.deliver(s, res, timedOut, delegate)
	}
}

func (m *Monitor) deliver(s *Session, res domain.Result, timedOut bool, delegate func(domain.Result)) {
	outcome := outcomeSuccess
	switch {
	case timedOut:
		outcome = outcomeTimeout
	case res.Err != nil:
		outcome = outcomeFailure
	}

	if res.Err != nil {
		telemetry.SetOutcome(s.span, res.Err)
		m.logger.ErrorContext(s.ctx, "monitoring failed", "error", res.Err, "kind", domain.KindOf(res.Err).String())
	} else {
		telemetry.Annotate(s.span, attribute.String("order.status", string(res.Event.Status())))
		telemetry.SetOutcome(s.span, nil)
		m.logger.InfoContext(s.ctx, "order reached terminal status", "status", string(res.Event.Status()))
	}

	m.mu.Lock()
	delete(m.delivering, s)
	stopped := s.stopped
	m.mu.Unlock()

	if stopped {
		if s.resolve(nil) {
			m.logger.InfoContext(s.ctx, "monitoring stopped before delivery")
			m.metrics.RecordSession(s.ctx, outcomeStopped, time.Since(s.startedAt).Seconds())
		}
		return
	}

	if !s.resolve(&res) {
		return
	}
	m.metrics.RecordSession(s.ctx, outcome, time.Since(s.startedAt).Seconds())

	if res.Err != nil {
		m.report(s, res.Err)
	}
	if delegate != nil {
		delegate(res)
	}
}

func (m *Monitor) contextDone(s *Session, cause error) {
	if !errors.Is(cause, context.DeadlineExceeded) {
		m.stop(s)
		return
	}

	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	after := m.finishLocked(s, domain.Failure(domain.Timeout(cause)), true)
	m.mu.Unlock()

	after()
}

func (m *Monitor) report(s *Session, err error) {
	if m.reporter == nil {
		return
	}

	kind := domain.KindOf(err).String()
	defer func() {
		if r := recover(); r != nil {
			m.logger.ErrorContext(s.ctx, "error reporter panicked", "panic", fmt.Sprint(r))
		}
	}()

	m.metrics.RecordReportedError(s.ctx, kind)
	m.reporter.Report(context.WithoutCancel(s.ctx), err, map[string]string{
		"order_id":   s.orderID,
		"session_id": s.id,
		"kind":       kind,
	})
}
