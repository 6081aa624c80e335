package monitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dejobratic/orderwatch/internal/orderstatus/adapters/memory"
	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/monitor"
	"github.com/dejobratic/orderwatch/internal/orderstatus/poll"
	"github.com/dejobratic/orderwatch/internal/orderstatus/push"
)

type stack struct {
	source  *memory.Source
	monitor *monitor.Monitor
	results *delegateRecorder
}

func newStack(t *testing.T, pollCfg poll.Config, opts ...monitor.Option) *stack {
	t.Helper()

	src := memory.NewSource()
	if err := src.Put(domain.OrderStatusEvent{
		Event: "order.created",
		Order: domain.Order{ID: "ord-1", Status: domain.StatusCreated},
	}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	pusher, err := push.NewChannel("ord-1", src, domain.UnknownStatusReject, nil, nil)
	if err != nil {
		t.Fatalf("push channel: %v", err)
	}
	poller, err := poll.NewChannel("ord-1", src, pollCfg, nil)
	if err != nil {
		t.Fatalf("poll channel: %v", err)
	}

	rec := &delegateRecorder{}
	opts = append(opts, monitor.WithDelegate(rec.record))
	m := newMonitor(t, pusher, poller, opts...)

	return &stack{source: src, monitor: m, results: rec}
}

func pollConfig(pollInterval, retryInterval time.Duration, maxRetries int) poll.Config {
	cfg := poll.DefaultConfig()
	cfg.PollInterval = pollInterval
	cfg.RetryInterval = retryInterval
	cfg.MaxRetries = maxRetries
	return cfg
}

func TestEndToEndPushDeliversTerminalStatus(t *testing.T) {
	st := newStack(t, pollConfig(time.Hour, time.Hour, 3))

	s := st.monitor.FetchOrderStatus(context.Background())
	if err := st.source.SetStatus("ord-1", domain.StatusPaid); err != nil {
		t.Fatalf("set status: %v", err)
	}
	res := waitResult(t, s)

	if !res.OK() || res.Event.Status() != domain.StatusPaid {
		t.Fatalf("expected PAID, got %+v", res)
	}
	if got := st.source.Fetches("ord-1"); got != 0 {
		t.Errorf("expected no fetches, got %d", got)
	}
	if got := st.source.Subscribers("ord-1"); got != 0 {
		t.Errorf("expected subscription closed, got %d", got)
	}
	if st.results.count() != 1 {
		t.Errorf("expected 1 delegate call, got %d", st.results.count())
	}
}

func TestEndToEndFailoverPollsWithinRetryInterval(t *testing.T) {
	st := newStack(t, pollConfig(time.Hour, 50*time.Millisecond, 3))
	if err := st.source.SetStatus("ord-1", domain.StatusDeclined); err != nil {
		t.Fatalf("set status: %v", err)
	}

	s := st.monitor.FetchOrderStatus(context.Background())
	start := time.Now()
	st.source.DropConnections("ord-1", errors.New("connection reset"))
	res := waitResult(t, s)

	if !res.OK() || res.Event.Status() != domain.StatusDeclined {
		t.Fatalf("expected DECLINED, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected first poll within the retry interval, took %v", elapsed)
	}
	if got := st.source.Fetches("ord-1"); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
	if got := st.source.Subscribers("ord-1"); got != 0 {
		t.Errorf("expected push subscription torn down, got %d", got)
	}
	if st.results.count() != 1 {
		t.Errorf("expected 1 delegate call, got %d", st.results.count())
	}
}

func TestEndToEndRetryExhaustion(t *testing.T) {
	st := newStack(t, pollConfig(time.Hour, 200*time.Millisecond, 2))
	failure := domain.ConnectionFailed(errors.New("refused"))
	st.source.FailFetches("ord-1", failure, failure, failure, failure)
	st.source.RefuseSubscriptions("ord-1", errors.New("push unavailable"))

	start := time.Now()
	res := waitResult(t, st.monitor.FetchOrderStatus(context.Background()))
	elapsed := time.Since(start)

	if !errors.Is(res.Err, domain.ErrUnknown) || !errors.Is(res.Err, domain.ErrConnectionFailed) {
		t.Fatalf("expected unknown(connection failed), got %v", res.Err)
	}
	if elapsed < 400*time.Millisecond {
		t.Errorf("expected result after ~400ms, got %v", elapsed)
	}

	time.Sleep(300 * time.Millisecond)

	if got := st.source.Fetches("ord-1"); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	if st.results.count() != 1 {
		t.Errorf("expected 1 delegate call, got %d", st.results.count())
	}
}

func TestEndToEndPollingUntilPaid(t *testing.T) {
	st := newStack(t, pollConfig(20*time.Millisecond, 20*time.Millisecond, 3), monitor.WithoutPush())

	s := st.monitor.FetchOrderStatus(context.Background())

	deadline := time.After(time.Second)
	for st.source.Fetches("ord-1") < 2 {
		select {
		case <-deadline:
			t.Fatal("polling did not continue")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if err := st.source.SetStatus("ord-1", domain.StatusPaid); err != nil {
		t.Fatalf("set status: %v", err)
	}

	res := waitResult(t, s)

	if !res.OK() || res.Event.Status() != domain.StatusPaid {
		t.Fatalf("expected PAID, got %+v", res)
	}
	if got := st.source.Fetches("ord-1"); got < 3 {
		t.Errorf("expected at least 3 fetches, got %d", got)
	}
}
