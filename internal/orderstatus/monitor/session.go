package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
)

// ErrSessionStopped is returned by Wait when the session ended without a result.
var ErrSessionStopped = errors.New("monitoring session stopped")

// Session is one monitoring run for an order. It resolves exactly once,
// either with a result or, when stopped, without one.
type Session struct {
	id        string
	orderID   string
	startedAt time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	stopWatcher func() bool
	span        trace.Span

	// stopped is guarded by the monitor lock. It cancels a result that was
	// decided but not yet handed to the caller.
	stopped bool

	once      sync.Once
	done      chan struct{}
	result    domain.Result
	hasResult bool
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) OrderID() string {
	return s.orderID
}

// Done is closed once the session is resolved.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the outcome. ok is false while the session is running and
// after it was stopped.
func (s *Session) Result() (result domain.Result, ok bool) {
	select {
	case <-s.done:
		return s.result, s.hasResult
	default:
		return domain.Result{}, false
	}
}

// Wait blocks until the session resolves or ctx is done.
func (s *Session) Wait(ctx context.Context) (domain.Result, error) {
	select {
	case <-s.done:
		if !s.hasResult {
			return domain.Result{}, ErrSessionStopped
		}
		return s.result, nil
	case <-ctx.Done():
		return domain.Result{}, ctx.Err()
	}
}

// resolve reports whether this call settled the session.
func (s *Session) resolve(result *domain.Result) bool {
	settled := false
	s.once.Do(func() {
		if result != nil {
			s.result = *result
			s.hasResult = true
		}
		s.stopWatcher()
		s.cancel()
		s.span.End()
		close(s.done)
		settled = true
	})
	return settled
}
