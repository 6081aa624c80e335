package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dejobratic/orderwatch/internal/orderstatus/domain"
	"github.com/dejobratic/orderwatch/internal/orderstatus/ports"
)

// Source is an in-memory order backend serving both the pull and the push
// side. It is useful for local development and tests: order state and
// failures are scripted through its methods.
type Source struct {
	mu          sync.RWMutex
	orders      map[string]domain.OrderStatusEvent
	fetchErrors map[string][]error
	subscribers map[string]map[*subscription]struct{}
	refuse      map[string]error
	fetches     map[string]int
}

// NewSource constructs an empty source.
func NewSource() *Source {
	return &Source{
		orders:      make(map[string]domain.OrderStatusEvent),
		fetchErrors: make(map[string][]error),
		subscribers: make(map[string]map[*subscription]struct{}),
		refuse:      make(map[string]error),
		fetches:     make(map[string]int),
	}
}

// Put stores the event and publishes it to the order's subscribers.
func (s *Source) Put(event domain.OrderStatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.orders[event.OrderID()] = event
	subs := s.subscribersLocked(event.OrderID())
	s.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(data)
	}
	return nil
}

// SetStatus changes the status of a stored order and publishes the change.
func (s *Source) SetStatus(orderID string, status domain.OrderStatus) error {
	s.mu.RLock()
	event, ok := s.orders[orderID]
	s.mu.RUnlock()
	if !ok {
		return domain.InvalidStatus(http.StatusNotFound)
	}

	event.Order.Status = status
	return s.Put(event)
}

// Publish sends a raw frame to the order's subscribers without storing it.
func (s *Source) Publish(orderID string, data []byte) {
	s.mu.RLock()
	subs := s.subscribersLocked(orderID)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(data)
	}
}

// FailFetches queues errors returned by the next fetches of the order, in order.
func (s *Source) FailFetches(orderID string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErrors[orderID] = append(s.fetchErrors[orderID], errs...)
}

// RefuseSubscriptions makes Subscribe fail for the order until err is nil.
func (s *Source) RefuseSubscriptions(orderID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.refuse, orderID)
		return
	}
	s.refuse[orderID] = err
}

// DropConnections disconnects every subscriber of the order with err.
func (s *Source) DropConnections(orderID string, err error) {
	s.mu.RLock()
	subs := s.subscribersLocked(orderID)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.fail(err)
	}
}

// Fetches returns how many times the order was fetched.
func (s *Source) Fetches(orderID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fetches[orderID]
}

// Subscribers returns the number of open subscriptions for the order.
func (s *Source) Subscribers(orderID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers[orderID])
}

// FetchOrder returns the stored event. Unknown orders are reported the way
// the order API does, as a 404.
func (s *Source) FetchOrder(ctx context.Context, orderID string) (*domain.OrderStatusEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.AsError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetches[orderID]++

	if queued := s.fetchErrors[orderID]; len(queued) > 0 {
		s.fetchErrors[orderID] = queued[1:]
		return nil, queued[0]
	}

	event, ok := s.orders[orderID]
	if !ok {
		return nil, domain.InvalidStatus(http.StatusNotFound)
	}
	snapshot := event
	return &snapshot, nil
}

// Subscribe registers handler for the order's updates.
func (s *Source) Subscribe(ctx context.Context, orderID string, handler ports.PushHandler) (ports.PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refuse[orderID]; err != nil {
		return nil, err
	}

	sub := &subscription{source: s, orderID: orderID, handler: handler}
	sub.connected.Store(true)

	if s.subscribers[orderID] == nil {
		s.subscribers[orderID] = make(map[*subscription]struct{})
	}
	s.subscribers[orderID][sub] = struct{}{}
	return sub, nil
}

func (s *Source) subscribersLocked(orderID string) []*subscription {
	subs := make([]*subscription, 0, len(s.subscribers[orderID]))
	for sub := range s.subscribers[orderID] {
		subs = append(subs, sub)
	}
	return subs
}

func (s *Source) remove(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers[sub.orderID], sub)
}

type subscription struct {
	source    *Source
	orderID   string
	handler   ports.PushHandler
	connected atomic.Bool
	closed    atomic.Bool
}

func (s *subscription) Connected() bool {
	return s.connected.Load()
}

func (s *subscription) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.connected.Store(false)
		s.source.remove(s)
	}
	return nil
}

func (s *subscription) deliver(data []byte) {
	if s.closed.Load() || s.handler.OnMessage == nil {
		return
	}
	s.handler.OnMessage(data)
}

func (s *subscription) fail(err error) {
	if s.closed.Load() {
		return
	}
	s.connected.Store(false)
	if s.handler.OnFailure != nil {
		s.handler.OnFailure(err)
	}
}
