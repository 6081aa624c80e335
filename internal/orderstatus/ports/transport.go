package ports

import "context"

// PushHandler receives transport callbacks. Implementations of PushTransport
// never invoke it from within Subscribe itself.
type PushHandler struct {
	// OnMessage is called for every inbound text or binary frame.
	OnMessage func(data []byte)
	// OnFailure is called when a connection attempt fails or an open connection drops.
	OnFailure func(err error)
}

// PushSubscription is a live subscription to order updates.
type PushSubscription interface {
	// Connected reports whether the underlying connection is currently open.
	Connected() bool
	// Close unsubscribes. It does not wait for in-flight callbacks and is safe
	// to call from inside a handler.
	Close() error
}

// PushTransport opens server-initiated update streams. Reconnection and
// keepalive are the transport's concern. Subscribe returns without waiting
// for the connection; the outcome arrives through the handler.
type PushTransport interface {
	Subscribe(ctx context.Context, orderID string, handler PushHandler) (PushSubscription, error)
}
