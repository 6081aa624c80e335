package domain

// Result is the outcome of a monitoring session or of a single channel step.
// Exactly one of Event and Err is set.
type Result struct {
	Event *OrderStatusEvent
	Err   error
}

func Success(event *OrderStatusEvent) Result {
	return Result{Event: event}
}

func Failure(err error) Result {
	return Result{Err: err}
}

func (r Result) OK() bool {
	return r.Err == nil && r.Event != nil
}
