package ports

import "context"

// ErrorReporter is a fire-and-forget sink for failures worth observing.
type ErrorReporter interface {
	Report(ctx context.Context, err error, attrs map[string]string)
}
