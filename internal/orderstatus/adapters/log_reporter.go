package adapters

import (
	"context"
	"log/slog"
)

// LogReporter writes reported errors to the log. Useful until a real error
// tracking backend is wired.
type LogReporter struct {
	logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(ctx context.Context, err error, attrs map[string]string) {
	r.logger.ErrorContext(ctx, "order status error", "error", err, "attrs", attrs)
}
