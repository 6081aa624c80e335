package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

type orderIDKey struct{}

type sessionIDKey struct{}

// WithOrderID tags ctx so every log record written with it carries order_id.
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return context.WithValue(ctx, orderIDKey{}, orderID)
}

// WithSessionID tags ctx so every log record written with it carries session_id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

func OrderID(ctx context.Context) string {
	id, _ := ctx.Value(orderIDKey{}).(string)
	return id
}

func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}

func NewLogger(level slog.Level) *slog.Logger {
	return NewLoggerTo(os.Stdout, level)
}

func NewLoggerTo(w io.Writer, level slog.Level) *slog.Logger {
	baseHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})

	return slog.New(&contextHandler{baseHandler: baseHandler})
}

// ParseLevel maps a configured level name to slog.Level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextHandler adds trace and monitoring identifiers found on the context.
// Those identifiers always land at the top level; attrs and groups added
// through With and WithGroup are replayed in the order they were added.
type contextHandler struct {
	baseHandler slog.Handler
	steps       []handlerStep
}

// handlerStep is either a group name or a batch of attrs.
type handlerStep struct {
	group string
	attrs []slog.Attr
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.baseHandler.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	var ctxAttrs []slog.Attr
	if traceID := TraceID(ctx); traceID != "" {
		ctxAttrs = append(ctxAttrs, slog.String("trace_id", traceID))
	}
	if spanID := SpanID(ctx); spanID != "" {
		ctxAttrs = append(ctxAttrs, slog.String("span_id", spanID))
	}
	if orderID := OrderID(ctx); orderID != "" {
		ctxAttrs = append(ctxAttrs, slog.String("order_id", orderID))
	}
	if sessionID := SessionID(ctx); sessionID != "" {
		ctxAttrs = append(ctxAttrs, slog.String("session_id", sessionID))
	}

	handler := h.baseHandler

	if len(ctxAttrs) > 0 {
		handler = handler.WithAttrs(ctxAttrs)
	}

	for _, step := range h.steps {
		if step.group != "" {
			handler = handler.WithGroup(step.group)
			continue
		}
		handler = handler.WithAttrs(step.attrs)
	}

	return handler.Handle(ctx, r)
}

func (h *contextHandler) with(step handlerStep) *contextHandler {
	steps := make([]handlerStep, len(h.steps)+1)
	copy(steps, h.steps)
	steps[len(h.steps)] = step

	return &contextHandler{
		baseHandler: h.baseHandler,
		steps:       steps,
	}
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(handlerStep{attrs: attrs})
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(handlerStep{group: name})
}

// DiscardLogger is used where a component is built without a logger.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
