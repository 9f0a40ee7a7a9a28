package manager

import (
	"context"
	"log/slog"
)

type opIDKey struct{}

// ContextWithOpID returns a context carrying the id of the RPC being
// served.
func ContextWithOpID(ctx context.Context, opID uint64) context.Context {
	return context.WithValue(ctx, opIDKey{}, opID)
}

// OpIDFromContext returns the operation id carried by ctx, or 0.
func OpIDFromContext(ctx context.Context) uint64 {
	if ctx == nil {
		return 0
	}
	id, _ := ctx.Value(opIDKey{}).(uint64)
	return id
}

// opIDHandler wraps a slog.Handler so that records logged with
// InfoContext, WarnContext and friends carry the op_id of the RPC
// that caused them.
type opIDHandler struct {
	slog.Handler
}

// Handle adds op_id from ctx to the record.
func (h opIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if opID := OpIDFromContext(ctx); opID != 0 {
		r.AddAttrs(slog.Uint64("op_id", opID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs keeps the wrapper around the derived handler.
func (h opIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return opIDHandler{h.Handler.WithAttrs(attrs)}
}

// WithGroup keeps the wrapper around the derived handler.
func (h opIDHandler) WithGroup(name string) slog.Handler {
	return opIDHandler{h.Handler.WithGroup(name)}
}

// WithOpIDHandler wraps a logger's handler to extract op_id from context.
func WithOpIDHandler(logger *slog.Logger) *slog.Logger {
	if _, ok := logger.Handler().(opIDHandler); ok {
		return logger
	}
	return slog.New(opIDHandler{logger.Handler()})
}
