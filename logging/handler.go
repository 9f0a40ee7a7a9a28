package logging

import (
	"context"
	"log/slog"
)

const componentKey = "component"

// filteringHandler drops records below the level the spec sets for
// the handler's component.
type filteringHandler struct {
	inner     slog.Handler
	spec      *Spec
	component string
}

// NewFilteringHandler wraps inner with per-component filtering.
func NewFilteringHandler(inner slog.Handler, spec *Spec) slog.Handler {
	return &filteringHandler{inner: inner, spec: spec}
}

func (h *filteringHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.spec.LevelFor(h.component).ToSlog()
}

func (h *filteringHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.Enabled(ctx, r.Level) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs tracks the component attribute so that loggers derived
// with logger.With("component", name) filter at that component's
// level.
func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := &filteringHandler{inner: h.inner.WithAttrs(attrs), spec: h.spec, component: h.component}
	for _, a := range attrs {
		if a.Key == componentKey {
			c.component = a.Value.String()
		}
	}
	return c
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{inner: h.inner.WithGroup(name), spec: h.spec, component: h.component}
}
