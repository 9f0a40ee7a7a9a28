package manager

import (
	"errors"
	"log/slog"
)

// undoStack accumulates compensating steps for a write whose effects
// have been committed to the evaluator but must not become visible,
// such as a transaction whose delta cannot be translated. Steps run
// in reverse order.
type undoStack []func() error

// push appends a compensating step.
func (u *undoStack) push(fn func() error) {
	*u = append(*u, fn)
}

// rollback runs every step in reverse order, logging and collecting
// failures. Returns nil if every step succeeds.
func (u undoStack) rollback(logger *slog.Logger) error {
	var errs []error
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i](); err != nil {
			logger.Error("undo step failed", "step", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
