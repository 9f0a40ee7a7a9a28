package interpreter

import (
	"context"
	"fmt"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/action"
)

// ActionExecutor executes reified actions.
type ActionExecutor interface {
	Execute(ctx context.Context, a action.Action) error
	ExecuteAll(ctx context.Context, actions []action.Action) error
}

// executor interprets actions against one open transaction.
type executor struct {
	txn Transaction
}

// NewExecutor creates an executor that applies actions to txn.
func NewExecutor(txn Transaction) ActionExecutor {
	return &executor{txn: txn}
}

// Execute runs a single action.
func (e *executor) Execute(ctx context.Context, a action.Action) error {
	switch a := a.(type) {
	case action.Insert:
		return e.txn.Insert(ctx, a.Relation, a.Record)

	case action.DeleteValue:
		return e.txn.DeleteValue(ctx, a.Relation, a.Record)

	case action.Batch:
		return e.ExecuteAll(ctx, a.Actions)

	default:
		return fmt.Errorf("unknown action type: %T", a)
	}
}

// ExecuteAll runs actions in order, stopping at the first error.
func (e *executor) ExecuteAll(ctx context.Context, actions []action.Action) error {
	for _, a := range actions {
		if err := e.Execute(ctx, a); err != nil {
			return fmt.Errorf("execute %v: %w", a, err)
		}
	}
	return nil
}

// Apply runs actions in one transaction and returns its delta. If any
// action or the commit fails, the transaction is rolled back and the
// program is left unchanged.
func Apply(ctx context.Context, prog Program, actions []action.Action) (p4bridge.Delta, error) {
	txn, err := prog.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	if err := NewExecutor(txn).ExecuteAll(ctx, actions); err != nil {
		_ = txn.Rollback()
		return nil, err
	}
	delta, err := txn.Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return delta, nil
}
