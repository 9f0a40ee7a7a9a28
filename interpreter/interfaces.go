// Package interpreter defines the incremental evaluator the bridge
// drives and executes reified actions against it. This is the only
// package, together with its store implementations, that performs
// evaluator I/O.
package interpreter

import (
	"context"
	"fmt"
	"io"

	"github.com/frobware/go-p4bridge"
)

// Program is a loaded evaluator program: a set of base relations the
// bridge writes and derived relations computed from them.
type Program interface {
	io.Closer

	// Begin starts a transaction. At most one transaction is open
	// at a time; callers serialise.
	Begin(ctx context.Context) (Transaction, error)

	// RelationID resolves a relation by name.
	RelationID(name string) (p4bridge.RelationID, error)

	// RelationName returns the name of a resolved relation.
	RelationName(id p4bridge.RelationID) string

	// DumpIndex returns every row currently in the relation in
	// index order.
	DumpIndex(ctx context.Context, id p4bridge.RelationID) ([]p4bridge.Record, error)
}

// Transaction is an open evaluator transaction.
type Transaction interface {
	Insert(ctx context.Context, id p4bridge.RelationID, rec p4bridge.Record) error
	DeleteValue(ctx context.Context, id p4bridge.RelationID, rec p4bridge.Record) error

	// Commit makes the transaction's updates visible and returns
	// the changes to the program's output relations. If Commit
	// fails the transaction is rolled back.
	Commit(ctx context.Context) (p4bridge.Delta, error)

	// Rollback discards the transaction. It is a no-op after
	// Commit.
	Rollback() error
}

// ErrUnknownRelation is returned when resolving a relation the
// program does not define.
type ErrUnknownRelation struct {
	Name string
}

func (e ErrUnknownRelation) Error() string {
	return fmt.Sprintf("relation %q is not defined by the program", e.Name)
}
