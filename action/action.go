// Package action contains reified evaluator updates - descriptions of
// what to change in a relation without changing it. These are pure
// data structures; the interpreter package executes them.
package action

import (
	"fmt"

	"github.com/frobware/go-p4bridge"
)

// Action represents an update to be applied to the evaluator.
// Actions are data - they describe what to do, not how.
type Action interface {
	isAction()
}

// Insert asserts a row in a base relation. Inserting a row that is
// already present has no effect.
type Insert struct {
	Relation p4bridge.RelationID
	Record   p4bridge.Record
}

func (Insert) isAction() {}

func (a Insert) String() string {
	return fmt.Sprintf("insert(%d, %s)", a.Relation, a.Record)
}

// DeleteValue retracts every row of a base relation whose columns
// equal the record's.
type DeleteValue struct {
	Relation p4bridge.RelationID
	Record   p4bridge.Record
}

func (DeleteValue) isAction() {}

func (a DeleteValue) String() string {
	return fmt.Sprintf("delete(%d, %s)", a.Relation, a.Record)
}

// Batch groups actions that are applied together, in order.
type Batch struct {
	Actions []Action
}

func (Batch) isAction() {}
