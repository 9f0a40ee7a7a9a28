package compute

import (
	"slices"

	"github.com/frobware/go-p4bridge/action"
)

// InvertActions returns the actions that undo actions when applied
// after them: the order is reversed and every Insert becomes a
// DeleteValue of the same row and vice versa. Batches are flattened.
//
// Inversion is exact only when every insert added an absent row and
// every delete removed a present one.
func InvertActions(actions []action.Action) []action.Action {
	var out []action.Action
	for _, a := range slices.Backward(actions) {
		switch a := a.(type) {
		case action.Insert:
			out = append(out, action.DeleteValue(a))
		case action.DeleteValue:
			out = append(out, action.Insert(a))
		case action.Batch:
			out = append(out, InvertActions(a.Actions)...)
		}
	}
	return out
}
