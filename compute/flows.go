package compute

import (
	"fmt"
	"log/slog"

	"github.com/frobware/go-p4bridge"
	"github.com/frobware/go-p4bridge/ofp"
)

// FlowColumn is the column of the flow relation holding one flow in
// ovs-ofctl syntax.
const FlowColumn = "flow"

// ErrInvalidWeight is returned when a delta row's weight is neither
// +1 nor -1, which means the evaluator program emitted a multiset.
type ErrInvalidWeight struct {
	Weight int
	Record p4bridge.Record
}

func (e ErrInvalidWeight) Error() string {
	return fmt.Sprintf("flow %s has weight %d", e.Record, e.Weight)
}

// FlowMutations translates the rows of flowRel in delta into flow
// mutations, in delta order: an added row becomes an ADD, a removed
// row a strict DELETE. Rows of other relations are ignored. A row
// whose flow does not parse is dropped and logged; it cannot be
// shipped but the write that produced it is still valid.
//
// This is a pure function - no I/O beyond diagnostics.
func FlowMutations(delta p4bridge.Delta, flowRel p4bridge.RelationID, logger *slog.Logger) ([]*ofp.FlowMod, error) {
	var mods []*ofp.FlowMod
	for _, row := range delta {
		if row.Relation != flowRel {
			continue
		}
		var cmd ofp.FlowModCommand
		switch row.Weight {
		case +1:
			cmd = ofp.FlowAdd
		case -1:
			cmd = ofp.FlowDeleteStrict
		default:
			return nil, ErrInvalidWeight{Weight: row.Weight, Record: row.Record}
		}
		fm, ok := ParseFlowRecord(row.Record, logger)
		if !ok {
			continue
		}
		mods = append(mods, fm.WithCommand(cmd))
	}
	return mods, nil
}

// ParseFlowRecord parses the flow column of a flow relation row. It
// logs and reports false when the row has no flow text or the text
// is not a valid flow.
func ParseFlowRecord(rec p4bridge.Record, logger *slog.Logger) (*ofp.FlowMod, bool) {
	text, ok := rec.Text(FlowColumn)
	if !ok {
		logger.Error("flow row has no flow column", "record", rec)
		return nil, false
	}
	fm, err := ofp.ParseFlow(text)
	if err != nil {
		logger.Error("dropping unparseable flow", "flow", text, "error", err)
		return nil, false
	}
	return fm, true
}
