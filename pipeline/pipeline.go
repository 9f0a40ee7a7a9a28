// Package pipeline builds the bridge's table schemas from a P4Info.
//
// A Pipeline is immutable. SetForwardingPipelineConfig builds a new
// one and the manager swaps it in wholesale.
package pipeline

import (
	"fmt"
	"os"
	"slices"
	"strings"

	configv1 "github.com/p4lang/p4runtime/go/p4/config/v1"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/frobware/go-p4bridge"
)

// Pipeline is a validated P4Info together with the schemas derived
// from it.
type Pipeline struct {
	info   *configv1.P4Info
	tables map[uint32]*p4bridge.TableSchema
	byName map[string]*p4bridge.TableSchema
}

// New derives the table schemas of info. It fails if a table refers
// to an action the P4Info does not define, uses a match kind the
// bridge does not support, or two tables share a relation name.
func New(info *configv1.P4Info) (*Pipeline, error) {
	actions := make(map[uint32]p4bridge.ActionSchema, len(info.GetActions()))
	for _, a := range info.GetActions() {
		as := p4bridge.ActionSchema{ID: a.GetPreamble().GetId(), Name: a.GetPreamble().GetName()}
		for _, p := range a.GetParams() {
			as.Params = append(as.Params, p4bridge.ParamSchema{ID: p.GetId(), Name: p.GetName(), Bitwidth: p.GetBitwidth()})
		}
		actions[as.ID] = as
	}

	p := &Pipeline{
		info:   proto.Clone(info).(*configv1.P4Info),
		tables: make(map[uint32]*p4bridge.TableSchema, len(info.GetTables())),
		byName: make(map[string]*p4bridge.TableSchema, len(info.GetTables())),
	}
	relations := make(map[string]string)
	for _, t := range info.GetTables() {
		s := &p4bridge.TableSchema{
			ID:       t.GetPreamble().GetId(),
			Name:     t.GetPreamble().GetName(),
			Relation: RelationName(t.GetPreamble().GetName()),
			Actions:  make(map[uint32]p4bridge.ActionSchema, len(t.GetActionRefs())),
		}
		if s.ID == 0 {
			return nil, fmt.Errorf("table %q has no id", s.Name)
		}
		if _, dup := p.tables[s.ID]; dup {
			return nil, fmt.Errorf("duplicate table id %d", s.ID)
		}
		if other, dup := relations[s.Relation]; dup {
			return nil, fmt.Errorf("tables %q and %q map to the same relation %q", other, s.Name, s.Relation)
		}
		relations[s.Relation] = s.Name

		for _, mf := range t.GetMatchFields() {
			kind, err := matchKind(mf)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", s.Name, err)
			}
			if mf.GetBitwidth() <= 0 {
				return nil, fmt.Errorf("table %s: match field %s has no bitwidth", s.Name, mf.GetName())
			}
			s.Fields = append(s.Fields, p4bridge.MatchFieldSchema{
				ID:       mf.GetId(),
				Name:     mf.GetName(),
				Bitwidth: mf.GetBitwidth(),
				Kind:     kind,
			})
		}
		for _, ref := range t.GetActionRefs() {
			as, ok := actions[ref.GetId()]
			if !ok {
				return nil, fmt.Errorf("table %s: unknown action %d", s.Name, ref.GetId())
			}
			s.Actions[as.ID] = as
		}
		p.tables[s.ID] = s
		p.byName[s.Name] = s
	}
	return p, nil
}

func matchKind(mf *configv1.MatchField) (p4bridge.MatchKind, error) {
	switch mf.GetMatchType() {
	case configv1.MatchField_EXACT:
		return p4bridge.MatchExact, nil
	case configv1.MatchField_LPM:
		return p4bridge.MatchLPM, nil
	case configv1.MatchField_TERNARY:
		return p4bridge.MatchTernary, nil
	case configv1.MatchField_RANGE:
		return p4bridge.MatchRange, nil
	case configv1.MatchField_OPTIONAL:
		return p4bridge.MatchOptional, nil
	default:
		return p4bridge.MatchUnspecified, fmt.Errorf("match field %s: unsupported match type %v", mf.GetName(), mf.GetMatchType())
	}
}

// RelationName returns the evaluator relation holding the entries of
// the named table.
func RelationName(table string) string {
	return p4bridge.SanitizeName(table)
}

// P4Info returns the P4Info the pipeline was built from. Callers
// must not modify it.
func (p *Pipeline) P4Info() *configv1.P4Info {
	return p.info
}

// Table returns the schema of the table with the given id.
func (p *Pipeline) Table(id uint32) (*p4bridge.TableSchema, bool) {
	s, ok := p.tables[id]
	return s, ok
}

// TableByName returns the schema of the named table.
func (p *Pipeline) TableByName(name string) (*p4bridge.TableSchema, bool) {
	s, ok := p.byName[name]
	return s, ok
}

// Tables returns every schema ordered by table id.
func (p *Pipeline) Tables() []*p4bridge.TableSchema {
	out := make([]*p4bridge.TableSchema, 0, len(p.tables))
	for _, s := range p.tables {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *p4bridge.TableSchema) int {
		return int(int64(a.ID) - int64(b.ID))
	})
	return out
}

// Parse decodes a P4Info in either protobuf text or binary format.
// Text is tried first because P4 compilers emit .p4info.txt.
func Parse(data []byte) (*configv1.P4Info, error) {
	info := &configv1.P4Info{}
	textErr := prototext.Unmarshal(data, info)
	if textErr == nil {
		return info, nil
	}
	info = &configv1.P4Info{}
	if err := proto.Unmarshal(data, info); err != nil {
		return nil, fmt.Errorf("p4info is neither text (%v) nor binary protobuf (%w)", textErr, err)
	}
	return info, nil
}

// Load reads and builds the pipeline in the P4Info file at path.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read p4info: %w", err)
	}
	info, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(info)
}

// Describe renders the schemas in a compact human readable form.
func (p *Pipeline) Describe() string {
	var b strings.Builder
	for _, s := range p.Tables() {
		fmt.Fprintf(&b, "table %s (id %d, relation %s)\n", s.Name, s.ID, s.Relation)
		for _, f := range s.Fields {
			fmt.Fprintf(&b, "  match %s: %s bit<%d> (id %d)\n", f.Name, f.Kind, f.Bitwidth, f.ID)
		}
		ids := make([]uint32, 0, len(s.Actions))
		for id := range s.Actions {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			a := s.Actions[id]
			fmt.Fprintf(&b, "  action %s (id %d)", a.Name, a.ID)
			for _, prm := range a.Params {
				fmt.Fprintf(&b, " %s:bit<%d>", prm.Name, prm.Bitwidth)
			}
			b.WriteByte('\n')
		}
		if s.NeedsPriority() {
			b.WriteString("  requires priority\n")
		}
	}
	return b.String()
}
