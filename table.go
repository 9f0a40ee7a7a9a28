package p4bridge

import (
	"cmp"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// MatchKind is the match semantics of one match field.
type MatchKind uint8

const (
	MatchUnspecified MatchKind = iota
	MatchExact
	MatchLPM
	MatchTernary
	MatchRange
	MatchOptional
)

// String returns the P4 name of the match kind.
func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchLPM:
		return "lpm"
	case MatchTernary:
		return "ternary"
	case MatchRange:
		return "range"
	case MatchOptional:
		return "optional"
	default:
		return "unspecified"
	}
}

// MatchFieldSchema describes one match field of a table.
type MatchFieldSchema struct {
	ID       uint32
	Name     string
	Bitwidth int32
	Kind     MatchKind
}

// ParamSchema describes one parameter of an action.
type ParamSchema struct {
	ID       uint32
	Name     string
	Bitwidth int32
}

// ActionSchema describes an action a table may invoke.
type ActionSchema struct {
	ID     uint32
	Name   string
	Params []ParamSchema
}

// Param returns the parameter with the given id.
func (a ActionSchema) Param(id uint32) (ParamSchema, bool) {
	for _, p := range a.Params {
		if p.ID == id {
			return p, true
		}
	}
	return ParamSchema{}, false
}

// TableSchema identifies one abstract table: its match fields in
// declaration order and the actions it may invoke. A schema is
// immutable once built; a new pipeline replaces it wholesale.
type TableSchema struct {
	ID       uint32
	Name     string
	Relation string
	Fields   []MatchFieldSchema
	Actions  map[uint32]ActionSchema
}

// Field returns the match field with the given id.
func (s *TableSchema) Field(id uint32) (MatchFieldSchema, bool) {
	for _, f := range s.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return MatchFieldSchema{}, false
}

// NeedsPriority reports whether entries of this table must carry a
// non-zero priority, which is the case when any field is ternary,
// range or optional.
func (s *TableSchema) NeedsPriority() bool {
	for _, f := range s.Fields {
		switch f.Kind {
		case MatchTernary, MatchRange, MatchOptional:
			return true
		}
	}
	return false
}

// FieldMatch is the value one match field is matched against.
//
// Value holds the exact, lpm, ternary or optional value and the low
// bound of a range. Mask is the ternary mask, High the range upper
// bound and PrefixLen the lpm prefix length.
type FieldMatch struct {
	FieldID   uint32
	Kind      MatchKind
	Value     []byte
	Mask      []byte
	High      []byte
	PrefixLen int32
}

func (m FieldMatch) clone() FieldMatch {
	m.Value = slices.Clone(m.Value)
	m.Mask = slices.Clone(m.Mask)
	m.High = slices.Clone(m.High)
	return m
}

func (m FieldMatch) encode(b *strings.Builder) {
	fmt.Fprintf(b, "%d:%s:%s", m.FieldID, m.Kind, hex.EncodeToString(m.Value))
	switch m.Kind {
	case MatchLPM:
		fmt.Fprintf(b, "/%d", m.PrefixLen)
	case MatchTernary:
		fmt.Fprintf(b, "&%s", hex.EncodeToString(m.Mask))
	case MatchRange:
		fmt.Fprintf(b, "-%s", hex.EncodeToString(m.High))
	}
}

// TableKey identifies one table entry. Matches are kept sorted by
// field id so that equal keys have equal encodings.
type TableKey struct {
	TableID   uint32
	Matches   []FieldMatch
	Priority  int32
	IsDefault bool
}

// String returns the canonical encoding of the key. Two keys are
// equal iff their encodings are equal.
func (k TableKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%010d/%d/%t", k.TableID, k.Priority, k.IsDefault)
	for _, m := range k.Matches {
		b.WriteByte(' ')
		m.encode(&b)
	}
	return b.String()
}

// Clone returns a deep copy of the key.
func (k TableKey) Clone() TableKey {
	c := k
	c.Matches = make([]FieldMatch, len(k.Matches))
	for i, m := range k.Matches {
		c.Matches[i] = m.clone()
	}
	return c
}

// Match returns the match for the given field id.
func (k TableKey) Match(fieldID uint32) (FieldMatch, bool) {
	for _, m := range k.Matches {
		if m.FieldID == fieldID {
			return m, true
		}
	}
	return FieldMatch{}, false
}

// ActionParam binds one action parameter.
type ActionParam struct {
	ID    uint32
	Value []byte
}

// TableAction is the action chosen by an entry with its bound
// parameters.
type TableAction struct {
	ID     uint32
	Params []ActionParam
}

// Param returns the bound value of the given parameter.
func (a TableAction) Param(id uint32) ([]byte, bool) {
	for _, p := range a.Params {
		if p.ID == id {
			return p.Value, true
		}
	}
	return nil, false
}

// TableValue is the data associated with a TableKey.
type TableValue struct {
	Action             TableAction
	ControllerMetadata uint64
	Metadata           []byte
}

// Clone returns a deep copy of the value.
func (v TableValue) Clone() TableValue {
	c := v
	c.Action.Params = make([]ActionParam, len(v.Action.Params))
	for i, p := range v.Action.Params {
		c.Action.Params[i] = ActionParam{ID: p.ID, Value: slices.Clone(p.Value)}
	}
	c.Metadata = slices.Clone(v.Metadata)
	return c
}

// TableEntry is one row of an abstract table.
type TableEntry struct {
	Key   TableKey
	Value TableValue
}

// Clone returns a deep copy of the entry.
func (e *TableEntry) Clone() *TableEntry {
	return &TableEntry{Key: e.Key.Clone(), Value: e.Value.Clone()}
}

func (*TableEntry) isEntity() {}

// SortMatches orders matches by field id.
func SortMatches(matches []FieldMatch) {
	slices.SortFunc(matches, func(a, b FieldMatch) int {
		return cmp.Compare(a.FieldID, b.FieldID)
	})
}
