package compute

import (
	"bytes"
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/frobware/go-p4bridge"
)

// Canonical strips leading zero bytes from a P4Runtime bytestring.
// Zero is represented as a single zero byte. Pure function.
func Canonical(b []byte) []byte {
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return slices.Clone(b[i:])
}

// fits reports whether the canonical value b can be represented in
// bitwidth bits.
func fits(b []byte, bitwidth int32) bool {
	return new(big.Int).SetBytes(b).BitLen() <= int(bitwidth)
}

func invalid(format string, args ...any) error {
	return p4bridge.ErrInvalidArgument{Reason: fmt.Sprintf(format, args...)}
}

// NormalizeTableEntry validates a table entry against its schema and
// returns a copy with canonical bytestrings, matches sorted by field
// id and parameters sorted by id, so that equal keys compare equal.
// Pure function.
func NormalizeTableEntry(schema *p4bridge.TableSchema, e *p4bridge.TableEntry) (*p4bridge.TableEntry, error) {
	key, err := NormalizeTableKey(schema, e.Key)
	if err != nil {
		return nil, err
	}
	out := &p4bridge.TableEntry{Key: key, Value: e.Value.Clone()}
	if err := normalizeAction(schema, &out.Value.Action); err != nil {
		return nil, err
	}
	return out, nil
}

// NormalizeTableKey validates only the key of an entry. DELETE
// requests identify an entry by key and carry no action. Pure
// function.
func NormalizeTableKey(schema *p4bridge.TableSchema, k p4bridge.TableKey) (p4bridge.TableKey, error) {
	if k.IsDefault {
		return p4bridge.TableKey{}, p4bridge.ErrUnimplemented{What: "default action entry"}
	}
	out := k.Clone()
	seen := make(map[uint32]bool, len(out.Matches))

	for i := range out.Matches {
		m := &out.Matches[i]
		f, ok := schema.Field(m.FieldID)
		if !ok {
			return p4bridge.TableKey{}, invalid("table %s has no match field %d", schema.Name, m.FieldID)
		}
		if seen[m.FieldID] {
			return p4bridge.TableKey{}, invalid("duplicate match field %s", f.Name)
		}
		seen[m.FieldID] = true
		if m.Kind != f.Kind {
			return p4bridge.TableKey{}, invalid("match field %s is %s, not %s", f.Name, f.Kind, m.Kind)
		}
		if err := normalizeMatch(f, m); err != nil {
			return p4bridge.TableKey{}, err
		}
	}
	for _, f := range schema.Fields {
		if f.Kind == p4bridge.MatchExact && !seen[f.ID] {
			return p4bridge.TableKey{}, invalid("exact match field %s is mandatory", f.Name)
		}
	}
	p4bridge.SortMatches(out.Matches)

	if schema.NeedsPriority() {
		if out.Priority <= 0 {
			return p4bridge.TableKey{}, invalid("table %s requires a priority", schema.Name)
		}
	} else if out.Priority != 0 {
		return p4bridge.TableKey{}, invalid("table %s does not take a priority", schema.Name)
	}
	return out, nil
}

func normalizeMatch(f p4bridge.MatchFieldSchema, m *p4bridge.FieldMatch) error {
	if len(m.Value) == 0 {
		return invalid("match field %s has no value", f.Name)
	}
	m.Value = Canonical(m.Value)
	if !fits(m.Value, f.Bitwidth) {
		return invalid("value of %s does not fit in %d bits", f.Name, f.Bitwidth)
	}

	switch f.Kind {
	case p4bridge.MatchLPM:
		if m.PrefixLen <= 0 || m.PrefixLen > f.Bitwidth {
			return invalid("prefix length %d of %s out of range", m.PrefixLen, f.Name)
		}
		host := new(big.Int).Lsh(big.NewInt(1), uint(f.Bitwidth-m.PrefixLen))
		host.Sub(host, big.NewInt(1))
		if host.And(host, new(big.Int).SetBytes(m.Value)).Sign() != 0 {
			return invalid("value of %s has bits set beyond its prefix", f.Name)
		}
		m.Mask, m.High = nil, nil

	case p4bridge.MatchTernary:
		if len(m.Mask) == 0 {
			return invalid("ternary field %s has no mask", f.Name)
		}
		m.Mask = Canonical(m.Mask)
		if !fits(m.Mask, f.Bitwidth) {
			return invalid("mask of %s does not fit in %d bits", f.Name, f.Bitwidth)
		}
		mask := new(big.Int).SetBytes(m.Mask)
		if mask.Sign() == 0 {
			return invalid("ternary field %s has an all-zero mask; omit the field instead", f.Name)
		}
		v := new(big.Int).SetBytes(m.Value)
		if new(big.Int).AndNot(v, mask).Sign() != 0 {
			return invalid("value of %s has bits set outside its mask", f.Name)
		}
		m.High, m.PrefixLen = nil, 0

	case p4bridge.MatchRange:
		if len(m.High) == 0 {
			return invalid("range field %s has no high bound", f.Name)
		}
		m.High = Canonical(m.High)
		if !fits(m.High, f.Bitwidth) {
			return invalid("high bound of %s does not fit in %d bits", f.Name, f.Bitwidth)
		}
		lo, hi := new(big.Int).SetBytes(m.Value), new(big.Int).SetBytes(m.High)
		if lo.Cmp(hi) > 0 {
			return invalid("range of %s has low > high", f.Name)
		}
		if lo.Sign() == 0 && bytes.Equal(m.High, maxValue(f.Bitwidth)) {
			return invalid("range of %s covers every value; omit the field instead", f.Name)
		}
		m.Mask, m.PrefixLen = nil, 0

	default:
		m.Mask, m.High, m.PrefixLen = nil, nil, 0
	}
	return nil
}

func normalizeAction(schema *p4bridge.TableSchema, a *p4bridge.TableAction) error {
	as, ok := schema.Actions[a.ID]
	if !ok {
		return invalid("action %d is not legal for table %s", a.ID, schema.Name)
	}
	seen := make(map[uint32]bool, len(a.Params))
	for i := range a.Params {
		p := &a.Params[i]
		ps, ok := as.Param(p.ID)
		if !ok {
			return invalid("action %s has no parameter %d", as.Name, p.ID)
		}
		if seen[p.ID] {
			return invalid("duplicate parameter %s", ps.Name)
		}
		seen[p.ID] = true
		if len(p.Value) == 0 {
			return invalid("parameter %s has no value", ps.Name)
		}
		p.Value = Canonical(p.Value)
		if !fits(p.Value, ps.Bitwidth) {
			return invalid("parameter %s does not fit in %d bits", ps.Name, ps.Bitwidth)
		}
	}
	for _, ps := range as.Params {
		if !seen[ps.ID] {
			return invalid("action %s is missing parameter %s", as.Name, ps.Name)
		}
	}
	slices.SortFunc(a.Params, func(x, y p4bridge.ActionParam) int {
		return int(int64(x.ID) - int64(y.ID))
	})
	return nil
}

// TableEntryRecord builds the evaluator row for a normalized table
// entry. Column names derive from the schema's field and parameter
// names. Absent ternary, lpm and optional fields become wildcard
// rows (value 0 with a zero mask, prefix or validity flag); an
// absent range covers the whole domain. Pure function.
func TableEntryRecord(schema *p4bridge.TableSchema, e *p4bridge.TableEntry) p4bridge.Record {
	rec := p4bridge.Record{"priority": int64(e.Key.Priority)}

	for _, f := range schema.Fields {
		col := p4bridge.SanitizeName(f.Name)
		m, present := e.Key.Match(f.ID)
		switch f.Kind {
		case p4bridge.MatchExact:
			rec[col] = column(m.Value, f.Bitwidth)
		case p4bridge.MatchLPM:
			rec[col] = column(m.Value, f.Bitwidth)
			rec[col+"_plen"] = int64(m.PrefixLen)
		case p4bridge.MatchTernary:
			rec[col] = column(m.Value, f.Bitwidth)
			rec[col+"_mask"] = column(m.Mask, f.Bitwidth)
		case p4bridge.MatchRange:
			lo, hi := m.Value, m.High
			if !present {
				lo, hi = nil, maxValue(f.Bitwidth)
			}
			rec[col+"_lo"] = column(lo, f.Bitwidth)
			rec[col+"_hi"] = column(hi, f.Bitwidth)
		case p4bridge.MatchOptional:
			rec[col] = column(m.Value, f.Bitwidth)
			rec[col+"_valid"] = boolColumn(present)
		}
	}

	if as, ok := schema.Actions[e.Value.Action.ID]; ok {
		rec["action"] = shortName(as.Name)
		for _, ps := range as.Params {
			v, _ := e.Value.Action.Param(ps.ID)
			rec[p4bridge.SanitizeName(ps.Name)] = column(v, ps.Bitwidth)
		}
	}
	return rec
}

// column renders a bytestring as int64 when the field is narrower
// than 64 bits and as a big-endian blob of the field's byte width
// otherwise.
func column(b []byte, bitwidth int32) any {
	if bitwidth < 64 {
		var n int64
		for _, c := range b {
			n = n<<8 | int64(c)
		}
		return n
	}
	width := int(bitwidth+7) / 8
	out := make([]byte, width)
	if len(b) > width {
		b = b[len(b)-width:]
	}
	copy(out[width-len(b):], b)
	return out
}

func boolColumn(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func maxValue(bitwidth int32) []byte {
	n := new(big.Int).Lsh(big.NewInt(1), uint(bitwidth))
	return n.Sub(n, big.NewInt(1)).Bytes()
}

// shortName returns the last component of a dotted P4 name, such as
// "forward" for "ingress.forward".
func shortName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// TableQuery selects table entries for a read. A zero TableID
// selects every table; otherwise a zero Priority and an empty
// Matches act as wildcards.
type TableQuery struct {
	TableID  uint32
	Matches  []p4bridge.FieldMatch
	Priority int32
}

// Selects reports whether entry e is selected by the query. Every
// match the query names must be present in the entry with equal
// canonical contents. Pure function.
func (q TableQuery) Selects(e *p4bridge.TableEntry) bool {
	if q.TableID != 0 && q.TableID != e.Key.TableID {
		return false
	}
	if q.Priority != 0 && q.Priority != e.Key.Priority {
		return false
	}
	for _, qm := range q.Matches {
		em, ok := e.Key.Match(qm.FieldID)
		if !ok || !sameMatch(qm, em) {
			return false
		}
	}
	return true
}

func sameMatch(a, b p4bridge.FieldMatch) bool {
	return a.Kind == b.Kind &&
		bytes.Equal(Canonical(a.Value), b.Value) &&
		bytes.Equal(Canonical(a.Mask), b.Mask) &&
		bytes.Equal(Canonical(a.High), b.High) &&
		a.PrefixLen == b.PrefixLen
}
