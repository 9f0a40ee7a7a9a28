package p4bridge

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// RelationID is an opaque handle on an evaluator relation, resolved
// once by name.
type RelationID int

// Record is one row of a relation keyed by column name. Values are
// int64, string, []byte or nil.
type Record map[string]any

// Columns returns the column names of the record in sorted order.
func (r Record) Columns() []string {
	return slices.Sorted(maps.Keys(r))
}

// String formats the record with columns in sorted order.
func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r.Columns() {
		if i > 0 {
			b.WriteString(", ")
		}
		switch v := r[c].(type) {
		case []byte:
			fmt.Fprintf(&b, "%s: 0x%x", c, v)
		case string:
			fmt.Fprintf(&b, "%s: %q", c, v)
		default:
			fmt.Fprintf(&b, "%s: %v", c, v)
		}
	}
	b.WriteByte('}')
	return b.String()
}

// DeltaRow is one change to a relation: Weight is +1 for an added
// row and -1 for a removed row.
type DeltaRow struct {
	Relation RelationID
	Record   Record
	Weight   int
}

// Delta is the ordered set of changes one committed evaluator
// transaction produced.
type Delta []DeltaRow

// Text returns a text column, accepting drivers that scan TEXT as
// either string or []byte.
func (r Record) Text(col string) (string, bool) {
	switch v := r[col].(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	default:
		return "", false
	}
}

// SanitizeName maps a P4 name such as "ingress.dmac" or
// "hdr.eth.dst" to a relation or column name by replacing every
// character that is not a letter, digit or underscore with '_'.
func SanitizeName(name string) string {
	b := []byte(name)
	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		default:
			b[i] = '_'
		}
	}
	return string(b)
}
