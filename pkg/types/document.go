package types

import (
	"strconv"
	"strings"
)

// IDField is the document field that holds the persistence primary key.
const IDField = "_id"

// Document is the schemaless representation of a record as it is persisted
// and as it arrives from an upstream provider.
type Document map[string]any

// ID returns the persisted primary key, or "" if the document has none.
func (d Document) ID() string {
	return d.String(IDField)
}

// String returns the named field if it holds a string.
func (d Document) String(field string) string {
	if v, ok := d[field].(string); ok {
		return v
	}
	return ""
}

// Clone returns a deep copy of the document. Nested maps and slices are copied
// so the clone can be handed to another goroutine.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = cloneValue(vv)
		}
		return m
	case Document:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, vv := range t {
			s[i] = cloneValue(vv)
		}
		return s
	default:
		return v
	}
}

// ParseResidue extracts the protein position range from a residue label such
// as "R175", "G12", "T790M" or an in-frame range like "729-761".
func ParseResidue(residue string) (start, end int, ok bool) {
	residue = strings.TrimSpace(residue)
	if residue == "" {
		return 0, 0, false
	}
	if before, after, found := strings.Cut(residue, "-"); found {
		s, okS := firstNumber(before)
		e, okE := firstNumber(after)
		if !okS || !okE {
			return 0, 0, false
		}
		if e < s {
			s, e = e, s
		}
		return s, e, true
	}
	n, ok := firstNumber(residue)
	if !ok {
		return 0, 0, false
	}
	return n, n, true
}

// firstNumber returns the first run of decimal digits in s.
func firstNumber(s string) (int, bool) {
	i := strings.IndexAny(s, "0123456789")
	if i < 0 {
		return 0, false
	}
	j := i
	for j < len(s) && s[j] >= '0' && s[j] <= '9' {
		j++
	}
	n, err := strconv.Atoi(s[i:j])
	if err != nil {
		return 0, false
	}
	return n, true
}
