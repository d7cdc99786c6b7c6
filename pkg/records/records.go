// Package records defines the row representation shared by every stage of a
// run: readers produce records, transformers rewrite them and the commit
// writer hands them to the destination table.
package records

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RescuedColumn is the quarantine column. Values that do not fit the dataset
// schema are moved here (as a JSON object string) instead of failing the run.
const RescuedColumn = "_rescued_data"

// Record is a single row keyed by column name. Values are limited to nil,
// string, int64, float64 and bool once a record has been through a reader.
type Record map[string]any

// Clone returns a shallow copy of r. Values are immutable scalars, so a
// shallow copy is enough to keep the original untouched.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Keys returns the column names of r in lexical order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CloneAll clones every record of in into a new slice.
func CloneAll(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// Canonical encodes r independent of map iteration order: columns sorted by
// name, each value tagged with its type. Nil values and absent columns
// encode the same.
func Canonical(r Record) string {
	keys := make([]string, 0, len(r))
	for k, v := range r {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.Quote(k))
		b.WriteByte('=')
		writeValue(&b, r[k])
		b.WriteByte(';')
	}
	return b.String()
}

// KeyOf encodes the values of the key columns of r. Values compare with
// their types, so the string "1" and the int 1 differ. Missing columns
// encode as nil.
func KeyOf(r Record, keys []string) string {
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		writeValue(&b, r[k])
	}
	return b.String()
}

func writeValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteByte('\x00')
	case string:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(t))
	case int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(t, 10))
	case float64:
		b.WriteString("f:")
		b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(t))
	default:
		fmt.Fprintf(b, "%T:%v", t, t)
	}
}

// SortCanonical orders recs by their Canonical encoding.
func SortCanonical(recs []Record) {
	enc := make(map[int]string, len(recs))
	idx := make([]int, len(recs))
	for i, r := range recs {
		idx[i] = i
		enc[i] = Canonical(r)
	}
	sort.SliceStable(idx, func(a, b int) bool { return enc[idx[a]] < enc[idx[b]] })
	sorted := make([]Record, len(recs))
	for i, j := range idx {
		sorted[i] = recs[j]
	}
	copy(recs, sorted)
}
