// Package schema models the logical, evolvable schema of a dataset.
//
// A schema is an ordered list of columns. Columns are only ever added
// (additive evolution); a column changing type is an incompatibility. The
// schema version stored in checkpoints and commit markers is the Fingerprint
// of the column list.
package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
)

// Type is a logical column type. Destination backends map it to SQL types.
type Type string

const (
	String Type = "string"
	Int    Type = "int"
	Float  Type = "float"
	Bool   Type = "bool"
)

// Valid reports whether t is one of the known logical types.
func (t Type) Valid() bool {
	switch t {
	case String, Int, Float, Bool:
		return true
	}
	return false
}

// Column is a single named, typed column.
type Column struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Schema is an ordered column list.
type Schema struct {
	Columns []Column `json:"columns"`
}

// IncompatibleError describes a column whose type cannot be reconciled.
type IncompatibleError struct {
	Column string
	Have   Type
	Got    Type
}

func (e *IncompatibleError) Error() string {
	return fmt.Sprintf("column %q: cannot merge type %s into %s", e.Column, e.Got, e.Have)
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.Columns) }

// Index returns the position of name, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Lookup returns the column called name.
func (s Schema) Lookup(name string) (Column, bool) {
	if i := s.Index(name); i >= 0 {
		return s.Columns[i], true
	}
	return Column{}, false
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Clone returns a deep copy of s.
func (s Schema) Clone() Schema {
	if s.Columns == nil {
		return Schema{}
	}
	cols := make([]Column, len(s.Columns))
	copy(cols, s.Columns)
	return Schema{Columns: cols}
}

// Without returns s minus the named columns. Absent names are ignored.
func (s Schema) Without(names ...string) Schema {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := Schema{Columns: make([]Column, 0, len(s.Columns))}
	for _, c := range s.Columns {
		if _, ok := drop[c.Name]; !ok {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// With returns s with col replacing the column of the same name, or appended
// when no such column exists.
func (s Schema) With(col Column) Schema {
	out := s.Clone()
	if i := out.Index(col.Name); i >= 0 {
		out.Columns[i] = col
		return out
	}
	out.Columns = append(out.Columns, col)
	return out
}

// Fingerprint returns a short, stable identifier of the column list. Two
// schemas with the same columns in the same order share a fingerprint.
func (s Schema) Fingerprint() string {
	var b strings.Builder
	for _, c := range s.Columns {
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(string(c.Type))
		if c.Nullable {
			b.WriteString("?")
		}
		b.WriteByte('\n')
	}
	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))
}

// Merge unions next into base. Columns new to base are appended as nullable
// in next's order. An Int column arriving where base has Float is accepted;
// every other type change returns an *IncompatibleError.
func Merge(base, next Schema) (Schema, error) {
	out := base.Clone()
	for _, c := range next.Columns {
		have, ok := out.Lookup(c.Name)
		if !ok {
			c.Nullable = true
			out.Columns = append(out.Columns, c)
			continue
		}
		if _, ok := Widen(have.Type, c.Type); !ok {
			return base, &IncompatibleError{Column: c.Name, Have: have.Type, Got: c.Type}
		}
	}
	return out, nil
}

// Widen reports whether a value of type got fits a column of type have, and
// the column type that results.
func Widen(have, got Type) (Type, bool) {
	switch {
	case have == got:
		return have, true
	case have == Float && got == Int:
		return Float, true
	}
	return have, false
}

// TypeOf returns the logical type of a normalized value. nil has no type.
func TypeOf(v any) (Type, bool) {
	switch v.(type) {
	case nil:
		return "", false
	case string:
		return String, true
	case int64:
		return Int, true
	case float64:
		return Float, true
	case bool:
		return Bool, true
	}
	return String, true
}

// Normalize converts decoder output into the closed value set used by
// records: nil, string, int64, float64, bool. Anything else is rendered as a
// string.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, string, int64, float64, bool:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case float32:
		return float64(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []byte:
		return string(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// Coerce converts a normalized value to column type t. It reports false when
// the value does not fit; nil always fits.
func Coerce(v any, t Type) (any, bool) {
	got, ok := TypeOf(v)
	if !ok {
		return nil, true
	}
	if got == t {
		return v, true
	}
	if t == Float && got == Int {
		return float64(v.(int64)), true
	}
	return v, false
}

// ParseScalar narrows a raw text value (CSV) to int64, float64 or bool when it
// parses cleanly, otherwise it returns the string unchanged.
func ParseScalar(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
