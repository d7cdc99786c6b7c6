package builtin

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"silverload/internal/schema"
	"silverload/pkg/records"
)

// Bucket maps the numeric value of Column to a label and stores it in
// Target (Column itself when Target is empty).
//
// The label is Labels[i] for the first i with value < Boundaries[i], and the
// last label when value >= every boundary. With boundaries [150, 300] and
// labels [Short, Medium, Long]: 149 is Short, 150 and 299 are Medium, 300 is
// Long. Nil and non-numeric values produce nil.
type Bucket struct {
	Column     string
	Target     string
	Boundaries []float64
	Labels     []string
}

// NewBucket checks that boundaries strictly increase and that there is one
// more label than boundaries.
func NewBucket(column, target string, boundaries []float64, labels []string) (Bucket, error) {
	if len(labels) != len(boundaries)+1 {
		return Bucket{}, fmt.Errorf("bucket: %d boundaries need %d labels, got %d", len(boundaries), len(boundaries)+1, len(labels))
	}
	for i := 1; i < len(boundaries); i++ {
		if !(boundaries[i-1] < boundaries[i]) {
			return Bucket{}, fmt.Errorf("bucket: boundaries must be strictly increasing")
		}
	}
	if target == "" {
		target = column
	}
	return Bucket{Column: column, Target: target, Boundaries: boundaries, Labels: labels}, nil
}

func (b Bucket) target() string {
	if b.Target == "" {
		return b.Column
	}
	return b.Target
}

// Label returns the label for v, or nil.
func (b Bucket) Label(v any) any {
	f, ok := numeric(v)
	if !ok {
		return nil
	}
	// first boundary strictly greater than f
	i := sort.Search(len(b.Boundaries), func(i int) bool { return f < b.Boundaries[i] })
	if i >= len(b.Labels) {
		return nil
	}
	return b.Labels[i]
}

func (b Bucket) Apply(in []records.Record) []records.Record {
	t := b.target()
	for _, r := range in {
		r[t] = b.Label(r[b.Column])
	}
	return in
}

func (b Bucket) MapSchema(s schema.Schema) schema.Schema {
	return s.With(schema.Column{Name: b.target(), Type: schema.String, Nullable: true})
}

func numeric(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case int64:
		f = float64(t)
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
