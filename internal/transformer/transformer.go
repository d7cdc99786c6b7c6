// Package transformer composes the builtin steps into the per-dataset
// transform stage.
package transformer

import (
	"fmt"

	"silverload/internal/batch"
	"silverload/internal/config"
	"silverload/internal/schema"
	"silverload/internal/transformer/builtin"
	"silverload/pkg/records"
)

type Transformer interface {
	Apply([]records.Record) []records.Record
}

// SchemaMapper is implemented by transformers that change the columns or
// column types of the records they rewrite.
type SchemaMapper interface {
	MapSchema(schema.Schema) schema.Schema
}

// Chain is an ordered list of transformers.
type Chain []Transformer

func (c Chain) Apply(in []records.Record) []records.Record {
	out := in
	for _, t := range c {
		out = t.Apply(out)
	}
	return out
}

// MapSchema threads s through every step that maps schemas.
func (c Chain) MapSchema(s schema.Schema) schema.Schema {
	out := s
	for _, t := range c {
		if m, ok := t.(SchemaMapper); ok {
			out = m.MapSchema(out)
		}
	}
	return out
}

// ApplyBatch runs the chain over a copy of b and returns the copy. b itself
// is not modified, so a failed commit can be retried from the same batch.
func (c Chain) ApplyBatch(b *batch.Batch) *batch.Batch {
	if b == nil {
		return nil
	}
	out := b.Clone()
	out.Records = c.Apply(out.Records)
	out.Schema = c.MapSchema(out.Schema)
	out.Rescued = 0
	for _, r := range out.Records {
		if r[records.RescuedColumn] != nil {
			out.Rescued++
		}
	}
	return out
}

// FromSteps builds a Chain from configured steps. A dedupe_by_key step
// without keys uses datasetKeys. When datasetKeys is set and no step dedupes
// on exactly those keys, a deterministic dedupe on them ends the chain.
func FromSteps(steps []config.Step, datasetKeys []string) (Chain, error) {
	c := make(Chain, 0, len(steps)+1)
	covered := len(datasetKeys) == 0
	for i, s := range steps {
		t, err := fromStep(s, datasetKeys)
		if err != nil {
			return nil, fmt.Errorf("transform[%d] (%s): %w", i, s.Op, err)
		}
		c = append(c, t)
		if s.Op == config.OpDedupeByKey && (len(s.Keys) == 0 || sameKeys(s.Keys, datasetKeys)) {
			covered = true
		}
	}
	if !covered {
		t, err := builtin.NewDeDup(datasetKeys, builtin.PolicyDeterministic)
		if err != nil {
			return nil, fmt.Errorf("dataset keys: %w", err)
		}
		c = append(c, t)
	}
	return c, nil
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, k := range a {
		set[k] = struct{}{}
	}
	for _, k := range b {
		if _, ok := set[k]; !ok {
			return false
		}
	}
	return true
}

func fromStep(s config.Step, datasetKeys []string) (Transformer, error) {
	switch s.Op {
	case config.OpDropColumns:
		if len(s.Columns) == 0 {
			return nil, fmt.Errorf("columns must not be empty")
		}
		return builtin.DropColumns{Columns: s.Columns}, nil
	case config.OpUppercase:
		if s.Column == "" {
			return nil, fmt.Errorf("column is required")
		}
		return builtin.Uppercase{Column: s.Column}, nil
	case config.OpStringReplace:
		if s.Column == "" {
			return nil, fmt.Errorf("column is required")
		}
		return builtin.NewStringReplace(s.Column, s.From, s.To, s.Regex)
	case config.OpBucket:
		if s.Column == "" {
			return nil, fmt.Errorf("column is required")
		}
		return builtin.NewBucket(s.Column, s.Target, s.Boundaries, s.Labels)
	case config.OpDedupeByKey:
		keys := s.Keys
		if len(keys) == 0 {
			keys = datasetKeys
		}
		return builtin.NewDeDup(keys, s.Policy)
	case config.OpEvictRescued:
		return builtin.EvictRescued{}, nil
	default:
		return nil, fmt.Errorf("unknown op %q", s.Op)
	}
}
