package builtin

import (
	"fmt"
	"strings"

	"silverload/internal/schema"
	"silverload/pkg/records"
)

// Dedupe policies.
const (
	// PolicyDeterministic keeps, per key, the record with the smallest
	// canonical encoding. The winner does not depend on input order, so a
	// retried run always produces the same row.
	PolicyDeterministic = "deterministic"
	// PolicyKeepFirst keeps the earliest occurrence in the batch.
	PolicyKeepFirst = "keep-first"
	// PolicyKeepLast keeps the latest occurrence in the batch.
	PolicyKeepLast = "keep-last"
	// PolicyMostComplete keeps the record with the most non-empty values;
	// ties go to the later record.
	PolicyMostComplete = "most-complete"
)

// DeDup collapses records sharing the business key to one winner chosen by
// Policy (PolicyDeterministic when empty).
//
// Key values are compared with their types, so the string "1" and the int 1
// are different keys. A missing key column counts as nil; all records with
// a nil key part share that part. The output holds one record per key in
// the order each key first appeared.
type DeDup struct {
	Keys   []string
	Policy string
}

// NewDeDup validates keys and policy.
func NewDeDup(keys []string, policy string) (DeDup, error) {
	if len(keys) == 0 {
		return DeDup{}, fmt.Errorf("dedupe_by_key: keys must not be empty")
	}
	switch policy {
	case "", PolicyDeterministic, PolicyKeepFirst, PolicyKeepLast, PolicyMostComplete:
	default:
		return DeDup{}, fmt.Errorf("dedupe_by_key: unknown policy %q", policy)
	}
	return DeDup{Keys: keys, Policy: policy}, nil
}

type slot struct {
	rec   records.Record
	index int
	score int
	canon string
}

// Apply executes the de-duplication.
func (d DeDup) Apply(in []records.Record) []records.Record {
	if len(in) == 0 || len(d.Keys) == 0 {
		return in
	}
	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	if policy == "" {
		policy = PolicyDeterministic
	}

	winners := make(map[string]*slot, len(in))
	order := make([]string, 0, len(in))

	for i, r := range in {
		key := records.KeyOf(r, d.Keys)
		prev, exists := winners[key]
		if !exists {
			order = append(order, key)
			s := &slot{rec: r, index: i}
			switch policy {
			case PolicyMostComplete:
				s.score = completeness(r)
			case PolicyDeterministic:
				s.canon = records.Canonical(r)
			}
			winners[key] = s
			continue
		}
		switch policy {
		case PolicyKeepFirst:
		case PolicyKeepLast:
			prev.rec, prev.index = r, i
		case PolicyMostComplete:
			if sc := completeness(r); sc >= prev.score {
				prev.rec, prev.index, prev.score = r, i, sc
			}
		default:
			if c := records.Canonical(r); c < prev.canon {
				prev.rec, prev.index, prev.canon = r, i, c
			}
		}
	}

	out := make([]records.Record, 0, len(order))
	for _, k := range order {
		out = append(out, winners[k].rec)
	}
	return out
}

func (d DeDup) MapSchema(s schema.Schema) schema.Schema { return s }

// completeness counts non-nil, non-empty values.
func completeness(r records.Record) int {
	n := 0
	for _, v := range r {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		n++
	}
	return n
}
