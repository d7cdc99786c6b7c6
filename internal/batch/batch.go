// Package batch holds the bounded record set produced by one read of the
// backlog and carried through transformation into the commit.
package batch

import (
	"fmt"
	"sort"
	"strings"

	"silverload/internal/schema"
	"silverload/pkg/records"

	"github.com/zeebo/xxh3"
)

// Batch is one run's worth of records for a single dataset.
type Batch struct {
	Dataset string

	// Units are the ids of the input units the records came from, in read
	// order. They are what the checkpoint ledger records on commit.
	Units []string

	// SourceSchema is the evolved source schema after reading these units.
	// It is persisted in the checkpoint.
	SourceSchema schema.Schema

	// Schema describes Records. It starts equal to SourceSchema and is
	// mapped by every transformation step.
	Schema schema.Schema

	Records []records.Record

	// Rescued counts records that carry a rescue marker from the read.
	Rescued int
}

// Len returns the number of records.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Records)
}

// Empty reports whether the batch covers no units.
func (b *Batch) Empty() bool { return b == nil || len(b.Units) == 0 }

// ID returns the batch id. See ID.
func (b *Batch) ID() string { return ID(b.Dataset, b.Units) }

// Clone returns a copy whose records and slices can be mutated freely.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	out.Units = append([]string(nil), b.Units...)
	out.SourceSchema = b.SourceSchema.Clone()
	out.Schema = b.Schema.Clone()
	out.Records = records.CloneAll(b.Records)
	return &out
}

// ID derives a deterministic batch id from the dataset and the set of unit
// ids. Order does not matter; a retry over the same units produces the same
// id, which the destination uses to detect a batch it already committed.
func ID(dataset string, units []string) string {
	sorted := append([]string(nil), units...)
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteString(dataset)
	for _, u := range sorted {
		b.WriteByte(0)
		b.WriteString(u)
	}
	h := xxh3.HashString128(b.String())
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}
