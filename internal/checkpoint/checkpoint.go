// Package checkpoint defines the durable per-dataset progress document and
// the compare-and-swap store it lives in.
//
// A checkpoint records the ledger of consumed input units, the evolved
// source schema, and the destination table version the ledger corresponds
// to. It is only ever replaced through CompareAndSwap, so two writers can
// never both advance from the same revision.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"silverload/internal/schema"

	json "github.com/goccy/go-json"
)

var (
	// ErrNotFound is returned by Load when no checkpoint exists.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrRevisionMismatch is returned by CompareAndSwap when the stored
	// revision is not the expected one.
	ErrRevisionMismatch = errors.New("checkpoint revision mismatch")
	// ErrCorrupt is returned when a stored checkpoint cannot be decoded.
	ErrCorrupt = errors.New("checkpoint corrupt")
)

// Checkpoint is the durable progress record of one dataset.
type Checkpoint struct {
	Dataset string `json:"dataset"`

	// Revision increases by one on every successful swap. Zero means the
	// checkpoint has never been stored.
	Revision int64 `json:"revision"`

	// Units is the ledger of consumed unit ids, in consumption order.
	Units []string `json:"units"`

	Schema        schema.Schema `json:"schema"`
	SchemaVersion string        `json:"schema_version,omitempty"`

	// TableVersion is the destination table version whose commit included
	// the last ledger entries.
	TableVersion int64  `json:"table_version"`
	LastBatchID  string `json:"last_batch_id,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`

	ledger map[string]struct{}
}

// Empty returns the revision-0 checkpoint of a dataset that never ran.
func Empty(dataset string) *Checkpoint {
	return &Checkpoint{Dataset: dataset}
}

// Consumed reports whether unit id is in the ledger.
func (c *Checkpoint) Consumed(id string) bool {
	if c.ledger == nil || len(c.ledger) != len(c.Units) {
		c.ledger = make(map[string]struct{}, len(c.Units))
		for _, u := range c.Units {
			c.ledger[u] = struct{}{}
		}
	}
	_, ok := c.ledger[id]
	return ok
}

// Next returns a copy of c at the following revision with units appended to
// the ledger. Units already in the ledger are not repeated.
func (c *Checkpoint) Next(units []string) *Checkpoint {
	out := c.Clone()
	out.Revision = c.Revision + 1
	for _, u := range units {
		if !out.Consumed(u) {
			out.Units = append(out.Units, u)
			out.ledger[u] = struct{}{}
		}
	}
	return out
}

// Clone returns a deep copy of c.
func (c *Checkpoint) Clone() *Checkpoint {
	out := *c
	out.Units = append([]string(nil), c.Units...)
	out.Schema = c.Schema.Clone()
	out.ledger = nil
	return &out
}

// SortedUnits returns the ledger in lexical order.
func (c *Checkpoint) SortedUnits() []string {
	out := append([]string(nil), c.Units...)
	sort.Strings(out)
	return out
}

// Encode serializes c.
func Encode(c *Checkpoint) ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a stored checkpoint and checks that it belongs to dataset.
// Any failure wraps ErrCorrupt.
func Decode(dataset string, data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, dataset, err)
	}
	switch {
	case c.Dataset != dataset:
		return nil, fmt.Errorf("%w: %s: stored checkpoint belongs to %q", ErrCorrupt, dataset, c.Dataset)
	case c.Revision <= 0:
		return nil, fmt.Errorf("%w: %s: invalid revision %d", ErrCorrupt, dataset, c.Revision)
	case c.TableVersion < 0:
		return nil, fmt.Errorf("%w: %s: invalid table version %d", ErrCorrupt, dataset, c.TableVersion)
	}
	for _, col := range c.Schema.Columns {
		if !col.Type.Valid() {
			return nil, fmt.Errorf("%w: %s: column %q has unknown type %q", ErrCorrupt, dataset, col.Name, col.Type)
		}
	}
	return &c, nil
}

// Store persists checkpoints keyed by dataset name.
type Store interface {
	// Load returns the stored checkpoint, ErrNotFound, or an error wrapping
	// ErrCorrupt.
	Load(ctx context.Context, dataset string) (*Checkpoint, error)
	// CompareAndSwap stores next when the current revision (0 when absent)
	// equals expected, else it returns ErrRevisionMismatch. next.Revision
	// must be expected+1.
	CompareAndSwap(ctx context.Context, dataset string, expected int64, next *Checkpoint) error
	// Delete removes the checkpoint. Deleting a missing checkpoint is not an
	// error.
	Delete(ctx context.Context, dataset string) error
	Close() error
}

// CheckNext validates the arguments of CompareAndSwap. Stores call it before
// touching their backend.
func CheckNext(dataset string, expected int64, next *Checkpoint) error {
	if next == nil {
		return fmt.Errorf("checkpoint %s: nil checkpoint", dataset)
	}
	if next.Dataset != dataset {
		return fmt.Errorf("checkpoint %s: checkpoint is for %q", dataset, next.Dataset)
	}
	if next.Revision != expected+1 {
		return fmt.Errorf("checkpoint %s: next revision %d does not follow %d", dataset, next.Revision, expected)
	}
	return nil
}

// RevisionOf decodes just enough of data to read the stored revision.
func RevisionOf(dataset string, data []byte) (int64, error) {
	if data == nil {
		return 0, nil
	}
	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrCorrupt, dataset, err)
	}
	return head.Revision, nil
}
