// Package datasource lists and opens the immutable input units of a dataset.
//
// A unit is one file or object. Units are never modified once written; new
// data only arrives as new units. Store implementations register themselves
// by kind (see Register) the same way storage backends do.
package datasource

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"silverload/internal/config"
)

// Unit is one immutable input file.
type Unit struct {
	// ID identifies the unit within its store: a slash separated relative
	// path or an object key.
	ID      string
	Size    int64
	ModTime time.Time
}

// Store is a hierarchical location holding a dataset's units.
type Store interface {
	// List returns every unit currently present.
	List(ctx context.Context) ([]Unit, error)
	// Open returns the unit's content.
	Open(ctx context.Context, id string) (io.ReadCloser, error)
	// Location describes the store for logs.
	Location() string
}

// ErrUnitNotFound is returned (wrapped) by Open for a missing unit.
var ErrUnitNotFound = fmt.Errorf("unit not found")

// Factory builds a Store from a dataset source config.
type Factory func(ctx context.Context, cfg config.Source) (Store, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a store kind available to New. It panics on duplicates.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("datasource: Register called twice for kind " + kind)
	}
	factories[kind] = f
}

// New builds the store selected by cfg.Kind.
func New(ctx context.Context, cfg config.Source) (Store, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("datasource: unknown kind %q (registered: %v)", cfg.Kind, ListKinds())
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds in lexical order.
func ListKinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Hidden reports whether a base name is bookkeeping rather than data, e.g.
// ".staging" or "_SUCCESS".
func Hidden(base string) bool {
	return len(base) > 0 && (base[0] == '.' || base[0] == '_')
}
