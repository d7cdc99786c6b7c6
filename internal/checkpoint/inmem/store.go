// Package inmem is a process-local checkpoint store. Checkpoints are kept
// encoded so callers never share memory with the store.
package inmem

import (
	"context"
	"sync"

	"silverload/internal/checkpoint"
)

// Store implements checkpoint.Store in memory.
type Store struct {
	mu   sync.Mutex
	data map[string][]byte
}

var _ checkpoint.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Load(ctx context.Context, dataset string) (*checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	b, ok := s.data[dataset]
	s.mu.Unlock()
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return checkpoint.Decode(dataset, b)
}

func (s *Store) CompareAndSwap(ctx context.Context, dataset string, expected int64, next *checkpoint.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkpoint.CheckNext(dataset, expected, next); err != nil {
		return err
	}
	b, err := checkpoint.Encode(next)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := checkpoint.RevisionOf(dataset, s.data[dataset])
	if err != nil {
		return err
	}
	if cur != expected {
		return checkpoint.ErrRevisionMismatch
	}
	s.data[dataset] = b
	return nil
}

func (s *Store) Delete(ctx context.Context, dataset string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.data, dataset)
	s.mu.Unlock()
	return nil
}

// Put stores raw bytes under dataset, bypassing validation. Tests use it to
// plant corrupt checkpoints.
func (s *Store) Put(dataset string, raw []byte) {
	s.mu.Lock()
	s.data[dataset] = append([]byte(nil), raw...)
	s.mu.Unlock()
}

func (s *Store) Close() error { return nil }
