// Package redisstore keeps checkpoints in Redis. Compare-and-swap uses
// WATCH/MULTI so a concurrent writer aborts the transaction.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"silverload/internal/checkpoint"

	"github.com/redis/go-redis/v9"
)

// Store implements checkpoint.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string
}

var _ checkpoint.Store = (*Store)(nil)

// New returns a store using client. Keys are "<prefix>:checkpoint:<dataset>".
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "silverload"
	}
	return &Store{client: client, prefix: prefix}
}

// NewFromOptions builds the client from options.
func NewFromOptions(opts *redis.UniversalOptions, prefix string) *Store {
	return New(redis.NewUniversalClient(opts), prefix)
}

func (s *Store) key(dataset string) string {
	return s.prefix + ":checkpoint:" + dataset
}

func (s *Store) Load(ctx context.Context, dataset string) (*checkpoint.Checkpoint, error) {
	b, err := s.client.Get(ctx, s.key(dataset)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redisstore: get %s: %w", dataset, err)
	}
	return checkpoint.Decode(dataset, b)
}

func (s *Store) CompareAndSwap(ctx context.Context, dataset string, expected int64, next *checkpoint.Checkpoint) error {
	if err := checkpoint.CheckNext(dataset, expected, next); err != nil {
		return err
	}
	b, err := checkpoint.Encode(next)
	if err != nil {
		return err
	}
	key := s.key(dataset)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		rev, err := checkpoint.RevisionOf(dataset, cur)
		if err != nil {
			return err
		}
		if rev != expected {
			return checkpoint.ErrRevisionMismatch
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return checkpoint.ErrRevisionMismatch
	}
	if err != nil && !errors.Is(err, checkpoint.ErrRevisionMismatch) && !errors.Is(err, checkpoint.ErrCorrupt) {
		return fmt.Errorf("redisstore: swap %s: %w", dataset, err)
	}
	return err
}

func (s *Store) Delete(ctx context.Context, dataset string) error {
	if err := s.client.Del(ctx, s.key(dataset)).Err(); err != nil {
		return fmt.Errorf("redisstore: delete %s: %w", dataset, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
