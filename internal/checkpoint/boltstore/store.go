// Package boltstore keeps checkpoints in a bbolt file. Every dataset is one
// key in a single bucket; compare-and-swap runs inside one bolt write
// transaction, which bbolt serializes.
package boltstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"silverload/internal/checkpoint"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const errFmtBucketNotFound = "boltstore: bucket '%s' not found"

// Store implements checkpoint.Store on bbolt.
type Store struct {
	db     *bolt.DB
	bucket []byte
}

var _ checkpoint.Store = (*Store)(nil)

// Open opens (creating if needed) the bolt file at path. bucket names the
// bucket holding checkpoints.
func Open(path, bucket string) (*Store, error) {
	if bucket == "" {
		bucket = "checkpoints"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "mkdir %s", filepath.Dir(path))
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt file %s", path)
	}
	s := &Store{db: db, bucket: []byte(bucket)}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	}); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "creating bucket: %s", bucket)
	}
	return s, nil
}

func (s *Store) Load(ctx context.Context, dataset string) (*checkpoint.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(s.bucket)
		if bkt == nil {
			return errors.Errorf(errFmtBucketNotFound, s.bucket)
		}
		if v := bkt.Get([]byte(dataset)); v != nil {
			// bolt values are only valid inside the transaction
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, checkpoint.ErrNotFound
	}
	return checkpoint.Decode(dataset, raw)
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
		return errors.Wrap(err, "encoding checkpoint")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(s.bucket)
		if bkt == nil {
			return errors.Errorf(errFmtBucketNotFound, s.bucket)
		}
		cur, err := checkpoint.RevisionOf(dataset, bkt.Get([]byte(dataset)))
		if err != nil {
			return err
		}
		if cur != expected {
			return checkpoint.ErrRevisionMismatch
		}
		return errors.Wrap(bkt.Put([]byte(dataset), b), "putting checkpoint")
	})
}

func (s *Store) Delete(ctx context.Context, dataset string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(s.bucket)
		if bkt == nil {
			return errors.Errorf(errFmtBucketNotFound, s.bucket)
		}
		return bkt.Delete([]byte(dataset))
	})
}

// Datasets lists the stored dataset names.
func (s *Store) Datasets() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(s.bucket)
		if bkt == nil {
			return errors.Errorf(errFmtBucketNotFound, s.bucket)
		}
		return bkt.ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
