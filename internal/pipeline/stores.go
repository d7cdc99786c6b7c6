package pipeline

import (
	"github.com/redis/go-redis/v9"

	"silverload/internal/checkpoint"
	"silverload/internal/checkpoint/boltstore"
	"silverload/internal/checkpoint/inmem"
	"silverload/internal/checkpoint/redisstore"
	"silverload/internal/config"
	"silverload/internal/errs"
)

// OpenCheckpointStore returns the store cfg selects.
func OpenCheckpointStore(cfg config.Checkpoint) (checkpoint.Store, error) {
	switch cfg.Kind {
	case "memory":
		return inmem.New(), nil
	case "bolt", "":
		s, err := boltstore.Open(cfg.Path, cfg.Prefix)
		if err != nil {
			return nil, errs.Wrap(err, errs.CheckpointCorrupt, "open checkpoint store")
		}
		return s, nil
	case "redis":
		return redisstore.NewFromOptions(&redis.UniversalOptions{
			Addrs:    []string{cfg.Addr},
			Password: cfg.Password,
			DB:       cfg.DB,
		}, cfg.Prefix), nil
	}
	return nil, errs.Errorf(errs.ConfigInvalid, "unknown checkpoint kind %q", cfg.Kind)
}
