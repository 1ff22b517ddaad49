package journal

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store and progress store kinds accepted in Config.
const (
	StoreLocal       = "local"
	StoreS3          = "s3"
	ProgressFile     = "file"
	ProgressRedis    = "redis"
	ProgressPostgres = "postgres"
)

// ProgressBackends carries the connections a progress store may need. Only
// the one matching Config.ProgressStore is used.
type ProgressBackends struct {
	Redis       redis.UniversalClient
	RedisPrefix string
	Postgres    PgxDB
}

// OpenStore builds the journal store selected by cfg.Store.
func OpenStore(ctx context.Context, cfg Config, s3cfg S3Config, opts ...S3Option) (Store, error) {
	switch cfg.Store {
	case "", StoreLocal:
		return NewLocalStore(cfg.Dir)
	case StoreS3:
		return NewS3Store(ctx, s3cfg, opts...)
	default:
		return nil, fmt.Errorf("%w: unknown journal store %q", ErrInvalidConfig, cfg.Store)
	}
}

// OpenProgressStore builds the progress store selected by cfg.ProgressStore.
func OpenProgressStore(cfg Config, b ProgressBackends) (ProgressStore, error) {
	switch cfg.ProgressStore {
	case "", ProgressFile:
		return NewFileProgressStore(cfg.ProgressDir)
	case ProgressRedis:
		return NewRedisProgressStore(b.Redis, b.RedisPrefix)
	case ProgressPostgres:
		return NewPostgresProgressStore(b.Postgres)
	default:
		return nil, fmt.Errorf("%w: unknown progress store %q", ErrInvalidConfig, cfg.ProgressStore)
	}
}
