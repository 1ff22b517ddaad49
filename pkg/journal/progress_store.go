package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/companion/pkg/capi"
)

// ProgressStore persists the progress map of each identity between passes.
type ProgressStore interface {
	// Load returns the stored progress, or an empty map when none is stored.
	Load(ctx context.Context, identity string) (Progress, error)
	Save(ctx context.Context, identity string, p Progress) error
}

// FileProgressStore keeps one JSON file per identity.
type FileProgressStore struct {
	dir string
}

// NewFileProgressStore creates a store writing under dir.
func NewFileProgressStore(dir string) (*FileProgressStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: progress directory is empty", ErrInvalidConfig)
	}
	return &FileProgressStore{dir: dir}, nil
}

// Path returns the progress file of identity.
func (s *FileProgressStore) Path(identity string) string {
	return filepath.Join(s.dir, capi.SafeFileName(identity)+".progress.json")
}

func (s *FileProgressStore) Load(_ context.Context, identity string) (Progress, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	data, err := os.ReadFile(s.Path(identity))
	if errors.Is(err, os.ErrNotExist) {
		return Progress{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return decodeProgress(data)
}

func (s *FileProgressStore) Save(_ context.Context, identity string, p Progress) error {
	if identity == "" {
		return ErrNoIdentity
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	if err := writeFileAtomic(s.Path(identity), data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return nil
}

// RedisProgressStore keeps progress maps as JSON strings in Redis.
type RedisProgressStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisProgressStore creates a store using client. Keys are
// keyPrefix + "journal:progress:" + identity.
func NewRedisProgressStore(client redis.UniversalClient, keyPrefix string) (*RedisProgressStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is nil", ErrInvalidConfig)
	}
	return &RedisProgressStore{client: client, keyPrefix: keyPrefix}, nil
}

// Key returns the Redis key of identity.
func (s *RedisProgressStore) Key(identity string) string {
	return s.keyPrefix + "journal:progress:" + identity
}

func (s *RedisProgressStore) Load(ctx context.Context, identity string) (Progress, error) {
	if identity == "" {
		return nil, ErrNoIdentity
	}
	data, err := s.client.Get(ctx, s.Key(identity)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Progress{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return decodeProgress(data)
}

func (s *RedisProgressStore) Save(ctx context.Context, identity string, p Progress) error {
	if identity == "" {
		return ErrNoIdentity
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	if err := s.client.Set(ctx, s.Key(identity), data, 0).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailed, err)
	}
	return nil
}

func decodeProgress(data []byte) (Progress, error) {
	p := Progress{}
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProgressCorrupt, err)
	}
	return p, nil
}
