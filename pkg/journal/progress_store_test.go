package journal_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/companion/pkg/journal"
	"github.com/dmitrymomot/companion/pkg/redis"
)

func sampleProgress() journal.Progress {
	checked := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	return journal.Progress{
		"2024-03-08": {Status: journal.Done, LastCheckedAt: checked},
		"2024-03-09": {Status: journal.Check1, LastCheckedAt: checked},
	}
}

func assertSameProgress(t *testing.T, want, got journal.Progress) {
	t.Helper()
	require.Len(t, got, len(want))
	for key, dp := range want {
		assert.Equal(t, dp.Status, got[key].Status, key)
		assert.True(t, dp.LastCheckedAt.Equal(got[key].LastCheckedAt), key)
	}
}

func TestFileProgressStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := journal.NewFileProgressStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	empty, err := store.Load(ctx, "cmdr")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.Save(ctx, "cmdr", sampleProgress()))
	got, err := store.Load(ctx, "cmdr")
	require.NoError(t, err)
	assertSameProgress(t, sampleProgress(), got)

	data, err := os.ReadFile(store.Path("cmdr"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status": "Check1"`)
	assert.Contains(t, string(data), `"lastCheckedAt": "2024-03-09T12:00:00Z"`)

	require.NoError(t, os.WriteFile(store.Path("broken"), []byte("{"), 0o644))
	_, err = store.Load(ctx, "broken")
	assert.ErrorIs(t, err, journal.ErrProgressCorrupt)
}

func TestRedisProgressStore_Unreachable(t *testing.T) {
	t.Parallel()

	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	store, err := journal.NewRedisProgressStore(client, "test:")
	require.NoError(t, err)

	assert.Equal(t, "test:journal:progress:cmdr", store.Key("cmdr"))
	_, err = store.Load(context.Background(), "cmdr")
	assert.ErrorIs(t, err, journal.ErrStoreFailed)
	assert.ErrorIs(t, store.Save(context.Background(), "cmdr", sampleProgress()), journal.ErrStoreFailed)

	_, err = journal.NewRedisProgressStore(nil, "")
	assert.ErrorIs(t, err, journal.ErrInvalidConfig)
}

func TestRedisProgressStore_RoundTrip(t *testing.T) {
	t.Parallel()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := redis.Connect(ctx, redis.Config{ConnectionURL: url, RetryAttempts: 1, ConnectTimeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	prefix := "companion-test:" + time.Now().Format("150405.000000") + ":"
	store, err := journal.NewRedisProgressStore(client, prefix)
	require.NoError(t, err)
	t.Cleanup(func() { client.Del(ctx, store.Key("cmdr")) })

	empty, err := store.Load(ctx, "cmdr")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.Save(ctx, "cmdr", sampleProgress()))
	got, err := store.Load(ctx, "cmdr")
	require.NoError(t, err)
	assertSameProgress(t, sampleProgress(), got)
}

func TestOpenProgressStore(t *testing.T) {
	t.Parallel()

	cfg := journal.DefaultConfig()
	cfg.ProgressDir = t.TempDir()
	ps, err := journal.OpenProgressStore(cfg, journal.ProgressBackends{})
	require.NoError(t, err)
	assert.IsType(t, &journal.FileProgressStore{}, ps)

	cfg.ProgressStore = journal.ProgressRedis
	_, err = journal.OpenProgressStore(cfg, journal.ProgressBackends{})
	assert.ErrorIs(t, err, journal.ErrInvalidConfig)

	cfg.ProgressStore = journal.ProgressPostgres
	_, err = journal.OpenProgressStore(cfg, journal.ProgressBackends{})
	assert.ErrorIs(t, err, journal.ErrInvalidConfig)

	cfg.ProgressStore = "carrier-pigeon"
	_, err = journal.OpenProgressStore(cfg, journal.ProgressBackends{})
	assert.ErrorIs(t, err, journal.ErrInvalidConfig)
}
