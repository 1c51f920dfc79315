package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamishibai/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(key, payload string, ttl time.Duration) types.CacheEntry {
	now := time.Now()
	return types.CacheEntry{
		Key:            key,
		Payload:        payload,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := entry("scene:toilet/0", "トイレに行ってみよう", time.Hour)
	require.NoError(t, s.Put(ctx, e))

	got, err := s.Get(ctx, "scene:toilet/0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, e.Payload, got.Payload)
	assert.Equal(t, e.ExpiresAt.UnixNano(), got.ExpiresAt.UnixNano())
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Get(context.Background(), "scene:nowhere/9")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutUpsertsSameKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("guide:barber", "v1", time.Hour)))
	require.NoError(t, s.Put(ctx, entry("guide:barber", "v2", time.Hour)))

	got, err := s.Get(ctx, "guide:barber")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "v2", got.Payload)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "upsert must keep at most one live row per key")
}

func TestTableRouting(t *testing.T) {
	// Category prefix routes each key to its own table; everything still
	// round-trips and Count sums across all of them.
	s := newTestStore(t)
	ctx := context.Background()

	keys := []string{"scene:toilet/0", "guide:barber", "answer:q1", "garbage-key"}
	for _, key := range keys {
		require.NoError(t, s.Put(ctx, entry(key, "payload-"+key, time.Hour)))
	}

	for _, key := range keys {
		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got, "key %s did not round-trip", key)
		assert.Equal(t, "payload-"+key, got.Payload)
	}

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(keys), count)
}

func TestDeleteIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("scene:park/1", "x", time.Hour)))
	require.NoError(t, s.Delete(ctx, "scene:park/1"))
	require.NoError(t, s.Delete(ctx, "scene:park/1"), "deleting a missing row is not an error")

	got, err := s.Get(ctx, "scene:park/1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTouchUpdatesLastAccessed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("scene:park/0", "x", time.Hour)))

	later := time.Now().Add(10 * time.Minute)
	require.NoError(t, s.Touch(ctx, "scene:park/0", later))

	got, err := s.Get(ctx, "scene:park/0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, later.UnixNano(), got.LastAccessedAt.UnixNano())
}

func TestLeastRecentAcrossTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now()
	for i, key := range []string{"scene:a/0", "guide:b", "answer:c"} {
		e := entry(key, "x", time.Hour)
		e.LastAccessedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Put(ctx, e))
	}

	// The oldest access lives in the scene table; LeastRecent must find it
	// even though the other tables have rows too.
	victim, err := s.LeastRecent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "scene:a/0", victim)

	// Touching the old one forward shifts the victim.
	require.NoError(t, s.Touch(ctx, "scene:a/0", base.Add(time.Hour)))
	victim, err = s.LeastRecent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "guide:b", victim)
}

func TestLeastRecentEmptyStore(t *testing.T) {
	s := newTestStore(t)
	victim, err := s.LeastRecent(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", victim)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, entry("scene:old/0", "x", -time.Minute)))
	require.NoError(t, s.Put(ctx, entry("guide:old", "x", -time.Minute)))
	require.NoError(t, s.Put(ctx, entry("scene:live/0", "x", time.Hour)))

	removed, err := s.Sweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err := s.Get(ctx, "scene:live/0")
	require.NoError(t, err)
	assert.NotNil(t, got, "live entry must survive the sweep")
}

func TestClearEmptiesEveryTable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"scene:a/0", "guide:b", "answer:c", "junk"} {
		require.NoError(t, s.Put(ctx, entry(key, "x", time.Hour)))
	}
	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.db")
	ctx := context.Background()

	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, entry("scene:toilet/2", "persisted", time.Hour)))
	require.NoError(t, s.Close())

	s2, err := NewStore(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, "scene:toilet/2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "persisted", got.Payload)
}
