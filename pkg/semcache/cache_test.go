package semcache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := Open(context.Background(), db, cfg)
	require.NoError(t, err)
	return c
}

func TestOpenValidation(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = Open(context.Background(), nil, Config{})
	assert.Error(t, err)

	_, err = Open(context.Background(), db, Config{TTL: -time.Hour})
	assert.Error(t, err)
}

func TestStoreAndLookup(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "what is Go?", []float32{1, 0}, "a programming language"))

	entry, ok, err := c.Lookup(ctx, "what is Go?")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a programming language", entry.Response)
	assert.Equal(t, 1, entry.HitCount)

	// Exact-string matching only; a rephrased query misses.
	_, ok, err = c.Lookup(ctx, "What is Go?")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupBumpsHitCount(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()
	require.NoError(t, c.Store(ctx, "q", nil, "r"))

	for want := 1; want <= 3; want++ {
		entry, ok, err := c.Lookup(ctx, "q")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, entry.HitCount)
	}
}

func TestStoreEmptyQuery(t *testing.T) {
	c := newTestCache(t, Config{})
	assert.Error(t, c.Store(context.Background(), "", nil, "r"))
}

func TestExpiredEntryIsMiss(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Hour})
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Store(ctx, "q", []float32{1, 0}, "r"))

	// Still fresh just before the horizon.
	c.now = func() time.Time { return base.Add(59 * time.Minute) }
	_, ok, err := c.Lookup(ctx, "q")
	require.NoError(t, err)
	assert.True(t, ok)

	// Past the horizon the entry reads as a miss and is purged.
	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok, err = c.Lookup(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestStoreResetsExpiry(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Hour})
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Store(ctx, "q", nil, "old"))

	// Re-storing near the end of life pushes the horizon out and replaces
	// the response.
	c.now = func() time.Time { return base.Add(50 * time.Minute) }
	require.NoError(t, c.Store(ctx, "q", nil, "new"))

	c.now = func() time.Time { return base.Add(90 * time.Minute) }
	entry, ok, err := c.Lookup(ctx, "q")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", entry.Response)
}

func TestLookupSimilar(t *testing.T) {
	c := newTestCache(t, Config{SimilarityThreshold: 0.95})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "capital of france", []float32{1, 0, 0}, "Paris"))
	require.NoError(t, c.Store(ctx, "tallest mountain", []float32{0, 1, 0}, "Everest"))

	// Close to the first entry.
	entry, ok, err := c.LookupSimilar(ctx, []float32{0.99, 0.05, 0}, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Paris", entry.Response)
	assert.GreaterOrEqual(t, entry.Similarity, 0.95)

	// Equidistant from both and below the threshold.
	_, ok, err = c.LookupSimilar(ctx, []float32{0.7, 0.7, 0}, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// A per-call threshold overrides the configured one.
	_, ok, err = c.LookupSimilar(ctx, []float32{0.7, 0.7, 0}, 0.5)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLookupSimilarSkipsExpired(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Hour})
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Store(ctx, "q", []float32{1, 0}, "r"))

	c.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, ok, err := c.LookupSimilar(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupSimilarInvalidVector(t *testing.T) {
	c := newTestCache(t, Config{})
	_, _, err := c.LookupSimilar(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestSweep(t *testing.T) {
	c := newTestCache(t, Config{TTL: time.Hour})
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Store(ctx, "old1", nil, "r"))
	require.NoError(t, c.Store(ctx, "old2", nil, "r"))

	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.NoError(t, c.Store(ctx, "fresh", nil, "r"))

	c.now = func() time.Time { return base.Add(70 * time.Minute) }
	removed, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err := c.Lookup(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReset(t *testing.T) {
	c := newTestCache(t, Config{})
	ctx := context.Background()

	require.NoError(t, c.Store(ctx, "q", nil, "r"))
	require.NoError(t, c.Reset(ctx))

	n, err := c.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// Idempotent on an empty cache.
	require.NoError(t, c.Reset(ctx))
}
