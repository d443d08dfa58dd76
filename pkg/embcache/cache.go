// Package embcache is a content-addressed cache of embedding vectors. It
// spares repeated calls to an external embedding provider: a vector is
// computed at most once per (embedder, content hash) pair and persisted in
// SQLite, with a capacity-bounded LRU layer in front for hot entries.
package embcache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/retriva/retriva/internal/encoding"
	"github.com/retriva/retriva/pkg/store"
)

// ComputeFunc produces an embedding vector for a piece of content. It is
// only invoked on a cache miss and its result is only stored on success.
type ComputeFunc func(ctx context.Context) ([]float32, error)

// Config configures the cache.
type Config struct {
	// Capacity bounds the in-memory LRU layer. The persistent layer is not
	// bounded; it grows with distinct content only. Zero means
	// DefaultCapacity.
	Capacity int
	// Logger receives structured log output. Nil means store.NopLogger.
	Logger store.Logger
}

// DefaultCapacity is the LRU entry bound when Config.Capacity is zero.
const DefaultCapacity = 4096

// Cache deduplicates embedding computation by content hash.
type Cache struct {
	db     *sql.DB
	hot    *lru.Cache[string, []float32]
	flight singleflight.Group
	logger store.Logger
}

// Open creates the cache table if needed and returns a cache over the given
// database handle. The handle is shared with its owner and not closed here.
func Open(ctx context.Context, db *sql.DB, cfg Config) (*Cache, error) {
	if db == nil {
		return nil, errors.New("embcache: database handle cannot be nil")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = store.NopLogger()
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS embedding_cache (
		embedder_name TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (embedder_name, content_hash)
	);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("embcache: failed to create schema: %w", err)
	}

	hot, err := lru.New[string, []float32](cfg.Capacity)
	if err != nil {
		return nil, fmt.Errorf("embcache: %w", err)
	}

	return &Cache{db: db, hot: hot, logger: cfg.Logger}, nil
}

// GetOrCompute returns the cached vector for (embedder, content), invoking
// compute on a miss. Concurrent misses for the same key are collapsed into
// a single computation; when a race slips through anyway, the insert is
// conflict-ignored and the first writer wins, so both callers still get a
// correct vector. Failed computations are never stored.
func (c *Cache) GetOrCompute(ctx context.Context, embedder, content string, compute ComputeFunc) ([]float32, error) {
	if embedder == "" {
		return nil, errors.New("embcache: embedder name cannot be empty")
	}

	hash := ContentHash(content)
	key := embedder + "\x00" + hash

	if vec, ok := c.hot.Get(key); ok {
		return vec, nil
	}

	// singleflight collapses concurrent misses; the flight itself may block
	// on provider network I/O without holding any cache-wide lock.
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if vec, ok := c.hot.Get(key); ok {
			return vec, nil
		}
		if vec, ok, err := c.lookup(ctx, embedder, hash); err != nil {
			return nil, err
		} else if ok {
			c.hot.Add(key, vec)
			return vec, nil
		}

		vec, err := compute(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrProviderUnavailable, err)
		}
		if err := encoding.ValidateVector(vec); err != nil {
			return nil, fmt.Errorf("%w: provider returned invalid vector", store.ErrProviderUnavailable)
		}

		stored, err := c.insert(ctx, embedder, hash, content, vec)
		if err != nil {
			return nil, err
		}
		c.hot.Add(key, stored)
		return stored, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// lookup reads the persistent layer.
func (c *Cache) lookup(ctx context.Context, embedder, hash string) ([]float32, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT embedding FROM embedding_cache WHERE embedder_name = ? AND content_hash = ?
	`, embedder, hash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embcache: lookup failed: %w", err)
	}

	vec, err := encoding.DecodeVector(blob)
	if err != nil {
		return nil, false, fmt.Errorf("embcache: corrupt cached vector: %w", err)
	}
	return vec, true, nil
}

// insert writes the computed vector. The cached value is assumed
// deterministic per key, so a concurrent winner's row is kept as-is and
// returned instead of ours.
func (c *Cache) insert(ctx context.Context, embedder, hash, content string, vec []float32) ([]float32, error) {
	blob, err := encoding.EncodeVector(vec)
	if err != nil {
		return nil, fmt.Errorf("embcache: %w", err)
	}

	res, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO embedding_cache (embedder_name, content_hash, content, embedding)
		VALUES (?, ?, ?, ?)
	`, embedder, hash, content, blob)
	if err != nil {
		return nil, fmt.Errorf("embcache: insert failed: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race; serve the first writer's vector.
		if stored, ok, err := c.lookup(ctx, embedder, hash); err == nil && ok {
			return stored, nil
		}
	}
	return vec, nil
}

// Len returns the number of persisted entries.
func (c *Cache) Len(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("embcache: %w", err)
	}
	return n, nil
}

// Stats summarizes both cache layers.
type Stats struct {
	Entries    int64 `json:"entries"`
	HotEntries int   `json:"hotEntries"`
}

// Stats reports entry counts for the persistent and the hot layer.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	n, err := c.Len(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Entries: n, HotEntries: c.hot.Len()}, nil
}

// Reset removes all entries from both layers. Idempotent.
func (c *Cache) Reset(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM embedding_cache"); err != nil {
		return fmt.Errorf("embcache: reset failed: %w", err)
	}
	c.hot.Purge()
	c.logger.Info("embedding cache reset")
	return nil
}

// ContentHash returns the cache key hash for a piece of content: SHA-256
// over the exact bytes, hex-encoded. No case or whitespace folding is
// applied; byte-different inputs are distinct entries.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
