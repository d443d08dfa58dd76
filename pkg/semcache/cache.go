// Package semcache is the semantic query cache: previously answered queries
// stored with their query embedding, the served response, a hit counter and
// an expiry horizon. Repeated queries shortcut the full retrieval and
// generation pipeline.
//
// The primary contract is exact-string lookup on the query key; callers own
// any normalization (case or whitespace folding). LookupSimilar additionally
// serves a cached answer for a close-enough query embedding.
package semcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/retriva/retriva/internal/encoding"
	"github.com/retriva/retriva/pkg/store"
)

// DefaultTTL is the expiry horizon applied when Config.TTL is zero.
const DefaultTTL = 7 * 24 * time.Hour

// DefaultSimilarityThreshold gates LookupSimilar when the configured
// threshold is zero.
const DefaultSimilarityThreshold = 0.95

// Config configures the cache.
type Config struct {
	// TTL is the expiry horizon from write time. Zero means DefaultTTL.
	TTL time.Duration
	// SimilarityThreshold is the minimum cosine similarity for
	// LookupSimilar to serve an entry. Zero means the default 0.95.
	SimilarityThreshold float64
	// Logger receives structured log output. Nil means store.NopLogger.
	Logger store.Logger
}

// Entry is one cached query/response pair.
type Entry struct {
	Query      string    `json:"query"`
	Response   string    `json:"response"`
	HitCount   int       `json:"hitCount"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Similarity float64   `json:"similarity,omitempty"` // set by LookupSimilar
}

// Cache stores answered queries keyed by their exact query text.
type Cache struct {
	db        *sql.DB
	ttl       time.Duration
	threshold float64
	logger    store.Logger
	now       func() time.Time // overridden in tests
}

// Open creates the cache table if needed and returns a cache over the given
// database handle.
func Open(ctx context.Context, db *sql.DB, cfg Config) (*Cache, error) {
	if db == nil {
		return nil, errors.New("semcache: database handle cannot be nil")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("semcache: %w: negative TTL", store.ErrInvalidConfig)
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = store.NopLogger()
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS semantic_cache (
		query TEXT PRIMARY KEY,
		query_embedding BLOB,
		response TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		last_accessed DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_semantic_cache_expires ON semantic_cache(expires_at);`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("semcache: failed to create schema: %w", err)
	}

	return &Cache{
		db:        db,
		ttl:       cfg.TTL,
		threshold: cfg.SimilarityThreshold,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Lookup returns the entry stored for the exact query key. An entry past
// its expiry behaves as a miss and is purged on the way out. A hit bumps
// the hit counter.
func (c *Cache) Lookup(ctx context.Context, query string) (*Entry, bool, error) {
	now := c.now().UTC()

	var entry Entry
	err := c.db.QueryRowContext(ctx, `
		SELECT query, response, hit_count, created_at, expires_at
		FROM semantic_cache WHERE query = ?
	`, query).Scan(&entry.Query, &entry.Response, &entry.HitCount, &entry.CreatedAt, &entry.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("semcache: lookup failed: %w", err)
	}

	if !now.Before(entry.ExpiresAt) {
		// Lazy expiry: drop the stale row, report a miss.
		if _, err := c.db.ExecContext(ctx, "DELETE FROM semantic_cache WHERE query = ? AND expires_at <= ?", query, now); err != nil {
			c.logger.Warn("failed to purge expired cache entry", "error", err)
		}
		return nil, false, nil
	}

	if err := c.recordHit(ctx, query, now); err != nil {
		c.logger.Warn("failed to record cache hit", "error", err)
	}
	entry.HitCount++
	return &entry, true, nil
}

// LookupSimilar returns the unexpired entry whose query embedding is most
// similar to queryVec, provided the similarity clears the threshold. A
// threshold <= 0 falls back to the configured one.
func (c *Cache) LookupSimilar(ctx context.Context, queryVec []float32, threshold float64) (*Entry, bool, error) {
	if err := encoding.ValidateVector(queryVec); err != nil {
		return nil, false, fmt.Errorf("semcache: %w", store.ErrInvalidVector)
	}
	if threshold <= 0 {
		threshold = c.threshold
	}

	now := c.now().UTC()
	rows, err := c.db.QueryContext(ctx, `
		SELECT query, query_embedding, response, hit_count, created_at, expires_at
		FROM semantic_cache
		WHERE query_embedding IS NOT NULL AND expires_at > ?
	`, now)
	if err != nil {
		return nil, false, fmt.Errorf("semcache: similar lookup failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var best *Entry
	for rows.Next() {
		var entry Entry
		var blob []byte
		if err := rows.Scan(&entry.Query, &blob, &entry.Response, &entry.HitCount,
			&entry.CreatedAt, &entry.ExpiresAt); err != nil {
			return nil, false, fmt.Errorf("semcache: %w", err)
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			continue
		}
		sim := store.CosineSimilarity(queryVec, vec)
		if sim < threshold {
			continue
		}
		if best == nil || sim > best.Similarity {
			entry.Similarity = sim
			best = &entry
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("semcache: %w", err)
	}
	if best == nil {
		return nil, false, nil
	}

	if err := c.recordHit(ctx, best.Query, now); err != nil {
		c.logger.Warn("failed to record cache hit", "error", err)
	}
	best.HitCount++
	return best, true, nil
}

func (c *Cache) recordHit(ctx context.Context, query string, now time.Time) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE semantic_cache SET hit_count = hit_count + 1, last_accessed = ? WHERE query = ?
	`, now, query)
	return err
}

// Store inserts or replaces the entry for the query, resetting its expiry
// from the current write time. Last write wins on the same key.
func (c *Cache) Store(ctx context.Context, query string, queryVec []float32, response string) error {
	if query == "" {
		return errors.New("semcache: query cannot be empty")
	}

	var blob []byte
	if queryVec != nil {
		var err error
		blob, err = encoding.EncodeVector(queryVec)
		if err != nil {
			return fmt.Errorf("semcache: %w", err)
		}
	}

	now := c.now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO semantic_cache
			(query, query_embedding, response, hit_count, created_at, expires_at, last_accessed)
		VALUES (?, ?, ?, 0, ?, ?, ?)
	`, query, blob, response, now, now.Add(c.ttl), now)
	if err != nil {
		return fmt.Errorf("semcache: store failed: %w", err)
	}
	return nil
}

// Sweep deletes all expired entries and returns how many were removed.
// Intended to be driven by an external scheduler; lazy expiry in Lookup
// keeps correctness even without it.
func (c *Cache) Sweep(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, "DELETE FROM semantic_cache WHERE expires_at <= ?", c.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("semcache: sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		c.logger.Info("semantic cache swept", "removed", n)
	}
	return n, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM semantic_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("semcache: %w", err)
	}
	return n, nil
}

// Reset removes all entries. Idempotent.
func (c *Cache) Reset(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM semantic_cache"); err != nil {
		return fmt.Errorf("semcache: reset failed: %w", err)
	}
	c.logger.Info("semantic cache reset")
	return nil
}
