// Package engine wires the chunk store, the embedding cache and the semantic
// query cache into a single retrieval pipeline. Open gives back an Engine;
// Query runs the full path: embed (through the embedding cache), consult the
// semantic cache, and fall through to hybrid search on a miss.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/retriva/retriva/pkg/embcache"
	"github.com/retriva/retriva/pkg/semcache"
	"github.com/retriva/retriva/pkg/store"
)

// Config configures the engine.
type Config struct {
	// Path is the SQLite database file path. All three components share
	// one database.
	Path string
	// Store configures the underlying chunk store. Zero value means
	// store.DefaultConfig(Path).
	Store store.Config
	// EmbeddingCache configures the embedding cache layer.
	EmbeddingCache embcache.Config
	// SemanticCache configures the query/response cache layer.
	SemanticCache semcache.Config
}

// DefaultConfig returns a working configuration for the given path.
func DefaultConfig(path string) Config {
	return Config{
		Path:  path,
		Store: store.DefaultConfig(path),
	}
}

// Option is a functional option for configuring the engine.
type Option func(*Engine)

// WithEmbedder supplies the embedding model. Required for Query and
// AddDocument; vector-level store access works without it.
func WithEmbedder(e Embedder) Option {
	return func(eng *Engine) { eng.embedder = e }
}

// WithLogger overrides the logger for the engine and its components.
func WithLogger(l store.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithObserver installs a search observer on the underlying store.
func WithObserver(o store.SearchObserver) Option {
	return func(eng *Engine) { eng.observer = o }
}

// Engine is the assembled retrieval pipeline.
type Engine struct {
	store    *store.Store
	embCache *embcache.Cache
	semCache *semcache.Cache
	embedder Embedder
	logger   store.Logger
	observer store.SearchObserver
}

// Open opens or creates the database and assembles the engine.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Store.Path == "" {
		cfg.Store = store.DefaultConfig(cfg.Path)
	}

	eng := &Engine{}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger != nil {
		cfg.Store.Logger = eng.logger
	}
	if eng.observer != nil {
		cfg.Store.Observer = eng.observer
	}

	st, err := store.NewWithConfig(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	eng.store = st
	eng.logger = st.Logger()

	if cfg.EmbeddingCache.Logger == nil {
		cfg.EmbeddingCache.Logger = eng.logger
	}
	ec, err := embcache.Open(ctx, st.DB(), cfg.EmbeddingCache)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open embedding cache: %w", err)
	}
	eng.embCache = ec

	if cfg.SemanticCache.Logger == nil {
		cfg.SemanticCache.Logger = eng.logger
	}
	sc, err := semcache.Open(ctx, st.DB(), cfg.SemanticCache)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to open semantic cache: %w", err)
	}
	eng.semCache = sc

	return eng, nil
}

// Store exposes the underlying chunk store for direct vector-level access.
func (e *Engine) Store() *store.Store { return e.store }

// Close closes the engine and its database.
func (e *Engine) Close() error { return e.store.Close() }

// QueryOptions tune a single Query call.
type QueryOptions struct {
	// Mode selects vector, lexical or hybrid retrieval. Zero value is
	// hybrid with equal weighting.
	Mode store.SearchMode
	// Limit caps the result count. Zero means the store default.
	Limit int
	// Threshold is the minimum vector similarity for candidates.
	Threshold float64
	// DocumentFilter restricts results to the given document IDs.
	DocumentFilter []string
	// SkipCache bypasses the semantic cache lookup (the store path still
	// uses the embedding cache).
	SkipCache bool
	// AllowSimilar also serves semantic cache entries whose query
	// embedding is close to this query, not just exact matches.
	AllowSimilar bool
}

// Result is the outcome of one Query call.
type Result struct {
	// Chunks are the retrieved chunks, empty on a semantic cache hit.
	Chunks []store.ScoredChunk `json:"chunks,omitempty"`
	// CachedResponse is the stored answer when the semantic cache hit.
	CachedResponse string `json:"cachedResponse,omitempty"`
	// CacheHit reports whether the semantic cache served this query.
	CacheHit bool `json:"cacheHit"`
	// QueryVector is the embedding used, handy for SaveAnswer.
	QueryVector []float32 `json:"-"`
	// Elapsed is the wall time for the whole call.
	Elapsed time.Duration `json:"elapsed"`
}

// embed runs the text through the embedding cache, invoking the model only
// on a cold miss.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	return e.embCache.GetOrCompute(ctx, e.embedder.Name(), text, func(ctx context.Context) ([]float32, error) {
		return e.embedder.Embed(ctx, text)
	})
}

// Query embeds the text, consults the semantic cache, and on a miss runs
// retrieval against the chunk store.
func (e *Engine) Query(ctx context.Context, text string, opts QueryOptions) (*Result, error) {
	start := time.Now()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if e.embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}

	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if !opts.SkipCache {
		entry, ok, err := e.semCache.Lookup(ctx, text)
		if err != nil {
			return nil, err
		}
		if !ok && opts.AllowSimilar {
			entry, ok, err = e.semCache.LookupSimilar(ctx, vec, 0)
			if err != nil {
				return nil, err
			}
		}
		if ok {
			e.logger.Debug("semantic cache hit", "query", text)
			return &Result{
				CachedResponse: entry.Response,
				CacheHit:       true,
				QueryVector:    vec,
				Elapsed:        time.Since(start),
			}, nil
		}
	}

	searchOpts := store.SearchOptions{
		Threshold:      opts.Threshold,
		Limit:          opts.Limit,
		DocumentFilter: opts.DocumentFilter,
	}
	chunks, err := e.store.HybridSearch(ctx, text, vec, e.embedder.Name(), opts.Mode, searchOpts)
	if err != nil {
		return nil, err
	}

	return &Result{
		Chunks:      chunks,
		QueryVector: vec,
		Elapsed:     time.Since(start),
	}, nil
}

// SaveAnswer records a served response in the semantic cache so repeats of
// the query can skip retrieval. The query is embedded (through the embedding
// cache) so LookupSimilar can match close rephrasings.
func (e *Engine) SaveAnswer(ctx context.Context, query, response string) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyText
	}
	var vec []float32
	if e.embedder != nil {
		var err error
		vec, err = e.embed(ctx, query)
		if err != nil {
			// A cacheable answer without an embedding is still useful
			// for exact-match lookups.
			e.logger.Warn("failed to embed cached answer", "error", err)
			vec = nil
		}
	}
	return e.semCache.Store(ctx, query, vec, response)
}

// AddDocument stores the document and embeds each text as one chunk, in
// order. Embeddings go through the embedding cache, so re-ingesting
// unchanged content costs no model calls.
func (e *Engine) AddDocument(ctx context.Context, doc *store.Document, texts []string) error {
	if e.embedder == nil {
		return ErrEmbedderNotConfigured
	}
	if err := e.store.CreateDocument(ctx, doc); err != nil {
		return err
	}

	chunks := make([]*store.Chunk, 0, len(texts))
	for i, text := range texts {
		vec, err := e.embed(ctx, text)
		if err != nil {
			return fmt.Errorf("embedding chunk %d: %w", i, err)
		}
		chunks = append(chunks, &store.Chunk{
			DocumentID:   doc.ID,
			ChunkIndex:   i,
			Content:      text,
			Embedding:    vec,
			EmbedderName: e.embedder.Name(),
		})
	}
	return e.store.InsertChunks(ctx, doc.ID, chunks)
}

// DeleteDocument removes the document and its chunks.
func (e *Engine) DeleteDocument(ctx context.Context, docID string) error {
	return e.store.DeleteDocument(ctx, docID)
}

// RebuildIndex rebuilds the vector index for the configured embedder.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	if e.embedder == nil {
		return ErrEmbedderNotConfigured
	}
	return e.store.RebuildIndex(ctx, e.embedder.Name())
}

// SweepCache removes expired semantic cache entries.
func (e *Engine) SweepCache(ctx context.Context) (int64, error) {
	return e.semCache.Sweep(ctx)
}

// ResetCaches clears both cache layers. Stored documents and chunks are
// untouched.
func (e *Engine) ResetCaches(ctx context.Context) error {
	if err := e.embCache.Reset(ctx); err != nil {
		return err
	}
	return e.semCache.Reset(ctx)
}

// Stats reports store-level counts.
func (e *Engine) Stats(ctx context.Context) (store.Stats, error) {
	return e.store.Stats(ctx)
}
