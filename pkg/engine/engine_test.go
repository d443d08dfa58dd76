package engine

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retriva/retriva/pkg/store"
)

// hashEmbedder is a deterministic fake model: similar only to itself, which
// is enough to exercise caching and retrieval plumbing.
type hashEmbedder struct {
	calls atomic.Int64
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h.calls.Add(1)
	sum := fnv.New32a()
	_, _ = sum.Write([]byte(text))
	v := sum.Sum32()
	return []float32{
		float32(v&0xff) + 1,
		float32((v >> 8) & 0xff),
		float32((v >> 16) & 0xff),
	}, nil
}

func (h *hashEmbedder) Name() string { return "hash-test" }

func (h *hashEmbedder) Dimension() int { return 3 }

func newTestEngine(t *testing.T) (*Engine, *hashEmbedder) {
	t.Helper()
	emb := &hashEmbedder{}
	eng, err := Open(context.Background(),
		DefaultConfig(filepath.Join(t.TempDir(), "test.db")),
		WithEmbedder(emb))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, emb
}

func TestOpenWithoutEmbedder(t *testing.T) {
	eng, err := Open(context.Background(), DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	_, err = eng.Query(context.Background(), "anything", QueryOptions{})
	assert.ErrorIs(t, err, ErrEmbedderNotConfigured)
	assert.ErrorIs(t, eng.RebuildIndex(context.Background()), ErrEmbedderNotConfigured)
}

func TestQueryEmptyText(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.Query(context.Background(), "   ", QueryOptions{})
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestAddDocumentAndQuery(t *testing.T) {
	eng, emb := newTestEngine(t)
	ctx := context.Background()

	doc := &store.Document{Title: "notes"}
	texts := []string{
		"machine learning is a subset of artificial intelligence",
		"deep learning uses neural networks",
	}
	require.NoError(t, eng.AddDocument(ctx, doc, texts))
	require.NotEmpty(t, doc.ID)

	res, err := eng.Query(ctx, texts[0], QueryOptions{})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, texts[0], res.Chunks[0].Content)
	assert.Equal(t, 1.0, res.Chunks[0].VectorScore)
	assert.Len(t, res.QueryVector, 3)

	// The query text matched a stored chunk byte for byte, so its vector
	// was served from the embedding cache, not recomputed.
	assert.Equal(t, int64(len(texts)), emb.calls.Load())
}

func TestQueryServesSavedAnswer(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.AddDocument(ctx, &store.Document{}, []string{"some indexed content"}))
	require.NoError(t, eng.SaveAnswer(ctx, "what is indexed?", "some indexed content is"))

	res, err := eng.Query(ctx, "what is indexed?", QueryOptions{})
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, "some indexed content is", res.CachedResponse)
	assert.Empty(t, res.Chunks)

	// SkipCache forces the retrieval path.
	res, err = eng.Query(ctx, "what is indexed?", QueryOptions{SkipCache: true})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
}

func TestQueryAllowSimilar(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.SaveAnswer(ctx, "cached question", "cached answer"))

	// The hash embedder maps byte-different texts to unrelated vectors, so
	// a rephrasing misses on both the exact and the similar path.
	res, err := eng.Query(ctx, "cached question rephrased", QueryOptions{AllowSimilar: true})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)

	res, err = eng.Query(ctx, "cached question", QueryOptions{AllowSimilar: true})
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, "cached answer", res.CachedResponse)
}

func TestSaveAnswerEmptyQuery(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.ErrorIs(t, eng.SaveAnswer(context.Background(), " ", "r"), ErrEmptyText)
}

func TestResetCaches(t *testing.T) {
	eng, emb := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.SaveAnswer(ctx, "q", "r"))
	res, err := eng.Query(ctx, "q", QueryOptions{})
	require.NoError(t, err)
	require.True(t, res.CacheHit)

	require.NoError(t, eng.ResetCaches(ctx))

	res, err = eng.Query(ctx, "q", QueryOptions{})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	// The embedding cache was cleared too, so the query re-embedded.
	assert.GreaterOrEqual(t, emb.calls.Load(), int64(2))
}

func TestDeleteDocumentRemovesFromRetrieval(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	doc := &store.Document{}
	require.NoError(t, eng.AddDocument(ctx, doc, []string{"ephemeral content"}))
	require.NoError(t, eng.DeleteDocument(ctx, doc.ID))

	res, err := eng.Query(ctx, "ephemeral content", QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Chunks)
}

func TestStats(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	require.NoError(t, eng.AddDocument(ctx, &store.Document{}, []string{"a", "b"}))
	stats, err := eng.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Documents)
	assert.Equal(t, int64(2), stats.Chunks)
}
