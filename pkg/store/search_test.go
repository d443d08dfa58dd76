package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// seedCorpus inserts one document with two embedded chunks:
//
//	c1 [0.1 0.2 0.3] "machine learning is a subset of artificial intelligence"
//	c2 [0.4 0.5 0.6] "deep learning uses neural networks"
func seedCorpus(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	createTestDoc(t, s, "doc1")
	err := s.InsertChunks(ctx, "doc1", []*Chunk{
		{ID: "c1", ChunkIndex: 0, Content: "machine learning is a subset of artificial intelligence",
			Embedding: []float32{0.1, 0.2, 0.3}, EmbedderName: "test"},
		{ID: "c2", ChunkIndex: 1, Content: "deep learning uses neural networks",
			Embedding: []float32{0.4, 0.5, 0.6}, EmbedderName: "test"},
	})
	if err != nil {
		t.Fatalf("seed InsertChunks() error = %v", err)
	}
}

func TestVectorSearchOrdering(t *testing.T) {
	s := newTestStore(t)
	seedCorpus(t, s)

	results, err := s.VectorSearch(context.Background(), []float32{0.1, 0.2, 0.3}, "test", SearchOptions{})
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "c1" {
		t.Errorf("top result = %s, want c1", results[0].ID)
	}
	if results[0].VectorScore != 1.0 {
		t.Errorf("self-similarity = %v, want exactly 1.0", results[0].VectorScore)
	}
	if results[1].VectorScore >= results[0].VectorScore {
		t.Errorf("results out of order: %v then %v", results[0].VectorScore, results[1].VectorScore)
	}
}

func TestVectorSearchThreshold(t *testing.T) {
	s := newTestStore(t)
	seedCorpus(t, s)

	// cos(c1, c2) is about 0.97, so a 0.99 threshold keeps only the
	// exact match.
	results, err := s.VectorSearch(context.Background(), []float32{0.1, 0.2, 0.3}, "test",
		SearchOptions{Threshold: 0.99})
	if err != nil {
		t.Fatalf("VectorSearch() error = %v", err)
	}
	if len(results) != 1 || results[0].ID != "c1" {
		t.Errorf("results = %v, want just c1", ids(results))
	}
}

func TestVectorSearchUnknownEmbedder(t *testing.T) {
	s := newTestStore(t)
	seedCorpus(t, s)

	results, err := s.VectorSearch(context.Background(), []float32{1, 0, 0}, "never-seen", SearchOptions{})
	if err != nil {
		t.Fatalf("VectorSearch() error = %v, want empty result", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for unknown embedder, want 0", len(results))
	}
}

func TestVectorSearchDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	seedCorpus(t, s)

	_, err := s.VectorSearch(context.Background(), []float32{1, 0}, "test", SearchOptions{})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("VectorSearch error = %v, want ErrDimensionMismatch", err)
	}
}

func TestVectorSearchInvalidQuery(t *testing.T) {
	s := newTestStore(t)
	seedCorpus(t, s)

	_, err := s.VectorSearch(context.Background(), nil, "test", SearchOptions{})
	if !errors.Is(err, ErrInvalidVector) {
		t.Errorf("VectorSearch(nil) error = %v, want ErrInvalidVector", err)
	}
}

func TestVectorSearchLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestDoc(t, s, "doc1")

	var chunks []*Chunk
	for i := 0; i < 25; i++ {
		chunks = append(chunks, &Chunk{
			ChunkIndex: i, Content: fmt.Sprintf("chunk %d", i),
			Embedding: []float32{float32(i), 1}, EmbedderName: "test",
		})
	}
	if err := s.InsertChunks(ctx, "doc1", chunks); err != nil {
		t.Fatal(err)
	}

	results, err := s.VectorSearch(ctx, []float32{1, 1}, "test", SearchOptions{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 5 {
		t.Errorf("got %d results, want 5", len(results))
	}

	// Zero limit falls back to the default.
	results, err = s.VectorSearch(ctx, []float32{1, 1}, "test", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != DefaultSearchLimit {
		t.Errorf("got %d results, want %d", len(results), DefaultSearchLimit)
	}
}

func TestVectorSearchDocumentFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestDoc(t, s, "doc1")
	createTestDoc(t, s, "doc2")

	for _, doc := range []string{"doc1", "doc2"} {
		if err := s.InsertChunks(ctx, doc, []*Chunk{
			{ChunkIndex: 0, Content: "content of " + doc, Embedding: []float32{1, 0}, EmbedderName: "test"},
		}); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.VectorSearch(ctx, []float32{1, 0}, "test",
		SearchOptions{DocumentFilter: []string{"doc2"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].DocumentID != "doc2" {
		t.Errorf("results = %v, want only doc2", ids(results))
	}

	// Unknown ids in the filter match nothing.
	results, err = s.VectorSearch(ctx, []float32{1, 0}, "test",
		SearchOptions{DocumentFilter: []string{"ghost"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for unknown filter, want 0", len(results))
	}
}

func TestLexicalSearch(t *testing.T) {
	s := newTestStore(t)
	seedCorpus(t, s)

	results, err := s.LexicalSearch(context.Background(), "machine learning", SearchOptions{})
	if err != nil {
		t.Fatalf("LexicalSearch() error = %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no lexical results")
	}
	if results[0].ID != "c1" {
		t.Errorf("top result = %s, want c1", results[0].ID)
	}
	if results[0].LexicalScore <= 0 {
		t.Errorf("LexicalScore = %v, want > 0", results[0].LexicalScore)
	}
	if results[0].VectorScore != 0 {
		t.Errorf("VectorScore = %v on the lexical path, want 0", results[0].VectorScore)
	}
}

func TestLexicalSearchReachesVectorlessChunks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	createTestDoc(t, s, "doc1")
	if err := s.InsertChunks(ctx, "doc1", []*Chunk{
		{ChunkIndex: 0, Content: "pending vectorization backlog"},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := s.LexicalSearch(ctx, "vectorization", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestLexicalSearchSanitizesQuery(t *testing.T) {
	s := newTestStore(t)
	seedCorpus(t, s)
	ctx := context.Background()

	// FTS5 operators and punctuation in user text must not produce
	// syntax errors.
	for _, q := range []string{`"machine AND (learning)"`, "machine-learning!", `" OR `} {
		if _, err := s.LexicalSearch(ctx, q, SearchOptions{}); err != nil {
			t.Errorf("LexicalSearch(%q) error = %v", q, err)
		}
	}

	// Pure punctuation yields an empty result, not an error.
	results, err := s.LexicalSearch(ctx, "!!! ???", SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for empty query, want 0", len(results))
	}
}

func TestFtsQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain words", input: "machine learning", expected: `"machine" "learning"`},
		{name: "punctuation stripped", input: "what's C-3PO?", expected: `"what" "s" "C" "3PO"`},
		{name: "operators neutralized", input: `a AND b`, expected: `"a" "AND" "b"`},
		{name: "empty", input: "  !!! ", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ftsQuery(tt.input); got != tt.expected {
				t.Errorf("ftsQuery(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

type recordingObserver struct {
	events []SearchEvent
	index  []IndexEvent
}

func (r *recordingObserver) SearchCompleted(ev SearchEvent) { r.events = append(r.events, ev) }
func (r *recordingObserver) IndexRebuilt(ev IndexEvent)     { r.index = append(r.index, ev) }

func TestObserverReceivesSearchEvents(t *testing.T) {
	obs := &recordingObserver{}
	cfg := DefaultConfig(t.TempDir() + "/test.db")
	cfg.Observer = obs
	s, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()

	createTestDoc(t, s, "doc1")
	if err := s.InsertChunks(ctx, "doc1", []*Chunk{
		{ChunkIndex: 0, Content: "observable", Embedding: []float32{1, 0}, EmbedderName: "test"},
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.VectorSearch(ctx, []float32{1, 0}, "test", SearchOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LexicalSearch(ctx, "observable", SearchOptions{}); err != nil {
		t.Fatal(err)
	}

	if len(obs.events) != 2 {
		t.Fatalf("got %d events, want 2", len(obs.events))
	}
	if obs.events[0].Kind != SearchKindVector || obs.events[0].Results != 1 {
		t.Errorf("vector event = %+v", obs.events[0])
	}
	if obs.events[1].Kind != SearchKindLexical {
		t.Errorf("lexical event = %+v", obs.events[1])
	}
}

func ids(results []ScoredChunk) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}
