package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/retriva/retriva/internal/encoding"
)

// VectorSearch returns chunks whose similarity (1 - cosine distance) to the
// query vector is >= opts.Threshold, restricted to the given embedder and,
// when set, to opts.DocumentFilter. Results are ordered by similarity
// descending, ties broken by chunk index ascending. An embedder with zero
// indexed chunks yields an empty result, not an error.
func (s *Store) VectorSearch(ctx context.Context, query []float32, embedder string, opts SearchOptions) ([]ScoredChunk, error) {
	start := time.Now()
	results, err := s.vectorSearch(ctx, query, embedder, opts)
	s.observer.SearchCompleted(SearchEvent{
		Kind: SearchKindVector, Embedder: embedder,
		Results: len(results), Duration: time.Since(start), Err: err,
	})
	return results, err
}

func (s *Store) vectorSearch(ctx context.Context, query []float32, embedder string, opts SearchOptions) ([]ScoredChunk, error) {
	if s.isClosed() {
		return nil, wrapError("vector_search", ErrStoreClosed)
	}
	if err := encoding.ValidateVector(query); err != nil {
		return nil, wrapError("vector_search", fmt.Errorf("invalid query vector: %w", ErrInvalidVector))
	}

	dim, registered, err := s.embedderDimension(ctx, embedder)
	if err != nil {
		return nil, wrapError("vector_search", err)
	}
	if !registered {
		// No vectors were ever stored for this embedder.
		return []ScoredChunk{}, nil
	}
	if len(query) != dim {
		return nil, wrapError("vector_search", fmt.Errorf(
			"embedder %q expects dimension %d, got %d: %w", embedder, dim, len(query), ErrDimensionMismatch))
	}

	// ANN candidate generation when a ready index exists; candidates are
	// re-scored exactly below, so the index only trades recall, never
	// score precision.
	if idx, ok := s.readyIndex(embedder); ok {
		candidateIDs := idx.Search(query, opts.limit()*4)
		if len(candidateIDs) > 0 {
			candidates, err := s.fetchChunksByIDs(ctx, candidateIDs, embedder, opts.DocumentFilter)
			if err != nil {
				return nil, wrapError("vector_search", err)
			}
			return scoreVectorCandidates(query, candidates, opts), nil
		}
	}

	candidates, err := s.fetchEmbeddedChunks(ctx, embedder, opts.DocumentFilter)
	if err != nil {
		return nil, wrapError("vector_search", err)
	}
	return scoreVectorCandidates(query, candidates, opts), nil
}

// fetchEmbeddedChunks loads every chunk with a vector for the embedder,
// optionally restricted to a document id set.
func (s *Store) fetchEmbeddedChunks(ctx context.Context, embedder string, documentFilter []string) ([]*Chunk, error) {
	querySQL := `
		SELECT id, document_id, chunk_index, content, embedding, embedder_name, metadata
		FROM chunks WHERE embedder_name = ? AND embedding IS NOT NULL`
	args := []any{embedder}
	querySQL, args = appendDocumentFilter(querySQL, args, documentFilter)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*Chunk
	for rows.Next() {
		if len(chunks)%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		chunk, err := scanChunk(rows)
		if err != nil {
			continue // skip undecodable rows
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return chunks, nil
}

// fetchChunksByIDs loads specific chunks, applying embedder and document
// restrictions in SQL.
func (s *Store) fetchChunksByIDs(ctx context.Context, ids []string, embedder string, documentFilter []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, embedder)

	querySQL := fmt.Sprintf(`
		SELECT id, document_id, chunk_index, content, embedding, embedder_name, metadata
		FROM chunks WHERE id IN (%s) AND embedder_name = ? AND embedding IS NOT NULL`,
		strings.Join(placeholders, ","))
	querySQL, args = appendDocumentFilter(querySQL, args, documentFilter)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks by ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			continue
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// appendDocumentFilter narrows a chunk query to a set of document ids.
func appendDocumentFilter(querySQL string, args []any, documentFilter []string) (string, []any) {
	if len(documentFilter) == 0 {
		return querySQL, args
	}
	placeholders := make([]string, len(documentFilter))
	for i, id := range documentFilter {
		placeholders[i] = "?"
		args = append(args, id)
	}
	return querySQL + fmt.Sprintf(" AND document_id IN (%s)", strings.Join(placeholders, ",")), args
}

// scoreVectorCandidates computes exact similarities, applies the threshold
// and returns the top results in deterministic order.
func scoreVectorCandidates(query []float32, candidates []*Chunk, opts SearchOptions) []ScoredChunk {
	results := make([]ScoredChunk, 0, len(candidates))
	for _, chunk := range candidates {
		sim := CosineSimilarity(query, chunk.Embedding)
		if sim < opts.Threshold {
			continue
		}
		results = append(results, ScoredChunk{
			Chunk:         *chunk,
			CombinedScore: sim,
			VectorScore:   sim,
		})
	}

	sortVectorResults(results)
	if len(results) > opts.limit() {
		results = results[:opts.limit()]
	}
	return results
}

func sortVectorResults(results []ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].VectorScore != results[j].VectorScore {
			return results[i].VectorScore > results[j].VectorScore
		}
		if results[i].DocumentID != results[j].DocumentID {
			return results[i].DocumentID < results[j].DocumentID
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
}

// LexicalSearch returns chunks whose content matches the query text under
// FTS5 BM25 ranking, ordered by rank descending. Chunks without embeddings
// are reachable through this path.
func (s *Store) LexicalSearch(ctx context.Context, queryText string, opts SearchOptions) ([]ScoredChunk, error) {
	start := time.Now()
	results, err := s.lexicalSearch(ctx, queryText, opts)
	s.observer.SearchCompleted(SearchEvent{
		Kind: SearchKindLexical,
		Results: len(results), Duration: time.Since(start), Err: err,
	})
	return results, err
}

func (s *Store) lexicalSearch(ctx context.Context, queryText string, opts SearchOptions) ([]ScoredChunk, error) {
	if s.isClosed() {
		return nil, wrapError("lexical_search", ErrStoreClosed)
	}

	match := ftsQuery(queryText)
	if match == "" {
		return []ScoredChunk{}, nil
	}

	querySQL := `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.embedder_name, c.metadata,
		       bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if len(opts.DocumentFilter) > 0 {
		placeholders := make([]string, len(opts.DocumentFilter))
		for i, id := range opts.DocumentFilter {
			placeholders[i] = "?"
			args = append(args, id)
		}
		querySQL += fmt.Sprintf(" AND c.document_id IN (%s)", strings.Join(placeholders, ","))
	}
	querySQL += " ORDER BY rank, c.document_id, c.chunk_index LIMIT ?"
	args = append(args, opts.limit())

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, wrapError("lexical_search", fmt.Errorf("failed to query fts: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var results []ScoredChunk
	for rows.Next() {
		var chunk Chunk
		var embedderName, metadataJSON sql.NullString
		var rank float64
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
			&chunk.Content, &embedderName, &metadataJSON, &rank); err != nil {
			return nil, wrapError("lexical_search", err)
		}
		chunk.EmbedderName = embedderName.String
		if metadataJSON.Valid {
			chunk.Metadata, _ = encoding.DecodeMetadata(metadataJSON.String)
		}

		// BM25 ranks better matches with smaller (more negative) values;
		// flip the sign so higher means more relevant.
		score := -rank
		results = append(results, ScoredChunk{
			Chunk:         chunk,
			CombinedScore: score,
			LexicalScore:  score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("lexical_search", err)
	}
	return results, nil
}

// ftsQuery sanitizes free text into an FTS5 MATCH expression: each token is
// double-quoted and tokens are implicitly AND-ed, matching the behavior of
// a plain-text tsquery.
func ftsQuery(queryText string) string {
	tokens := strings.FieldsFunc(queryText, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + tok + `"`
	}
	return strings.Join(quoted, " ")
}
