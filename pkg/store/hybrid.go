package store

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// HybridSearch fuses vector similarity and lexical relevance into one ranked
// list. The candidate set is the union of both paths: a chunk absent from
// one side contributes zero for that side's score. With alpha 1 the call is
// identical to VectorSearch, with alpha 0 to LexicalSearch.
//
// The two sub-queries run concurrently and both complete before fusion; a
// cancelled context aborts them and returns the cancellation, never a
// silently truncated result.
func (s *Store) HybridSearch(ctx context.Context, queryText string, queryVec []float32, embedder string, mode SearchMode, opts SearchOptions) ([]ScoredChunk, error) {
	start := time.Now()
	results, err := s.hybridSearch(ctx, queryText, queryVec, embedder, mode, opts)
	s.observer.SearchCompleted(SearchEvent{
		Kind: SearchKindHybrid, Embedder: embedder,
		Results: len(results), Duration: time.Since(start), Err: err,
	})
	return results, err
}

func (s *Store) hybridSearch(ctx context.Context, queryText string, queryVec []float32, embedder string, mode SearchMode, opts SearchOptions) ([]ScoredChunk, error) {
	if s.isClosed() {
		return nil, wrapError("hybrid_search", ErrStoreClosed)
	}

	alpha := mode.Alpha()

	// The degenerate blends are exact identities with the pure paths, not
	// approximations of them.
	switch {
	case mode.kind == modeVector || alpha == 1:
		return s.vectorSearch(ctx, queryVec, embedder, opts)
	case mode.kind == modeLexical || alpha == 0:
		return s.lexicalSearch(ctx, queryText, opts)
	}

	var vecResults, lexResults []ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecResults, err = s.vectorSearch(gctx, queryVec, embedder, opts)
		return err
	})
	g.Go(func() error {
		var err error
		lexResults, err = s.lexicalSearch(gctx, queryText, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, wrapError("hybrid_search", err)
	}

	fused := fuseScores(vecResults, lexResults, alpha)
	if len(fused) > opts.limit() {
		fused = fused[:opts.limit()]
	}
	return fused, nil
}

// fuseScores merges the two candidate sets by chunk id and blends scores.
// Lexical scores are unbounded BM25 magnitudes, so they are normalized to
// [0,1] by the best lexical candidate before blending; the normalization is
// monotone and therefore rank-preserving within the lexical side.
func fuseScores(vecResults, lexResults []ScoredChunk, alpha float64) []ScoredChunk {
	var maxLex float64
	for _, r := range lexResults {
		if r.LexicalScore > maxLex {
			maxLex = r.LexicalScore
		}
	}

	merged := make(map[string]*ScoredChunk, len(vecResults)+len(lexResults))
	order := make([]string, 0, len(vecResults)+len(lexResults))

	for _, r := range vecResults {
		r := r
		r.LexicalScore = 0
		merged[r.ID] = &r
		order = append(order, r.ID)
	}
	for _, r := range lexResults {
		lex := r.LexicalScore
		if maxLex > 0 {
			lex = lex / maxLex
		}
		if existing, ok := merged[r.ID]; ok {
			existing.LexicalScore = lex
			continue
		}
		r := r
		r.VectorScore = 0
		r.LexicalScore = lex
		merged[r.ID] = &r
		order = append(order, r.ID)
	}

	fused := make([]ScoredChunk, 0, len(order))
	for _, id := range order {
		c := merged[id]
		c.CombinedScore = alpha*c.VectorScore + (1-alpha)*c.LexicalScore
		fused = append(fused, *c)
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].CombinedScore != fused[j].CombinedScore {
			return fused[i].CombinedScore > fused[j].CombinedScore
		}
		if fused[i].VectorScore != fused[j].VectorScore {
			return fused[i].VectorScore > fused[j].VectorScore
		}
		if fused[i].DocumentID != fused[j].DocumentID {
			return fused[i].DocumentID < fused[j].DocumentID
		}
		return fused[i].ChunkIndex < fused[j].ChunkIndex
	})
	return fused
}
