package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/retriva/retriva/pkg/ann"
)

// RebuildIndex (re)builds the ANN index for one embedder from the stored
// vectors. The index family follows the configured policy: the graph index
// (incremental, high recall) below PartitionThreshold vectors, the
// partition index (centroid-trained, memory-lean) at or above it, because
// partition training needs a representative sample and underperforms on
// small or fast-growing corpora.
//
// Rebuilds are triggered externally, never per insert: stored vectors only
// change through re-ingestion. The call is idempotent.
func (s *Store) RebuildIndex(ctx context.Context, embedder string) error {
	if s.isClosed() {
		return wrapError("rebuild_index", ErrStoreClosed)
	}
	if !s.config.Index.Enabled {
		return wrapError("rebuild_index", fmt.Errorf("%w: index disabled", ErrInvalidConfig))
	}

	start := time.Now()

	dim, registered, err := s.embedderDimension(ctx, embedder)
	if err != nil {
		return wrapError("rebuild_index", err)
	}
	if !registered {
		// Nothing to index; drop any stale index.
		s.indexMu.Lock()
		delete(s.indexes, embedder)
		s.indexMu.Unlock()
		return nil
	}

	chunks, err := s.fetchEmbeddedChunks(ctx, embedder, nil)
	if err != nil {
		return wrapError("rebuild_index", err)
	}

	cfg := s.config.Index
	var idx ann.Index
	var family string

	if len(chunks) >= cfg.PartitionThreshold {
		family = "partition"
		part := ann.NewPartition(ann.PartitionOptions{
			Dim:        dim,
			NCentroids: cfg.NCentroids,
			NProbe:     cfg.NProbe,
		})
		sample := make([][]float32, len(chunks))
		for i, c := range chunks {
			sample[i] = c.Embedding
		}
		if err := part.Train(sample, cfg.NCentroids); err != nil {
			return wrapError("rebuild_index", err)
		}
		idx = part
	} else {
		family = "graph"
		idx = ann.NewGraph(ann.GraphOptions{
			M:              cfg.M,
			EfConstruction: cfg.EfConstruction,
			EfSearch:       cfg.EfSearch,
		})
	}

	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return wrapError("rebuild_index", err)
		}
		if err := idx.Add(c.ID, c.Embedding); err != nil {
			s.logger.Warn("failed to index chunk", "chunk", c.ID, "error", err)
		}
	}

	s.indexMu.Lock()
	s.indexes[embedder] = idx
	s.indexMu.Unlock()

	s.logger.Info("index rebuilt", "embedder", embedder, "family", family, "vectors", len(chunks))
	s.observer.IndexRebuilt(IndexEvent{
		Embedder: embedder,
		Family:   family,
		Vectors:  len(chunks),
		Duration: time.Since(start),
	})
	return nil
}

// readyIndex returns the embedder's ANN index when it can serve candidates.
func (s *Store) readyIndex(embedder string) (ann.Index, bool) {
	if !s.config.Index.Enabled {
		return nil, false
	}
	s.indexMu.RLock()
	idx, ok := s.indexes[embedder]
	s.indexMu.RUnlock()
	if !ok || idx.Len() == 0 {
		return nil, false
	}
	if part, isPart := idx.(*ann.Partition); isPart && !part.Trained() {
		return nil, false
	}
	return idx, true
}

// indexAdd feeds freshly committed chunks into their embedders' indexes.
// Absent indexes are left absent; building is an explicit external trigger.
func (s *Store) indexAdd(chunks []*Chunk) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	for _, c := range chunks {
		if c.Embedding == nil {
			continue
		}
		idx, ok := s.indexes[c.EmbedderName]
		if !ok {
			continue
		}
		if err := idx.Add(c.ID, c.Embedding); err != nil && !errors.Is(err, ann.ErrNotTrained) {
			s.logger.Warn("failed to update index", "chunk", c.ID, "error", err)
		}
	}
}

// indexDelete prunes deleted chunk ids from every index.
func (s *Store) indexDelete(chunkIDs []string) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	for _, idx := range s.indexes {
		for _, id := range chunkIDs {
			if err := idx.Delete(id); err != nil && !errors.Is(err, ann.ErrUnknownID) {
				s.logger.Warn("failed to prune index entry", "chunk", id, "error", err)
			}
		}
	}
}
