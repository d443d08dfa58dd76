// Package ann provides in-memory approximate-nearest-neighbor indexes over
// embedding vectors. Two families are implemented: a graph index (HNSW)
// suited to incremental inserts on small and growing corpora, and a
// partition index (IVF) that trains cluster centroids on a bulk-loaded
// corpus and searches only the closest partitions.
package ann

import (
	"errors"
	"math"
)

// Common errors returned by index operations.
var (
	ErrEmptyVector = errors.New("ann: empty vector")
	ErrNotTrained  = errors.New("ann: index is not trained")
	ErrNoVectors   = errors.New("ann: no vectors to train on")
	ErrDimMismatch = errors.New("ann: vector dimension mismatch")
	ErrUnknownID   = errors.New("ann: unknown id")
)

// Index is the contract shared by the graph and partition indexes. Search
// returns candidate ids ordered by increasing cosine distance; callers are
// expected to re-score candidates exactly before applying thresholds.
type Index interface {
	Add(id string, vector []float32) error
	Delete(id string) error
	Search(query []float32, k int) []string
	Len() int
}

// CosineDistance returns 1 - cosine(a, b). Zero vectors are treated as
// maximally distant.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 1
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return float32(1 - dot/math.Sqrt(normA*normB))
}

// EuclideanDistance returns the L2 distance between a and b. Used for
// centroid assignment during partition training.
func EuclideanDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return float32(math.Inf(1))
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}
