package store

import "math"

// CosineSimilarity calculates cosine similarity between two vectors,
// equivalently 1 - cosineDistance. Returns a value in [-1, 1].
//
// A vector compared against itself yields exactly 1.0: the identity case is
// detected from the accumulated sums so no square-root rounding leaks into
// the result.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0.0 || normB == 0.0 {
		return 0.0
	}
	if dot == normA && normA == normB {
		return 1.0
	}

	sim := dot / math.Sqrt(normA*normB)
	if sim > 1.0 {
		return 1.0
	}
	if sim < -1.0 {
		return -1.0
	}
	return sim
}
