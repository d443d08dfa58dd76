package ann

import (
	"math/rand"
	"strconv"
	"sync"
)

// Partition is an inverted-file (IVF) index. Training runs k-means over a
// representative vector sample to place centroids; each vector is then
// assigned to its nearest centroid and searches probe only the nProbe
// closest partitions. Memory-lean and fast on large, mostly-static corpora,
// but useless until trained.
type Partition struct {
	mu        sync.RWMutex
	dim       int
	centroids [][]float32
	lists     []map[string][]float32
	assigned  map[string]int
	nProbe    int
	trained   bool
}

// PartitionOptions tunes the IVF parameters. Zero values fall back to the
// defaults (NCentroids=100, NProbe=10).
type PartitionOptions struct {
	Dim        int
	NCentroids int
	NProbe     int
}

// NewPartition creates an untrained IVF index.
func NewPartition(opts PartitionOptions) *Partition {
	if opts.NCentroids <= 0 {
		opts.NCentroids = 100
	}
	if opts.NProbe <= 0 {
		opts.NProbe = 10
	}
	return &Partition{
		dim:      opts.Dim,
		nProbe:   opts.NProbe,
		assigned: make(map[string]int),
		lists:    nil,
	}
}

// Trained reports whether centroids have been trained.
func (p *Partition) Trained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.trained
}

// Len returns the number of indexed vectors.
func (p *Partition) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.assigned)
}

// Train runs k-means over the sample and resets all partition lists.
// The number of centroids is capped at the sample size.
func (p *Partition) Train(sample [][]float32, nCentroids int) error {
	if len(sample) == 0 {
		return ErrNoVectors
	}
	if nCentroids <= 0 {
		nCentroids = 100
	}
	if nCentroids > len(sample) {
		nCentroids = len(sample)
	}
	for _, v := range sample {
		if p.dim > 0 && len(v) != p.dim {
			return ErrDimMismatch
		}
	}

	centroids := kMeans(sample, nCentroids, 20)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.centroids = centroids
	p.lists = make([]map[string][]float32, len(centroids))
	for i := range p.lists {
		p.lists[i] = make(map[string][]float32)
	}
	p.assigned = make(map[string]int)
	p.trained = true
	return nil
}

// Add assigns a vector to its nearest partition.
func (p *Partition) Add(id string, vector []float32) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.trained {
		return ErrNotTrained
	}
	if prev, ok := p.assigned[id]; ok {
		delete(p.lists[prev], id)
	}
	list := p.nearestCentroid(vector)
	p.lists[list][id] = vector
	p.assigned[id] = list
	return nil
}

// Delete removes a vector from its partition.
func (p *Partition) Delete(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	list, ok := p.assigned[id]
	if !ok {
		return ErrUnknownID
	}
	delete(p.lists[list], id)
	delete(p.assigned, id)
	return nil
}

// Search probes the nProbe partitions closest to the query and returns up to
// k candidate ids ordered by increasing cosine distance.
func (p *Partition) Search(query []float32, k int) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.trained || k <= 0 {
		return nil
	}

	// Rank partitions by centroid distance, probe the closest nProbe.
	probes := p.centroidOrder(query)
	if len(probes) > p.nProbe {
		probes = probes[:p.nProbe]
	}

	candidates := make(distQueue, 0, k*len(probes))
	for _, listIdx := range probes {
		for id, vec := range p.lists[listIdx] {
			candidates = append(candidates, distEntry{id: id, dist: CosineDistance(query, vec)})
		}
	}

	ids := candidates.orderedIDs()
	if len(ids) > k {
		ids = ids[:k]
	}
	return ids
}

// centroidOrder returns partition indexes ordered by centroid distance.
func (p *Partition) centroidOrder(query []float32) []int {
	entries := make(distQueue, len(p.centroids))
	idx := make(map[string]int, len(p.centroids))
	for i, c := range p.centroids {
		key := centroidKey(i)
		entries[i] = distEntry{id: key, dist: EuclideanDistance(query, c)}
		idx[key] = i
	}
	ordered := entries.orderedIDs()
	out := make([]int, len(ordered))
	for i, key := range ordered {
		out[i] = idx[key]
	}
	return out
}

func (p *Partition) nearestCentroid(vector []float32) int {
	best, bestDist := 0, EuclideanDistance(vector, p.centroids[0])
	for i := 1; i < len(p.centroids); i++ {
		if d := EuclideanDistance(vector, p.centroids[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func centroidKey(i int) string {
	return strconv.Itoa(i)
}

// kMeans is a plain Lloyd's iteration with deterministic seeding.
func kMeans(vectors [][]float32, k, maxIters int) [][]float32 {
	dim := len(vectors[0])
	rng := rand.New(rand.NewSource(1))

	centroids := make([][]float32, k)
	perm := rng.Perm(len(vectors))
	for i := 0; i < k; i++ {
		centroids[i] = append([]float32(nil), vectors[perm[i]]...)
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < maxIters; iter++ {
		changed := false
		for i, v := range vectors {
			best, bestDist := 0, EuclideanDistance(v, centroids[0])
			for c := 1; c < k; c++ {
				if d := EuclideanDistance(v, centroids[c]); d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assignments[i]
			counts[c]++
			for d, val := range v {
				sums[c][d] += float64(val)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Re-seed empty clusters from a random vector.
				centroids[c] = append([]float32(nil), vectors[rng.Intn(len(vectors))]...)
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[c][d] = float32(sums[c][d] / float64(counts[c]))
			}
		}
	}
	return centroids
}
