package ann

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"
)

// Graph is a hierarchical navigable small-world (HNSW) index. It supports
// incremental inserts and deletes, which makes it the default choice for
// corpora that grow chunk by chunk.
type Graph struct {
	mu             sync.RWMutex
	m              int // max neighbors per node per layer
	efConstruction int
	efSearch       int
	levelFactor    float64
	entry          string
	maxLevel       int
	nodes          map[string]*graphNode
	rng            *rand.Rand
}

type graphNode struct {
	id     string
	vector []float32
	// neighbors[l] holds the ids linked at layer l.
	neighbors [][]string
}

// GraphOptions tunes the HNSW parameters. Zero values fall back to the
// defaults (M=16, efConstruction=200, efSearch=50).
type GraphOptions struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           int64
}

// NewGraph creates an empty HNSW index.
func NewGraph(opts GraphOptions) *Graph {
	if opts.M <= 0 {
		opts.M = 16
	}
	if opts.EfConstruction <= 0 {
		opts.EfConstruction = 200
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = 50
	}
	if opts.Seed == 0 {
		opts.Seed = 1
	}
	return &Graph{
		m:              opts.M,
		efConstruction: opts.EfConstruction,
		efSearch:       opts.EfSearch,
		levelFactor:    1 / math.Log(float64(opts.M)),
		nodes:          make(map[string]*graphNode),
		rng:            rand.New(rand.NewSource(opts.Seed)),
	}
}

// Len returns the number of indexed vectors.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Add inserts or replaces a vector. Replacing relinks the node from scratch.
func (g *Graph) Add(id string, vector []float32) error {
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; ok {
		g.unlink(id)
	}

	level := g.randomLevel()
	node := &graphNode{id: id, vector: vector, neighbors: make([][]string, level+1)}
	g.nodes[id] = node

	if g.entry == "" {
		g.entry = id
		g.maxLevel = level
		return nil
	}

	// Greedy descent through the upper layers toward the insertion point.
	curr := g.entry
	for l := g.maxLevel; l > level; l-- {
		curr = g.greedyClosest(vector, curr, l)
	}

	// Link into every layer the new node participates in.
	for l := min(level, g.maxLevel); l >= 0; l-- {
		candidates := g.searchLayer(vector, curr, g.efConstruction, l)
		neighbors := g.pickNearest(vector, candidates, g.m)
		node.neighbors[l] = neighbors
		for _, nid := range neighbors {
			g.link(nid, id, l)
		}
		if len(candidates) > 0 {
			curr = candidates[0]
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = id
	}
	return nil
}

// Delete removes a vector from the index. Links pointing at the removed node
// are pruned lazily during later traversals and eagerly from its neighbors.
func (g *Graph) Delete(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[id]; !ok {
		return ErrUnknownID
	}
	g.unlink(id)
	delete(g.nodes, id)

	if g.entry == id {
		g.entry = ""
		g.maxLevel = 0
		for nid, n := range g.nodes {
			if l := len(n.neighbors) - 1; g.entry == "" || l > g.maxLevel {
				g.entry = nid
				g.maxLevel = l
			}
		}
	}
	return nil
}

// Search returns up to k candidate ids ordered by increasing cosine distance.
func (g *Graph) Search(query []float32, k int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entry == "" || k <= 0 {
		return nil
	}

	curr := g.entry
	for l := g.maxLevel; l > 0; l-- {
		curr = g.greedyClosest(query, curr, l)
	}

	ef := g.efSearch
	if ef < k {
		ef = k
	}
	candidates := g.searchLayer(query, curr, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

func (g *Graph) randomLevel() int {
	level := int(-math.Log(g.rng.Float64()) * g.levelFactor)
	if level > 32 {
		level = 32
	}
	return level
}

// greedyClosest walks layer l from start until no neighbor is closer.
func (g *Graph) greedyClosest(query []float32, start string, l int) string {
	curr := start
	currDist := CosineDistance(query, g.nodes[curr].vector)
	for {
		improved := false
		for _, nid := range g.layerNeighbors(curr, l) {
			n, ok := g.nodes[nid]
			if !ok {
				continue
			}
			if d := CosineDistance(query, n.vector); d < currDist {
				curr, currDist = nid, d
				improved = true
			}
		}
		if !improved {
			return curr
		}
	}
}

// searchLayer runs a beam search of width ef over layer l and returns the
// visited ids ordered by increasing distance.
func (g *Graph) searchLayer(query []float32, start string, ef, l int) []string {
	startDist := CosineDistance(query, g.nodes[start].vector)

	visited := map[string]bool{start: true}
	frontier := &distQueue{{id: start, dist: startDist}}
	result := &distQueue{{id: start, dist: startDist}}
	heap.Init(frontier)

	for frontier.Len() > 0 {
		closest := heap.Pop(frontier).(distEntry)
		if result.Len() >= ef && closest.dist > result.worst() {
			break
		}
		for _, nid := range g.layerNeighbors(closest.id, l) {
			if visited[nid] {
				continue
			}
			visited[nid] = true
			n, ok := g.nodes[nid]
			if !ok {
				continue
			}
			d := CosineDistance(query, n.vector)
			if result.Len() < ef || d < result.worst() {
				heap.Push(frontier, distEntry{id: nid, dist: d})
				result.insertBounded(distEntry{id: nid, dist: d}, ef)
			}
		}
	}

	return result.orderedIDs()
}

// pickNearest keeps the m closest candidates to the query.
func (g *Graph) pickNearest(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		return append([]string(nil), candidates...)
	}
	return append([]string(nil), candidates[:m]...)
}

func (g *Graph) layerNeighbors(id string, l int) []string {
	n, ok := g.nodes[id]
	if !ok || l >= len(n.neighbors) {
		return nil
	}
	return n.neighbors[l]
}

// link adds target to the neighbor list of id at layer l, trimming the list
// back to the closest m when it overflows.
func (g *Graph) link(id, target string, l int) {
	n, ok := g.nodes[id]
	if !ok || l >= len(n.neighbors) {
		return
	}
	for _, nid := range n.neighbors[l] {
		if nid == target {
			return
		}
	}
	n.neighbors[l] = append(n.neighbors[l], target)

	if len(n.neighbors[l]) > g.m {
		ordered := g.orderByDistance(n.vector, n.neighbors[l])
		n.neighbors[l] = ordered[:g.m]
	}
}

func (g *Graph) unlink(id string) {
	node := g.nodes[id]
	for l := range node.neighbors {
		for _, nid := range node.neighbors[l] {
			n, ok := g.nodes[nid]
			if !ok || l >= len(n.neighbors) {
				continue
			}
			kept := n.neighbors[l][:0]
			for _, cand := range n.neighbors[l] {
				if cand != id {
					kept = append(kept, cand)
				}
			}
			n.neighbors[l] = kept
		}
	}
}

func (g *Graph) orderByDistance(ref []float32, ids []string) []string {
	entries := make(distQueue, 0, len(ids))
	for _, id := range ids {
		n, ok := g.nodes[id]
		if !ok {
			continue
		}
		entries = append(entries, distEntry{id: id, dist: CosineDistance(ref, n.vector)})
	}
	return entries.orderedIDs()
}
