package store

import (
	"fmt"
	"time"
)

// Document is the owning record for a set of chunks. Deleting a document
// cascades to every chunk it owns.
type Document struct {
	ID        string            `json:"id"`
	Title     string            `json:"title,omitempty"`
	Content   string            `json:"content,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

// Chunk is the unit of retrieval: a bounded span of a document's text with
// an optional embedding vector. A chunk without a vector is reachable only
// through the lexical path until vectorization completes.
type Chunk struct {
	ID           string            `json:"id"`
	DocumentID   string            `json:"documentId"`
	ChunkIndex   int               `json:"chunkIndex"`
	Content      string            `json:"content"`
	Embedding    []float32         `json:"embedding,omitempty"`
	EmbedderName string            `json:"embedderName,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// ScoredChunk is a chunk together with its retrieval scores. VectorScore and
// LexicalScore are zero for the side of the search the chunk was absent from.
type ScoredChunk struct {
	Chunk
	CombinedScore float64 `json:"combinedScore"`
	VectorScore   float64 `json:"vectorScore"`
	LexicalScore  float64 `json:"lexicalScore"`
}

// SearchOptions scopes a vector, lexical or hybrid search.
type SearchOptions struct {
	// Threshold is the minimum vector similarity (1 - cosine distance) a
	// chunk must reach on the vector path. Zero keeps everything.
	Threshold float64 `json:"threshold,omitempty"`
	// Limit caps the result size. Zero means DefaultSearchLimit.
	Limit int `json:"limit"`
	// DocumentFilter restricts the search to the given document ids.
	// Unknown ids simply match nothing.
	DocumentFilter []string `json:"documentFilter,omitempty"`
}

// DefaultSearchLimit is used when SearchOptions.Limit is zero.
const DefaultSearchLimit = 10

func (o SearchOptions) limit() int {
	if o.Limit <= 0 {
		return DefaultSearchLimit
	}
	return o.Limit
}

// SearchMode is a tagged variant selecting how scores are fused. Construct
// one with VectorOnly, LexicalOnly or Hybrid; the zero value is Hybrid with
// alpha 0.5.
type SearchMode struct {
	kind  modeKind
	alpha float64
}

type modeKind int

const (
	modeHybrid modeKind = iota
	modeVector
	modeLexical
)

// VectorOnly ranks purely by vector similarity (alpha = 1).
func VectorOnly() SearchMode { return SearchMode{kind: modeVector, alpha: 1} }

// LexicalOnly ranks purely by lexical relevance (alpha = 0).
func LexicalOnly() SearchMode { return SearchMode{kind: modeLexical, alpha: 0} }

// Hybrid blends vector and lexical scores:
// combined = alpha*vector + (1-alpha)*lexical. Alpha is validated here, at
// construction, so call sites never carry invalid blend weights. The
// endpoints collapse to the pure modes: Hybrid(1) is VectorOnly and
// Hybrid(0) is LexicalOnly, exactly.
func Hybrid(alpha float64) (SearchMode, error) {
	switch {
	case alpha < 0 || alpha > 1 || alpha != alpha:
		return SearchMode{}, fmt.Errorf("%w: alpha %v outside [0,1]", ErrInvalidConfig, alpha)
	case alpha == 0:
		return LexicalOnly(), nil
	case alpha == 1:
		return VectorOnly(), nil
	}
	return SearchMode{kind: modeHybrid, alpha: alpha}, nil
}

// MustHybrid is Hybrid with a panic on invalid alpha, for tests and constants.
func MustHybrid(alpha float64) SearchMode {
	m, err := Hybrid(alpha)
	if err != nil {
		panic(err)
	}
	return m
}

// Alpha returns the effective blend weight: 1 for VectorOnly, 0 for
// LexicalOnly, the configured value for Hybrid. The zero SearchMode is
// Hybrid with alpha 0.5.
func (m SearchMode) Alpha() float64 {
	if m.kind == modeHybrid && m.alpha == 0 {
		return 0.5
	}
	return m.alpha
}

func (m SearchMode) String() string {
	switch m.kind {
	case modeVector:
		return "vector"
	case modeLexical:
		return "lexical"
	default:
		return fmt.Sprintf("hybrid(%.2f)", m.Alpha())
	}
}

// IndexConfig controls the per-embedder ANN index family selection.
type IndexConfig struct {
	// Enabled turns ANN candidate generation on. Searches always fall back
	// to the exact linear path when no index is ready for an embedder.
	Enabled bool `json:"enabled"`
	// PartitionThreshold is the chunk count at which an embedder's index
	// switches from the graph family (incremental, high recall) to the
	// partition family (trained centroids, memory-lean).
	PartitionThreshold int `json:"partitionThreshold"`
	// Graph parameters.
	M              int `json:"m"`
	EfConstruction int `json:"efConstruction"`
	EfSearch       int `json:"efSearch"`
	// Partition parameters.
	NCentroids int `json:"nCentroids"`
	NProbe     int `json:"nProbe"`
}

// DefaultIndexConfig returns the default index policy.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		Enabled:            true,
		PartitionThreshold: 10000,
		M:                  16,
		EfConstruction:     200,
		EfSearch:           50,
		NCentroids:         100,
		NProbe:             10,
	}
}

// Config configures a Store.
type Config struct {
	// Path is the SQLite database file path.
	Path string `json:"path"`
	// DefaultDimension fixes the vector dimension for embedders that are
	// not yet registered. Zero lets the first inserted vector register the
	// dimension per embedder.
	DefaultDimension int `json:"defaultDimension"`
	// Index is the ANN index policy.
	Index IndexConfig `json:"index"`
	// Logger receives structured log output. Nil means NopLogger.
	Logger Logger `json:"-"`
	// Observer receives search and index lifecycle events. Nil means no-op.
	Observer SearchObserver `json:"-"`
}

// DefaultConfig returns a configuration with the standard index policy.
func DefaultConfig(path string) Config {
	return Config{
		Path:  path,
		Index: DefaultIndexConfig(),
	}
}

// Stats summarizes store contents.
type Stats struct {
	Documents int64          `json:"documents"`
	Chunks    int64          `json:"chunks"`
	Embedded  int64          `json:"embedded"`
	Embedders map[string]int `json:"embedders,omitempty"`
}
