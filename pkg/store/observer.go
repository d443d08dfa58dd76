package store

import "time"

// SearchKind identifies which retrieval path produced a SearchEvent.
type SearchKind string

const (
	SearchKindVector  SearchKind = "vector"
	SearchKindLexical SearchKind = "lexical"
	SearchKindHybrid  SearchKind = "hybrid"
)

// SearchEvent describes one completed search call.
type SearchEvent struct {
	Kind     SearchKind
	Embedder string
	Results  int
	Duration time.Duration
	Err      error
}

// IndexEvent describes a completed index rebuild.
type IndexEvent struct {
	Embedder string
	Family   string // "graph" or "partition"
	Vectors  int
	Duration time.Duration
}

// SearchObserver receives store lifecycle events. It is injected per Store
// at construction so independent instances never share observer state.
// Implementations must be safe for concurrent use and must not block.
type SearchObserver interface {
	SearchCompleted(ev SearchEvent)
	IndexRebuilt(ev IndexEvent)
}

type nopObserver struct{}

func (nopObserver) SearchCompleted(SearchEvent) {}
func (nopObserver) IndexRebuilt(IndexEvent)     {}

// NopObserver returns an observer that ignores all events.
func NopObserver() SearchObserver {
	return nopObserver{}
}
