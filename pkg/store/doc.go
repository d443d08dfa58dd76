// Package store implements the SQLite-backed chunk store at the heart of
// the retrieval engine.
//
// It persists documents and their chunks, serves three search paths over
// them, and maintains the per-embedder ANN indexes used for candidate
// generation.
//
// # Key Components
//
//   - Store: the main entry point, managing persistent rows, the FTS5
//     lexical index and the in-memory ANN indexes.
//   - VectorSearch / LexicalSearch / HybridSearch: the three retrieval
//     paths; hybrid fusion blends both scores under a per-call alpha.
//   - SearchMode: a tagged variant (VectorOnly, LexicalOnly, Hybrid) that
//     validates blend weights at construction rather than at call time.
//   - RebuildIndex: the externally triggered index maintainer, choosing the
//     graph or partition family by corpus size.
//
// Logging and observability are injected per instance through the Logger
// and SearchObserver interfaces; the package holds no global state.
package store
