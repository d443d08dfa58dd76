package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/retriva/retriva/pkg/ann"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is the SQLite-backed chunk store. It owns the documents and chunks
// tables, the FTS5 lexical index, and the per-embedder in-memory ANN
// indexes. All read paths are safe for concurrent use and never block each
// other; InsertChunks and DeleteDocument are the only writers.
type Store struct {
	db       *sql.DB
	config   Config
	mu       sync.RWMutex
	closed   bool
	logger   Logger
	observer SearchObserver

	indexMu sync.RWMutex
	indexes map[string]ann.Index
}

// New creates a store for the given database path with default configuration.
func New(path string) (*Store, error) {
	return NewWithConfig(DefaultConfig(path))
}

// NewWithConfig creates a store with custom configuration. Call Init before
// first use.
func NewWithConfig(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, wrapError("init", fmt.Errorf("%w: database path cannot be empty", ErrInvalidConfig))
	}
	if config.DefaultDimension < 0 {
		return nil, wrapError("init", fmt.Errorf("%w: dimension must be non-negative", ErrInvalidConfig))
	}
	if config.Logger == nil {
		config.Logger = NopLogger()
	}
	if config.Observer == nil {
		config.Observer = NopObserver()
	}

	return &Store{
		config:   config,
		logger:   config.Logger,
		observer: config.Observer,
		indexes:  make(map[string]ann.Index),
	}, nil
}

// Init opens the database and creates the schema.
func (s *Store) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("init", ErrStoreClosed)
	}
	if s.db != nil {
		return nil
	}

	// WAL keeps readers and the single writer out of each other's way;
	// busy_timeout waits for the write lock instead of failing immediately.
	// The _pragma form applies each pragma on every pooled connection.
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=cache_size(-2000)&_pragma=foreign_keys(1)", s.config.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	if err := createSchema(ctx, db); err != nil {
		_ = db.Close()
		return wrapError("init", err)
	}

	s.db = db
	s.logger.Info("store initialized", "path", s.config.Path)
	return nil
}

// DB exposes the underlying database handle so the embedding and semantic
// caches can live in the same file and share the connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Logger returns the store's logger so layered components can share it.
func (s *Store) Logger() Logger {
	return s.logger
}

// Close closes the store and releases resources.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.indexMu.Lock()
	s.indexes = make(map[string]ann.Index)
	s.indexMu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// isClosed reports the closed flag under the read lock.
func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
