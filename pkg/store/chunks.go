package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/retriva/retriva/internal/encoding"
)

// CreateDocument inserts or updates a document. An empty ID is replaced by a
// generated UUID.
func (s *Store) CreateDocument(ctx context.Context, doc *Document) error {
	if s.isClosed() {
		return wrapError("create_document", ErrStoreClosed)
	}
	if doc == nil {
		return wrapError("create_document", fmt.Errorf("document cannot be nil"))
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}

	metadataJSON, err := encoding.EncodeMetadata(doc.Metadata)
	if err != nil {
		return wrapError("create_document", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, content, metadata)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			metadata = excluded.metadata,
			updated_at = CURRENT_TIMESTAMP
	`, doc.ID, doc.Title, doc.Content, metadataJSON)
	if err != nil {
		return wrapError("create_document", fmt.Errorf("failed to insert document: %w", err))
	}
	return nil
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	if s.isClosed() {
		return nil, wrapError("get_document", ErrStoreClosed)
	}

	var doc Document
	var metadataJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, metadata, created_at, updated_at
		FROM documents WHERE id = ?
	`, id).Scan(&doc.ID, &doc.Title, &doc.Content, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrapError("get_document", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_document", fmt.Errorf("failed to query document: %w", err))
	}

	doc.Metadata, err = encoding.DecodeMetadata(metadataJSON)
	if err != nil {
		return nil, wrapError("get_document", err)
	}
	return &doc, nil
}

// ListDocuments returns all documents ordered by creation time.
func (s *Store) ListDocuments(ctx context.Context) ([]*Document, error) {
	if s.isClosed() {
		return nil, wrapError("list_documents", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, metadata, created_at, updated_at
		FROM documents ORDER BY created_at, id
	`)
	if err != nil {
		return nil, wrapError("list_documents", fmt.Errorf("failed to query documents: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var metadataJSON string
		if err := rows.Scan(&doc.ID, &doc.Title, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, wrapError("list_documents", err)
		}
		doc.Metadata, _ = encoding.DecodeMetadata(metadataJSON)
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("list_documents", err)
	}
	return docs, nil
}

// InsertChunks atomically writes a batch of chunks for one document. Every
// chunk is validated, and every embedder dimension resolved, before the
// first row is written; a dimension mismatch therefore never leaves a
// partial batch behind. Re-inserting an existing (document, chunk_index)
// pair overwrites its content and vector.
func (s *Store) InsertChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	if s.isClosed() {
		return wrapError("insert_chunks", ErrStoreClosed)
	}
	if documentID == "" {
		return wrapError("insert_chunks", fmt.Errorf("document ID cannot be empty"))
	}
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("insert_chunks", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE id = ?", documentID).Scan(&exists)
	if err != nil {
		return wrapError("insert_chunks", err)
	}
	if exists == 0 {
		return wrapError("insert_chunks", fmt.Errorf("document %q: %w", documentID, ErrNotFound))
	}

	// Validation pass: vectors and embedder dimensions, before any chunk write.
	for i, chunk := range chunks {
		if chunk.Embedding == nil {
			continue
		}
		if err := encoding.ValidateVector(chunk.Embedding); err != nil {
			return wrapError("insert_chunks", fmt.Errorf("chunk %d: %w", i, ErrInvalidVector))
		}
		if chunk.EmbedderName == "" {
			return wrapError("insert_chunks", fmt.Errorf("chunk %d: embedder name required with embedding", i))
		}
		dim, err := s.resolveDimension(ctx, tx, chunk.EmbedderName, len(chunk.Embedding))
		if err != nil {
			return wrapError("insert_chunks", err)
		}
		if len(chunk.Embedding) != dim {
			return wrapError("insert_chunks", fmt.Errorf(
				"chunk %d: embedder %q expects dimension %d, got %d: %w",
				i, chunk.EmbedderName, dim, len(chunk.Embedding), ErrDimensionMismatch))
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, content, embedding, embedder_name, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, chunk_index) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			embedder_name = excluded.embedder_name,
			metadata = excluded.metadata
		RETURNING id
	`)
	if err != nil {
		return wrapError("insert_chunks", fmt.Errorf("failed to prepare statement: %w", err))
	}
	defer func() { _ = stmt.Close() }()

	for i, chunk := range chunks {
		if chunk.ID == "" {
			chunk.ID = uuid.NewString()
		}
		chunk.DocumentID = documentID

		var vectorBytes []byte
		if chunk.Embedding != nil {
			vectorBytes, err = encoding.EncodeVector(chunk.Embedding)
			if err != nil {
				return wrapError("insert_chunks", fmt.Errorf("chunk %d: %w", i, err))
			}
		}
		metadataJSON, err := encoding.EncodeMetadata(chunk.Metadata)
		if err != nil {
			return wrapError("insert_chunks", fmt.Errorf("chunk %d: %w", i, err))
		}

		var embedderName sql.NullString
		if chunk.EmbedderName != "" {
			embedderName = sql.NullString{String: chunk.EmbedderName, Valid: true}
		}

		// RETURNING id surfaces the surviving row id on conflict so the ANN
		// index is updated under the right key.
		var storedID string
		err = stmt.QueryRowContext(ctx, chunk.ID, documentID, chunk.ChunkIndex,
			chunk.Content, vectorBytes, embedderName, metadataJSON).Scan(&storedID)
		if err != nil {
			return wrapError("insert_chunks", fmt.Errorf("chunk %d: failed to insert: %w", i, err))
		}
		chunk.ID = storedID
	}

	if err := tx.Commit(); err != nil {
		return wrapError("insert_chunks", fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.indexAdd(chunks)
	s.logger.Debug("chunks inserted", "document", documentID, "count", len(chunks))
	return nil
}

// resolveDimension returns the dimension registered for the embedder,
// registering it first when unknown. DefaultDimension wins over the incoming
// vector length for unregistered embedders.
func (s *Store) resolveDimension(ctx context.Context, tx *sql.Tx, embedder string, incoming int) (int, error) {
	var dim int
	err := tx.QueryRowContext(ctx, "SELECT dimension FROM embedders WHERE name = ?", embedder).Scan(&dim)
	if err == nil {
		return dim, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	dim = s.config.DefaultDimension
	if dim == 0 {
		dim = incoming
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO embedders (name, dimension) VALUES (?, ?)", embedder, dim); err != nil {
		return 0, err
	}
	return dim, nil
}

// embedderDimension returns the registered dimension for an embedder, or
// false when the embedder has never stored a vector.
func (s *Store) embedderDimension(ctx context.Context, embedder string) (int, bool, error) {
	var dim int
	err := s.db.QueryRowContext(ctx, "SELECT dimension FROM embedders WHERE name = ?", embedder).Scan(&dim)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return dim, true, nil
}

// DeleteDocument removes the document and, in the same transaction, every
// chunk it owns. Idempotent: deleting an unknown document is a no-op.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if s.isClosed() {
		return wrapError("delete_document", ErrStoreClosed)
	}
	if documentID == "" {
		return wrapError("delete_document", fmt.Errorf("document ID cannot be empty"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("delete_document", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	// Collect chunk ids first so the in-memory indexes can be pruned after
	// commit. The explicit chunk delete keeps the FTS triggers firing; the
	// FOREIGN KEY cascade remains as a backstop.
	rows, err := tx.QueryContext(ctx, "SELECT id FROM chunks WHERE document_id = ?", documentID)
	if err != nil {
		return wrapError("delete_document", err)
	}
	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			chunkIDs = append(chunkIDs, id)
		}
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return wrapError("delete_document", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return wrapError("delete_document", fmt.Errorf("failed to delete chunks: %w", err))
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID); err != nil {
		return wrapError("delete_document", fmt.Errorf("failed to delete document: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return wrapError("delete_document", fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.indexDelete(chunkIDs)
	s.logger.Debug("document deleted", "document", documentID, "chunks", len(chunkIDs))
	return nil
}

// GetChunksByDocument returns a document's chunks ordered by chunk index.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	if s.isClosed() {
		return nil, wrapError("get_chunks", ErrStoreClosed)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, embedding, embedder_name, metadata
		FROM chunks WHERE document_id = ? ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, wrapError("get_chunks", fmt.Errorf("failed to query chunks: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, wrapError("get_chunks", err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("get_chunks", err)
	}
	return chunks, nil
}

// scanChunk scans one chunk row including its optional embedding.
func scanChunk(rows *sql.Rows) (*Chunk, error) {
	var chunk Chunk
	var vectorBytes []byte
	var embedderName sql.NullString
	var metadataJSON sql.NullString

	if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
		&chunk.Content, &vectorBytes, &embedderName, &metadataJSON); err != nil {
		return nil, fmt.Errorf("failed to scan chunk: %w", err)
	}

	if len(vectorBytes) > 0 {
		vec, err := encoding.DecodeVector(vectorBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to decode vector: %w", err)
		}
		chunk.Embedding = vec
	}
	chunk.EmbedderName = embedderName.String
	if metadataJSON.Valid {
		chunk.Metadata, _ = encoding.DecodeMetadata(metadataJSON.String)
	}
	return &chunk, nil
}

// Stats returns document and chunk counts plus per-embedder vector counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	if s.isClosed() {
		return Stats{}, wrapError("stats", ErrStoreClosed)
	}

	var stats Stats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&stats.Documents); err != nil {
		return Stats{}, wrapError("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks").Scan(&stats.Chunks); err != nil {
		return Stats{}, wrapError("stats", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chunks WHERE embedding IS NOT NULL").Scan(&stats.Embedded); err != nil {
		return Stats{}, wrapError("stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT embedder_name, COUNT(*) FROM chunks
		WHERE embedding IS NOT NULL GROUP BY embedder_name
	`)
	if err != nil {
		return Stats{}, wrapError("stats", err)
	}
	defer func() { _ = rows.Close() }()

	stats.Embedders = make(map[string]int)
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err == nil {
			stats.Embedders[name] = count
		}
	}
	return stats, rows.Err()
}
