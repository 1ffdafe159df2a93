package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, workspace_id, artifact_entry_id, source_type, source_name,
	source_path, content_hash, indexed_at, file_size, embedding_status,
	embedding_model, embedding_error, stale_at, created_at, updated_at`

// CreateDocument inserts a new document and returns it with generated
// id and timestamps. Embedding status defaults to disabled.
func (s *Store) CreateDocument(ctx context.Context, p DocumentParams) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	status := p.EmbeddingStatus
	if status == "" {
		status = EmbeddingStatusDisabled
	}
	ts := now()
	doc := &Document{
		ID:              uuid.NewString(),
		WorkspaceID:     p.WorkspaceID,
		ArtifactEntryID: p.ArtifactEntryID,
		SourceType:      p.SourceType,
		SourceName:      p.SourceName,
		SourcePath:      p.SourcePath,
		ContentHash:     p.ContentHash,
		IndexedAt:       ts,
		FileSize:        p.FileSize,
		EmbeddingStatus: status,
		EmbeddingModel:  p.EmbeddingModel,
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (
			id, workspace_id, artifact_entry_id, source_type, source_name,
			source_path, content_hash, indexed_at, file_size, embedding_status,
			embedding_model, embedding_error, stale_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`,
		doc.ID, doc.WorkspaceID, nullable(doc.ArtifactEntryID),
		string(doc.SourceType), doc.SourceName, nullable(doc.SourcePath),
		doc.ContentHash, formatTime(doc.IndexedAt), nullableInt(doc.FileSize),
		doc.EmbeddingStatus, nullable(doc.EmbeddingModel),
		formatTime(doc.CreatedAt), formatTime(doc.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// UpdateDocument refreshes a document's source attributes and content
// hash after re-ingestion. A zero fileSize keeps the stored value.
func (s *Store) UpdateDocument(ctx context.Context, documentID, sourceName, contentHash, sourcePath, artifactEntryID string, fileSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	ts := formatTime(now())
	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET source_name = ?,
			source_path = ?,
			artifact_entry_id = ?,
			content_hash = ?,
			indexed_at = ?,
			file_size = COALESCE(?, file_size),
			updated_at = ?
		WHERE id = ?`,
		sourceName, nullable(sourcePath), nullable(artifactEntryID),
		contentHash, ts, nullableInt(fileSize), ts, documentID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

// UpdateDocumentEmbeddingStatus records the outcome of an embedding run.
func (s *Store) UpdateDocumentEmbeddingStatus(ctx context.Context, documentID, status, model, embeddingError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET embedding_status = ?,
			embedding_model = ?,
			embedding_error = ?,
			updated_at = ?
		WHERE id = ?`,
		status, nullable(model), nullable(embeddingError),
		formatTime(now()), documentID,
	)
	if err != nil {
		return fmt.Errorf("update embedding status: %w", err)
	}
	return nil
}

// GetDocument returns the document or nil when absent.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, documentID)
	return scanDocument(row)
}

// GetDocumentByArtifactEntry looks a document up by its owning artifact
// entry within a workspace. Returns nil when absent.
func (s *Store) GetDocumentByArtifactEntry(ctx context.Context, workspaceID, artifactEntryID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE workspace_id = ? AND artifact_entry_id = ?`,
		workspaceID, artifactEntryID)
	return scanDocument(row)
}

// DeleteDocument removes a document, its chunks, FTS rows, embeddings,
// and session links in one transaction.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM chunks_fts
			WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`,
			documentID); err != nil {
			return fmt.Errorf("delete FTS rows: %w", err)
		}
		// Chunks, embeddings, and session links cascade.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE id = ?`, documentID); err != nil {
			return fmt.Errorf("delete document: %w", err)
		}
		return nil
	})
}

// AttachDocumentToSession links a document to a session. Idempotent.
func (s *Store) AttachDocumentToSession(ctx context.Context, documentID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO document_sessions (document_id, session_id, created_at)
		VALUES (?, ?, ?)`,
		documentID, sessionID, formatTime(now()))
	if err != nil {
		return fmt.Errorf("attach session: %w", err)
	}
	return nil
}

// DetachDocumentFromSession removes a document/session link.
func (s *Store) DetachDocumentFromSession(ctx context.Context, documentID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		DELETE FROM document_sessions
		WHERE document_id = ? AND session_id = ?`,
		documentID, sessionID)
	if err != nil {
		return fmt.Errorf("detach session: %w", err)
	}
	return nil
}

// MarkSessionDocumentsStale sets stale_at on every document linked to
// the session. Setting the marker never deletes data; cleanup is a
// separate pass.
func (s *Store) MarkSessionDocumentsStale(ctx context.Context, sessionID string, staleAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET stale_at = ?, updated_at = ?
		WHERE id IN (
			SELECT document_id FROM document_sessions WHERE session_id = ?
		)`,
		formatTime(staleAt), formatTime(now()), sessionID)
	if err != nil {
		return fmt.Errorf("mark session documents stale: %w", err)
	}
	return nil
}

// ListStaleDocuments returns documents whose stale_at is at or before
// cutoff, oldest first.
func (s *Store) ListStaleDocuments(ctx context.Context, cutoff time.Time) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE stale_at IS NOT NULL AND stale_at <= ?
		 ORDER BY stale_at ASC`,
		formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list stale documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocumentRow(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row *sql.Row) (*Document, error) {
	doc, err := scanDocumentRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return doc, err
}

func scanDocumentRow(row rowScanner) (*Document, error) {
	var doc Document
	var artifactEntryID, sourcePath, embeddingModel, embeddingError sql.NullString
	var indexedAt, staleAt, createdAt, updatedAt sql.NullString
	var fileSize sql.NullInt64
	var sourceType string

	err := row.Scan(
		&doc.ID, &doc.WorkspaceID, &artifactEntryID, &sourceType,
		&doc.SourceName, &sourcePath, &doc.ContentHash, &indexedAt,
		&fileSize, &doc.EmbeddingStatus, &embeddingModel, &embeddingError,
		&staleAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.ArtifactEntryID = artifactEntryID.String
	doc.SourceType = SourceType(sourceType)
	doc.SourcePath = sourcePath.String
	doc.IndexedAt = parseTime(indexedAt)
	doc.FileSize = fileSize.Int64
	doc.EmbeddingModel = embeddingModel.String
	doc.EmbeddingError = embeddingError.String
	doc.StaleAt = parseTime(staleAt)
	doc.CreatedAt = parseTime(createdAt)
	doc.UpdatedAt = parseTime(updatedAt)
	return &doc, nil
}
