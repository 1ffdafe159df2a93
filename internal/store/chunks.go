package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ReplaceDocumentChunks atomically swaps a document's chunks: existing
// chunks and their FTS rows are deleted, then the new chunks and FTS
// rows are inserted, all in one transaction. A failure leaves the
// document with its previous chunks intact.
func (s *Store) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []ChunkInput, sourceName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	ts := formatTime(now())
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM chunks_fts
			WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`,
			documentID); err != nil {
			return fmt.Errorf("delete FTS rows: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}

		chunkStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, document_id, chunk_index, section_title, content, token_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare chunk insert: %w", err)
		}
		defer chunkStmt.Close()

		ftsStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks_fts (chunk_id, content, section_title, source_name)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare FTS insert: %w", err)
		}
		defer ftsStmt.Close()

		for _, c := range chunks {
			if _, err := chunkStmt.ExecContext(ctx,
				c.ID, documentID, c.ChunkIndex, nullable(c.SectionTitle),
				c.Content, nullableInt(int64(c.TokenCount)), ts); err != nil {
				return fmt.Errorf("insert chunk %s: %w", c.ID, err)
			}
			if _, err := ftsStmt.ExecContext(ctx,
				c.ID, c.Content, nullable(c.SectionTitle), sourceName); err != nil {
				return fmt.Errorf("insert FTS row %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

// GetChunksByIDs returns the chunks for the given ids. Missing ids are
// silently absent from the result.
func (s *Store) GetChunksByIDs(ctx context.Context, chunkIDs []string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, chunk_index, section_title, content, token_count, created_at
		FROM chunks WHERE id IN (%s)`, placeholders(len(chunkIDs)))
	rows, err := s.db.QueryContext(ctx, query, stringArgs(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var sectionTitle sql.NullString
		var tokenCount sql.NullInt64
		var createdAt sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex,
			&sectionTitle, &c.Content, &tokenCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.SectionTitle = sectionTitle.String
		c.TokenCount = int(tokenCount.Int64)
		c.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// GetChunksByDocument returns a document's chunks ordered by chunk
// index.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, section_title, content, token_count, created_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query document chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var sectionTitle sql.NullString
		var tokenCount sql.NullInt64
		var createdAt sql.NullString
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex,
			&sectionTitle, &c.Content, &tokenCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.SectionTitle = sectionTitle.String
		c.TokenCount = int(tokenCount.Int64)
		c.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// GetChunkDetails joins chunks with their documents for rerank and
// citation needs. Ids whose chunk or document no longer exists are
// absent from the result; callers must tolerate that (a concurrent
// delete may have removed them).
func (s *Store) GetChunkDetails(ctx context.Context, chunkIDs []string) ([]*ChunkDetails, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.chunk_index, c.section_title, c.content,
		       c.token_count, c.created_at,
		       d.source_name, d.source_type, d.source_path, d.updated_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (%s)`, placeholders(len(chunkIDs)))
	rows, err := s.db.QueryContext(ctx, query, stringArgs(chunkIDs)...)
	if err != nil {
		return nil, fmt.Errorf("query chunk details: %w", err)
	}
	defer rows.Close()

	var details []*ChunkDetails
	for rows.Next() {
		var d ChunkDetails
		var sectionTitle, sourcePath sql.NullString
		var tokenCount sql.NullInt64
		var createdAt, docUpdatedAt sql.NullString
		var sourceType string
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.ChunkIndex,
			&sectionTitle, &d.Content, &tokenCount, &createdAt,
			&d.SourceName, &sourceType, &sourcePath, &docUpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk details: %w", err)
		}
		d.Chunk.SectionTitle = sectionTitle.String
		d.Chunk.TokenCount = int(tokenCount.Int64)
		d.Chunk.CreatedAt = parseTime(createdAt)
		d.SourceType = SourceType(sourceType)
		d.SourcePath = sourcePath.String
		d.DocumentUpdatedAt = parseTime(docUpdatedAt)
		details = append(details, &d)
	}
	return details, rows.Err()
}

// CountDocumentChunks returns the number of chunks stored for a document.
func (s *Store) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE document_id = ?`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}

// CountFTSRows returns the number of FTS rows for a document's chunks.
// Used by consistency checks.
func (s *Store) CountFTSRows(ctx context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks_fts
		WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id = ?)`,
		documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count FTS rows: %w", err)
	}
	return count, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
