package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
)

// FloatsToBlob encodes a vector as a little-endian IEEE-754 f32 array.
func FloatsToBlob(values []float32) []byte {
	blob := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// BlobToFloats decodes a little-endian f32 array. Trailing bytes that
// do not form a full float are ignored.
func BlobToFloats(blob []byte) []float32 {
	values := make([]float32, len(blob)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return values
}

// UpsertEmbeddings stores embeddings with replace-by-chunk semantics:
// at most one embedding per chunk, the latest model wins.
func (s *Store) UpsertEmbeddings(ctx context.Context, embeddings []EmbeddingInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	if len(embeddings) == 0 {
		return nil
	}

	ts := formatTime(now())
	return s.tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO embeddings (chunk_id, model, dims, blob, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				model = excluded.model,
				dims = excluded.dims,
				blob = excluded.blob,
				created_at = excluded.created_at`)
		if err != nil {
			return fmt.Errorf("prepare embedding upsert: %w", err)
		}
		defer stmt.Close()

		for _, e := range embeddings {
			if _, err := stmt.ExecContext(ctx, e.ChunkID, e.Model, e.Dims, e.Blob, ts); err != nil {
				return fmt.Errorf("upsert embedding %s: %w", e.ChunkID, err)
			}
		}
		return nil
	})
}

// GetEmbeddingsForScope returns every stored embedding visible under
// the given scope and model. Used only by the fallback manual cosine
// scan when the vector index is unavailable.
func (s *Store) GetEmbeddingsForScope(ctx context.Context, scope Scope, workspaceID, sessionID, model string) ([]ScopedEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error
	if scope == ScopeSession {
		if sessionID == "" {
			return nil, nil
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT e.chunk_id, e.blob, e.dims
			FROM embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			JOIN documents d ON d.id = c.document_id
			JOIN document_sessions s ON s.document_id = d.id
			WHERE s.session_id = ? AND e.model = ?`,
			sessionID, model)
	} else {
		workspaceScope := workspaceID
		if scope == ScopeGlobal {
			workspaceScope = GlobalWorkspaceID
		}
		if workspaceScope == "" {
			return nil, nil
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT e.chunk_id, e.blob, e.dims
			FROM embeddings e
			JOIN chunks c ON c.id = e.chunk_id
			JOIN documents d ON d.id = c.document_id
			WHERE d.workspace_id = ? AND e.model = ?`,
			workspaceScope, model)
	}
	if err != nil {
		return nil, fmt.Errorf("query scoped embeddings: %w", err)
	}
	defer rows.Close()

	var result []ScopedEmbedding
	for rows.Next() {
		var e ScopedEmbedding
		if err := rows.Scan(&e.ChunkID, &e.Blob, &e.Dims); err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
