package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertRegistryEntry writes a registry row keyed on
// (source_path, content_hash). Other hashes for the same path are
// purged in the same transaction, so a path retains only its most
// recent content hash.
func (s *Store) UpsertRegistryEntry(ctx context.Context, entry RegistryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM registry
			WHERE source_path = ? AND content_hash != ?`,
			entry.SourcePath, entry.ContentHash); err != nil {
			return fmt.Errorf("purge stale registry hashes: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO registry (
				source_path, content_hash, status, retry_count,
				last_seen_at, last_indexed_at, error_message,
				embedding_model, embedding_status, embedding_error
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_path, content_hash) DO UPDATE SET
				status = excluded.status,
				retry_count = excluded.retry_count,
				last_seen_at = excluded.last_seen_at,
				last_indexed_at = excluded.last_indexed_at,
				error_message = excluded.error_message,
				embedding_model = excluded.embedding_model,
				embedding_status = excluded.embedding_status,
				embedding_error = excluded.embedding_error`,
			entry.SourcePath, entry.ContentHash, entry.Status, entry.RetryCount,
			formatTime(entry.LastSeenAt), formatTime(entry.LastIndexedAt),
			nullable(entry.ErrorMessage), nullable(entry.EmbeddingModel),
			nullable(entry.EmbeddingStatus), nullable(entry.EmbeddingError),
		); err != nil {
			return fmt.Errorf("upsert registry entry: %w", err)
		}
		return nil
	})
}

const registryColumns = `source_path, content_hash, status, retry_count,
	last_seen_at, last_indexed_at, error_message,
	embedding_model, embedding_status, embedding_error`

// GetRegistryEntry returns the entry for (source_path, content_hash),
// or nil when absent.
func (s *Store) GetRegistryEntry(ctx context.Context, sourcePath, contentHash string) (*RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+registryColumns+` FROM registry
		 WHERE source_path = ? AND content_hash = ?`,
		sourcePath, contentHash)
	entry, err := scanRegistryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return entry, err
}

// ListRegistryEntries returns entries ordered by last_seen_at
// descending, optionally filtered by status. An empty status lists all.
func (s *Store) ListRegistryEntries(ctx context.Context, status string) ([]*RegistryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+registryColumns+` FROM registry
			 WHERE status = ? ORDER BY last_seen_at DESC`, status)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+registryColumns+` FROM registry
			 ORDER BY last_seen_at DESC`)
	}
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()

	var entries []*RegistryEntry
	for rows.Next() {
		entry, err := scanRegistryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// RegistryStatusCounts returns the number of entries per status.
func (s *Store) RegistryStatusCounts(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM registry GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("registry status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func scanRegistryEntry(row rowScanner) (*RegistryEntry, error) {
	var e RegistryEntry
	var lastSeenAt, lastIndexedAt sql.NullString
	var errorMessage, embeddingModel, embeddingStatus, embeddingError sql.NullString
	err := row.Scan(
		&e.SourcePath, &e.ContentHash, &e.Status, &e.RetryCount,
		&lastSeenAt, &lastIndexedAt, &errorMessage,
		&embeddingModel, &embeddingStatus, &embeddingError,
	)
	if err != nil {
		return nil, err
	}
	e.LastSeenAt = parseTime(lastSeenAt)
	e.LastIndexedAt = parseTime(lastIndexedAt)
	e.ErrorMessage = errorMessage.String
	e.EmbeddingModel = embeddingModel.String
	e.EmbeddingStatus = embeddingStatus.String
	e.EmbeddingError = embeddingError.String
	return &e, nil
}
