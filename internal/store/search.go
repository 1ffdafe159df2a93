package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

// ftsTokenPattern extracts word tokens from user queries. Everything
// else (operators, punctuation, quotes) is discarded before the text
// reaches the FTS engine.
var ftsTokenPattern = regexp.MustCompile(`\w+`)

// escapeFTSQuery rewrites raw user text into a safe FTS5 MATCH
// expression: each \w+ token becomes a quoted phrase, internal quotes
// doubled, joined with implicit AND. Returns "" when no tokens remain.
func escapeFTSQuery(query string) string {
	tokens := ftsTokenPattern.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " ")
}

// SearchLexical runs a BM25-ranked full-text query under the given
// scope and returns (chunk_id, score) pairs ordered by bm25()
// ascending. Lower scores are better matches: SQLite's bm25() returns
// negative values where more negative means more relevant, so the
// ascending order puts the best hit first. RRF consumers must treat
// position, not sign, as rank.
//
// Scope shapes:
//   - session: chunks -> documents -> document_sessions by session id
//   - global: documents in the reserved GLOBAL workspace
//   - workspace: documents in the given workspace
//
// An empty or all-punctuation query returns no hits.
func (s *Store) SearchLexical(ctx context.Context, query string, scope Scope, workspaceID, sessionID string, limit int) ([]LexicalHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	safeQuery := escapeFTSQuery(query)
	if safeQuery == "" {
		return nil, nil
	}

	var rows *sql.Rows
	var err error
	switch scope {
	case ScopeSession:
		if sessionID == "" {
			return nil, nil
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT chunks_fts.chunk_id, bm25(chunks_fts) AS score
			FROM chunks_fts
			JOIN chunks c ON c.id = chunks_fts.chunk_id
			JOIN documents d ON d.id = c.document_id
			JOIN document_sessions s ON s.document_id = d.id
			WHERE s.session_id = ? AND chunks_fts MATCH ?
			ORDER BY score
			LIMIT ?`,
			sessionID, safeQuery, limit)
	default:
		workspaceScope := workspaceID
		if scope == ScopeGlobal {
			workspaceScope = GlobalWorkspaceID
		}
		if workspaceScope == "" {
			return nil, nil
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT chunks_fts.chunk_id, bm25(chunks_fts) AS score
			FROM chunks_fts
			JOIN chunks c ON c.id = chunks_fts.chunk_id
			JOIN documents d ON d.id = c.document_id
			WHERE d.workspace_id = ? AND chunks_fts MATCH ?
			ORDER BY score
			LIMIT ?`,
			workspaceScope, safeQuery, limit)
	}
	if err != nil {
		// Escaping above should make syntax errors unreachable; treat
		// any residual FTS parse complaint as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
