package retrieve

import (
	"context"
	"log/slog"
	"sort"

	"github.com/attractor-desk/ragcore/internal/embed"
	"github.com/attractor-desk/ragcore/internal/store"
	"github.com/attractor-desk/ragcore/internal/vector"
)

// Retriever serves scope-filtered hybrid retrieval over a storage layer
// and an optional vector index. All dependencies are injected; nil
// optional dependencies degrade the corresponding stage.
type Retriever struct {
	store    *store.Store
	vectors  VectorSearcher
	embedder embed.Embedder
	reranker Reranker
}

// New creates a Retriever. vectors, embedder, and reranker may be nil:
// a nil embedder disables vector recall, a nil vectors index routes
// vector recall through the fallback scan, a nil reranker limits
// rerank to the heuristic.
func New(s *store.Store, vectors VectorSearcher, embedder embed.Embedder, reranker Reranker) *Retriever {
	return &Retriever{store: s, vectors: vectors, embedder: embedder, reranker: reranker}
}

// Retrieve runs the full retrieval pipeline. It never returns an error
// for degraded sub-steps; an empty candidate set yields
// Grounded=false with an empty context.
func (r *Retriever) Retrieve(ctx context.Context, req Request) Result {
	settings := req.Settings
	scope := settings.Scope
	if scope == "" {
		scope = store.ScopeSession
	}
	// Session scope without a session falls back to workspace scope.
	if scope == store.ScopeSession && req.SessionID == "" {
		scope = store.ScopeWorkspace
	}
	settings.Scope = scope

	queries := req.Queries
	if len(queries) == 0 {
		queries = []string{req.Query}
	}

	var debug Debug
	var rankLists [][]string
	lexicalScores := make(map[string]float64)
	vectorScores := make(map[string]float64)

	for _, q := range queries {
		hits, err := r.store.SearchLexical(ctx, q, scope, req.WorkspaceID, req.SessionID, settings.KLex)
		if err != nil {
			slog.Warn("lexical_search_failed", slog.String("error", err.Error()))
			debug.Degraded = append(debug.Degraded, "lexical")
		} else if len(hits) > 0 {
			list := make([]string, len(hits))
			for i, h := range hits {
				list[i] = h.ChunkID
				// Track the best (lowest) BM25 score per chunk.
				if prev, ok := lexicalScores[h.ChunkID]; !ok || h.Score < prev {
					lexicalScores[h.ChunkID] = h.Score
				}
			}
			rankLists = append(rankLists, list)
		}

		if req.EmbeddingModel != "" && r.embedder != nil && settings.KVec > 0 {
			vecHits, fallback, err := r.vectorSearch(ctx, q, scope, req.WorkspaceID, req.SessionID, req.EmbeddingModel, settings.KVec)
			debug.VectorFallback = debug.VectorFallback || fallback
			if err != nil {
				slog.Warn("vector_search_failed", slog.String("error", err.Error()))
				debug.Degraded = append(debug.Degraded, "vector")
			} else if len(vecHits) > 0 {
				list := make([]string, len(vecHits))
				for i, h := range vecHits {
					list[i] = h.ChunkID
					// Track the best (highest) cosine score per chunk.
					if prev, ok := vectorScores[h.ChunkID]; !ok || h.Score > prev {
						vectorScores[h.ChunkID] = h.Score
					}
				}
				rankLists = append(rankLists, list)
			}
		}
	}

	fused := rrfFuse(rankLists, settings.RRFK)
	orderedIDs := sortFused(fused)
	if len(orderedIDs) > settings.MaxCandidates {
		orderedIDs = orderedIDs[:settings.MaxCandidates]
	}

	details := r.fetchDetails(ctx, orderedIDs, &debug)

	candidates := make([]Candidate, 0, len(orderedIDs))
	for _, chunkID := range orderedIDs {
		c := Candidate{ChunkID: chunkID, FusedScore: fused[chunkID]}
		if score, ok := lexicalScores[chunkID]; ok {
			c.LexicalScore, c.LexicalHit = score, true
		}
		if score, ok := vectorScores[chunkID]; ok {
			c.VectorScore, c.VectorHit = score, true
		}
		if d := details[chunkID]; d != nil {
			c.DocumentID = d.DocumentID
			c.ChunkIndex = d.ChunkIndex
			c.SectionTitle = d.SectionTitle
			c.SourceName = d.SourceName
			c.SourceType = d.SourceType
		}
		candidates = append(candidates, c)
	}

	reranked := r.rerankCandidates(ctx, req.Query, candidates, details, settings, &debug)
	selected := selectContextChunks(reranked, details, settings.MaxContextChunks, settings.MaxContextChars)
	contextStr, citations := buildContext(selected, details)

	debug.LexicalCandidates = len(lexicalScores)
	debug.VectorCandidates = len(vectorScores)
	debug.FusedCandidates = len(fused)
	debug.SelectedCandidates = len(orderedIDs)
	debug.ContextChunks = len(selected)

	return Result{
		Context:          contextStr,
		Candidates:       reranked,
		Citations:        citations,
		Grounded:         len(selected) > 0,
		SelectedChunkIDs: selected,
		Debug:            debug,
	}
}

// fetchDetails loads chunk+document details in one round-trip. Chunk
// ids deleted since recall simply have no entry; the caller filters
// them out (concurrent deletes are tolerated, per the ordering
// contract).
func (r *Retriever) fetchDetails(ctx context.Context, chunkIDs []string, debug *Debug) map[string]*store.ChunkDetails {
	details := make(map[string]*store.ChunkDetails, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return details
	}
	rows, err := r.store.GetChunkDetails(ctx, chunkIDs)
	if err != nil {
		slog.Warn("chunk_details_failed", slog.String("error", err.Error()))
		debug.Degraded = append(debug.Degraded, "details")
		return details
	}
	for _, d := range rows {
		details[d.ID] = d
	}
	return details
}

// scopeFilter builds the vector-index metadata filter for a scope.
// Global-pool vectors carry session_id="" so the filter always pins
// both keys; session documents never leak into workspace queries and
// vice versa.
func scopeFilter(scope store.Scope, workspaceID, sessionID string) map[string]string {
	workspaceScope := workspaceID
	if scope == store.ScopeGlobal {
		workspaceScope = store.GlobalWorkspaceID
	}
	filter := map[string]string{vector.MetaWorkspaceID: workspaceScope}
	if scope == store.ScopeSession && sessionID != "" {
		filter[vector.MetaSessionID] = sessionID
	} else {
		filter[vector.MetaSessionID] = ""
	}
	return filter
}

// vectorSearch embeds the query and runs the fast path, falling back
// to the manual scan when the index is missing or errors. The bool
// result reports whether the fallback served the request.
func (r *Retriever) vectorSearch(ctx context.Context, query string, scope store.Scope, workspaceID, sessionID, model string, k int) ([]vector.Hit, bool, error) {
	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, false, err
	}
	queryNorm := embed.Norm(queryVector)
	if queryNorm == 0 {
		// A zero-norm query matches nothing; skip the division.
		return nil, false, nil
	}

	if r.vectors != nil {
		hits, err := r.vectors.QuerySimilar(ctx, queryVector, scopeFilter(scope, workspaceID, sessionID), k)
		if err == nil {
			return hits, false, nil
		}
		slog.Warn("vector_index_unavailable_falling_back", slog.String("error", err.Error()))
	}

	hits, err := r.fallbackScan(ctx, queryVector, queryNorm, scope, workspaceID, sessionID, model, k)
	return hits, true, err
}

// fallbackScan computes cosine similarity in-process over the stored
// embeddings for the scope. O(n·d): a correctness guarantee, not a
// performance target.
func (r *Retriever) fallbackScan(ctx context.Context, queryVector []float32, queryNorm float64, scope store.Scope, workspaceID, sessionID, model string, k int) ([]vector.Hit, error) {
	stored, err := r.store.GetEmbeddingsForScope(ctx, scope, workspaceID, sessionID, model)
	if err != nil {
		return nil, err
	}

	hits := make([]vector.Hit, 0, len(stored))
	for _, e := range stored {
		vec := store.BlobToFloats(e.Blob)
		if e.Dims != 0 && len(vec) != e.Dims {
			continue
		}
		if len(vec) != len(queryVector) {
			continue
		}
		if embed.Norm(vec) == 0 {
			continue
		}
		score := embed.Cosine(queryVector, vec, queryNorm)
		hits = append(hits, vector.Hit{ChunkID: e.ChunkID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}
