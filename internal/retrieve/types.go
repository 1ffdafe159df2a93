// Package retrieve implements hybrid retrieval: lexical and vector
// recall fused with Reciprocal Rank Fusion, reranked, and packed into a
// citation-bearing context block. Every sub-step degrades on failure;
// a retrieval call never errors out because one source is down.
package retrieve

import (
	"context"

	"github.com/attractor-desk/ragcore/internal/store"
	"github.com/attractor-desk/ragcore/internal/vector"
)

// Settings are the runtime knobs for retrieval and rerank.
type Settings struct {
	// Scope selects visibility. A session scope without a session id
	// falls back to workspace scope.
	Scope store.Scope
	// KLex is the per-query lexical candidate count.
	KLex int
	// KVec is the per-query vector candidate count.
	KVec int
	// RRFK is the RRF discount constant.
	RRFK int
	// MaxCandidates caps candidates after fusion, before rerank.
	MaxCandidates int
	// MaxContextChunks caps chunks in the assembled context.
	MaxContextChunks int
	// MaxContextChars is the character budget for the context.
	MaxContextChars int
	// EnableLLMRerank invokes the reranker when one is available;
	// otherwise the heuristic rerank runs.
	EnableLLMRerank bool
}

// DefaultSettings returns the standard retrieval configuration.
func DefaultSettings() Settings {
	return Settings{
		Scope:            store.ScopeSession,
		KLex:             8,
		KVec:             8,
		RRFK:             60,
		MaxCandidates:    12,
		MaxContextChunks: 6,
		MaxContextChars:  6000,
		EnableLLMRerank:  false,
	}
}

// Request is a single retrieval invocation.
type Request struct {
	Query string
	// Queries are optional expansion queries from an upstream rewrite
	// step; when present they replace the single-query fanout.
	Queries        []string
	Settings       Settings
	WorkspaceID    string
	SessionID      string
	EmbeddingModel string
}

// Candidate is a scored retrieval candidate surfaced for debugging and
// rerank.
type Candidate struct {
	ChunkID      string
	FusedScore   float64
	LexicalScore float64
	LexicalHit   bool
	VectorScore  float64
	VectorHit    bool
	RerankScore  float64
	DocumentID   string
	ChunkIndex   int
	SectionTitle string
	SourceName   string
	SourceType   store.SourceType
}

// Citation points a context entry back at its chunk.
type Citation struct {
	ChunkID      string
	DocumentID   string
	SourceName   string
	SectionTitle string
	ChunkIndex   int
}

// Debug carries per-stage counters for observability.
type Debug struct {
	LexicalCandidates  int
	VectorCandidates   int
	FusedCandidates    int
	SelectedCandidates int
	ContextChunks      int
	// VectorFallback is true when the manual cosine scan served vector
	// recall because the vector index was unavailable.
	VectorFallback bool
	// Degraded lists sub-steps that failed and were skipped.
	Degraded []string
}

// Result is the outcome of a retrieval run. An empty candidate set
// yields Grounded=false with empty context, never an error.
type Result struct {
	Context          string
	Candidates       []Candidate
	Citations        []Citation
	Grounded         bool
	SelectedChunkIDs []string
	Debug            Debug
}

// VectorSearcher is the fast-path nearest-neighbour engine. A nil
// searcher (or one that errors) routes vector recall through the
// fallback scan.
type VectorSearcher interface {
	QuerySimilar(ctx context.Context, queryVector []float32, where map[string]string, k int) ([]vector.Hit, error)
}

// Message is one turn of a reranker conversation.
type Message struct {
	Role    string
	Content string
}

// Reranker orders candidates via an external model. Invoke returns the
// raw completion text, expected to be a strict JSON array of 1-based
// indices best-to-worst.
type Reranker interface {
	Invoke(ctx context.Context, messages []Message) (string, error)
}
