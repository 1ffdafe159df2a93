// Package store provides typed persistence for documents, chunks,
// embeddings, session links, and the ingestion registry, backed by
// SQLite with an FTS5 full-text index for BM25-ranked lexical search.
package store

import "time"

// GlobalWorkspaceID is the reserved workspace identifier for the
// non-workspace, non-session global pool.
const GlobalWorkspaceID = "GLOBAL"

// Scope selects the visibility filter applied at query time.
type Scope string

const (
	ScopeSession   Scope = "session"
	ScopeWorkspace Scope = "workspace"
	ScopeGlobal    Scope = "global"
)

// SourceType classifies where a document's content came from.
type SourceType string

const (
	SourceTypePDF            SourceType = "pdf"
	SourceTypeText           SourceType = "text"
	SourceTypeMarkdown       SourceType = "markdown"
	SourceTypeChatTranscript SourceType = "chat_transcript"
	SourceTypeArtifact       SourceType = "artifact"
	// SourceTypeChatPDF marks ephemeral per-session PDF uploads.
	SourceTypeChatPDF SourceType = "chat_pdf"
)

// Embedding status values for a document.
const (
	EmbeddingStatusDisabled = "disabled"
	EmbeddingStatusIndexed  = "indexed"
	EmbeddingStatusFailed   = "failed"
	EmbeddingStatusSkipped  = "skipped"
)

// Registry status values.
const (
	RegistryStatusPending  = "pending"
	RegistryStatusIndexing = "indexing"
	RegistryStatusIndexed  = "indexed"
	RegistryStatusError    = "error"
)

// Document is the logical unit of indexed content.
type Document struct {
	ID              string
	WorkspaceID     string
	ArtifactEntryID string
	SourceType      SourceType
	SourceName      string
	SourcePath      string
	ContentHash     string
	IndexedAt       time.Time
	FileSize        int64
	EmbeddingStatus string
	EmbeddingModel  string
	EmbeddingError  string
	StaleAt         time.Time // zero when not marked stale
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DocumentParams carries the writable attributes for document creation.
type DocumentParams struct {
	WorkspaceID     string
	SourceType      SourceType
	SourceName      string
	ContentHash     string
	ArtifactEntryID string
	SourcePath      string
	FileSize        int64
	EmbeddingStatus string
	EmbeddingModel  string
}

// Chunk is a contiguous slice of a document's text.
type Chunk struct {
	ID           string
	DocumentID   string
	ChunkIndex   int
	SectionTitle string
	Content      string
	TokenCount   int
	CreatedAt    time.Time
}

// ChunkInput is the chunk payload used during indexing.
type ChunkInput struct {
	ID           string
	ChunkIndex   int
	Content      string
	SectionTitle string
	TokenCount   int
}

// ChunkDetails joins a chunk with its parent document context, as
// needed by rerank and citation emission.
type ChunkDetails struct {
	Chunk
	SourceName        string
	SourceType        SourceType
	SourcePath        string
	DocumentUpdatedAt time.Time
}

// EmbeddingInput is the embedding payload for a chunk. Blob is a
// little-endian IEEE-754 float32 array.
type EmbeddingInput struct {
	ChunkID string
	Model   string
	Dims    int
	Blob    []byte
}

// ScopedEmbedding is a stored embedding returned by the fallback scan.
type ScopedEmbedding struct {
	ChunkID string
	Blob    []byte
	Dims    int
}

// LexicalHit is a single lexical search result. Score is the raw
// bm25() value: lower is better under the FTS5 convention.
type LexicalHit struct {
	ChunkID string
	Score   float64
}

// RegistryEntry is the per-source-path ingestion record used for
// idempotent re-indexing of files on disk.
type RegistryEntry struct {
	SourcePath      string
	ContentHash     string
	Status          string
	RetryCount      int
	LastSeenAt      time.Time
	LastIndexedAt   time.Time
	ErrorMessage    string
	EmbeddingModel  string
	EmbeddingStatus string
	EmbeddingError  string
}
