// Package index implements the ingestion pipeline: content hashing,
// deduplication, chunking, embedding, dual-write to storage and the
// vector index, and the per-file registry that makes filesystem
// re-indexing idempotent.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/attractor-desk/ragcore/internal/ragerr"
	"github.com/attractor-desk/ragcore/internal/store"
	"github.com/attractor-desk/ragcore/internal/vector"
)

// Conversion pool defaults.
const (
	// ConversionConcurrency is the fixed size of the PDF conversion pool.
	ConversionConcurrency = 5
	// DefaultConversionTimeoutSeconds is the per-file conversion budget.
	DefaultConversionTimeoutSeconds = 300
)

// ErrAlreadyInProgress rejects a second concurrent indexing run.
var ErrAlreadyInProgress = ragerr.New(ragerr.KindNotConfigured, "indexing already in progress")

// Request describes one document to index from in-memory content.
type Request struct {
	WorkspaceID       string
	SessionID         string
	ArtifactEntryID   string
	SourceType        store.SourceType
	SourceName        string
	SourcePath        string
	FileSize          int64
	Content           string
	ChunkSizeChars    int
	ChunkOverlapChars int
	EmbeddingModel    string
	EmbeddingsEnabled bool
}

// Result is the outcome of a single-document indexing run.
type Result struct {
	Success         bool
	DocumentID      string
	ChunkCount      int
	Skipped         bool
	EmbeddingStatus string
	EmbeddingError  string
	ErrorMessage    string
}

// BatchRequest describes a batch of PDFs for the global pool.
type BatchRequest struct {
	WorkspaceID       string
	PDFPaths          []string
	ChunkSizeChars    int
	ChunkOverlapChars int
	EmbeddingModel    string
	EmbeddingsEnabled bool
	ForceReindex      bool
}

// BatchResult summarizes a batch run.
type BatchResult struct {
	Indexed int
	Skipped int
	Failed  int
}

// SessionRequest describes a single PDF upload bound to a session.
type SessionRequest struct {
	WorkspaceID       string
	SessionID         string
	PDFPath           string
	ChunkSizeChars    int
	ChunkOverlapChars int
	EmbeddingModel    string
	EmbeddingsEnabled bool
}

// SessionResult is the outcome of a session upload run.
type SessionResult struct {
	Success      bool
	DocumentID   string
	SavedPath    string
	ErrorMessage string
}

// Progress reports batch advancement after each file completes.
type Progress struct {
	Processed   int
	Total       int
	CurrentPath string
}

// ProgressFunc receives Progress events. May be nil.
type ProgressFunc func(Progress)

// VectorWriter is the vector-index write surface the pipeline needs.
// A nil writer skips the fast path; the fallback scan still serves
// those chunks from storage.
type VectorWriter interface {
	AddEmbeddings(ctx context.Context, ids []string, vectors [][]float32, metas []vector.Metadata) error
}

// hashContent returns the hex SHA-256 of the UTF-8 bytes of content.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// hashFile returns the hex SHA-256 of a file's bytes.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
