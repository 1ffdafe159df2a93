// Package vector provides the dense-vector index: cosine-space
// nearest-neighbour queries over chunk embeddings, multi-tenant through
// metadata equality filters. The index is rebuildable from storage, so
// it carries no crash-safety guarantees of its own.
package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "rag_chunks"

// Metadata keys carried by every vector.
const (
	MetaChunkID     = "chunk_id"
	MetaDocumentID  = "document_id"
	MetaWorkspaceID = "workspace_id"
	MetaSessionID   = "session_id"
)

// Metadata is the per-vector metadata record. SessionID is the empty
// string (not a null) for global-pool documents; the backing store
// rejects null metadata values.
type Metadata struct {
	ChunkID     string
	DocumentID  string
	WorkspaceID string
	SessionID   string
}

// Hit is a single similarity result. Score is cosine similarity:
// higher is better.
type Hit struct {
	ChunkID string
	Score   float64
}

// Index stores (id, vector, metadata) triples and serves k-NN queries
// filtered by metadata equality. The underlying engine is internally
// synchronized; one Index is shared process-wide.
type Index struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	persistDir string
}

// precomputedOnly rejects implicit embedding: every vector written to
// or queried against the index is produced by the injected embedder.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("vector index stores precomputed embeddings only")
}

// NewPersistent opens (or creates) a persistent index rooted at dir.
func NewPersistent(dir string) (*Index, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector index directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	collection, err := db.GetOrCreateCollection(collectionName, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}
	return &Index{db: db, collection: collection, persistDir: dir}, nil
}

// NewInMemory creates a volatile index for tests and ephemeral runs.
func NewInMemory() (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(collectionName, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("create vector collection: %w", err)
	}
	return &Index{db: db, collection: collection}, nil
}

// AddEmbeddings upserts vectors by chunk id. ids, vectors, and metas
// must be parallel slices.
func (ix *Index) AddEmbeddings(ctx context.Context, ids []string, vectors [][]float32, metas []Metadata) error {
	if len(ids) == 0 {
		return nil
	}
	if len(ids) != len(vectors) || len(ids) != len(metas) {
		return fmt.Errorf("ids/vectors/metadata length mismatch: %d/%d/%d",
			len(ids), len(vectors), len(metas))
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	docs := make([]chromem.Document, len(ids))
	for i, id := range ids {
		docs[i] = chromem.Document{
			ID:        id,
			Embedding: vectors[i],
			// Content is required non-empty by the engine; the chunk id
			// keeps it minimal, real content lives in storage.
			Content: id,
			Metadata: map[string]string{
				MetaChunkID:     metas[i].ChunkID,
				MetaDocumentID:  metas[i].DocumentID,
				MetaWorkspaceID: metas[i].WorkspaceID,
				MetaSessionID:   metas[i].SessionID,
			},
		}
	}
	if err := ix.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("add vectors: %w", err)
	}
	return nil
}

// QuerySimilar returns the top k hits by cosine similarity among
// vectors whose metadata matches every key in where (conjunctive). The
// engine's native cosine distance d maps to similarity 1−d, which is
// what Score carries. k is clamped to the collection size.
func (ix *Index) QuerySimilar(ctx context.Context, queryVector []float32, where map[string]string, k int) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	count := ix.collection.Count()
	if count == 0 || k <= 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := ix.collection.QueryEmbedding(ctx, queryVector, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		chunkID := r.Metadata[MetaChunkID]
		if chunkID == "" {
			chunkID = r.ID
		}
		hits = append(hits, Hit{ChunkID: chunkID, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// DeleteByDocument removes every vector belonging to the document.
func (ix *Index) DeleteByDocument(ctx context.Context, documentID string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.collection.Delete(ctx, map[string]string{MetaDocumentID: documentID}, nil); err != nil {
		return fmt.Errorf("delete vectors for document %s: %w", documentID, err)
	}
	return nil
}

// DeleteBySession removes every vector belonging to the session.
func (ix *Index) DeleteBySession(ctx context.Context, sessionID string) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if err := ix.collection.Delete(ctx, map[string]string{MetaSessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("delete vectors for session %s: %w", sessionID, err)
	}
	return nil
}

// Count returns the number of stored vectors.
func (ix *Index) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.collection.Count()
}

// Reset deletes every vector and recreates the collection. Guarded:
// confirm must be true, otherwise the call is rejected.
func (ix *Index) Reset(ctx context.Context, confirm bool) error {
	if !confirm {
		return fmt.Errorf("reset requires explicit confirmation")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	slog.Warn("vector_index_reset", slog.Int("vectors", ix.collection.Count()))
	if err := ix.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("delete vector collection: %w", err)
	}
	collection, err := ix.db.GetOrCreateCollection(collectionName, nil, precomputedOnly)
	if err != nil {
		return fmt.Errorf("recreate vector collection: %w", err)
	}
	ix.collection = collection
	return nil
}
