package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/attractor-desk/ragcore/internal/chunk"
	"github.com/attractor-desk/ragcore/internal/convert"
	"github.com/attractor-desk/ragcore/internal/embed"
	"github.com/attractor-desk/ragcore/internal/ragerr"
	"github.com/attractor-desk/ragcore/internal/store"
	"github.com/attractor-desk/ragcore/internal/vector"
)

// Indexer runs the ingestion pipeline. Dependencies are injected at
// construction; there is no ambient state.
type Indexer struct {
	store     *store.Store
	vectors   VectorWriter
	embedder  embed.Embedder
	converter convert.PdfConverter
	// sessionRoot is the directory that holds per-session PDF copies.
	sessionRoot string
	// conversionTimeout is the per-file PDF conversion budget.
	conversionTimeout time.Duration
}

// New creates an Indexer. vectors, embedder, and converter may be nil;
// requests that need a missing dependency fail with a configuration
// error at the entry boundary.
func New(s *store.Store, vectors VectorWriter, embedder embed.Embedder, converter convert.PdfConverter, sessionRoot string) *Indexer {
	return &Indexer{
		store:             s,
		vectors:           vectors,
		embedder:          embedder,
		converter:         converter,
		sessionRoot:       sessionRoot,
		conversionTimeout: DefaultConversionTimeoutSeconds * time.Second,
	}
}

// SetConversionTimeout overrides the per-file conversion budget.
// Non-positive values are ignored.
func (ix *Indexer) SetConversionTimeout(d time.Duration) {
	if d > 0 {
		ix.conversionTimeout = d
	}
}

// vectorCacheKey identifies reusable embedding vectors within a batch.
type vectorCacheKey struct {
	contentHash string
	model       string
	sizeChars   int
	overlap     int
}

// runCaches holds per-run memoization shared across a batch: converted
// markdown by content hash and embedding vectors by (hash, model,
// chunking params). Near-duplicate PDFs are common in real libraries.
type runCaches struct {
	mu       sync.Mutex
	markdown map[string]string
	vectors  map[vectorCacheKey][][]float32
}

func newRunCaches() *runCaches {
	return &runCaches{
		markdown: make(map[string]string),
		vectors:  make(map[vectorCacheKey][][]float32),
	}
}

func (c *runCaches) getMarkdown(hash string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	md, ok := c.markdown[hash]
	return md, ok
}

func (c *runCaches) putMarkdown(hash, md string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markdown[hash] = md
}

func (c *runCaches) getVectors(key vectorCacheKey, want int) ([][]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vecs, ok := c.vectors[key]
	if !ok || len(vecs) != want {
		return nil, false
	}
	return vecs, true
}

func (c *runCaches) putVectors(key vectorCacheKey, vecs [][]float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[key] = vecs
}

func embeddingsRequested(model string, enabled bool) bool {
	return enabled && model != ""
}

func needsEmbeddingRetry(doc *store.Document, req Request) bool {
	if !embeddingsRequested(req.EmbeddingModel, req.EmbeddingsEnabled) {
		return false
	}
	if doc.EmbeddingStatus != store.EmbeddingStatusIndexed {
		return true
	}
	return doc.EmbeddingModel != req.EmbeddingModel
}

// IndexDocument runs the single-document pipeline. The returned error
// is non-nil only for configuration errors at the entry boundary;
// everything else is reported through the Result.
func (ix *Indexer) IndexDocument(ctx context.Context, req Request) (Result, error) {
	return ix.indexDocument(ctx, req, nil)
}

func (ix *Indexer) indexDocument(ctx context.Context, req Request, caches *runCaches) (Result, error) {
	if embeddingsRequested(req.EmbeddingModel, req.EmbeddingsEnabled) && ix.embedder == nil {
		return Result{}, ragerr.New(ragerr.KindNotConfigured,
			"embeddings requested but no embedder is configured")
	}

	contentHash := hashContent(req.Content)

	var doc *store.Document
	var err error
	if req.ArtifactEntryID != "" {
		doc, err = ix.store.GetDocumentByArtifactEntry(ctx, req.WorkspaceID, req.ArtifactEntryID)
		if err != nil {
			return Result{Success: false, ErrorMessage: err.Error()}, nil
		}
	}

	// Reuse: matching hash keeps chunks and embeddings, but the session
	// link is refreshed so re-uploads stay visible in the session.
	if doc != nil && doc.ContentHash == contentHash {
		if req.SessionID != "" {
			if err := ix.store.AttachDocumentToSession(ctx, doc.ID, req.SessionID); err != nil {
				return Result{Success: false, DocumentID: doc.ID, ErrorMessage: err.Error()}, nil
			}
		}
		if !needsEmbeddingRetry(doc, req) {
			return Result{
				Success:         true,
				DocumentID:      doc.ID,
				ChunkCount:      0,
				Skipped:         true,
				EmbeddingStatus: doc.EmbeddingStatus,
				EmbeddingError:  doc.EmbeddingError,
			}, nil
		}
	}

	if doc == nil {
		doc, err = ix.store.CreateDocument(ctx, store.DocumentParams{
			WorkspaceID:     req.WorkspaceID,
			SourceType:      req.SourceType,
			SourceName:      req.SourceName,
			ContentHash:     contentHash,
			ArtifactEntryID: req.ArtifactEntryID,
			SourcePath:      req.SourcePath,
			FileSize:        req.FileSize,
		})
		if err != nil {
			return Result{Success: false, ErrorMessage: err.Error()}, nil
		}
	} else {
		if err := ix.store.UpdateDocument(ctx, doc.ID, req.SourceName, contentHash,
			req.SourcePath, req.ArtifactEntryID, req.FileSize); err != nil {
			return Result{Success: false, DocumentID: doc.ID, ErrorMessage: err.Error()}, nil
		}
	}

	pieces := chunk.Split(req.Content, chunk.Options{
		SizeChars:    req.ChunkSizeChars,
		OverlapChars: req.ChunkOverlapChars,
	})
	chunks := make([]store.ChunkInput, len(pieces))
	for i, p := range pieces {
		chunks[i] = store.ChunkInput{
			ID:           uuid.NewString(),
			ChunkIndex:   i,
			Content:      p.Text,
			SectionTitle: p.SectionTitle,
			TokenCount:   chunk.EstimateTokens(p.Text),
		}
	}
	if err := ix.store.ReplaceDocumentChunks(ctx, doc.ID, chunks, req.SourceName); err != nil {
		return Result{Success: false, DocumentID: doc.ID, ErrorMessage: err.Error()}, nil
	}

	if req.SessionID != "" {
		if err := ix.store.AttachDocumentToSession(ctx, doc.ID, req.SessionID); err != nil {
			return Result{Success: false, DocumentID: doc.ID, ErrorMessage: err.Error()}, nil
		}
	}

	embeddingStatus := store.EmbeddingStatusDisabled
	embeddingError := ""
	embeddingModel := ""
	if embeddingsRequested(req.EmbeddingModel, req.EmbeddingsEnabled) {
		embeddingModel = req.EmbeddingModel
		if len(chunks) == 0 {
			embeddingStatus = store.EmbeddingStatusSkipped
		} else if err := ix.embedChunks(ctx, doc, req, contentHash, chunks, caches); err != nil {
			// Lexical recall keeps working; only the vector path is lost.
			embeddingStatus = store.EmbeddingStatusFailed
			embeddingError = err.Error()
			slog.Warn("embedding_failed",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()))
		} else {
			embeddingStatus = store.EmbeddingStatusIndexed
		}
	}

	if err := ix.store.UpdateDocumentEmbeddingStatus(ctx, doc.ID, embeddingStatus, embeddingModel, embeddingError); err != nil {
		return Result{Success: false, DocumentID: doc.ID, ErrorMessage: err.Error()}, nil
	}

	return Result{
		Success:         true,
		DocumentID:      doc.ID,
		ChunkCount:      len(chunks),
		EmbeddingStatus: embeddingStatus,
		EmbeddingError:  embeddingError,
	}, nil
}

// embedChunks produces vectors for the chunks and writes them to
// storage, then to the vector index. Identical chunk texts share one
// embedding call. A vector-index write failure is non-fatal: the
// storage record already serves the fallback scan.
func (ix *Indexer) embedChunks(ctx context.Context, doc *store.Document, req Request, contentHash string, chunks []store.ChunkInput, caches *runCaches) error {
	cacheKey := vectorCacheKey{
		contentHash: contentHash,
		model:       req.EmbeddingModel,
		sizeChars:   req.ChunkSizeChars,
		overlap:     req.ChunkOverlapChars,
	}

	var vectors [][]float32
	if caches != nil {
		if cached, ok := caches.getVectors(cacheKey, len(chunks)); ok {
			vectors = cached
		}
	}

	if vectors == nil {
		// Dedupe identical chunk texts so each unique text is embedded
		// once; overlap windows and boilerplate repeat often.
		uniqueIndex := make(map[string]int)
		var uniqueTexts []string
		for _, c := range chunks {
			if _, ok := uniqueIndex[c.Content]; !ok {
				uniqueIndex[c.Content] = len(uniqueTexts)
				uniqueTexts = append(uniqueTexts, c.Content)
			}
		}

		uniqueVectors, err := ix.embedder.EmbedTexts(ctx, uniqueTexts)
		if err != nil {
			return err
		}
		if len(uniqueVectors) != len(uniqueTexts) {
			return ragerr.Newf(ragerr.KindCorruption,
				"embedding count mismatch: %d texts, %d vectors",
				len(uniqueTexts), len(uniqueVectors))
		}

		vectors = make([][]float32, len(chunks))
		for i, c := range chunks {
			vectors[i] = uniqueVectors[uniqueIndex[c.Content]]
		}
		if caches != nil {
			caches.putVectors(cacheKey, vectors)
		}
	}

	embeddings := make([]store.EmbeddingInput, len(chunks))
	for i, c := range chunks {
		embeddings[i] = store.EmbeddingInput{
			ChunkID: c.ID,
			Model:   req.EmbeddingModel,
			Dims:    len(vectors[i]),
			Blob:    store.FloatsToBlob(vectors[i]),
		}
	}
	if err := ix.store.UpsertEmbeddings(ctx, embeddings); err != nil {
		return err
	}

	if ix.vectors != nil {
		ids := make([]string, len(chunks))
		metas := make([]vector.Metadata, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
			metas[i] = vector.Metadata{
				ChunkID:     c.ID,
				DocumentID:  doc.ID,
				WorkspaceID: req.WorkspaceID,
				SessionID:   req.SessionID,
			}
		}
		if err := ix.vectors.AddEmbeddings(ctx, ids, vectors, metas); err != nil {
			// Non-fatal: status stays indexed, the fallback scan serves
			// these chunks from storage.
			slog.Warn("vector_index_write_failed",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
