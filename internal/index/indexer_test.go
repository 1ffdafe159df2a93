package index

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attractor-desk/ragcore/internal/embed"
	"github.com/attractor-desk/ragcore/internal/store"
	"github.com/attractor-desk/ragcore/internal/vector"
)

type countingEmbedder struct {
	inner      embed.Embedder
	batchCalls atomic.Int64
	fail       atomic.Bool
}

func (c *countingEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchCalls.Add(1)
	if c.fail.Load() {
		return nil, errors.New("embedder unavailable")
	}
	return c.inner.EmbedTexts(ctx, texts)
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.inner.EmbedQuery(ctx, text)
}

func (c *countingEmbedder) ModelName() string { return c.inner.ModelName() }

type failingVectorWriter struct{}

func (failingVectorWriter) AddEmbeddings(context.Context, []string, [][]float32, []vector.Metadata) error {
	return errors.New("vector index down")
}

type indexFixture struct {
	store    *store.Store
	vectors  *vector.Index
	embedder *countingEmbedder
	indexer  *Indexer
}

func newIndexFixture(t *testing.T) *indexFixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rag.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ix, err := vector.NewInMemory()
	require.NoError(t, err)

	embedder := &countingEmbedder{inner: embed.NewStatic(32)}
	return &indexFixture{
		store:    s,
		vectors:  ix,
		embedder: embedder,
		indexer:  New(s, ix, embedder, nil, t.TempDir()),
	}
}

func textRequest(content string) Request {
	return Request{
		WorkspaceID:       "ws1",
		ArtifactEntryID:   "E1",
		SourceType:        store.SourceTypeArtifact,
		SourceName:        "artifact.md",
		Content:           content,
		ChunkSizeChars:    400,
		ChunkOverlapChars: 40,
	}
}

func TestIndexDocumentCreatesChunks(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()

	result, err := f.indexer.IndexDocument(ctx, textRequest("# Intro\nHello world.\n\n## Details\nMore text here."))
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, result.ChunkCount)
	assert.Equal(t, store.EmbeddingStatusDisabled, result.EmbeddingStatus)

	count, err := f.store.CountDocumentChunks(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	ftsCount, err := f.store.CountFTSRows(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, count, ftsCount)
}

func TestIndexDocumentDedupByContentHash(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()
	req := textRequest("# Intro\nsame content")

	first, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	require.True(t, first.Success)

	chunksBefore, err := f.store.GetChunksByDocument(ctx, first.DocumentID)
	require.NoError(t, err)
	require.NotEmpty(t, chunksBefore)

	second, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.Skipped)
	assert.Zero(t, second.ChunkCount)
	assert.Equal(t, first.DocumentID, second.DocumentID)

	chunksAfter, err := f.store.GetChunksByDocument(ctx, first.DocumentID)
	require.NoError(t, err)
	require.Equal(t, len(chunksBefore), len(chunksAfter))
	for i := range chunksBefore {
		assert.Equal(t, chunksBefore[i].ID, chunksAfter[i].ID, "chunk ids unchanged on no-op re-ingest")
	}
}

func TestIndexDocumentDedupRefreshesSessionLink(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()

	req := textRequest("# A\nsession bound content")
	first, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)

	req.SessionID = "S9"
	second, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	hits, err := f.store.SearchLexical(ctx, "session bound", store.ScopeSession, "ws1", "S9", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "skip still refreshes the session link")
	_ = first
}

func TestIndexDocumentContentChangeRechunks(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()

	req := textRequest("# A\noriginal body")
	first, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)

	req.Content = "# A\nrewritten body entirely"
	second, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	assert.False(t, second.Skipped)
	assert.Equal(t, first.DocumentID, second.DocumentID, "artifact entry reuses the document")

	doc, err := f.store.GetDocument(ctx, first.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, hashContent(req.Content), doc.ContentHash)

	hits, err := f.store.SearchLexical(ctx, "original", store.ScopeWorkspace, "ws1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexDocumentEmbeddings(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()

	req := textRequest("# A\nvector payload text")
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = f.embedder.ModelName()

	result, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, store.EmbeddingStatusIndexed, result.EmbeddingStatus)

	embs, err := f.store.GetEmbeddingsForScope(ctx, store.ScopeWorkspace, "ws1", "", req.EmbeddingModel)
	require.NoError(t, err)
	assert.Len(t, embs, result.ChunkCount)
	for _, e := range embs {
		assert.Equal(t, e.Dims, len(e.Blob)/4)
	}
	assert.Equal(t, result.ChunkCount, f.vectors.Count())
}

func TestIndexDocumentEmbedderFailureKeepsLexical(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()
	f.embedder.fail.Store(true)

	req := textRequest("# A\nresilient content")
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = f.embedder.ModelName()

	result, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, store.EmbeddingStatusFailed, result.EmbeddingStatus)
	assert.NotEmpty(t, result.EmbeddingError)

	doc, err := f.store.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingStatusFailed, doc.EmbeddingStatus)
	assert.NotEmpty(t, doc.EmbeddingError)

	hits, err := f.store.SearchLexical(ctx, "resilient", store.ScopeWorkspace, "ws1", "", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits, "lexical recall survives embedding failure")
}

func TestIndexDocumentVectorWriteFailureIsNonFatal(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()
	indexer := New(f.store, failingVectorWriter{}, f.embedder, nil, t.TempDir())

	req := textRequest("# A\ncontent with flaky index")
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = f.embedder.ModelName()

	result, err := indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	require.True(t, result.Success)
	// Storage succeeded, so the status stays indexed and the fallback
	// scan can serve the chunks.
	assert.Equal(t, store.EmbeddingStatusIndexed, result.EmbeddingStatus)

	embs, err := f.store.GetEmbeddingsForScope(ctx, store.ScopeWorkspace, "ws1", "", req.EmbeddingModel)
	require.NoError(t, err)
	assert.NotEmpty(t, embs)
}

func TestIndexDocumentModelChangeTriggersRetry(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()

	req := textRequest("# A\nstable content")
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = f.embedder.ModelName()

	first, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	require.Equal(t, store.EmbeddingStatusIndexed, first.EmbeddingStatus)

	// Same content, same model: skipped outright.
	second, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Skipped)

	// Same content, different model: re-embedded, not skipped.
	req.EmbeddingModel = "other-model"
	third, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	assert.False(t, third.Skipped)
}

func TestIndexDocumentWithoutEmbedderIsConfigError(t *testing.T) {
	f := newIndexFixture(t)
	indexer := New(f.store, f.vectors, nil, nil, t.TempDir())

	req := textRequest("# A\ncontent")
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = "some-model"

	_, err := indexer.IndexDocument(context.Background(), req)
	require.Error(t, err)
}

func TestIndexDocumentEmptyContentSkipsEmbeddings(t *testing.T) {
	f := newIndexFixture(t)
	req := textRequest("")
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = f.embedder.ModelName()

	result, err := f.indexer.IndexDocument(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Zero(t, result.ChunkCount)
	assert.Equal(t, store.EmbeddingStatusSkipped, result.EmbeddingStatus)
}

func TestIndexDocumentDuplicateChunkTextsShareEmbedding(t *testing.T) {
	f := newIndexFixture(t)
	ctx := context.Background()

	// Two sections with identical bodies produce identical chunk texts.
	req := textRequest("# A\nrepeated body\n# B\nrepeated body")
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = f.embedder.ModelName()

	result, err := f.indexer.IndexDocument(ctx, req)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.ChunkCount)

	// Every chunk still gets a vector.
	embs, err := f.store.GetEmbeddingsForScope(ctx, store.ScopeWorkspace, "ws1", "", req.EmbeddingModel)
	require.NoError(t, err)
	assert.Len(t, embs, 2)
}

func TestHashContentStable(t *testing.T) {
	assert.Equal(t, hashContent("abc"), hashContent("abc"))
	assert.NotEqual(t, hashContent("abc"), hashContent("abd"))
	assert.Len(t, hashContent(""), 64)
}
