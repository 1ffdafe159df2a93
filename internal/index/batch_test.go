package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attractor-desk/ragcore/internal/convert"
	"github.com/attractor-desk/ragcore/internal/store"
)

// fakeConverter returns markdown derived from the file contents and
// counts invocations.
type fakeConverter struct {
	calls atomic.Int64
	fail  bool
	block bool
}

func (c *fakeConverter) Convert(ctx context.Context, path string) (convert.Result, error) {
	c.calls.Add(1)
	if c.block {
		<-ctx.Done()
		return convert.Result{}, ctx.Err()
	}
	if c.fail {
		return convert.Result{Success: false, ErrorMessage: "unreadable pdf"}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return convert.Result{Success: false, ErrorMessage: err.Error()}, nil
	}
	return convert.Result{
		Success:        true,
		Markdown:       "# Converted\n" + string(data),
		SourceFilename: stem(path),
	}, nil
}

func writePDF(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newBatchFixture(t *testing.T, converter convert.PdfConverter) (*indexFixture, *Indexer) {
	t.Helper()
	f := newIndexFixture(t)
	indexer := New(f.store, f.vectors, f.embedder, converter, t.TempDir())
	return f, indexer
}

func batchRequest(paths ...string) BatchRequest {
	return BatchRequest{
		WorkspaceID:       store.GlobalWorkspaceID,
		PDFPaths:          paths,
		ChunkSizeChars:    400,
		ChunkOverlapChars: 40,
	}
}

func TestIndexBatchHappyPath(t *testing.T) {
	converter := &fakeConverter{}
	f, indexer := newBatchFixture(t, converter)
	dir := t.TempDir()
	ctx := context.Background()

	a := writePDF(t, dir, "a.pdf", "alpha body text")
	b := writePDF(t, dir, "b.pdf", "beta body text longer")

	var mu sync.Mutex
	var events []Progress
	result, err := indexer.IndexBatch(ctx, batchRequest(a, b), func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Indexed: 2}, result)

	require.Len(t, events, 2)
	assert.Equal(t, 2, events[len(events)-1].Total)
	assert.Equal(t, 2, events[len(events)-1].Processed)

	counts, err := f.store.RegistryStatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[store.RegistryStatusIndexed])

	hits, err := f.store.SearchLexical(ctx, "alpha", store.ScopeGlobal, "", "", 10)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestIndexBatchSkipsUnchangedFiles(t *testing.T) {
	converter := &fakeConverter{}
	f, indexer := newBatchFixture(t, converter)
	dir := t.TempDir()
	ctx := context.Background()

	path := writePDF(t, dir, "a.pdf", "stable content")
	req := batchRequest(path)

	first, err := indexer.IndexBatch(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Indexed)

	second, err := indexer.IndexBatch(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Skipped: 1}, second)
	assert.Equal(t, int64(1), converter.calls.Load(), "unchanged file is not reconverted")

	entry, err := f.store.GetRegistryEntry(ctx, path, mustHashFile(t, path))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, store.RegistryStatusIndexed, entry.Status)
	assert.False(t, entry.LastSeenAt.IsZero())
}

func TestIndexBatchForceReindex(t *testing.T) {
	converter := &fakeConverter{}
	_, indexer := newBatchFixture(t, converter)
	path := writePDF(t, t.TempDir(), "a.pdf", "stable content")
	req := batchRequest(path)
	ctx := context.Background()

	_, err := indexer.IndexBatch(ctx, req, nil)
	require.NoError(t, err)

	req.ForceReindex = true
	result, err := indexer.IndexBatch(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Indexed)
	assert.Equal(t, int64(2), converter.calls.Load())
}

func TestIndexBatchMissingFile(t *testing.T) {
	converter := &fakeConverter{}
	f, indexer := newBatchFixture(t, converter)
	ctx := context.Background()

	missing := filepath.Join(t.TempDir(), "ghost.pdf")
	result, err := indexer.IndexBatch(ctx, batchRequest(missing), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Failed: 1}, result)

	entry, err := f.store.GetRegistryEntry(ctx, missing, "")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, store.RegistryStatusError, entry.Status)
	assert.Equal(t, "File not found", entry.ErrorMessage)
}

func TestIndexBatchConversionFailureIncrementsRetry(t *testing.T) {
	converter := &fakeConverter{fail: true}
	f, indexer := newBatchFixture(t, converter)
	path := writePDF(t, t.TempDir(), "bad.pdf", "corrupt bytes")
	ctx := context.Background()

	_, err := indexer.IndexBatch(ctx, batchRequest(path), nil)
	require.NoError(t, err)
	_, err = indexer.IndexBatch(ctx, batchRequest(path), nil)
	require.NoError(t, err)

	entry, err := f.store.GetRegistryEntry(ctx, path, mustHashFile(t, path))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, store.RegistryStatusError, entry.Status)
	assert.Equal(t, 2, entry.RetryCount)
	assert.Equal(t, "unreadable pdf", entry.ErrorMessage)
}

func TestIndexBatchPerFileErrorsDoNotAbortBatch(t *testing.T) {
	converter := &fakeConverter{}
	_, indexer := newBatchFixture(t, converter)
	dir := t.TempDir()
	ctx := context.Background()

	good := writePDF(t, dir, "good.pdf", "fine content")
	missing := filepath.Join(dir, "ghost.pdf")

	result, err := indexer.IndexBatch(ctx, batchRequest(missing, good), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Indexed: 1, Failed: 1}, result)
}

func TestIndexBatchConversionTimeout(t *testing.T) {
	converter := &fakeConverter{block: true}
	f, indexer := newBatchFixture(t, converter)
	indexer.SetConversionTimeout(50 * time.Millisecond)
	path := writePDF(t, t.TempDir(), "slow.pdf", "never converts")
	ctx := context.Background()

	result, err := indexer.IndexBatch(ctx, batchRequest(path), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchResult{Failed: 1}, result)

	entry, err := f.store.GetRegistryEntry(ctx, path, mustHashFile(t, path))
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, store.RegistryStatusError, entry.Status)
	assert.Equal(t, "Conversion timed out", entry.ErrorMessage)
	assert.Equal(t, 1, entry.RetryCount)
}

func TestIndexBatchDuplicateContentSharesEmbeddings(t *testing.T) {
	converter := &fakeConverter{}
	f, indexer := newBatchFixture(t, converter)
	dir := t.TempDir()
	ctx := context.Background()

	// Identical bytes: same content hash, one embedding computation.
	writePDF(t, dir, "copy1.pdf", "identical corpus text")
	writePDF(t, dir, "copy2.pdf", "identical corpus text")
	req := batchRequest(filepath.Join(dir, "copy1.pdf"), filepath.Join(dir, "copy2.pdf"))
	req.EmbeddingsEnabled = true
	req.EmbeddingModel = f.embedder.ModelName()

	result, err := indexer.IndexBatch(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
	assert.Equal(t, int64(1), f.embedder.batchCalls.Load(),
		"second identical document reuses cached vectors")
}

func TestIndexBatchWithoutConverterIsConfigError(t *testing.T) {
	f := newIndexFixture(t)
	indexer := New(f.store, f.vectors, f.embedder, nil, t.TempDir())
	_, err := indexer.IndexBatch(context.Background(), batchRequest("x.pdf"), nil)
	require.Error(t, err)
}

func TestIndexFolderEnumeratesRecursively(t *testing.T) {
	converter := &fakeConverter{}
	_, indexer := newBatchFixture(t, converter)
	root := t.TempDir()
	sub := filepath.Join(root, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))

	writePDF(t, root, "top.pdf", "top content")
	writePDF(t, sub, "deep.pdf", "deep content")
	writePDF(t, root, "notes.txt", "not a pdf")

	result, err := indexer.IndexFolder(context.Background(), root, BatchRequest{
		WorkspaceID:    store.GlobalWorkspaceID,
		ChunkSizeChars: 400,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Indexed)
}

func TestSortPathsBySize(t *testing.T) {
	dir := t.TempDir()
	big := writePDF(t, dir, "big.pdf", fmt.Sprintf("%01000d", 1))
	small := writePDF(t, dir, "small.pdf", "tiny")

	sorted := sortPathsBySize([]string{big, small})
	assert.Equal(t, []string{small, big}, sorted)
}

func mustHashFile(t *testing.T, path string) string {
	t.Helper()
	h, err := hashFile(path)
	require.NoError(t, err)
	return h
}
