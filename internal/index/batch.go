package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/attractor-desk/ragcore/internal/convert"
	"github.com/attractor-desk/ragcore/internal/ragerr"
	"github.com/attractor-desk/ragcore/internal/store"
)

// IndexBatch ingests a batch of PDFs into the global pool. Files are
// processed smallest-first for steady progress; unchanged files are
// skipped via the registry; conversions run in a bounded pool with a
// per-file timeout. Per-file errors never abort the batch.
func (ix *Indexer) IndexBatch(ctx context.Context, req BatchRequest, progress ProgressFunc) (BatchResult, error) {
	if ix.converter == nil {
		return BatchResult{}, ragerr.New(ragerr.KindNotConfigured,
			"batch indexing requires a PDF converter")
	}
	if embeddingsRequested(req.EmbeddingModel, req.EmbeddingsEnabled) && ix.embedder == nil {
		return BatchResult{}, ragerr.New(ragerr.KindNotConfigured,
			"embeddings requested but no embedder is configured")
	}

	run := &batchRun{
		indexer:  ix,
		req:      req,
		caches:   newRunCaches(),
		progress: progress,
		total:    len(req.PDFPaths),
	}

	paths := sortPathsBySize(req.PDFPaths)
	var toConvert []pendingFile

	for _, pdfPath := range paths {
		if ctx.Err() != nil {
			return run.result, ragerr.Wrap(ragerr.KindCancelled, "batch indexing cancelled", ctx.Err())
		}
		info, err := os.Stat(pdfPath)
		if err != nil || info.IsDir() {
			run.fail(ctx, pdfPath, "", nil, "File not found")
			continue
		}

		fileHash, err := hashFile(pdfPath)
		if err != nil {
			run.fail(ctx, pdfPath, "", nil, err.Error())
			continue
		}

		existing, err := ix.store.GetRegistryEntry(ctx, pdfPath, fileHash)
		if err != nil {
			run.fail(ctx, pdfPath, fileHash, nil, err.Error())
			continue
		}

		if run.canSkip(existing) {
			run.skip(ctx, pdfPath, fileHash, existing)
			continue
		}

		entry := store.RegistryEntry{
			SourcePath:     pdfPath,
			ContentHash:    fileHash,
			Status:         store.RegistryStatusIndexing,
			LastSeenAt:     time.Now(),
			EmbeddingModel: req.EmbeddingModel,
		}
		if existing != nil {
			entry.RetryCount = existing.RetryCount
			entry.LastIndexedAt = existing.LastIndexedAt
			entry.EmbeddingStatus = existing.EmbeddingStatus
			entry.EmbeddingError = existing.EmbeddingError
		}
		if err := ix.store.UpsertRegistryEntry(ctx, entry); err != nil {
			run.fail(ctx, pdfPath, fileHash, existing, err.Error())
			continue
		}

		if markdown, ok := run.caches.getMarkdown(fileHash); ok {
			run.indexFromMarkdown(ctx, pdfPath, fileHash, info.Size(),
				markdown, stem(pdfPath), existing)
			continue
		}

		toConvert = append(toConvert, pendingFile{
			path:     pdfPath,
			hash:     fileHash,
			size:     info.Size(),
			existing: existing,
		})
	}

	if len(toConvert) > 0 {
		run.convertAndIndex(ctx, toConvert)
	}

	return run.result, nil
}

// IndexFolder enumerates *.pdf recursively under folderPath and feeds
// the batch path.
func (ix *Indexer) IndexFolder(ctx context.Context, folderPath string, req BatchRequest, progress ProgressFunc) (BatchResult, error) {
	var pdfPaths []string
	err := filepath.WalkDir(folderPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			slog.Warn("folder_walk_error", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			pdfPaths = append(pdfPaths, path)
		}
		return nil
	})
	if err != nil {
		return BatchResult{}, ragerr.Wrap(ragerr.KindNotFound, "enumerate folder", err)
	}
	sort.Strings(pdfPaths)

	req.PDFPaths = pdfPaths
	return ix.IndexBatch(ctx, req, progress)
}

type pendingFile struct {
	path     string
	hash     string
	size     int64
	existing *store.RegistryEntry
}

// batchRun tracks mutable state for one batch: counters, progress, and
// the shared caches. Counter updates are serialized because conversion
// workers complete concurrently.
type batchRun struct {
	indexer  *Indexer
	req      BatchRequest
	caches   *runCaches
	progress ProgressFunc

	mu        sync.Mutex
	processed int
	total     int
	result    BatchResult
}

func (r *batchRun) canSkip(existing *store.RegistryEntry) bool {
	if existing == nil || existing.Status != store.RegistryStatusIndexed || r.req.ForceReindex {
		return false
	}
	if !embeddingsRequested(r.req.EmbeddingModel, r.req.EmbeddingsEnabled) {
		return true
	}
	return existing.EmbeddingStatus == store.EmbeddingStatusIndexed &&
		existing.EmbeddingModel == r.req.EmbeddingModel
}

func (r *batchRun) emit(path string, bump func(*BatchResult)) {
	r.mu.Lock()
	bump(&r.result)
	r.processed++
	processed, total := r.processed, r.total
	r.mu.Unlock()
	if r.progress != nil {
		r.progress(Progress{Processed: processed, Total: total, CurrentPath: path})
	}
}

// skip refreshes last_seen_at but preserves the prior outcome fields.
func (r *batchRun) skip(ctx context.Context, path, hash string, existing *store.RegistryEntry) {
	entry := store.RegistryEntry{
		SourcePath:      path,
		ContentHash:     hash,
		Status:          store.RegistryStatusIndexed,
		RetryCount:      existing.RetryCount,
		LastSeenAt:      time.Now(),
		LastIndexedAt:   existing.LastIndexedAt,
		ErrorMessage:    existing.ErrorMessage,
		EmbeddingModel:  existing.EmbeddingModel,
		EmbeddingStatus: existing.EmbeddingStatus,
		EmbeddingError:  existing.EmbeddingError,
	}
	if entry.EmbeddingModel == "" {
		entry.EmbeddingModel = r.req.EmbeddingModel
	}
	if err := r.indexer.store.UpsertRegistryEntry(ctx, entry); err != nil {
		slog.Warn("registry_refresh_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	r.emit(path, func(b *BatchResult) { b.Skipped++ })
}

func (r *batchRun) fail(ctx context.Context, path, hash string, existing *store.RegistryEntry, message string) {
	retryCount := 1
	if existing != nil {
		retryCount = existing.RetryCount + 1
	}
	if hash == "" {
		retryCount = 0
	}
	entry := store.RegistryEntry{
		SourcePath:     path,
		ContentHash:    hash,
		Status:         store.RegistryStatusError,
		RetryCount:     retryCount,
		LastSeenAt:     time.Now(),
		ErrorMessage:   message,
		EmbeddingModel: r.req.EmbeddingModel,
	}
	if err := r.indexer.store.UpsertRegistryEntry(ctx, entry); err != nil {
		slog.Warn("registry_error_write_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	r.emit(path, func(b *BatchResult) { b.Failed++ })
}

// indexFromMarkdown runs the document pipeline for converted content
// and writes the terminal registry entry.
func (r *batchRun) indexFromMarkdown(ctx context.Context, path, hash string, size int64, markdown, sourceName string, existing *store.RegistryEntry) {
	result, err := r.indexer.indexDocument(ctx, Request{
		WorkspaceID:       r.req.WorkspaceID,
		SourceType:        store.SourceTypePDF,
		SourceName:        sourceName,
		SourcePath:        path,
		FileSize:          size,
		Content:           markdown,
		ChunkSizeChars:    r.req.ChunkSizeChars,
		ChunkOverlapChars: r.req.ChunkOverlapChars,
		EmbeddingModel:    r.req.EmbeddingModel,
		EmbeddingsEnabled: r.req.EmbeddingsEnabled,
	}, r.caches)
	if err != nil || !result.Success {
		message := result.ErrorMessage
		if err != nil {
			message = err.Error()
		}
		r.fail(ctx, path, hash, existing, message)
		return
	}

	nowTS := time.Now()
	entry := store.RegistryEntry{
		SourcePath:      path,
		ContentHash:     hash,
		Status:          store.RegistryStatusIndexed,
		RetryCount:      0,
		LastSeenAt:      nowTS,
		LastIndexedAt:   nowTS,
		EmbeddingModel:  r.req.EmbeddingModel,
		EmbeddingStatus: result.EmbeddingStatus,
		EmbeddingError:  result.EmbeddingError,
	}
	if err := r.indexer.store.UpsertRegistryEntry(ctx, entry); err != nil {
		slog.Warn("registry_write_failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	r.emit(path, func(b *BatchResult) { b.Indexed++ })
}

type conversionOutcome struct {
	file       pendingFile
	conversion convert.Result
	err        error
	timedOut   bool
}

// convertAndIndex converts pending files in a fixed-size pool, then
// indexes each outcome serially on the calling goroutine so the
// per-run caches dedupe identical content. Timeouts and conversion
// failures mark the registry and count as failed; the pool keeps
// draining regardless.
func (r *batchRun) convertAndIndex(ctx context.Context, files []pendingFile) {
	outcomes := make(chan conversionOutcome, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ConversionConcurrency)
	for _, f := range files {
		g.Go(func() error {
			convCtx, cancel := context.WithTimeout(gctx, r.indexer.conversionTimeout)
			defer cancel()

			conversion, err := r.indexer.converter.Convert(convCtx, f.path)
			outcomes <- conversionOutcome{
				file:       f,
				conversion: conversion,
				err:        err,
				timedOut:   convCtx.Err() == context.DeadlineExceeded,
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(outcomes)
	}()

	for out := range outcomes {
		f := out.file
		switch {
		case out.timedOut:
			r.fail(ctx, f.path, f.hash, f.existing, "Conversion timed out")
		case out.err != nil:
			r.fail(ctx, f.path, f.hash, f.existing, out.err.Error())
		case !out.conversion.Success:
			r.fail(ctx, f.path, f.hash, f.existing, out.conversion.ErrorMessage)
		default:
			r.caches.putMarkdown(f.hash, out.conversion.Markdown)
			sourceName := out.conversion.SourceFilename
			if sourceName == "" {
				sourceName = stem(f.path)
			}
			r.indexFromMarkdown(ctx, f.path, f.hash, f.size,
				out.conversion.Markdown, sourceName, f.existing)
		}
	}
}

func sortPathsBySize(paths []string) []string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sizes := make(map[string]int64, len(sorted))
	for _, path := range sorted {
		if info, err := os.Stat(path); err == nil {
			sizes[path] = info.Size()
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sizes[sorted[i]] < sizes[sorted[j]]
	})
	return sorted
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
