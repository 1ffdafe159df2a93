// Package service composes the retrieval core behind one facade:
// ingestion, retrieval, session management, registry inspection,
// folder watching, and stale cleanup. All collaborators (embedder,
// PDF converter, reranker) are injected here; this is the single
// composition site.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/attractor-desk/ragcore/internal/config"
	"github.com/attractor-desk/ragcore/internal/convert"
	"github.com/attractor-desk/ragcore/internal/embed"
	"github.com/attractor-desk/ragcore/internal/index"
	"github.com/attractor-desk/ragcore/internal/lifecycle"
	"github.com/attractor-desk/ragcore/internal/retrieve"
	"github.com/attractor-desk/ragcore/internal/store"
	"github.com/attractor-desk/ragcore/internal/vector"
)

// Options carries the injected collaborators. Embedder, Converter, and
// Reranker may be nil; operations that need a missing collaborator
// fail with a configuration error while everything else keeps working.
type Options struct {
	Config    config.Config
	Embedder  embed.Embedder
	Converter convert.PdfConverter
	Reranker  retrieve.Reranker
	// DisableVectorIndex forces the fallback scan path (used by tests
	// and as an escape hatch when the index directory is corrupted).
	DisableVectorIndex bool
}

// Service is the composed retrieval core.
type Service struct {
	cfg       config.Config
	store     *store.Store
	vectors   *vector.Index // nil when unavailable
	indexer   *index.Indexer
	retriever *retrieve.Retriever
	runner    *index.Runner
	watcher   *lifecycle.Watcher
	cleaner   *lifecycle.Cleaner

	watchDone chan struct{}
}

// New opens storage and the vector index and wires the components.
// A vector-index initialization failure is downgraded to the fallback
// path rather than failing the whole service.
func New(opts Options) (*Service, error) {
	cfg := opts.Config

	st, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}

	var vectors *vector.Index
	if !opts.DisableVectorIndex {
		vectors, err = vector.NewPersistent(cfg.VectorDir())
		if err != nil {
			slog.Warn("vector_index_init_failed_using_fallback",
				slog.String("error", err.Error()))
			vectors = nil
		}
	}

	indexer := index.New(st, vectorWriterOrNil(vectors), opts.Embedder, opts.Converter, cfg.SessionRoot())

	retriever := retrieve.New(st, vectorSearcherOrNil(vectors), opts.Embedder, opts.Reranker)

	svc := &Service{
		cfg:       cfg,
		store:     st,
		vectors:   vectors,
		indexer:   indexer,
		retriever: retriever,
		runner:    index.NewRunner(cfg.DataDir),
		watcher: lifecycle.NewWatcher(lifecycle.WatcherOptions{
			DebounceWindow: cfg.DebounceWindow(),
			MaxRetries:     cfg.Watcher.MaxRetries,
		}),
	}
	svc.cleaner = lifecycle.NewCleaner(st, vectorDeleterOrNil(vectors), lifecycle.CleanerOptions{
		RetentionDays: cfg.Cleanup.RetentionDays,
		Interval:      cfg.CleanupInterval(),
	})
	return svc, nil
}

// Typed-nil guards: a nil *vector.Index must become a nil interface,
// otherwise the nil checks downstream pass and calls panic.
func vectorWriterOrNil(v *vector.Index) index.VectorWriter {
	if v == nil {
		return nil
	}
	return v
}

func vectorSearcherOrNil(v *vector.Index) retrieve.VectorSearcher {
	if v == nil {
		return nil
	}
	return v
}

func vectorDeleterOrNil(v *vector.Index) lifecycle.VectorDeleter {
	if v == nil {
		return nil
	}
	return v
}

// Store exposes the storage layer for registry inspection and tests.
func (s *Service) Store() *store.Store { return s.store }

// VectorIndex returns the vector index, or nil when running on the
// fallback path.
func (s *Service) VectorIndex() *vector.Index { return s.vectors }

// Close stops background work and releases resources.
func (s *Service) Close() error {
	s.StopWatching()
	s.cleaner.Stop()
	s.runner.Stop()
	return s.store.Close()
}

// Index runs the single-document pipeline on a background worker and
// returns a channel that receives the result exactly once. A second
// call while a run is in flight fails with ErrAlreadyInProgress.
func (s *Service) Index(ctx context.Context, req index.Request) (<-chan index.Result, error) {
	results := make(chan index.Result, 1)
	var result index.Result
	errCh, err := s.runner.Start(ctx, func(runCtx context.Context) error {
		r, err := s.indexer.IndexDocument(runCtx, req)
		if err != nil {
			r = index.Result{Success: false, ErrorMessage: err.Error()}
		}
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	go func() {
		drainRunError(errCh, "index_run_failed")
		results <- result
	}()
	return results, nil
}

// IndexBatch runs the batch PDF pipeline on a background worker.
func (s *Service) IndexBatch(ctx context.Context, req index.BatchRequest, progress index.ProgressFunc) (<-chan index.BatchResult, error) {
	results := make(chan index.BatchResult, 1)
	var result index.BatchResult
	errCh, err := s.runner.Start(ctx, func(runCtx context.Context) error {
		r, err := s.indexer.IndexBatch(runCtx, req, progress)
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	go func() {
		drainRunError(errCh, "batch_run_failed")
		results <- result
	}()
	return results, nil
}

// IndexSessionPDF ingests an uploaded PDF for a session on a
// background worker.
func (s *Service) IndexSessionPDF(ctx context.Context, req index.SessionRequest) (<-chan index.SessionResult, error) {
	results := make(chan index.SessionResult, 1)
	var result index.SessionResult
	errCh, err := s.runner.Start(ctx, func(runCtx context.Context) error {
		r, err := s.indexer.IndexSessionPDF(runCtx, req)
		if err != nil {
			r = index.SessionResult{Success: false, ErrorMessage: err.Error()}
		}
		result = r
		return err
	})
	if err != nil {
		return nil, err
	}
	go func() {
		drainRunError(errCh, "session_run_failed")
		results <- result
	}()
	return results, nil
}

// drainRunError consumes a runner's terminal error, logging failures
// that are otherwise only visible through the result payloads. Results
// are delivered after the drain so a received result implies the
// single-flight gate has reopened.
func drainRunError(errCh <-chan error, event string) {
	if err := <-errCh; err != nil {
		slog.Warn(event, slog.String("error", err.Error()))
	}
}

// Retrieve runs hybrid retrieval synchronously.
func (s *Service) Retrieve(ctx context.Context, req retrieve.Request) retrieve.Result {
	return s.retriever.Retrieve(ctx, req)
}

// AttachSession links a document to a session.
func (s *Service) AttachSession(ctx context.Context, documentID, sessionID string) error {
	return s.store.AttachDocumentToSession(ctx, documentID, sessionID)
}

// DetachSession removes a document/session link.
func (s *Service) DetachSession(ctx context.Context, documentID, sessionID string) error {
	return s.store.DetachDocumentFromSession(ctx, documentID, sessionID)
}

// MarkSessionStale flags every document of a closed session for
// eviction. Data is deleted later by the cleanup pass.
func (s *Service) MarkSessionStale(ctx context.Context, sessionID string) error {
	return s.store.MarkSessionDocumentsStale(ctx, sessionID, time.Now())
}

// ListRegistry returns ingestion registry entries, optionally filtered
// by status.
func (s *Service) ListRegistry(ctx context.Context, status string) ([]*store.RegistryEntry, error) {
	return s.store.ListRegistryEntries(ctx, status)
}

// RegistryStatusCounts returns registry entry counts per status.
func (s *Service) RegistryStatusCounts(ctx context.Context) (map[string]int, error) {
	return s.store.RegistryStatusCounts(ctx)
}

// StartWatching watches folderPath for PDF changes and feeds detected
// batches into the global-pool indexer. If an indexing run is already
// in flight when a batch arrives, the paths are rescheduled through
// the watcher's retry path.
func (s *Service) StartWatching(ctx context.Context, folderPath string, embeddingModel string, embeddingsEnabled bool) error {
	if err := s.watcher.Start(folderPath); err != nil {
		return err
	}
	s.watchDone = make(chan struct{})
	go s.consumeWatchBatches(ctx, embeddingModel, embeddingsEnabled, s.watchDone)
	return nil
}

func (s *Service) consumeWatchBatches(ctx context.Context, embeddingModel string, embeddingsEnabled bool, done chan struct{}) {
	defer close(done)
	for {
		select {
		case batch, ok := <-s.watcher.Batches():
			if !ok {
				return
			}
			s.indexWatchBatch(ctx, batch, embeddingModel, embeddingsEnabled)
		case err, ok := <-s.watcher.Errors():
			if !ok {
				return
			}
			slog.Warn("watcher_error", slog.String("error", err.Error()))
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) indexWatchBatch(ctx context.Context, paths []string, embeddingModel string, embeddingsEnabled bool) {
	req := index.BatchRequest{
		WorkspaceID:       store.GlobalWorkspaceID,
		PDFPaths:          paths,
		ChunkSizeChars:    s.cfg.Chunking.SizeChars,
		ChunkOverlapChars: s.cfg.Chunking.OverlapChars,
		EmbeddingModel:    embeddingModel,
		EmbeddingsEnabled: embeddingsEnabled,
	}
	results, err := s.IndexBatch(ctx, req, nil)
	if err != nil {
		// Indexer busy: push the paths back through the retry path.
		for _, path := range paths {
			s.watcher.ScheduleRetry(path)
		}
		return
	}
	go func() {
		result := <-results
		slog.Info("watch_batch_indexed",
			slog.Int("indexed", result.Indexed),
			slog.Int("skipped", result.Skipped),
			slog.Int("failed", result.Failed))
	}()
}

// StopWatching stops the folder watcher and clears pending state.
func (s *Service) StopWatching() {
	s.watcher.Stop()
	if s.watchDone != nil {
		<-s.watchDone
		s.watchDone = nil
	}
}

// StartCleanupLoop begins the periodic stale-document eviction.
func (s *Service) StartCleanupLoop(ctx context.Context) {
	s.cleaner.Start(ctx)
}

// RunCleanup performs one eviction pass now. retentionDays <= 0 uses
// the configured retention.
func (s *Service) RunCleanup(ctx context.Context, retentionDays int) (int, error) {
	return s.cleaner.RunCleanup(ctx, retentionDays)
}

// IsIndexing reports whether an ingestion run is in flight.
func (s *Service) IsIndexing() bool {
	return s.runner.IsRunning()
}
