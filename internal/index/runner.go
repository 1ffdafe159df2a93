package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// Runner executes indexing work on a background goroutine with a
// single-flight gate: at most one run per service instance, and a
// cross-process file lock so two processes never index the same data
// directory concurrently. The foreground caller is never blocked.
type Runner struct {
	dataDir string

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRunner creates a runner whose lock file lives under dataDir.
func NewRunner(dataDir string) *Runner {
	return &Runner{dataDir: dataDir}
}

// IsRunning reports whether a run is in flight.
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start launches fn on a background goroutine and returns a channel
// that receives the terminal error (nil on success) exactly once.
// A second Start while a run is in flight returns ErrAlreadyInProgress.
func (r *Runner) Start(ctx context.Context, fn func(ctx context.Context) error) (<-chan error, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrAlreadyInProgress
	}
	r.running = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer close(done)
		err := r.run(runCtx, fn)
		// Release the gate before the terminal error is observable, so
		// a caller that saw the result can immediately start a new run.
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
		errCh <- err
	}()
	return errCh, nil
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.dataDir != "" {
		if err := os.MkdirAll(r.dataDir, 0o755); err != nil {
			return err
		}
		lock := flock.New(filepath.Join(r.dataDir, "indexing.lock"))
		locked, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !locked {
			return ErrAlreadyInProgress
		}
		defer func() {
			if err := lock.Unlock(); err != nil {
				slog.Warn("index_lock_release_failed", slog.String("error", err.Error()))
			}
		}()
	}
	return fn(ctx)
}

// Stop cancels the in-flight run, if any, and waits for it to unwind.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
