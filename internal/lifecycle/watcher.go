// Package lifecycle owns the maintenance surfaces of the retrieval
// core: watching a PDF library folder for changes, and evicting stale
// ephemeral documents across storage, the vector index, and the
// session file area.
package lifecycle

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher defaults.
const (
	// DefaultDebounceWindow coalesces bursts of directory events.
	DefaultDebounceWindow = 2500 * time.Millisecond
	// DefaultMaxRetries caps transient-failure retries per path.
	DefaultMaxRetries = 3
)

// WatcherOptions configures the folder watcher.
type WatcherOptions struct {
	// DebounceWindow is how long to wait after the last event before a
	// pending batch flushes. Further events extend the wait.
	DebounceWindow time.Duration
	// MaxRetries caps ScheduleRetry attempts per path.
	MaxRetries int
}

// WithDefaults fills zero values.
func (o WatcherOptions) WithDefaults() WatcherOptions {
	if o.DebounceWindow == 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	return o
}

// Watcher watches a root directory recursively for PDF changes.
// Changed or new files are diffed against a known-mtime map, queued,
// debounced, and emitted as sorted batches on Batches().
type Watcher struct {
	opts WatcherOptions

	mu          sync.Mutex
	fsw         *fsnotify.Watcher
	root        string
	pending     map[string]struct{}
	knownMtimes map[string]time.Time
	retryCounts map[string]int
	timer       *time.Timer
	stopped     bool

	batches chan []string
	errs    chan error
	done    chan struct{}
}

// NewWatcher creates a stopped watcher; call Start to begin.
func NewWatcher(opts WatcherOptions) *Watcher {
	return &Watcher{
		opts:        opts.WithDefaults(),
		pending:     make(map[string]struct{}),
		knownMtimes: make(map[string]time.Time),
		retryCounts: make(map[string]int),
		batches:     make(chan []string, 16),
		errs:        make(chan error, 4),
	}
}

// Batches returns the channel of debounced path batches. The channel
// is closed when the watcher stops.
func (w *Watcher) Batches() <-chan []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batches
}

// Errors returns non-fatal watcher errors; the watcher keeps running.
// The channel is closed when the watcher stops.
func (w *Watcher) Errors() <-chan error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.errs
}

// Start begins watching folderPath recursively and performs the
// initial scan. Returns an error when the folder is missing or the
// notifier cannot be created.
func (w *Watcher) Start(folderPath string) error {
	info, err := os.Stat(folderPath)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("folder not found: %s", folderPath)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		w.mu.Unlock()
		w.Stop()
		w.mu.Lock()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.fsw = fsw
	w.root = folderPath
	w.stopped = false
	w.done = make(chan struct{})
	w.batches = make(chan []string, 16)
	w.errs = make(chan error, 4)

	// Watch the root and every existing subdirectory; fsnotify is not
	// recursive on its own.
	if err := w.addDirsLocked(folderPath); err != nil {
		_ = fsw.Close()
		w.fsw = nil
		w.done = nil
		return err
	}

	go w.loop(fsw, w.done)
	w.scanAndQueueLocked()
	return nil
}

func (w *Watcher) addDirsLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				slog.Warn("watch_add_failed", slog.String("path", path), slog.String("error", addErr.Error()))
			}
		}
		return nil
	})
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}

	// New subdirectories must be added to the notifier before their
	// contents produce events.
	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				slog.Warn("watch_add_failed", slog.String("path", event.Name), slog.String("error", err.Error()))
			}
		}
	}
	w.scanAndQueueLocked()
}

// scanAndQueueLocked rescans the tree for *.pdf and queues files whose
// mtime changed or which are new. Callers hold w.mu.
func (w *Watcher) scanAndQueueLocked() {
	if w.root == "" {
		return
	}
	current := make(map[string]time.Time)
	_ = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		info, statErr := d.Info()
		if statErr != nil {
			slog.Warn("watch_stat_failed", slog.String("path", path), slog.String("error", statErr.Error()))
			return nil
		}
		current[path] = info.ModTime()
		if known, ok := w.knownMtimes[path]; !ok || !known.Equal(info.ModTime()) {
			w.queuePathLocked(path)
		}
		return nil
	})
	w.knownMtimes = current
}

func (w *Watcher) queuePathLocked(path string) {
	w.pending[path] = struct{}{}
	w.scheduleFlushLocked()
}

// scheduleFlushLocked (re)arms the debounce timer; events inside the
// window extend the wait.
func (w *Watcher) scheduleFlushLocked() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.opts.DebounceWindow, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped || len(w.pending) == 0 {
		return
	}
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})

	sort.Strings(paths)
	// The send stays under the lock so Stop cannot close the channel
	// mid-send; it is non-blocking, so the lock is held only briefly.
	select {
	case w.batches <- paths:
	default:
		slog.Warn("watcher_batch_dropped", slog.Int("batch_size", len(paths)))
	}
}

// ScheduleRetry re-queues a path after a transient indexing failure.
// Retries are scheduled one debounce window out and capped at
// MaxRetries per path.
func (w *Watcher) ScheduleRetry(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.retryCounts[path]++
	if w.retryCounts[path] > w.opts.MaxRetries {
		slog.Warn("watch_retry_exhausted", slog.String("path", path),
			slog.Int("retries", w.retryCounts[path]-1))
		return
	}
	time.AfterFunc(w.opts.DebounceWindow, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.stopped {
			return
		}
		w.queuePathLocked(path)
	})
}

// Stop stops watching, clears all pending state, and closes the batch
// and error channels so consumers unblock. Safe to call multiple times
// and while stopped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped && w.fsw == nil {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	fsw := w.fsw
	done := w.done
	w.fsw = nil
	w.root = ""
	w.pending = make(map[string]struct{})
	w.knownMtimes = make(map[string]time.Time)
	w.retryCounts = make(map[string]int)
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	if done != nil {
		<-done
	}

	// Close after the event loop has drained; flush checks stopped
	// under the lock, so no send can race the close.
	w.mu.Lock()
	close(w.batches)
	close(w.errs)
	w.mu.Unlock()
}
