package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w := NewWatcher(WatcherOptions{DebounceWindow: 100 * time.Millisecond, MaxRetries: 2})
	t.Cleanup(w.Stop)
	return w
}

func waitForBatch(t *testing.T, w *Watcher, timeout time.Duration) []string {
	t.Helper()
	select {
	case batch := <-w.Batches():
		return batch
	case <-time.After(timeout):
		t.Fatal("no batch within timeout")
		return nil
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherInitialScanEmitsExistingPDFs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.pdf"), "one")
	writeFile(t, filepath.Join(dir, "b.pdf"), "two")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	w := newTestWatcher(t)
	require.NoError(t, w.Start(dir))

	batch := waitForBatch(t, w, 3*time.Second)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "b.pdf"),
	}, batch)
}

func TestWatcherDetectsNewFile(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	require.NoError(t, w.Start(dir))

	writeFile(t, filepath.Join(dir, "new.pdf"), "fresh")
	batch := waitForBatch(t, w, 3*time.Second)
	assert.Contains(t, batch, filepath.Join(dir, "new.pdf"))
}

func TestWatcherUnchangedFileNotReEmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pdf")
	writeFile(t, path, "stable")

	w := newTestWatcher(t)
	require.NoError(t, w.Start(dir))
	waitForBatch(t, w, 3*time.Second)

	// Touch an unrelated file: a.pdf's mtime is unchanged, so no batch
	// should contain it again.
	writeFile(t, filepath.Join(dir, "other.pdf"), "new")
	batch := waitForBatch(t, w, 3*time.Second)
	assert.NotContains(t, batch, path)
	assert.Contains(t, batch, filepath.Join(dir, "other.pdf"))
}

func TestWatcherModifiedFileReEmitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.pdf")
	writeFile(t, path, "v1")

	w := newTestWatcher(t)
	require.NoError(t, w.Start(dir))
	waitForBatch(t, w, 3*time.Second)

	// Force a distinct mtime before rewriting.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))
	writeFile(t, path, "v2 with more bytes")

	batch := waitForBatch(t, w, 3*time.Second)
	assert.Contains(t, batch, path)
}

func TestWatcherStartMissingFolderErrors(t *testing.T) {
	w := newTestWatcher(t)
	assert.Error(t, w.Start(filepath.Join(t.TempDir(), "missing")))
}

func TestWatcherStopClearsPendingState(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.pdf"), "content")

	w := NewWatcher(WatcherOptions{DebounceWindow: time.Hour}) // never flushes
	require.NoError(t, w.Start(dir))
	w.Stop()

	// Stop closes the channel without emitting the pending batch.
	batch, ok := <-w.Batches()
	assert.False(t, ok)
	assert.Nil(t, batch)

	// Stop is idempotent.
	w.Stop()
}

func TestWatcherScheduleRetryCapped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flaky.pdf")
	writeFile(t, path, "content")

	w := newTestWatcher(t) // MaxRetries: 2
	require.NoError(t, w.Start(dir))
	waitForBatch(t, w, 3*time.Second)

	w.ScheduleRetry(path)
	batch := waitForBatch(t, w, 3*time.Second)
	assert.Contains(t, batch, path)

	w.ScheduleRetry(path)
	batch = waitForBatch(t, w, 3*time.Second)
	assert.Contains(t, batch, path)

	// Third retry exceeds the cap: nothing more arrives.
	w.ScheduleRetry(path)
	select {
	case batch := <-w.Batches():
		t.Fatalf("retry beyond cap emitted batch: %v", batch)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherRecursiveScan(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, filepath.Join(sub, "deep.pdf"), "content")

	w := newTestWatcher(t)
	require.NoError(t, w.Start(dir))

	batch := waitForBatch(t, w, 3*time.Second)
	assert.Contains(t, batch, filepath.Join(sub, "deep.pdf"))
}
