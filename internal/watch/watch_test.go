package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string, opts ...Option) *Watcher {
	t.Helper()
	w, err := New([]string{dir}, append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func receive(t *testing.T, w *Watcher) []Change {
	t.Helper()
	select {
	case batch := <-w.Changes:
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}
	return nil
}

func TestWatcherReportsWatchedFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mB.yaml")
	if err := os.WriteFile(file, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := startWatcher(t, dir, WithFilter(Paths([]string{file})))

	if err := os.WriteFile(file, []byte("a: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	batch := receive(t, w)
	if len(batch) != 1 || batch[0].Path != file || batch[0].Removed {
		t.Fatalf("batch = %+v, want one modification of %s", batch, file)
	}

	if err := os.Remove(file); err != nil {
		t.Fatal(err)
	}
	batch = receive(t, w)
	if len(batch) != 1 || !batch[0].Removed {
		t.Fatalf("batch = %+v, want one removal", batch)
	}
}

func TestWatcherIgnoresFilteredFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir, WithFilter(Paths([]string{filepath.Join(dir, "watched.yaml")})))

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case batch := <-w.Changes:
		t.Errorf("unexpected batch: %+v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcherCoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, dir)

	file := filepath.Join(dir, "sC.js")
	for i := range 5 {
		if err := os.WriteFile(file, []byte{byte('a' + i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	batch := receive(t, w)
	if len(batch) != 1 || batch[0].Path != file {
		t.Fatalf("batch = %+v, want a single change of %s", batch, file)
	}
}

func TestStartFailsOnMissingDir(t *testing.T) {
	t.Parallel()

	w, err := New([]string{filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(); err == nil {
		t.Fatal("Start on a missing directory returned nil error")
	}
}
