// Package watch reports debounced changes to files in a set of directories.
package watch

import (
	"cmp"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// reported.
const DefaultDebounce = 200 * time.Millisecond

// Change is one changed file. Removed is set when the file no longer exists
// at report time.
type Change struct {
	Path    string
	Removed bool
}

// Watcher monitors directories with fsnotify and delivers batches of
// settled changes. Editors that save through a temp file and rename show up
// as a single change of the final path.
type Watcher struct {
	// Changes receives one batch per debounce window, sorted by path.
	Changes <-chan []Change

	changes  chan []Change
	quit     chan struct{}
	done     chan struct{}
	watcher  *fsnotify.Watcher
	dirs     []string
	match    func(path string) bool
	debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter limits reported changes to paths for which match returns true.
// match runs on the watch goroutine.
func WithFilter(match func(path string) bool) Option {
	return func(w *Watcher) { w.match = match }
}

// New creates a watcher over dirs. Nothing is watched until Start.
func New(dirs []string, opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ch := make(chan []Change, 4)
	w := &Watcher{
		Changes:  ch,
		changes:  ch,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		watcher:  fw,
		dirs:     slices.Clone(dirs),
		match:    func(string) bool { return true },
		debounce: DefaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Start adds the directories and begins delivering changes.
func (w *Watcher) Start() error {
	for _, d := range w.dirs {
		if err := w.watcher.Add(d); err != nil {
			w.watcher.Close()
			return err
		}
	}
	go w.loop()
	return nil
}

// Stop closes the watcher. Changes is closed once the loop exits.
func (w *Watcher) Stop() {
	close(w.quit)
	w.watcher.Close()
	<-w.done
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				// Nobody may be reading after Stop.
				if batch := settle(pending, time.Time{}); batch != nil {
					select {
					case w.changes <- batch:
					default:
					}
				}
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(event.Name)
			if !w.match(path) {
				continue
			}
			pending[path] = time.Now()

		case <-ticker.C:
			if batch := settle(pending, time.Now().Add(-w.debounce)); batch != nil {
				select {
				case w.changes <- batch:
				case <-w.quit:
					return
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Watch errors are transient overflow reports; keep going.
		}
	}
}

// settle removes and returns every pending path last touched before cutoff.
// A zero cutoff settles everything.
func settle(pending map[string]time.Time, cutoff time.Time) []Change {
	var batch []Change
	for path, t := range pending {
		if !cutoff.IsZero() && t.After(cutoff) {
			continue
		}
		_, err := os.Stat(path)
		batch = append(batch, Change{Path: path, Removed: os.IsNotExist(err)})
		delete(pending, path)
	}
	if len(batch) == 0 {
		return nil
	}
	slices.SortFunc(batch, func(a, b Change) int { return cmp.Compare(a.Path, b.Path) })
	return batch
}

// Paths returns a filter matching exactly the given files.
func Paths(files []string) func(string) bool {
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[filepath.Clean(f)] = true
	}
	return func(p string) bool { return set[p] }
}
