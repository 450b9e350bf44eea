// Package watch reports batches of changed files under a set of roots once
// the file system has been quiet for a while.
package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors directory trees and single files.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	roots     []string
	files     map[string]struct{}
	ignored   []string
	quiet     time.Duration

	// path -> time of the last event
	pending   map[string]time.Time
	pendingMu sync.Mutex

	batches chan []string
	errors  chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher over the given directory roots. A batch is emitted
// once no event arrived for quiet.
func New(roots []string, quiet time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if quiet <= 0 {
		quiet = 200 * time.Millisecond
	}
	return &Watcher{
		fsWatcher: fsWatcher,
		roots:     roots,
		files:     make(map[string]struct{}),
		quiet:     quiet,
		pending:   make(map[string]time.Time),
		batches:   make(chan []string, 4),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// File adds a single file, such as the manifest, to watch. Call before
// Start.
func (w *Watcher) File(path string) {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w.files[path] = struct{}{}
}

// Ignore drops events below dir, such as output directories that sit under
// a source root. Call before Start.
func (w *Watcher) Ignore(dirs ...string) {
	for _, d := range dirs {
		if abs, err := filepath.Abs(d); err == nil {
			d = abs
		}
		w.ignored = append(w.ignored, d)
	}
}

// Batches returns the channel of settled change sets, sorted.
func (w *Watcher) Batches() <-chan []string {
	return w.batches
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start registers every directory below the roots and begins watching.
// Roots that do not exist yet are skipped.
func (w *Watcher) Start() error {
	for _, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := w.addTree(abs, false); err != nil {
			return err
		}
	}
	for file := range w.files {
		if err := w.fsWatcher.Add(filepath.Dir(file)); err != nil {
			return err
		}
	}

	w.wg.Add(2)
	go w.eventLoop()
	go w.debounceLoop()
	return nil
}

// Stop shuts the watcher down and closes both channels.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.batches)
	close(w.errors)
	return w.fsWatcher.Close()
}

// addTree watches dir and everything below it. With record set, files
// already present are reported; they may have been written before the
// watch existed.
func (w *Watcher) addTree(dir string, record bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// каталог мог исчезнуть между событием и обходом
			return nil
		}
		if w.isIgnored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return w.fsWatcher.Add(path)
		}
		if record {
			w.touch(path)
		}
		return nil
	})
}

func (w *Watcher) isIgnored(path string) bool {
	for _, dir := range w.ignored {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// relevant filters events in directories watched only for a single file.
func (w *Watcher) relevant(path string) bool {
	if _, ok := w.files[path]; ok {
		return true
	}
	for _, root := range w.roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			continue
		}
		if path == abs || strings.HasPrefix(path, abs+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) touch(path string) {
	w.pendingMu.Lock()
	w.pending[path] = time.Now()
	w.pendingMu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			if w.isIgnored(event.Name) || !w.relevant(event.Name) {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name, true); err != nil {
						w.report(err)
					}
					continue
				}
			}
			w.touch(event.Name)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.report(err)
		}
	}
}

func (w *Watcher) report(err error) {
	select {
	case w.errors <- err:
	default:
	}
}

func (w *Watcher) debounceLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(max(w.quiet/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			batch := w.settled(now)
			if len(batch) == 0 {
				continue
			}
			select {
			case w.batches <- batch:
			case <-w.done:
				return
			}
		}
	}
}

// settled drains pending once the newest event is older than quiet.
func (w *Watcher) settled(now time.Time) []string {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	if len(w.pending) == 0 {
		return nil
	}
	for _, at := range w.pending {
		if now.Sub(at) < w.quiet {
			return nil
		}
	}
	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}
	clear(w.pending)
	slices.Sort(batch)
	return batch
}
