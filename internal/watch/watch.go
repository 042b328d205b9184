// Package watch validates the CSV files under a directory tree as they
// change on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/fentz26/csvls/internal/session"
	"github.com/fentz26/csvls/internal/uri"
)

// Host receives document events.
type Host interface {
	HandleOpen(doc session.Document)
	HandleChange(doc session.Document)
	HandleClose(uri string)
}

// DefaultIgnore lists directory names never descended into.
var DefaultIgnore = []string{".git", "node_modules", ".idea", ".staging"}

// Options configures a Watcher.
type Options struct {
	// IsCSV filters files. Nil accepts .csv only.
	IsCSV  func(languageID, path string) bool
	Ignore []string
	Logger *slog.Logger
}

// Watcher feeds file events under root to a Host.
type Watcher struct {
	root    string
	host    Host
	isCSV   func(languageID, path string) bool
	ignore  []string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	files map[string]struct{}
}

// New creates a watcher for root.
func New(root string, host Host, opts Options) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	w := &Watcher{
		root:    abs,
		host:    host,
		isCSV:   opts.IsCSV,
		ignore:  opts.Ignore,
		logger:  opts.Logger,
		watcher: fsw,
		done:    make(chan struct{}),
		files:   make(map[string]struct{}),
	}
	if w.isCSV == nil {
		w.isCSV = func(_, path string) bool { return filepath.Ext(path) == ".csv" }
	}
	if w.ignore == nil {
		w.ignore = DefaultIgnore
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w, nil
}

// Root returns the watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Start registers every directory, opens every CSV file found, and begins
// processing events.
func (w *Watcher) Start(ctx context.Context) error {
	var opened []string
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != w.root && w.shouldIgnore(path) {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		if w.isCSV("", path) {
			opened = append(opened, path)
		}
		return nil
	})
	if err != nil {
		w.watcher.Close()
		return fmt.Errorf("watching %s: %w", w.root, err)
	}

	for _, path := range opened {
		w.open(path)
	}
	w.logger.Info("watching directory", slog.String("root", w.root), slog.Int("files", len(opened)))

	w.wg.Add(1)
	go w.processEvents(ctx)
	return nil
}

// Stop ends event processing.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
	w.wg.Wait()
}

// Files returns the number of CSV files being tracked.
func (w *Watcher) Files() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files)
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	path := event.Name
	if w.shouldIgnore(path) {
		return
	}

	switch {
	case event.Has(fsnotify.Create):
		if isDir(path) {
			w.addDir(path)
			return
		}
		if w.isCSV("", path) {
			w.change(path)
		}
	case event.Has(fsnotify.Write):
		if w.isCSV("", path) {
			w.change(path)
		}
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.close(path)
	}
}

// addDir watches a new directory and opens the CSV files already in it.
func (w *Watcher) addDir(dir string) {
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if w.shouldIgnore(path) {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("error", err))
			}
			return nil
		}
		if w.isCSV("", path) {
			w.open(path)
		}
		return nil
	})
}

func (w *Watcher) open(path string) {
	w.mu.Lock()
	w.files[path] = struct{}{}
	w.mu.Unlock()
	w.host.HandleOpen(session.Document{URI: uri.FromPath(path)})
}

func (w *Watcher) change(path string) {
	w.mu.Lock()
	w.files[path] = struct{}{}
	w.mu.Unlock()
	w.host.HandleChange(session.Document{URI: uri.FromPath(path)})
}

// close handles a removed file, or every tracked file under a removed
// directory.
func (w *Watcher) close(path string) {
	prefix := path + string(filepath.Separator)
	var gone []string
	w.mu.Lock()
	for f := range w.files {
		if f == path || (len(f) > len(prefix) && f[:len(prefix)] == prefix) {
			gone = append(gone, f)
			delete(w.files, f)
		}
	}
	w.mu.Unlock()

	for _, f := range gone {
		w.host.HandleClose(uri.FromPath(f))
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	base := filepath.Base(path)
	for _, pattern := range w.ignore {
		if base == pattern {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
