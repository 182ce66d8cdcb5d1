// Package refdocs maintains an in-memory library of local reference
// documents served to the planner as context. The backing directory can be
// watched so edits show up in later sessions without a restart.
package refdocs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 500 * time.Millisecond

// Extensions loaded from the library directory.
var docExtensions = map[string]bool{
	".md":  true,
	".txt": true,
}

// Library holds the loaded documents. Snapshot is safe to call while a
// reload is in flight.
type Library struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger
	watcher  *fsnotify.Watcher

	mu   sync.RWMutex
	docs map[string]string

	dirtyMu sync.Mutex
	dirty   bool
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithLibraryLogger sets the logger.
func WithLibraryLogger(logger *slog.Logger) LibraryOption {
	return func(l *Library) {
		l.logger = logger
	}
}

// WithDebounce sets how long to wait after a change before reloading.
func WithDebounce(d time.Duration) LibraryOption {
	return func(l *Library) {
		if d > 0 {
			l.debounce = d
		}
	}
}

// NewLibrary loads every document under dir.
func NewLibrary(dir string, opts ...LibraryOption) (*Library, error) {
	l := &Library{
		dir:      dir,
		debounce: defaultDebounce,
		logger:   slog.Default(),
		docs:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

// Snapshot returns the documents combined into one markdown block, ordered
// by path for stable output. Empty when the library has no documents.
func (l *Library) Snapshot() string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	paths := make([]string, 0, len(l.docs))
	for path := range l.docs {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, path := range paths {
		fmt.Fprintf(&b, "## Reference document: %s\n\n%s\n\n", path, l.docs[path])
	}
	return strings.TrimSpace(b.String())
}

// Len returns the number of loaded documents.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.docs)
}

// Watch reloads the library when files under the directory change. Changes
// are debounced so a burst of writes triggers one reload. Watching stops
// when ctx is cancelled or Close is called.
func (l *Library) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	l.watcher = watcher

	if err := l.addWatchesRecursive(l.dir); err != nil {
		watcher.Close()
		return err
	}

	go l.processEvents(ctx)

	l.logger.Info("Reference library watcher started",
		"dir", l.dir, "debounce", l.debounce)
	return nil
}

// Close stops the watcher if one is running.
func (l *Library) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

func (l *Library) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}

		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && base != "." && path != root {
			return filepath.SkipDir
		}

		if err := l.watcher.Add(path); err != nil {
			l.logger.Warn("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (l *Library) processEvents(ctx context.Context) {
	ticker := time.NewTicker(l.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleFSEvent(event)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			l.flushPending()
		}
	}
}

func (l *Library) handleFSEvent(event fsnotify.Event) {
	// New subdirectories need their own watch
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := l.addWatchesRecursive(event.Name); err != nil {
				l.logger.Warn("Failed to watch new directory", "path", event.Name, "error", err)
			}
			l.markDirty()
			return
		}
	}

	if docExtensions[strings.ToLower(filepath.Ext(event.Name))] {
		l.markDirty()
	}
}

func (l *Library) markDirty() {
	l.dirtyMu.Lock()
	l.dirty = true
	l.dirtyMu.Unlock()
}

func (l *Library) flushPending() {
	l.dirtyMu.Lock()
	dirty := l.dirty
	l.dirty = false
	l.dirtyMu.Unlock()
	if !dirty {
		return
	}

	if err := l.reload(); err != nil {
		l.logger.Error("Failed to reload reference library", "error", err)
		return
	}
	l.logger.Info("Reference library reloaded", "documents", l.Len())
}

// reload re-reads the whole directory. Document sets are small; walking
// everything beats tracking per-file state.
func (l *Library) reload() error {
	docs := make(map[string]string)

	err := filepath.Walk(l.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && path != l.dir {
				return filepath.SkipDir
			}
			return nil
		}
		if !docExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		rel, err := filepath.Rel(l.dir, path)
		if err != nil {
			rel = path
		}
		docs[rel] = strings.TrimSpace(string(content))
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", l.dir, err)
	}

	l.mu.Lock()
	l.docs = docs
	l.mu.Unlock()
	return nil
}
