// Package watcher watches a case library with fsnotify and reports which case directories changed.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches a library root whose immediate subdirectories are cases. Events anywhere
// inside a case directory are debounced per case and reported once through onCase.
type Watcher struct {
	root       string
	extensions []string
	onCase     func(caseDir string)
	debounce   time.Duration
	watcher    *fsnotify.Watcher
	mu         sync.Mutex
	pending    map[string]*time.Timer
	done       chan struct{}
	started    bool
	stopOnce   sync.Once
	logger     *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a case must stay quiet before onCase fires.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for the library at root. Only files whose extension is in
// extensions (empty means all) trigger a case; removing a case directory always does.
// onCase receives the case directory, which may no longer exist.
func NewWatcher(root string, extensions []string, onCase func(caseDir string), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		root:       filepath.Clean(root),
		extensions: extensions,
		onCase:     onCase,
		debounce:   defaultDebounce,
		pending:    make(map[string]*time.Timer),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start creates the root if missing, watches it recursively and runs until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.root, 0755); err != nil {
		return err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw
	if err := w.addTree(w.root); err != nil {
		_ = fsw.Close()
		w.watcher = nil
		return err
	}
	w.started = true
	w.logger.Debug("watcher started", zap.String("root", w.root), zap.Strings("extensions", w.extensions))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	caseDir, ok := w.caseDir(ev.Name)
	if !ok {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.mu.Lock()
			if w.watcher != nil {
				_ = w.addTree(ev.Name)
			}
			w.mu.Unlock()
			w.schedule(caseDir)
			return
		}
	}
	switch {
	case ev.Name == caseDir && ev.Has(fsnotify.Remove|fsnotify.Rename):
		w.schedule(caseDir)
	case ev.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename):
		if matchExtension(ev.Name, w.extensions) {
			w.schedule(caseDir)
		}
	}
}

// caseDir maps a path inside the library to its case directory, the root's immediate child.
func (w *Watcher) caseDir(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(path))
	if err != nil || rel == "." || !inDir(w.root, path) {
		return "", false
	}
	first := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	if strings.HasPrefix(first, ".") {
		return "", false
	}
	// Files directly under the root do not belong to a case. A removed entry can no longer
	// be inspected and is reported; the receiver ignores names that never were cases.
	if first == rel {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return "", false
		}
	}
	return filepath.Join(w.root, first), true
}

// addTree watches dir and its subdirectories. Callers hold w.mu.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Debug("watcher failed to add directory", zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) schedule(caseDir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[caseDir]; ok {
		t.Stop()
	}
	w.pending[caseDir] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, caseDir)
		w.mu.Unlock()
		w.logger.Debug("case changed", zap.String("case_dir", caseDir))
		if w.onCase != nil {
			w.onCase(caseDir)
		}
	})
}

// SyncExisting reports every case directory currently in the library, in name order.
func (w *Watcher) SyncExisting() {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		w.logger.Debug("watcher sync failed", zap.String("root", w.root), zap.Error(err))
		return
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, filepath.Join(w.root, e.Name()))
		}
	}
	sort.Strings(dirs)
	for _, d := range dirs {
		if w.onCase != nil {
			w.onCase(d)
		}
	}
}

// Root returns the watched library directory.
func (w *Watcher) Root() string {
	return w.root
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// Stop stops the watcher and drops pending notifications.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for dir, t := range w.pending {
		t.Stop()
		delete(w.pending, dir)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
