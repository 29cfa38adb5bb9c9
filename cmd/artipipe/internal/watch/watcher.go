package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/albertocavalcante/artipipe/pkg/pipeline"
	"github.com/albertocavalcante/artipipe/pkg/util"
)

// DefaultDebounce is used when Config.Debounce is not positive.
const DefaultDebounce = 500 * time.Millisecond

// TriggerFunc runs the pipeline after the given paths changed.
type TriggerFunc func(ctx context.Context, paths []string) ([]pipeline.Report, error)

// Config configures the watcher.
type Config struct {
	// Roots are the input roots of every stage. A root may be a directory,
	// a file, or a path that does not exist yet.
	Roots []string
	// Extra are single files whose changes also trigger a run, such as the
	// pipeline configuration.
	Extra    []string
	Stages   []string
	Debounce time.Duration
	// Ignored filters paths out before they reach the debouncer.
	Ignored func(path string) bool
	Trigger TriggerFunc
	Logger  *Logger
}

// Watcher watches stage inputs and reruns the pipeline when they change.
type Watcher struct {
	config    Config
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	logger    *Logger

	dirs  []string
	files map[string]bool

	ctx context.Context

	// runMu prevents concurrent pipeline runs
	runMu sync.Mutex
}

// New creates a new watcher with the given configuration.
func New(cfg Config) (*Watcher, error) {
	if cfg.Trigger == nil {
		return nil, errors.New("watch: trigger is required")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = NewLogger(LoggerConfig{})
	}
	if cfg.Ignored == nil {
		cfg.Ignored = func(string) bool { return false }
	}

	w := &Watcher{
		config:    cfg,
		fsWatcher: fsWatcher,
		logger:    logger,
		files:     make(map[string]bool),
		ctx:       context.Background(),
	}
	w.classify()
	return w, nil
}

// classify splits the configured paths into watched directory trees and
// single files.
func (w *Watcher) classify() {
	for _, root := range w.config.Roots {
		root = filepath.Clean(root)
		if info, err := os.Stat(root); err == nil && info.IsDir() {
			w.dirs = append(w.dirs, root)
			continue
		}
		w.files[root] = true
	}
	for _, extra := range w.config.Extra {
		w.files[filepath.Clean(extra)] = true
	}
	w.dirs = util.SortedUnique(w.dirs)
}

// Run starts the watch loop. It blocks until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	w.ctx = ctx

	window := w.config.Debounce
	if window <= 0 {
		window = DefaultDebounce
	}
	w.debouncer = NewDebouncer(window, w.handleChanges)
	defer w.debouncer.Stop()

	for _, dir := range w.dirs {
		if err := w.addRecursive(dir); err != nil {
			return fmt.Errorf("failed to watch inputs: %w", err)
		}
	}
	// Single files are watched through their parent directory so that
	// replacing or creating them is noticed.
	parents := make(map[string]bool)
	for file := range w.files {
		parent := filepath.Dir(file)
		if parents[parent] {
			continue
		}
		parents[parent] = true
		if err := w.fsWatcher.Add(parent); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Error(fmt.Errorf("failed to watch %s: %w", parent, err))
		}
	}

	w.logger.Ready(len(w.dirs)+len(w.files), w.config.Stages)

	for {
		select {
		case <-ctx.Done():
			w.logger.Shutdown()
			return nil

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error(err)
		}
	}
}

// addRecursive adds a directory and all subdirectories to the watcher.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if !os.IsPermission(err) {
				w.logger.Error(fmt.Errorf("walk error at %s: %w", path, err))
			}
			return nil
		}

		if !d.IsDir() {
			return nil
		}
		if path != root && w.config.Ignored(path) {
			return filepath.SkipDir
		}

		if err := w.fsWatcher.Add(path); err != nil {
			if isWatchLimitError(err) {
				return fmt.Errorf("%w for %s: %w\n"+
					"Increase limit with: sudo sysctl fs.inotify.max_user_watches=524288", ErrWatchLimitReached, path, err)
			}
			w.logger.Error(fmt.Errorf("failed to watch %s: %w", path, err))
		}
		return nil
	})
}

// isWatchLimitError checks if an error is due to inotify watch limits.
func isWatchLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "no space left on device") ||
		strings.Contains(errStr, "too many open files")
}

// relevant reports whether path belongs to a watched root.
func (w *Watcher) relevant(path string) bool {
	if w.files[path] {
		return true
	}
	if w.config.Ignored(path) {
		return false
	}
	for _, dir := range w.dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// handleEvent processes a single filesystem event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !w.relevant(path) {
		return
	}

	// New directories under a root are watched and their files reported.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() && !w.files[path] {
			if err := w.addRecursive(path); err != nil {
				w.logger.Error(fmt.Errorf("failed to watch new directory %s: %w", path, err))
			}
			w.debouncer.Add(path)
			return
		}
	}

	var change ChangeType
	switch {
	case event.Has(fsnotify.Create):
		change = ChangeAdded
	case event.Has(fsnotify.Write):
		change = ChangeModified
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		change = ChangeDeleted
	default:
		return // chmod
	}

	w.logger.FileChanged(path, change)
	w.debouncer.Add(path)
}

// handleChanges is called when the debouncer flushes.
func (w *Watcher) handleChanges(paths []string) {
	if w.ctx.Err() != nil {
		return
	}

	w.runMu.Lock()
	defer w.runMu.Unlock()

	w.logger.Running(paths)
	reports, err := w.config.Trigger(w.ctx, paths)
	for _, r := range reports {
		if r.Ran {
			w.logger.StageDone(r)
		}
	}
	if err != nil {
		w.logger.Error(err)
	}
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

// ErrWatchLimitReached is returned when the OS watch limit is exceeded.
var ErrWatchLimitReached = errors.New("filesystem watch limit reached")
