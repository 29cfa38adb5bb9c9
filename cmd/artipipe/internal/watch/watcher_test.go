package watch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/albertocavalcante/artipipe/pkg/pipeline"
)

func noopTrigger(context.Context, []string) ([]pipeline.Report, error) { return nil, nil }

func TestIsWatchLimitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"path error", &os.PathError{Op: "watch", Path: "/foo", Err: os.ErrNotExist}, false},
		{"regular error", os.ErrPermission, false},
		{"inotify limit", errors.New("no space left on device"), true},
		{"fd limit", errors.New("too many open files"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isWatchLimitError(tt.err); got != tt.expected {
				t.Errorf("isWatchLimitError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestNewRequiresTrigger(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New() without a trigger should fail")
	}
}

func TestNewClassifiesRoots(t *testing.T) {
	tmpDir := t.TempDir()
	classes := filepath.Join(tmpDir, "classes")
	if err := os.MkdirAll(classes, 0o755); err != nil {
		t.Fatal(err)
	}
	jar := filepath.Join(tmpDir, "libs", "dep.jar")
	config := filepath.Join(tmpDir, "artipipe.toml")

	w, err := New(Config{
		Roots:   []string{classes, jar, classes},
		Extra:   []string{config},
		Trigger: noopTrigger,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer w.Close()

	if len(w.dirs) != 1 || w.dirs[0] != classes {
		t.Errorf("dirs = %v, want [%s]", w.dirs, classes)
	}
	if !w.files[jar] || !w.files[config] {
		t.Errorf("files = %v, want the jar and the config file", w.files)
	}
}

func TestRelevant(t *testing.T) {
	tmpDir := t.TempDir()
	classes := filepath.Join(tmpDir, "classes")
	if err := os.MkdirAll(classes, 0o755); err != nil {
		t.Fatal(err)
	}
	jar := filepath.Join(tmpDir, "dep.jar")

	w, err := New(Config{
		Roots:   []string{classes, jar},
		Trigger: noopTrigger,
		Ignored: func(path string) bool { return strings.HasSuffix(path, ".swp") },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(classes, "com", "A.class"), true},
		{classes, true},
		{jar, true},
		{filepath.Join(classes, "A.class.swp"), false},
		{filepath.Join(tmpDir, "classes-other", "A.class"), false},
		{filepath.Join(tmpDir, "other.jar"), false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestHandleEventDebouncesRelevantPaths(t *testing.T) {
	tmpDir := t.TempDir()
	w, err := New(Config{Roots: []string{tmpDir}, Trigger: noopTrigger})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.debouncer = NewDebouncer(time.Hour, func([]string) {})

	w.handleEvent(fsnotify.Event{Name: filepath.Join(tmpDir, "A.class"), Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: filepath.Join(tmpDir, "B.class"), Op: fsnotify.Remove})
	w.handleEvent(fsnotify.Event{Name: filepath.Join(tmpDir, "C.class"), Op: fsnotify.Chmod})
	w.handleEvent(fsnotify.Event{Name: "/elsewhere/D.class", Op: fsnotify.Write})

	if got := w.debouncer.PendingCount(); got != 2 {
		t.Errorf("PendingCount() = %d, want 2", got)
	}
}

func TestHandleChangesReportsStages(t *testing.T) {
	var buf bytes.Buffer
	var got []string
	w, err := New(Config{
		Trigger: func(_ context.Context, paths []string) ([]pipeline.Report, error) {
			got = paths
			return []pipeline.Report{
				{Stage: "desugar", Ran: true, Incremental: true, Changed: 1},
				{Stage: "merge"},
			}, errors.New("stage merge: boom")
		},
		Logger: NewLogger(LoggerConfig{Writer: &buf, NoColor: true}),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	w.handleChanges([]string{"/in/A.class"})

	if len(got) != 1 || got[0] != "/in/A.class" {
		t.Errorf("trigger received %v", got)
	}
	output := buf.String()
	if !strings.Contains(output, "desugar incremental") {
		t.Errorf("expected the desugar report: %s", output)
	}
	if strings.Contains(output, "merge full") {
		t.Errorf("stages that did not run should not be reported: %s", output)
	}
	if stats := w.logger.Stats(); stats.ErrorCount != 1 || stats.RunCount != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHandleChangesSkipsAfterCancel(t *testing.T) {
	called := false
	w, err := New(Config{Trigger: func(context.Context, []string) ([]pipeline.Report, error) {
		called = true
		return nil, nil
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.ctx = ctx
	w.handleChanges([]string{"/in/A.class"})
	if called {
		t.Error("trigger should not run after shutdown")
	}
}

func TestRunTriggersOnChange(t *testing.T) {
	tmpDir := t.TempDir()

	var (
		mu    sync.Mutex
		paths []string
	)
	done := make(chan struct{}, 1)
	w, err := New(Config{
		Roots:    []string{tmpDir},
		Debounce: 20 * time.Millisecond,
		Logger:   NewLogger(LoggerConfig{Writer: &bytes.Buffer{}}),
		Trigger: func(_ context.Context, changed []string) ([]pipeline.Report, error) {
			mu.Lock()
			paths = append(paths, changed...)
			mu.Unlock()
			select {
			case done <- struct{}{}:
			default:
			}
			return nil, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	// Give the watcher time to register its watches.
	target := filepath.Join(tmpDir, "A.class")
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
loop:
	for {
		select {
		case <-done:
			break loop
		case <-tick.C:
			if err := os.WriteFile(target, []byte(time.Now().String()), 0o644); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("trigger was not called")
		}
	}

	cancel()
	if err := <-errc; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	found := false
	for _, p := range paths {
		if p == target {
			found = true
		}
	}
	if !found {
		t.Errorf("trigger paths %v should include %s", paths, target)
	}
}

func TestWatcherCloseNilFsWatcher(t *testing.T) {
	w := &Watcher{fsWatcher: nil}
	if err := w.Close(); err != nil {
		t.Errorf("Close() on nil fsWatcher error = %v", err)
	}
}
