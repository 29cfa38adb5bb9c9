package incremental

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/albertocavalcante/artipipe/pkg/reconcile"
)

// Source is the pipeline's event source. Events diffs the stage's stored
// snapshot against a fresh scan of its roots and keeps the scan pending;
// Commit persists it once the stage has succeeded.
type Source struct {
	buildDir string
	scanner  *Scanner
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*Index
}

// NewSource creates a source storing snapshots under buildDir.
func NewSource(buildDir string, scan ScanConfig, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		buildDir: buildDir,
		scanner:  NewScanner(scan),
		logger:   logger.With("component", "incremental"),
		pending:  make(map[string]*Index),
	}
}

// Scanner returns the source's scanner.
func (s *Source) Scanner() *Scanner { return s.scanner }

// Events returns the changes under roots since the stage's last commit.
// An unreadable snapshot is treated as no previous state.
func (s *Source) Events(ctx context.Context, stageName string, roots []string) ([]reconcile.Event, bool, error) {
	cs, current, known, err := s.diff(ctx, stageName, roots)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.pending[stageName] = current
	s.mu.Unlock()

	s.logger.Debug("collected events",
		"stage", stageName,
		"known", known,
		"added", len(cs.Added),
		"modified", len(cs.Modified),
		"removed", len(cs.Removed))
	return cs.Events(), known, nil
}

// Commit persists the snapshot taken by the last Events call for the stage.
func (s *Source) Commit(_ context.Context, stageName string) error {
	s.mu.Lock()
	idx, ok := s.pending[stageName]
	delete(s.pending, stageName)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending snapshot for stage %s", stageName)
	}
	if err := NewJSONStore(s.buildDir, stageName).Save(idx); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Status reports the changes under roots without keeping anything pending.
func (s *Source) Status(ctx context.Context, stageName string, roots []string) (*ChangeSet, bool, error) {
	cs, _, known, err := s.diff(ctx, stageName, roots)
	return cs, known, err
}

// HasState returns true if the stage has a committed snapshot.
func (s *Source) HasState(stageName string) bool {
	return NewJSONStore(s.buildDir, stageName).Exists()
}

// TrackedFileCount returns the number of files in the stage's snapshot.
// Returns 0 if no state exists or on error.
func (s *Source) TrackedFileCount(stageName string) int {
	idx, err := NewJSONStore(s.buildDir, stageName).Load()
	if err != nil {
		return 0
	}
	return idx.Len()
}

// Clear forgets every stage snapshot.
func (s *Source) Clear() error {
	s.mu.Lock()
	clear(s.pending)
	s.mu.Unlock()
	return os.RemoveAll(SnapshotDir(s.buildDir))
}

func (s *Source) diff(ctx context.Context, stageName string, roots []string) (*ChangeSet, *Index, bool, error) {
	store := NewJSONStore(s.buildDir, stageName)
	known := store.Exists()
	old, err := store.Load()
	if err != nil {
		s.logger.Warn("ignoring unreadable snapshot", "stage", stageName, "error", err)
		old, known = NewIndex(), false
	}

	current, err := s.scanner.Scan(ctx, roots, old)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to scan inputs: %w", err)
	}
	return old.Diff(current), current, known, nil
}
