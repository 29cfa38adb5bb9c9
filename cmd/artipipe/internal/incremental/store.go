package incremental

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// stateDir is the directory name for artipipe host state.
	stateDir = ".artipipe"

	// snapshotDir holds one snapshot file per stage.
	snapshotDir = "snapshots"
)

// Store defines the interface for index persistence.
type Store interface {
	Load() (*Index, error)
	Save(idx *Index) error
	Exists() bool
	Clear() error
}

// JSONStore implements Store using a JSON file.
type JSONStore struct {
	dir  string
	path string
}

// SnapshotDir returns the directory holding stage snapshots under buildDir.
func SnapshotDir(buildDir string) string {
	return filepath.Join(buildDir, stateDir, snapshotDir)
}

// NewJSONStore creates the store of one stage's snapshot:
// <buildDir>/.artipipe/snapshots/<stage>.json.
func NewJSONStore(buildDir, stageName string) *JSONStore {
	dir := SnapshotDir(buildDir)
	return &JSONStore{
		dir:  dir,
		path: filepath.Join(dir, stageName+".json"),
	}
}

// Path returns the snapshot file path.
func (s *JSONStore) Path() string { return s.path }

// Load reads the index from disk. If the snapshot doesn't exist, returns an empty index.
func (s *JSONStore) Load() (*Index, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return NewIndex(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	// Check version compatibility
	if idx.Version > IndexVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", idx.Version, IndexVersion)
	}

	// Ensure entries map is initialized
	if idx.Entries == nil {
		idx.Entries = make(map[string]*Entry)
	}

	return &idx, nil
}

// Save writes the index to disk atomically.
func (s *JSONStore) Save(idx *Index) error {
	if idx == nil {
		return fmt.Errorf("cannot save nil index")
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	idx.UpdatedAt = time.Now()
	idx.Version = IndexVersion

	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	// Write to temp file first for atomic update
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}

	// Rename temp file to actual file (atomic on POSIX)
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath) // Clean up temp file
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	return nil
}

// Exists returns true if the snapshot exists.
func (s *JSONStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Clear removes the snapshot.
func (s *JSONStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
