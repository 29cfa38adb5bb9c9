package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// FileName is the name of the ledger file inside a stream's root folder.
const FileName = "__content__.json"

// State tells how a ledger was obtained.
type State int

const (
	// StateMissing means no ledger file exists: the stream was never built.
	StateMissing State = iota
	// StateLoaded means the ledger was read and validated.
	StateLoaded
	// StateCorrupt means the ledger file exists but could not be used.
	StateCorrupt
)

func (s State) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateLoaded:
		return "loaded"
	case StateCorrupt:
		return "corrupt"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrCorrupt wraps the cause recorded in Ledger.Err for corrupt ledgers.
var ErrCorrupt = errors.New("corrupt ledger")

// Ledger is the loaded content of one ledger file.
type Ledger struct {
	Root    string
	State   State
	Records []Record
	// Err explains a StateCorrupt ledger.
	Err error
}

// Known reports whether the ledger carries usable prior state.
func (l *Ledger) Known() bool { return l != nil && l.State == StateLoaded }

// Path returns the ledger file path for a stream root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Load reads the ledger under root. A missing file yields StateMissing and
// an unusable one StateCorrupt, both with no records; neither is an error.
// Only I/O failures other than absence are returned as errors.
func Load(root string) (*Ledger, error) {
	l := &Ledger{Root: root}

	data, err := os.ReadFile(Path(root))
	if os.IsNotExist(err) {
		l.State = StateMissing
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	records, err := decode(data)
	if err != nil {
		l.State = StateCorrupt
		l.Err = fmt.Errorf("%w %s: %w", ErrCorrupt, Path(root), err)
		return l, nil
	}

	l.State = StateLoaded
	l.Records = records
	return l, nil
}

func decode(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	seen := make(map[int]bool, len(records))
	for _, r := range records {
		if err := r.validate(); err != nil {
			return nil, err
		}
		if seen[r.Index] {
			return nil, fmt.Errorf("duplicate index %d", r.Index)
		}
		seen[r.Index] = true
	}
	return records, nil
}

// Save writes records to the ledger under root atomically.
func Save(root string, records []Record) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	sorted := slices.Clone(records)
	if sorted == nil {
		sorted = []Record{}
	}
	slices.SortFunc(sorted, func(a, b Record) int { return a.Index - b.Index })

	data, err := json.MarshalIndent(sorted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	// Write to temp file first for atomic update
	path := Path(root)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename ledger: %w", err)
	}
	return nil
}
