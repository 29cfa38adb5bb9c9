// Package ledger persists the SubStream records of an intermediate stream.
//
// Each intermediate stream owns one folder. The artifacts a stage emitted
// live in that folder as <index>.jar files or <index>/ directories, and the
// ledger file next to them lists what each index holds. A later stage reads
// the ledger to discover its inputs; the producing stage reads it back to
// reuse stable locations across builds.
package ledger

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/stream"
)

// Record describes one artifact emitted by a stage.
type Record struct {
	Name    string           `json:"name"`
	Index   int              `json:"index"`
	Scopes  content.ScopeSet `json:"scopes"`
	Types   content.TypeSet  `json:"types"`
	Format  stream.Format    `json:"format"`
	Present bool             `json:"present"`
}

// Location returns where the record's artifact lives under root.
func (r Record) Location(root string) string {
	name := strconv.Itoa(r.Index)
	if r.Format == stream.FormatJar {
		name += ".jar"
	}
	return filepath.Join(root, name)
}

// Descriptor returns the record's content descriptor.
func (r Record) Descriptor() content.Descriptor {
	return content.MustDescriptor(r.Types, r.Scopes)
}

// Matches reports whether r was emitted under the given key.
func (r Record) Matches(name string, types content.TypeSet, scopes content.ScopeSet, format stream.Format) bool {
	return r.Name == name && r.Format == format && r.Types.Equal(types) && r.Scopes.Equal(scopes)
}

func (r Record) validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("record %d: empty name", r.Index)
	case r.Index < 0:
		return fmt.Errorf("record %q: negative index %d", r.Name, r.Index)
	case r.Types.IsEmpty():
		return fmt.Errorf("record %q: %w", r.Name, content.ErrEmptyTypes)
	case r.Scopes.IsEmpty():
		return fmt.Errorf("record %q: %w", r.Name, content.ErrEmptyScopes)
	case !r.Format.Valid():
		return fmt.Errorf("record %q: invalid format %q", r.Name, r.Format)
	}
	return nil
}
