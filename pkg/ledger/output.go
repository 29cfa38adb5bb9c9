package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/stream"
)

// OutputProvider hands out artifact locations inside a stage's output
// stream and tracks which of them the stage actually produced.
//
// A location is keyed by (name, types, scopes, format). Asking again for a
// key seen in a previous build returns the same index, so consumers observe
// an in-place change instead of a removal plus an addition.
type OutputProvider struct {
	out       *stream.Intermediate
	records   []Record
	wasAbsent map[int]bool
}

// NewOutputProvider starts tracking outputs of out from its prior records.
// Records whose scopes exceed the stream's current declaration are kept as
// they are.
func NewOutputProvider(out *stream.Intermediate, prior []Record) *OutputProvider {
	p := &OutputProvider{
		out:       out,
		records:   slices.Clone(prior),
		wasAbsent: make(map[int]bool),
	}
	for _, r := range prior {
		if !r.Present {
			p.wasAbsent[r.Index] = true
		}
	}
	return p
}

// Root returns the output folder.
func (p *OutputProvider) Root() string { return p.out.Root() }

// Stream returns the output stream.
func (p *OutputProvider) Stream() *stream.Intermediate { return p.out }

// DeleteAll removes every previous output from disk and marks all records
// absent. Full runs call it before the stage body starts.
func (p *OutputProvider) DeleteAll() error {
	entries, err := os.ReadDir(p.Root())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to list outputs: %w", err)
	}
	for _, e := range entries {
		if e.Name() == FileName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.Root(), e.Name())); err != nil {
			return fmt.Errorf("failed to delete output %s: %w", e.Name(), err)
		}
	}
	for i := range p.records {
		p.records[i].Present = false
	}
	return nil
}

// ContentLocation resolves the location for an artifact. The record is
// created absent; call MarkProduced once the artifact is written.
func (p *OutputProvider) ContentLocation(name string, types content.TypeSet, scopes content.ScopeSet, format stream.Format) (string, error) {
	if err := p.checkKey(name, types, scopes, format); err != nil {
		return "", err
	}

	r, ok := p.find(name, types, scopes, format)
	if !ok {
		r = &Record{
			Name:   name,
			Index:  p.nextIndex(),
			Scopes: scopes,
			Types:  types,
			Format: format,
		}
		p.records = append(p.records, *r)
	}

	location := r.Location(p.Root())
	dir := p.Root()
	if format == stream.FormatDirectory {
		dir = location
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output location: %w", err)
	}
	return location, nil
}

// MarkProduced records that the artifact under key was written this build.
func (p *OutputProvider) MarkProduced(name string, types content.TypeSet, scopes content.ScopeSet, format stream.Format) error {
	r, ok := p.find(name, types, scopes, format)
	if !ok {
		return fmt.Errorf("output %q %s/%s was never requested", name, content.FormatTypes(types), content.FormatScopes(scopes))
	}
	r.Present = true
	return nil
}

// MarkRemoved deletes the artifact under key and marks its record absent.
// Unknown keys are ignored.
func (p *OutputProvider) MarkRemoved(name string, types content.TypeSet, scopes content.ScopeSet, format stream.Format) error {
	r, ok := p.find(name, types, scopes, format)
	if !ok {
		return nil
	}
	if err := os.RemoveAll(r.Location(p.Root())); err != nil {
		return fmt.Errorf("failed to remove output %q: %w", name, err)
	}
	r.Present = false
	return nil
}

// Records returns a snapshot of the tracked records.
func (p *OutputProvider) Records() []Record {
	return slices.Clone(p.records)
}

// Finalize reconciles the records with the disk and returns the set to
// persist: present records whose artifact vanished become absent, and
// records that were absent before this build and still are get pruned.
func (p *OutputProvider) Finalize() []Record {
	out := make([]Record, 0, len(p.records))
	for _, r := range p.records {
		if r.Present {
			if _, err := os.Stat(r.Location(p.Root())); err != nil {
				r.Present = false
			}
		}
		if !r.Present && p.wasAbsent[r.Index] {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Record) int { return a.Index - b.Index })
	return out
}

func (p *OutputProvider) checkKey(name string, types content.TypeSet, scopes content.ScopeSet, format stream.Format) error {
	d := p.out.Descriptor()
	switch {
	case name == "":
		return fmt.Errorf("output name is required")
	case !format.Valid():
		return fmt.Errorf("output %q: invalid format %q", name, format)
	case types.IsEmpty():
		return fmt.Errorf("output %q: %w", name, content.ErrEmptyTypes)
	case scopes.IsEmpty():
		return fmt.Errorf("output %q: %w", name, content.ErrEmptyScopes)
	case !types.SubsetOf(d.Types()):
		return fmt.Errorf("output %q: types %s are not declared by stream %s", name, content.FormatTypes(types), d)
	case !scopes.SubsetOf(d.Scopes()):
		return fmt.Errorf("output %q: scopes %s are not declared by stream %s", name, content.FormatScopes(scopes), d)
	}
	return nil
}

func (p *OutputProvider) find(name string, types content.TypeSet, scopes content.ScopeSet, format stream.Format) (*Record, bool) {
	for i := range p.records {
		if p.records[i].Matches(name, types, scopes, format) {
			return &p.records[i], true
		}
	}
	return nil, false
}

func (p *OutputProvider) nextIndex() int {
	next := 0
	for _, r := range p.records {
		if r.Index >= next {
			next = r.Index + 1
		}
	}
	return next
}
