package incremental

import (
	"time"
)

// IndexVersion is the current version of the index format.
const IndexVersion = 1

// Index is a snapshot of the files under a stage's input roots.
type Index struct {
	Version   int               `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Entries   map[string]*Entry `json:"entries"`
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		Version:   IndexVersion,
		UpdatedAt: time.Now(),
		Entries:   make(map[string]*Entry),
	}
}

// Add adds or updates an entry.
func (idx *Index) Add(e *Entry) {
	if idx == nil || e == nil {
		return
	}
	if idx.Entries == nil {
		idx.Entries = make(map[string]*Entry)
	}
	idx.Entries[e.Path] = e
}

// Get retrieves an entry by path.
func (idx *Index) Get(path string) (*Entry, bool) {
	if idx == nil || idx.Entries == nil {
		return nil, false
	}
	e, ok := idx.Entries[path]
	return e, ok
}

// Len returns the number of tracked files.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.Entries)
}

// Diff returns what changed from idx (the stage's last committed snapshot)
// to next (a fresh scan). A file whose size and mtime both match is taken as
// unchanged without comparing hashes; a file whose metadata moved but whose
// hash did not is not reported either.
func (idx *Index) Diff(next *Index) *ChangeSet {
	cs := &ChangeSet{Added: []string{}, Modified: []string{}, Removed: []string{}}
	var prev, cur map[string]*Entry
	if idx != nil {
		prev = idx.Entries
	}
	if next != nil {
		cur = next.Entries
	}

	for path, e := range cur {
		old, ok := prev[path]
		switch {
		case !ok:
			cs.Added = append(cs.Added, path)
		case old.ModTime == e.ModTime && old.Size == e.Size:
		case old.Hash != e.Hash:
			cs.Modified = append(cs.Modified, path)
		}
	}
	for path := range prev {
		if _, ok := cur[path]; !ok {
			cs.Removed = append(cs.Removed, path)
		}
	}
	cs.sort()
	return cs
}
