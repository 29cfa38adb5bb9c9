package incremental

import (
	"slices"

	"github.com/albertocavalcante/artipipe/pkg/reconcile"
)

// ChangeSet lists the files that differ between two snapshots of a stage's
// roots. Paths are absolute and sorted.
type ChangeSet struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Removed  []string `json:"removed"`
}

// IsEmpty reports whether the snapshots were identical.
func (cs *ChangeSet) IsEmpty() bool {
	return cs.Len() == 0
}

// Len returns the number of changed files.
func (cs *ChangeSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Added) + len(cs.Modified) + len(cs.Removed)
}

// Events returns one raw event per changed file, in path order within each
// kind. The reconciler does not depend on the order.
func (cs *ChangeSet) Events() []reconcile.Event {
	if cs == nil {
		return nil
	}
	events := make([]reconcile.Event, 0, cs.Len())
	for _, group := range []struct {
		paths []string
		kind  reconcile.Kind
	}{
		{cs.Added, reconcile.KindAdded},
		{cs.Modified, reconcile.KindModified},
		{cs.Removed, reconcile.KindRemoved},
	} {
		for _, p := range group.paths {
			events = append(events, reconcile.Event{Path: p, Kind: group.kind})
		}
	}
	return events
}

func (cs *ChangeSet) sort() {
	slices.Sort(cs.Added)
	slices.Sort(cs.Modified)
	slices.Sort(cs.Removed)
}
