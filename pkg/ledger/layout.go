package ledger

import (
	"errors"
	"fmt"

	"github.com/albertocavalcante/artipipe/pkg/content"
)

// ErrLayoutInconsistency is the kind of every LayoutInconsistencyError.
var ErrLayoutInconsistency = errors.New("unexpected scopes found in folder")

// LayoutInconsistencyError reports a stream folder holding an artifact whose
// scopes reach outside what the consuming view declares. A physical artifact
// cannot be split, so the stage must abort.
type LayoutInconsistencyError struct {
	Folder   string
	Record   string
	Expected content.ScopeSet
	Found    content.ScopeSet
}

func (e *LayoutInconsistencyError) Error() string {
	return fmt.Sprintf("%s '%s': record %q has scopes %s, expected a subset of %s",
		ErrLayoutInconsistency, e.Folder, e.Record, content.FormatScopes(e.Found), content.FormatScopes(e.Expected))
}

func (e *LayoutInconsistencyError) Unwrap() error { return ErrLayoutInconsistency }

// Select returns the records of folder that belong to view: those sharing at
// least one type and one scope with it. Present selected records must have
// their scopes within the view's scopes, otherwise a
// LayoutInconsistencyError is returned. Absent records are returned even
// when their scopes are wider, so callers can still map their removal.
func Select(folder string, view content.Descriptor, records []Record) ([]Record, error) {
	var out []Record
	for _, r := range records {
		if !r.Types.Overlaps(view.Types()) || !r.Scopes.Overlaps(view.Scopes()) {
			continue
		}
		if r.Present && !r.Scopes.SubsetOf(view.Scopes()) {
			return nil, &LayoutInconsistencyError{
				Folder:   folder,
				Record:   r.Name,
				Expected: view.Scopes(),
				Found:    r.Scopes,
			}
		}
		out = append(out, r)
	}
	return out, nil
}
