// Package stage describes pipeline stages as seen by the stream registry and
// the incremental reconciler.
package stage

import (
	"fmt"
	"path/filepath"

	"github.com/albertocavalcante/artipipe/pkg/content"
)

// SecondaryInput is a file a stage depends on that is not part of any
// stream, such as a rules file. When IncrementalSafe is false any change to
// it forces the stage into a full run.
type SecondaryInput struct {
	Path            string
	IncrementalSafe bool
}

// Description is the configuration-time description of a stage.
type Description struct {
	// Name is the stage's stable identity. It also names its output folder.
	Name string
	// Types are the content types the stage consumes.
	Types content.TypeSet
	// Scopes are consumed: matching streams are removed from the registry.
	Scopes content.ScopeSet
	// ReferencedScopes are read but not consumed.
	ReferencedScopes content.ScopeSet
	// OutputTypes overrides the output stream's types. Empty means the
	// union of the consumed types.
	OutputTypes content.TypeSet
	// Incremental declares that the stage can process only changed inputs.
	Incremental bool
	// Secondary lists extra inputs outside of any stream.
	Secondary []SecondaryInput
}

// Validate checks the description for internal consistency.
func (d Description) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("stage name is required")
	}
	if d.Types.IsEmpty() {
		return fmt.Errorf("stage %q: %w", d.Name, content.ErrEmptyTypes)
	}
	if d.Scopes.IsEmpty() && d.ReferencedScopes.IsEmpty() {
		return fmt.Errorf("stage %q: consumes and references no scopes", d.Name)
	}
	if common := d.Scopes.Intersect(d.ReferencedScopes); !common.IsEmpty() {
		return fmt.Errorf("stage %q: scopes %s are both consumed and referenced", d.Name, content.FormatScopes(common))
	}
	if !d.OutputTypes.IsEmpty() && d.Scopes.IsEmpty() {
		return fmt.Errorf("stage %q: declares output types but consumes nothing", d.Name)
	}
	for _, s := range d.Secondary {
		if !filepath.IsAbs(s.Path) {
			return fmt.Errorf("stage %q: secondary input %q is not absolute", d.Name, s.Path)
		}
	}
	return nil
}

// Consumes reports whether the stage consumes at least one scope and thus
// produces an output stream.
func (d Description) Consumes() bool { return !d.Scopes.IsEmpty() }
