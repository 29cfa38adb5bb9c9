// Package registry owns the live artifact streams of a pipeline and wires
// stages to them.
//
// Streams are matched against a stage only after they have been partitioned
// along the stage's requirement, so a stage never receives content it did
// not ask for. Partitioning splits the content-type axis first and the scope
// axis second; whatever the stage does not consume is re-registered as
// leftover streams for later stages.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/stage"
	"github.com/albertocavalcante/artipipe/pkg/stream"
)

// ErrConfiguration is the kind of every ConfigurationError.
var ErrConfiguration = errors.New("pipeline configuration error")

// ConfigurationError reports a stage whose requirements cannot be satisfied
// by the live streams. It is fatal and never retried.
type ConfigurationError struct {
	Stage string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: stage %q: %s", ErrConfiguration, e.Stage, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func configErrorf(stageName, format string, args ...any) error {
	return &ConfigurationError{Stage: stageName, Msg: fmt.Sprintf(format, args...)}
}

// Layout resolves the output folder of a stage.
type Layout interface {
	StageOutputDir(stageName string) string
}

// Binding records how a stage was wired.
type Binding struct {
	Stage stage.Description
	// Inputs are the consumed streams, already narrowed to the stage's
	// requirement.
	Inputs []stream.Stream
	// Referenced are read-only views of streams in the referenced scopes.
	Referenced []stream.Stream
	// Output is the stage's output stream, nil for stages that consume nothing.
	Output *stream.Intermediate
}

// Registry is the ordered set of live streams. It is mutated only during the
// single-threaded configuration phase and is not safe for concurrent use.
type Registry struct {
	layout   Layout
	logger   *slog.Logger
	streams  []stream.Stream
	bindings []*Binding
	byStage  map[string]*Binding
}

// New creates an empty registry.
func New(layout Layout, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		layout:  layout,
		logger:  logger.With("component", "registry"),
		byStage: make(map[string]*Binding),
	}
}

// Add registers a stream.
func (r *Registry) Add(s stream.Stream) {
	r.logger.Debug("stream registered", "stream", s.Name(), "content", s.Descriptor().String())
	r.streams = append(r.streams, s)
}

// Streams returns the live streams in registration order.
func (r *Registry) Streams() []stream.Stream {
	return slices.Clone(r.streams)
}

// Bindings returns the wired stages in wiring order.
func (r *Registry) Bindings() []*Binding {
	return slices.Clone(r.bindings)
}

// Binding returns the wiring of the named stage.
func (r *Registry) Binding(stageName string) (*Binding, bool) {
	b, ok := r.byStage[stageName]
	return b, ok
}

// Find returns the live streams whose descriptor lies entirely within the
// requirement. Streams that only partially overlap are not returned; call
// Partition first.
func (r *Registry) Find(types content.TypeSet, scopes content.ScopeSet) []stream.Stream {
	var out []stream.Stream
	for _, s := range r.streams {
		if s.Descriptor().Within(types, scopes) {
			out = append(out, s)
		}
	}
	return out
}

// Partition splits every live stream that overlaps the requirement on both
// axes into the matched projection plus leftovers. The matched part takes
// the original's position; leftovers follow it.
func (r *Registry) Partition(types content.TypeSet, scopes content.ScopeSet) {
	r.streams = r.partitioned(types, scopes)
}

func (r *Registry) partitioned(types content.TypeSet, scopes content.ScopeSet) []stream.Stream {
	next := make([]stream.Stream, 0, len(r.streams))
	for _, s := range r.streams {
		parts := Split(s.Descriptor(), types, scopes)
		if parts.Matched == nil || len(parts.Rest) == 0 {
			next = append(next, s)
			continue
		}
		next = append(next, stream.Restrict(s, *parts.Matched))
		for _, rest := range parts.Rest {
			next = append(next, stream.Restrict(s, rest))
		}
		r.logger.Debug("stream partitioned",
			"stream", s.Name(),
			"from", s.Descriptor().String(),
			"matched", parts.Matched.String(),
			"leftovers", len(parts.Rest))
	}
	return next
}

// Parts is the result of splitting a descriptor along a requirement.
type Parts struct {
	// Matched is the projection on the requirement, nil when disjoint.
	Matched *content.Descriptor
	// Rest holds the non-empty leftovers: first the types the requirement
	// does not name (with every scope), then the matched types in the scopes
	// the requirement does not name.
	Rest []content.Descriptor
}

// Split partitions d along (types, scopes). Matched and Rest together cover
// d exactly and do not overlap. A leftover with an empty axis is dropped.
func Split(d content.Descriptor, types content.TypeSet, scopes content.ScopeSet) Parts {
	matched, ok := d.Project(types, scopes)
	if !ok {
		return Parts{}
	}
	parts := Parts{Matched: &matched}
	if rest, err := content.NewDescriptor(d.Types().Difference(types), d.Scopes()); err == nil {
		parts.Rest = append(parts.Rest, rest)
	}
	if rest, err := content.NewDescriptor(matched.Types(), d.Scopes().Difference(scopes)); err == nil {
		parts.Rest = append(parts.Rest, rest)
	}
	return parts
}

// AddTransform wires a stage: it partitions the live streams on the stage's
// requirement, removes the consumed projections, collects referenced views
// and registers the stage's output stream. On error the registry is left
// unchanged.
func (r *Registry) AddTransform(desc stage.Description) (*Binding, error) {
	if err := desc.Validate(); err != nil {
		return nil, configErrorf(desc.Name, "%v", err)
	}
	if _, dup := r.byStage[desc.Name]; dup {
		return nil, configErrorf(desc.Name, "stage is already wired")
	}
	if err := r.checkCoverage(desc); err != nil {
		return nil, err
	}

	b := &Binding{Stage: desc}
	live := r.streams

	if desc.Consumes() {
		live = r.partitioned(desc.Types, desc.Scopes)
		for _, s := range live {
			if s.Descriptor().Within(desc.Types, desc.Scopes) {
				b.Inputs = append(b.Inputs, s)
			}
		}
		live = slices.DeleteFunc(live, func(s stream.Stream) bool {
			return slices.Contains(b.Inputs, s)
		})
	}

	if !desc.ReferencedScopes.IsEmpty() {
		for _, s := range live {
			if view, ok := s.Descriptor().Project(desc.Types, desc.ReferencedScopes); ok {
				b.Referenced = append(b.Referenced, stream.Restrict(s, view))
			}
		}
	}

	if desc.Consumes() {
		out, err := r.newOutput(desc, b.Inputs)
		if err != nil {
			return nil, err
		}
		b.Output = out
		live = append(live, out)
	}

	r.streams = live
	r.bindings = append(r.bindings, b)
	r.byStage[desc.Name] = b
	r.logger.Info("stage wired",
		"stage", desc.Name,
		"inputs", len(b.Inputs),
		"referenced", len(b.Referenced),
		"output", outputName(b.Output))
	return b, nil
}

// checkCoverage verifies the stage's requirement against the live streams
// before anything is mutated.
func (r *Registry) checkCoverage(desc stage.Description) error {
	var typed []stream.Stream
	for _, s := range r.streams {
		if s.Descriptor().Types().Overlaps(desc.Types) {
			typed = append(typed, s)
		}
	}
	if len(typed) == 0 {
		return configErrorf(desc.Name, "no live stream carries any of the content types %s", content.FormatTypes(desc.Types))
	}

	var missing []content.Scope
	for _, sc := range desc.Scopes.Items() {
		found := false
		for _, s := range typed {
			if s.Descriptor().Scopes().Contains(sc) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, sc)
		}
	}
	if len(missing) > 0 {
		return configErrorf(desc.Name, "required scopes %s are not covered by any live stream of types %s",
			content.FormatScopes(content.Scopes(missing...)), content.FormatTypes(desc.Types))
	}
	return nil
}

func (r *Registry) newOutput(desc stage.Description, inputs []stream.Stream) (*stream.Intermediate, error) {
	var union content.Descriptor
	for i, s := range inputs {
		if i == 0 {
			union = s.Descriptor()
			continue
		}
		union = union.Union(s.Descriptor())
	}
	types := union.Types()
	if !desc.OutputTypes.IsEmpty() {
		types = desc.OutputTypes
	}
	d, err := content.NewDescriptor(types, union.Scopes())
	if err != nil {
		return nil, configErrorf(desc.Name, "output stream: %v", err)
	}
	out, err := stream.NewIntermediate(desc.Name, d, r.layout.StageOutputDir(desc.Name), desc.Name)
	if err != nil {
		return nil, configErrorf(desc.Name, "output stream: %v", err)
	}
	return out, nil
}

func outputName(s *stream.Intermediate) string {
	if s == nil {
		return ""
	}
	return s.Name() + " " + s.Descriptor().String()
}
