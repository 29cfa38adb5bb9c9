package registry

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/stage"
	"github.com/albertocavalcante/artipipe/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dirLayout string

func (d dirLayout) StageOutputDir(name string) string { return filepath.Join(string(d), name) }

func newTestRegistry() *Registry {
	return New(dirLayout("/build/transforms"), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func original(t *testing.T, name string, types content.TypeSet, scopes content.ScopeSet) *stream.Original {
	t.Helper()
	s, err := stream.NewOriginal(name, content.MustDescriptor(types, scopes),
		[]stream.Artifact{{Name: name, Path: "/src/" + name, Format: stream.FormatDirectory}}, "")
	require.NoError(t, err)
	return s
}

var (
	classes   = content.Types(content.Classes)
	resources = content.Types(content.Resources)
	both      = content.Types(content.Classes, content.Resources)
	project   = content.Scopes(content.Project)
	subs      = content.Scopes(content.SubProjects)
	external  = content.Scopes(content.ExternalLibraries)
)

func descriptors(streams []stream.Stream) []string {
	out := make([]string, len(streams))
	for i, s := range streams {
		out[i] = s.Name() + " " + s.Descriptor().String()
	}
	return out
}

func TestSplit(t *testing.T) {
	d := content.MustDescriptor(both, project.Union(subs))

	parts := Split(d, classes, project)
	require.NotNil(t, parts.Matched)
	assert.Equal(t, "[CLASSES]/[PROJECT]", parts.Matched.String())
	require.Len(t, parts.Rest, 2)
	assert.Equal(t, "[RESOURCES]/[PROJECT,SUB_PROJECTS]", parts.Rest[0].String())
	assert.Equal(t, "[CLASSES]/[SUB_PROJECTS]", parts.Rest[1].String())

	disjoint := Split(d, content.Types(content.Dex), project)
	assert.Nil(t, disjoint.Matched)
	assert.Empty(t, disjoint.Rest)
}

func TestSplitDropsEmptyRemainder(t *testing.T) {
	// All scopes consumed, some types left: the scope remainder would have
	// no scopes and is dropped.
	d := content.MustDescriptor(both, project)
	parts := Split(d, classes, project)
	require.Len(t, parts.Rest, 1)
	assert.Equal(t, "[RESOURCES]/[PROJECT]", parts.Rest[0].String())

	exact := Split(d, both, project)
	assert.Empty(t, exact.Rest)
}

func TestFindRequiresPartitionedStreams(t *testing.T) {
	r := newTestRegistry()
	r.Add(original(t, "javac", both, project))

	assert.Empty(t, r.Find(classes, project), "a wider stream must not match before partitioning")

	r.Partition(classes, project)
	found := r.Find(classes, project)
	require.Len(t, found, 1)
	assert.Equal(t, "[CLASSES]/[PROJECT]", found[0].Descriptor().String())
	assert.Len(t, r.Streams(), 2)
}

func TestAddTransformConsumesAndLeavesRemainder(t *testing.T) {
	r := newTestRegistry()
	r.Add(original(t, "javac", both, project.Union(subs)))

	b, err := r.AddTransform(stage.Description{Name: "desugar", Types: classes, Scopes: project, Incremental: true})
	require.NoError(t, err)

	require.Len(t, b.Inputs, 1)
	assert.Equal(t, "[CLASSES]/[PROJECT]", b.Inputs[0].Descriptor().String())
	require.NotNil(t, b.Output)
	assert.Equal(t, "[CLASSES]/[PROJECT]", b.Output.Descriptor().String())
	assert.Equal(t, "/build/transforms/desugar", b.Output.Root())

	assert.Equal(t, []string{
		"javac [RESOURCES]/[PROJECT,SUB_PROJECTS]",
		"javac [CLASSES]/[SUB_PROJECTS]",
		"desugar [CLASSES]/[PROJECT]",
	}, descriptors(r.Streams()))

	got, ok := r.Binding("desugar")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestAddTransformMergesSeveralStreams(t *testing.T) {
	r := newTestRegistry()
	r.Add(original(t, "app", classes, project))
	r.Add(original(t, "libs", classes, external))
	r.Add(original(t, "res", resources, project))

	b, err := r.AddTransform(stage.Description{
		Name:        "dex",
		Types:       classes,
		Scopes:      project.Union(external),
		OutputTypes: content.Types(content.Dex),
	})
	require.NoError(t, err)

	assert.Len(t, b.Inputs, 2)
	assert.Equal(t, "[DEX]/[PROJECT,EXTERNAL_LIBRARIES]", b.Output.Descriptor().String())
	assert.Equal(t, []string{"res [RESOURCES]/[PROJECT]", "dex [DEX]/[PROJECT,EXTERNAL_LIBRARIES]"}, descriptors(r.Streams()))
}

func TestAddTransformReferencedScopes(t *testing.T) {
	r := newTestRegistry()
	r.Add(original(t, "app", classes, project))
	r.Add(original(t, "libs", classes, external))

	b, err := r.AddTransform(stage.Description{
		Name:             "shrink",
		Types:            classes,
		Scopes:           project,
		ReferencedScopes: external,
	})
	require.NoError(t, err)

	require.Len(t, b.Referenced, 1)
	assert.Equal(t, "libs", b.Referenced[0].Name())
	// Referenced streams stay live for later stages.
	assert.Equal(t, []string{"libs [CLASSES]/[EXTERNAL_LIBRARIES]", "shrink [CLASSES]/[PROJECT]"}, descriptors(r.Streams()))
}

func TestAddTransformReferenceOnlyStageHasNoOutput(t *testing.T) {
	r := newTestRegistry()
	r.Add(original(t, "app", classes, project))

	b, err := r.AddTransform(stage.Description{Name: "lint", Types: classes, ReferencedScopes: project})
	require.NoError(t, err)
	assert.Nil(t, b.Output)
	assert.Empty(t, b.Inputs)
	assert.Len(t, b.Referenced, 1)
	assert.Len(t, r.Streams(), 1)
}

func TestAddTransformConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		desc stage.Description
	}{
		{"uncovered scope", stage.Description{Name: "s", Types: classes, Scopes: project.Union(subs)}},
		{"unknown type", stage.Description{Name: "s", Types: content.Types(content.NativeLibs), Scopes: project}},
		{"invalid description", stage.Description{Name: "s", Types: classes}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRegistry()
			r.Add(original(t, "app", both, project))
			before := descriptors(r.Streams())

			_, err := r.AddTransform(tt.desc)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration), "error %v should be a configuration error", err)

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "s", cfgErr.Stage)
			assert.Equal(t, before, descriptors(r.Streams()), "registry must be unchanged on error")
		})
	}
}

func TestAddTransformRejectsDuplicateStage(t *testing.T) {
	r := newTestRegistry()
	r.Add(original(t, "app", both, project))

	_, err := r.AddTransform(stage.Description{Name: "s", Types: classes, Scopes: project})
	require.NoError(t, err)
	_, err = r.AddTransform(stage.Description{Name: "s", Types: resources, Scopes: project})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestChainedStagesConsumeOutputs(t *testing.T) {
	r := newTestRegistry()
	r.Add(original(t, "javac", both, project))

	first, err := r.AddTransform(stage.Description{Name: "desugar", Types: classes, Scopes: project})
	require.NoError(t, err)
	second, err := r.AddTransform(stage.Description{Name: "dex", Types: classes, Scopes: project, OutputTypes: content.Types(content.Dex)})
	require.NoError(t, err)

	require.Len(t, second.Inputs, 1)
	in, ok := second.Inputs[0].(*stream.Intermediate)
	require.True(t, ok, "second stage should consume the first stage's output")
	assert.Equal(t, first.Output.Root(), in.Root())
}

// TestPartitionCoverageProperty checks, over random descriptors and
// requirements, that the output stream is exactly the requirement and that
// the leftovers cover the rest of the original without overlap.
func TestPartitionCoverageProperty(t *testing.T) {
	typePool := []content.Type{content.Classes, content.Resources, content.NativeLibs, content.Dex}
	scopePool := content.AllScopes()
	rng := rand.New(rand.NewPCG(1, 2))

	for i := range 500 {
		types := randomSubset(rng, typePool)
		scopes := randomSubset(rng, scopePool)
		reqTypes := randomSubset(rng, types)
		reqScopes := randomSubset(rng, scopes)

		name := fmt.Sprintf("case-%d", i)
		t.Run(name, func(t *testing.T) {
			r := newTestRegistry()
			r.Add(original(t, "in", content.Types(types...), content.Scopes(scopes...)))

			b, err := r.AddTransform(stage.Description{
				Name:   "s",
				Types:  content.Types(reqTypes...),
				Scopes: content.Scopes(reqScopes...),
			})
			require.NoError(t, err)
			want := content.MustDescriptor(content.Types(reqTypes...), content.Scopes(reqScopes...))
			require.True(t, b.Output.Descriptor().Equal(want), "output %s, want %s", b.Output.Descriptor(), want)

			covered := make(map[string]int)
			mark := func(d content.Descriptor) {
				for _, ty := range d.Types().Items() {
					for _, sc := range d.Scopes().Items() {
						covered[string(ty)+"/"+sc.String()]++
					}
				}
			}
			for _, in := range b.Inputs {
				mark(in.Descriptor())
			}
			for _, s := range r.Streams() {
				if s != stream.Stream(b.Output) {
					mark(s.Descriptor())
				}
			}

			assert.Len(t, covered, len(types)*len(scopes))
			for pair, n := range covered {
				assert.Equal(t, 1, n, "pair %s covered %d times", pair, n)
			}
		})
	}
}

func randomSubset[T any](rng *rand.Rand, pool []T) []T {
	for {
		var out []T
		for _, v := range pool {
			if rng.IntN(2) == 0 {
				out = append(out, v)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
}
