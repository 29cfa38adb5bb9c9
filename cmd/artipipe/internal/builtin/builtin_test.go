package builtin

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/artipipe/cmd/artipipe/internal/incremental"
	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/ledger"
	"github.com/albertocavalcante/artipipe/pkg/pipeline"
	"github.com/albertocavalcante/artipipe/pkg/stage"
	"github.com/albertocavalcante/artipipe/pkg/stream"
)

var (
	classes = content.Types(content.Classes)
	project = content.Scopes(content.Project)
)

// fixture is an input tree with one class directory and one library jar.
type fixture struct {
	buildDir string
	classDir string
	libJar   string
	source   *incremental.Source
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		buildDir: filepath.Join(root, "build"),
		classDir: filepath.Join(root, "classes"),
		libJar:   filepath.Join(root, "lib.jar"),
	}
	writeFile(t, filepath.Join(f.classDir, "com", "A.class"), "A")
	writeFile(t, filepath.Join(f.classDir, "com", "B.class"), "B")
	writeJar(t, f.libJar, map[string]string{
		"META-INF/MANIFEST.MF": "Manifest-Version: 1.0\r\n",
		"org/lib/L.class":      "L",
		"com/A.class":          "shadowed",
	})
	f.source = incremental.NewSource(f.buildDir, incremental.ScanConfig{}, nil)
	return f
}

// pipeline wires the fixture's inputs into a single stage running body.
func (f *fixture) pipeline(t *testing.T, body pipeline.Body) (*pipeline.Pipeline, string) {
	t.Helper()
	c, err := pipeline.NewContext(pipeline.Config{
		BuildDir:    f.buildDir,
		Incremental: true,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	var artifacts []stream.Artifact
	for _, path := range []string{f.classDir, f.libJar} {
		a, err := stream.ArtifactFor(path)
		require.NoError(t, err)
		artifacts = append(artifacts, a)
	}
	orig, err := stream.NewOriginal("javac", content.MustDescriptor(classes, project), artifacts, "compileJava")
	require.NoError(t, err)

	p := pipeline.New(c)
	p.AddStream(orig)
	b, err := p.AddStage(stage.Description{Name: "out", Types: classes, Scopes: project, Incremental: true}, body)
	require.NoError(t, err)
	return p, b.Output.Root()
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
}

func writeJar(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(fw, data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func readJar(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	entries := make(map[string]string)
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		entries[f.Name] = string(data)
	}
	return entries
}

func dirLocation(t *testing.T, root string) string {
	t.Helper()
	l, err := ledger.Load(root)
	require.NoError(t, err)
	for _, r := range l.Records {
		if r.Format == stream.FormatDirectory {
			return r.Location(root)
		}
	}
	t.Fatal("no directory record")
	return ""
}

func TestNew(t *testing.T) {
	assert.Equal(t, []string{"copy", "jar"}, Names())

	_, err := New("copy", nil)
	assert.NoError(t, err)

	_, err = New("dex", nil)
	assert.ErrorContains(t, err, `unknown stage body "dex"`)

	_, err = New("copy", map[string]string{"flatten": "true"})
	assert.ErrorContains(t, err, `unknown option "flatten"`)

	_, err = New("jar", map[string]string{"compression": "zstd"})
	assert.ErrorContains(t, err, "unknown compression")

	body, err := New("jar", map[string]string{"name": "app.jar", "compression": "store"})
	require.NoError(t, err)
	assert.Equal(t, &Jar{name: "app.jar", method: zip.Store}, body)
}

func TestCopyFullThenIncremental(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, root := f.pipeline(t, &Copy{})
	reports, err := p.Run(ctx, f.source)
	require.NoError(t, err)
	require.False(t, reports[0].Incremental)
	require.Len(t, reports[0].Records, 2)

	out := dirLocation(t, root)
	data, err := os.ReadFile(filepath.Join(out, "com", "A.class"))
	require.NoError(t, err)
	assert.Equal(t, "A", string(data))

	jarRecord := reports[0].Records[0]
	if jarRecord.Format != stream.FormatJar {
		jarRecord = reports[0].Records[1]
	}
	assert.Contains(t, readJar(t, jarRecord.Location(root)), "org/lib/L.class")

	// Second build: one class changes, one disappears, one appears.
	writeFile(t, filepath.Join(f.classDir, "com", "B.class"), "B2")
	require.NoError(t, os.Remove(filepath.Join(f.classDir, "com", "A.class")))
	writeFile(t, filepath.Join(f.classDir, "com", "C.class"), "C")

	p, root = f.pipeline(t, &Copy{})
	reports, err = p.Run(ctx, f.source)
	require.NoError(t, err)
	require.True(t, reports[0].Incremental, reports[0].FallbackReason)
	assert.Equal(t, 3, reports[0].Changed)

	assert.Equal(t, out, dirLocation(t, root), "directory output keeps its index")
	assert.NoFileExists(t, filepath.Join(out, "com", "A.class"))
	data, err = os.ReadFile(filepath.Join(out, "com", "B.class"))
	require.NoError(t, err)
	assert.Equal(t, "B2", string(data))
	assert.FileExists(t, filepath.Join(out, "com", "C.class"))
	assert.FileExists(t, jarRecord.Location(root), "unchanged jar output is kept")
}

func TestCopyRemovedJar(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, root := f.pipeline(t, &Copy{})
	_, err := p.Run(ctx, f.source)
	require.NoError(t, err)

	require.NoError(t, os.Remove(f.libJar))

	p, root = f.pipeline(t, &Copy{})
	reports, err := p.Run(ctx, f.source)
	require.NoError(t, err)
	require.True(t, reports[0].Incremental, reports[0].FallbackReason)

	for _, r := range reports[0].Records {
		if r.Format == stream.FormatJar {
			assert.False(t, r.Present, "removed input leaves an absent record")
			assert.NoFileExists(t, r.Location(root))
		}
	}
}

func TestCopyRemovedDirectory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, _ := f.pipeline(t, &Copy{})
	_, err := p.Run(ctx, f.source)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(f.classDir))

	p, root := f.pipeline(t, &Copy{})
	reports, err := p.Run(ctx, f.source)
	require.NoError(t, err)
	require.True(t, reports[0].Incremental, reports[0].FallbackReason)

	for _, r := range reports[0].Records {
		switch r.Format {
		case stream.FormatDirectory:
			assert.False(t, r.Present, "removed directory leaves an absent record")
			assert.NoDirExists(t, r.Location(root))
		case stream.FormatJar:
			assert.True(t, r.Present)
		}
	}

	// The absent record is pruned once a later build confirms it.
	p, _ = f.pipeline(t, &Copy{})
	reports, err = p.Run(ctx, f.source)
	require.NoError(t, err)
	require.Len(t, reports[0].Records, 1)
	assert.Equal(t, stream.FormatJar, reports[0].Records[0].Format)

	// A full build without the directory succeeds too.
	require.NoError(t, f.source.Clear())
	p, _ = f.pipeline(t, &Copy{})
	reports, err = p.Run(ctx, f.source)
	require.NoError(t, err)
	require.False(t, reports[0].Incremental)
	require.Len(t, reports[0].Records, 1)
	assert.Equal(t, stream.FormatJar, reports[0].Records[0].Format)
}

func TestCopyKeepsEquallyNamedInputsApart(t *testing.T) {
	f := newFixture(t)
	resDir := filepath.Join(filepath.Dir(f.classDir), "resources")
	writeFile(t, filepath.Join(resDir, "app.properties"), "k=v")
	resources := content.Types(content.Resources)

	c, err := pipeline.NewContext(pipeline.Config{
		BuildDir:    f.buildDir,
		Incremental: true,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	classArtifact, err := stream.ArtifactFor(f.classDir)
	require.NoError(t, err)
	resArtifact, err := stream.ArtifactFor(resDir)
	require.NoError(t, err)
	javac, err := stream.NewOriginal("javac", content.MustDescriptor(classes, project), []stream.Artifact{classArtifact}, "compileJava")
	require.NoError(t, err)
	res, err := stream.NewOriginal("res", content.MustDescriptor(resources, project), []stream.Artifact{resArtifact}, "processResources")
	require.NoError(t, err)

	p := pipeline.New(c)
	p.AddStream(javac)
	p.AddStream(res)
	for _, d := range []stage.Description{
		{Name: "jc", Types: classes, Scopes: project, Incremental: true},
		{Name: "jr", Types: resources, Scopes: project, Incremental: true},
	} {
		_, err := p.AddStage(d, &Jar{name: "classes.jar", method: zip.Deflate})
		require.NoError(t, err)
	}
	merge, err := p.AddStage(stage.Description{
		Name:        "merge",
		Types:       classes.Union(resources),
		Scopes:      project,
		Incremental: true,
	}, &Copy{})
	require.NoError(t, err)
	require.Len(t, merge.Inputs, 2)

	reports, err := p.Run(context.Background(), f.source)
	require.NoError(t, err)

	var records []ledger.Record
	for _, r := range reports {
		if r.Stage == "merge" {
			records = r.Records
		}
	}
	require.Len(t, records, 2)

	root := merge.Output.Root()
	byName := make(map[string]ledger.Record)
	for _, r := range records {
		assert.True(t, r.Present)
		assert.Equal(t, 1, r.Types.Len(), "record %s keeps its input's types", r.Name)
		byName[r.Name] = r
	}
	require.Contains(t, byName, "jc/classes.jar")
	require.Contains(t, byName, "jr/classes.jar")
	assert.True(t, byName["jc/classes.jar"].Types.Equal(classes))
	assert.True(t, byName["jr/classes.jar"].Types.Equal(resources))
	assert.Contains(t, readJar(t, byName["jc/classes.jar"].Location(root)), "com/A.class")
	assert.Contains(t, readJar(t, byName["jr/classes.jar"].Location(root)), "app.properties")
}

func TestJarPacksInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body, err := NewJar(nil)
	require.NoError(t, err)

	p, root := f.pipeline(t, body)
	reports, err := p.Run(ctx, f.source)
	require.NoError(t, err)
	require.Len(t, reports[0].Records, 1)

	record := reports[0].Records[0]
	assert.Equal(t, "classes.jar", record.Name)
	assert.True(t, record.Present)

	entries := readJar(t, record.Location(root))
	assert.Equal(t, manifest, entries[ManifestName])
	assert.Equal(t, "A", entries["com/A.class"], "directory classes win over jar entries")
	assert.Equal(t, "B", entries["com/B.class"])
	assert.Equal(t, "L", entries["org/lib/L.class"])
	assert.Len(t, entries, 4)
}

func TestJarKeepsArchiveWhenNothingChanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body, err := NewJar(map[string]string{"name": "app.jar"})
	require.NoError(t, err)

	p, root := f.pipeline(t, body)
	reports, err := p.Run(ctx, f.source)
	require.NoError(t, err)
	location := reports[0].Records[0].Location(root)
	before, err := os.Stat(location)
	require.NoError(t, err)

	p, _ = f.pipeline(t, body)
	reports, err = p.Run(ctx, f.source)
	require.NoError(t, err)
	require.True(t, reports[0].Incremental)
	require.True(t, reports[0].Records[0].Present)

	after, err := os.Stat(location)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())

	// A change rebuilds the archive.
	writeFile(t, filepath.Join(f.classDir, "com", "D.class"), "D")
	p, _ = f.pipeline(t, body)
	_, err = p.Run(ctx, f.source)
	require.NoError(t, err)
	assert.Equal(t, "D", readJar(t, location)["com/D.class"])
}

func TestJarIsReproducible(t *testing.T) {
	f := newFixture(t)
	body := &Jar{name: "a.jar", method: zip.Deflate}
	p, root := f.pipeline(t, body)
	reports, err := p.Run(context.Background(), f.source)
	require.NoError(t, err)
	first, err := os.ReadFile(reports[0].Records[0].Location(root))
	require.NoError(t, err)

	// Non-incremental rebuild of the same inputs.
	require.NoError(t, f.source.Clear())
	p, root = f.pipeline(t, body)
	reports, err = p.Run(context.Background(), f.source)
	require.NoError(t, err)
	require.False(t, reports[0].Incremental)
	second, err := os.ReadFile(reports[0].Records[0].Location(root))
	require.NoError(t, err)

	assert.Equal(t, first, second)
}
