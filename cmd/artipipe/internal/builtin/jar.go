package builtin

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/albertocavalcante/artipipe/pkg/pipeline"
	"github.com/albertocavalcante/artipipe/pkg/reconcile"
	"github.com/albertocavalcante/artipipe/pkg/stream"
)

// ManifestName is the entry every produced JAR starts with.
const ManifestName = "META-INF/MANIFEST.MF"

const manifest = "Manifest-Version: 1.0\r\nCreated-By: artipipe\r\n\r\n"

// zipEpoch is the modification time stamped on every entry so that equal
// inputs produce byte-identical archives.
var zipEpoch = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)

// Jar packs every consumed artifact into a single JAR. Directory files and
// the entries of input JARs are merged; the first occurrence of an entry
// name wins. Any change rebuilds the whole archive.
type Jar struct {
	name   string
	method uint16
}

// NewJar creates the jar body. Options:
//
//	name         output artifact name (default "classes.jar")
//	compression  "deflate" (default) or "store"
func NewJar(options map[string]string) (pipeline.Body, error) {
	if err := checkOptions("jar", options, "name", "compression"); err != nil {
		return nil, err
	}
	j := &Jar{name: "classes.jar", method: zip.Deflate}
	if name := options["name"]; name != "" {
		j.name = name
	}
	switch options["compression"] {
	case "", "deflate":
	case "store":
		j.method = zip.Store
	default:
		return nil, fmt.Errorf("jar: unknown compression %q", options["compression"])
	}
	return j, nil
}

// Run implements pipeline.Body.
func (j *Jar) Run(ctx context.Context, inv *pipeline.Invocation) error {
	if inv.Output == nil {
		return nil
	}
	d := inv.Output.Stream().Descriptor()
	location, err := inv.Output.ContentLocation(j.name, d.Types(), d.Scopes(), stream.FormatJar)
	if err != nil {
		return err
	}

	if inv.Incremental && !changed(inv.Inputs) && exists(location) {
		inv.Logger.Debug("inputs unchanged, keeping archive", "name", j.name)
		return inv.Output.MarkProduced(j.name, d.Types(), d.Scopes(), stream.FormatJar)
	}

	n, err := j.write(ctx, location, inv)
	if err != nil {
		return err
	}
	inv.Logger.Debug("wrote archive", "name", j.name, "entries", n)
	return inv.Output.MarkProduced(j.name, d.Types(), d.Scopes(), stream.FormatJar)
}

func changed(inputs []reconcile.TransformInput) bool {
	for _, in := range inputs {
		for _, jar := range in.Jars {
			if jar.Status != reconcile.NotChanged {
				return true
			}
		}
		for _, dir := range in.Directories {
			if dir.Status != reconcile.NotChanged || len(dir.ChangedFiles) > 0 {
				return true
			}
		}
	}
	return false
}

// write builds the archive next to location and renames it into place.
func (j *Jar) write(ctx context.Context, location string, inv *pipeline.Invocation) (int, error) {
	tmp := location + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}
	defer os.Remove(tmp)

	a := &archive{w: zip.NewWriter(f), method: j.method, seen: make(map[string]bool)}
	err = a.add(ManifestName, func(w io.Writer) error {
		_, err := io.WriteString(w, manifest)
		return err
	})
	for _, in := range inv.Inputs {
		if err != nil {
			break
		}
		err = a.addInput(ctx, in, inv)
	}
	if err == nil {
		err = a.w.Close()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write archive %s: %w", j.name, err)
	}
	if err := os.Rename(tmp, location); err != nil {
		return 0, fmt.Errorf("failed to write archive %s: %w", j.name, err)
	}
	return len(a.seen), nil
}

type archive struct {
	w      *zip.Writer
	method uint16
	seen   map[string]bool
}

func (a *archive) add(name string, write func(io.Writer) error) error {
	if a.seen[name] {
		return nil
	}
	a.seen[name] = true
	w, err := a.w.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   a.method,
		Modified: zipEpoch,
	})
	if err != nil {
		return err
	}
	return write(w)
}

func (a *archive) addInput(ctx context.Context, in reconcile.TransformInput, inv *pipeline.Invocation) error {
	for _, dir := range in.Directories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if dir.Status == reconcile.Removed || !exists(dir.Path) {
			continue
		}
		if err := a.addDirectory(dir.Path); err != nil {
			return err
		}
	}
	for _, jar := range in.Jars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if jar.Status == reconcile.Removed || !exists(jar.Path) {
			continue
		}
		if err := a.addJar(jar.Path); err != nil {
			return fmt.Errorf("%s: %w", jar.Path, err)
		}
		inv.Logger.Debug("merged jar", "path", jar.Path)
	}
	return nil
}

func (a *archive) addDirectory(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return a.add(filepath.ToSlash(rel), func(w io.Writer) error {
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(w, f)
			return err
		})
	})
}

func (a *archive) addJar(path string) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, entry := range r.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		err := a.add(entry.Name, func(w io.Writer) error {
			rc, err := entry.Open()
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(w, rc)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
