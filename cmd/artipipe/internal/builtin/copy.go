package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/pipeline"
	"github.com/albertocavalcante/artipipe/pkg/reconcile"
	"github.com/albertocavalcante/artipipe/pkg/stream"
)

// Copy mirrors every consumed artifact into the stage output, one output
// artifact per input artifact. In incremental mode only changed artifacts
// and directory files are touched.
//
// Outputs are named "<input stream>/<artifact>" and typed with the input's
// own types, so equally named artifacts of different producers never share
// a record.
type Copy struct{}

// NewCopy creates the copy body. It takes no options.
func NewCopy(options map[string]string) (pipeline.Body, error) {
	if err := checkOptions("copy", options); err != nil {
		return nil, err
	}
	return &Copy{}, nil
}

// Run implements pipeline.Body.
func (c *Copy) Run(ctx context.Context, inv *pipeline.Invocation) error {
	if inv.Output == nil {
		return nil
	}
	types := inv.Output.Stream().Descriptor().Types()

	for _, in := range inv.Inputs {
		for _, jar := range in.Jars {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.jar(inv, outputKeyOf(in, jar.Name, jar.Content, types), jar); err != nil {
				return err
			}
		}
		for _, dir := range in.Directories {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := c.directory(inv, outputKeyOf(in, dir.Name, dir.Content, types), dir); err != nil {
				return err
			}
		}
	}
	return nil
}

// outputKey identifies the output artifact copied from one input artifact.
type outputKey struct {
	name   string
	types  content.TypeSet
	scopes content.ScopeSet
}

// outputKeyOf keeps the input's types that the output declares. Stages that
// declare unrelated output types get all of them.
func outputKeyOf(in reconcile.TransformInput, name string, c content.Descriptor, declared content.TypeSet) outputKey {
	types := c.Types().Intersect(declared)
	if types.IsEmpty() {
		types = declared
	}
	return outputKey{
		name:   in.Stream.Name() + "/" + name,
		types:  types,
		scopes: c.Scopes(),
	}
}

func (c *Copy) jar(inv *pipeline.Invocation, key outputKey, jar reconcile.JarInput) error {
	out := inv.Output

	if jar.Status == reconcile.Removed || !exists(jar.Path) {
		inv.Logger.Debug("removing output", "name", key.name)
		return out.MarkRemoved(key.name, key.types, key.scopes, stream.FormatJar)
	}

	location, err := out.ContentLocation(key.name, key.types, key.scopes, stream.FormatJar)
	if err != nil {
		return err
	}
	if !inv.Incremental || jar.Status != reconcile.NotChanged || !exists(location) {
		if err := copyFile(jar.Path, location); err != nil {
			return fmt.Errorf("failed to copy %s: %w", jar.Path, err)
		}
	}
	return out.MarkProduced(key.name, key.types, key.scopes, stream.FormatJar)
}

func (c *Copy) directory(inv *pipeline.Invocation, key outputKey, dir reconcile.DirectoryInput) error {
	out := inv.Output

	if dir.Status == reconcile.Removed || !exists(dir.Path) {
		inv.Logger.Debug("removing output", "name", key.name)
		return out.MarkRemoved(key.name, key.types, key.scopes, stream.FormatDirectory)
	}

	location, err := out.ContentLocation(key.name, key.types, key.scopes, stream.FormatDirectory)
	if err != nil {
		return err
	}

	if !inv.Incremental {
		if err := copyTree(dir.Path, location); err != nil {
			return fmt.Errorf("failed to copy %s: %w", dir.Path, err)
		}
		return out.MarkProduced(key.name, key.types, key.scopes, stream.FormatDirectory)
	}

	for rel, status := range dir.ChangedFiles {
		target := filepath.Join(location, filepath.FromSlash(rel))
		switch status {
		case reconcile.Removed:
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", target, err)
			}
		default:
			if err := copyFile(filepath.Join(dir.Path, filepath.FromSlash(rel)), target); err != nil {
				return fmt.Errorf("failed to copy %s: %w", rel, err)
			}
		}
	}
	return out.MarkProduced(key.name, key.types, key.scopes, stream.FormatDirectory)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
