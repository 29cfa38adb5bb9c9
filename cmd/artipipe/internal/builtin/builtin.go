// Package builtin provides the stage bodies the artipipe CLI can run
// without any plugin: copy and jar.
package builtin

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/albertocavalcante/artipipe/pkg/pipeline"
	"github.com/albertocavalcante/artipipe/pkg/util"
)

// Factory builds a body from the stage's options table.
type Factory func(options map[string]string) (pipeline.Body, error)

var factories = map[string]Factory{
	"copy": NewCopy,
	"jar":  NewJar,
}

// Names returns the names of the built-in bodies.
func Names() []string {
	return util.SortedKeys(factories)
}

// New returns the built-in body called name.
func New(name string, options map[string]string) (pipeline.Body, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown stage body %q (available: %v)", name, Names())
	}
	return f(options)
}

// checkOptions rejects options a body does not understand.
func checkOptions(body string, options map[string]string, known ...string) error {
	for key := range options {
		if !slices.Contains(known, key) {
			return fmt.Errorf("%s: unknown option %q", body, key)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// copyTree copies every regular file under src to the same relative path
// under dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}
