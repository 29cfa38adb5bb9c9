// Package stream defines the artifact streams that flow between pipeline
// stages.
//
// A Stream is a closed sum type with two variants:
//
//   - *Original wraps artifacts that already exist outside the pipeline,
//     such as compiler output or local libraries.
//   - *Intermediate is the output of a stage. Its contents are not a static
//     file list: they are described by the ledger stored in its root folder.
//
// Code that needs variant-specific behavior uses a type switch over both
// variants; the unexported marker method keeps other packages from adding
// a third.
package stream

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/cespare/xxhash/v2"
)

// Format is the physical shape of an artifact.
type Format string

const (
	// FormatJar is a single archive file.
	FormatJar Format = "JAR"
	// FormatDirectory is a directory tree.
	FormatDirectory Format = "DIRECTORY"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool { return f == FormatJar || f == FormatDirectory }

// Stream is a named, descriptor-tagged bundle of artifacts.
type Stream interface {
	Name() string
	Descriptor() content.Descriptor
	isStream()
}

// Artifact is one externally owned file or directory of an Original stream.
type Artifact struct {
	Name   string
	Path   string
	Format Format
}

// Original is a stream of artifacts owned outside the pipeline.
type Original struct {
	name       string
	descriptor content.Descriptor
	artifacts  []Artifact
	builtBy    string
}

// NewOriginal builds an Original stream. builtBy is an opaque marker for the
// host's scheduler and is never interpreted here.
func NewOriginal(name string, d content.Descriptor, artifacts []Artifact, builtBy string) (*Original, error) {
	if name == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if d.IsZero() {
		return nil, fmt.Errorf("stream %q: %w", name, content.ErrEmptyTypes)
	}
	for _, a := range artifacts {
		if !filepath.IsAbs(a.Path) {
			return nil, fmt.Errorf("stream %q: artifact path %q is not absolute", name, a.Path)
		}
		if !a.Format.Valid() {
			return nil, fmt.Errorf("stream %q: artifact %q has invalid format %q", name, a.Path, a.Format)
		}
	}
	return &Original{name: name, descriptor: d, artifacts: artifacts, builtBy: builtBy}, nil
}

// Name implements Stream.
func (o *Original) Name() string { return o.name }

// Descriptor implements Stream.
func (o *Original) Descriptor() content.Descriptor { return o.descriptor }

// Artifacts returns the stream's artifacts.
func (o *Original) Artifacts() []Artifact { return o.artifacts }

// BuiltBy returns the opaque producer marker.
func (o *Original) BuiltBy() string { return o.builtBy }

func (*Original) isStream() {}

// Intermediate is a stream produced by a stage under Root.
type Intermediate struct {
	name       string
	descriptor content.Descriptor
	root       string
	producer   string
}

// NewIntermediate builds an Intermediate stream rooted at root and produced
// by the named stage.
func NewIntermediate(name string, d content.Descriptor, root, producer string) (*Intermediate, error) {
	if name == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if d.IsZero() {
		return nil, fmt.Errorf("stream %q: %w", name, content.ErrEmptyTypes)
	}
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("stream %q: root %q is not absolute", name, root)
	}
	return &Intermediate{name: name, descriptor: d, root: filepath.Clean(root), producer: producer}, nil
}

// Name implements Stream.
func (i *Intermediate) Name() string { return i.name }

// Descriptor implements Stream.
func (i *Intermediate) Descriptor() content.Descriptor { return i.descriptor }

// Root returns the output folder holding the stream's artifacts and ledger.
func (i *Intermediate) Root() string { return i.root }

// Producer returns the name of the stage that writes this stream.
func (i *Intermediate) Producer() string { return i.producer }

func (*Intermediate) isStream() {}

// Restrict returns a copy of s narrowed to d. The copy shares the physical
// content of s.
func Restrict(s Stream, d content.Descriptor) Stream {
	switch v := s.(type) {
	case *Original:
		c := *v
		c.descriptor = d
		return &c
	case *Intermediate:
		c := *v
		c.descriptor = d
		return &c
	default:
		panic(fmt.Sprintf("stream: unknown variant %T", s))
	}
}

// Roots returns the paths a host must watch to observe changes to s.
func Roots(s Stream) []string {
	switch v := s.(type) {
	case *Original:
		roots := make([]string, len(v.artifacts))
		for i, a := range v.artifacts {
			roots[i] = a.Path
		}
		return roots
	case *Intermediate:
		return []string{v.root}
	default:
		panic(fmt.Sprintf("stream: unknown variant %T", s))
	}
}

// ArtifactFor stats path and returns it as an Artifact: directories are
// DIRECTORY-shaped, everything else JAR-shaped. A missing path keeps the
// shape its name implies (see ShapeOf), so an input that is deleted or not
// built yet does not change shape between builds.
func ArtifactFor(path string) (Artifact, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Artifact{}, err
	}
	var format Format
	info, err := os.Stat(abs)
	switch {
	case err == nil && info.IsDir():
		format = FormatDirectory
	case err == nil:
		format = FormatJar
	case os.IsNotExist(err):
		format = ShapeOf(abs)
	default:
		return Artifact{}, err
	}
	return Artifact{Name: ArtifactName(abs), Path: abs, Format: format}, nil
}

// ShapeOf guesses the shape of a path that is not on disk: names with an
// extension (lib.jar, libfoo.so) are files, bare names (classes) are
// directories.
func ShapeOf(path string) Format {
	if filepath.Ext(filepath.Base(path)) != "" {
		return FormatJar
	}
	return FormatDirectory
}

// ArtifactName derives a stable artifact name from its path: the base name
// plus a short hash of the full path, so equally named files in different
// folders do not collide.
func ArtifactName(path string) string {
	sum := xxhash.Sum64String(filepath.Clean(path))
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(sum))
	return filepath.Base(path) + "_" + hex.EncodeToString(buf[:])
}
