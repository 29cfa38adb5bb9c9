package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/stage"
	"github.com/albertocavalcante/artipipe/pkg/stream"
	"github.com/albertocavalcante/artipipe/pkg/util"
)

// Definition is a pipeline definition with every name parsed and every
// path resolved.
type Definition struct {
	BuildDir string
	Streams  []*stream.Original
	Stages   []StageDef
}

// StageDef is a resolved stage.
type StageDef struct {
	Description stage.Description
	Body        string
	Options     map[string]string
}

// Resolve validates the pipeline tables and resolves paths against Dir.
func (c *Config) Resolve() (*Definition, error) {
	if len(c.Streams) == 0 {
		return nil, fmt.Errorf("no streams defined (add [[stream]] tables to %s)", ConfigFileName)
	}

	def := &Definition{BuildDir: c.resolvePath(c.Pipeline.BuildDir)}
	seen := make(map[string]bool)

	for i, sc := range c.Streams {
		if sc.Name == "" {
			return nil, fmt.Errorf("stream #%d: name is required", i+1)
		}
		if seen[sc.Name] {
			return nil, fmt.Errorf("stream %q: duplicate name", sc.Name)
		}
		seen[sc.Name] = true

		s, err := c.resolveStream(sc)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", sc.Name, err)
		}
		def.Streams = append(def.Streams, s)
	}

	stages := make(map[string]bool)
	for i, sc := range c.Stages {
		if sc.Name == "" {
			return nil, fmt.Errorf("stage #%d: name is required", i+1)
		}
		if stages[sc.Name] {
			return nil, fmt.Errorf("stage %q: duplicate name", sc.Name)
		}
		stages[sc.Name] = true

		sd, err := c.resolveStage(sc)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", sc.Name, err)
		}
		def.Stages = append(def.Stages, sd)
	}
	return def, nil
}

func (c *Config) resolveStream(sc StreamConfig) (*stream.Original, error) {
	types, err := content.ParseTypes(sc.Types)
	if err != nil {
		return nil, err
	}
	scopes, err := content.ParseScopes(sc.Scopes)
	if err != nil {
		return nil, err
	}
	d, err := content.NewDescriptor(types, scopes)
	if err != nil {
		return nil, err
	}

	paths, err := c.expand(sc.Paths)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no paths")
	}
	artifacts := make([]stream.Artifact, 0, len(paths))
	for _, p := range paths {
		a, err := stream.ArtifactFor(p)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return stream.NewOriginal(sc.Name, d, artifacts, sc.BuiltBy)
}

func (c *Config) resolveStage(sc StageConfig) (StageDef, error) {
	if sc.Body == "" {
		return StageDef{}, fmt.Errorf("body is required")
	}
	desc := stage.Description{
		Name:        sc.Name,
		Incremental: sc.Incremental == nil || *sc.Incremental,
	}

	var err error
	if desc.Types, err = content.ParseTypes(sc.Types); err != nil {
		return StageDef{}, err
	}
	if desc.Scopes, err = content.ParseScopes(sc.Scopes); err != nil {
		return StageDef{}, err
	}
	if desc.ReferencedScopes, err = content.ParseScopes(sc.ReferencedScopes); err != nil {
		return StageDef{}, err
	}
	if desc.OutputTypes, err = content.ParseTypes(sc.OutputTypes); err != nil {
		return StageDef{}, err
	}

	for _, sec := range sc.Secondary {
		paths, err := c.expand([]string{sec.Path})
		if err != nil {
			return StageDef{}, err
		}
		for _, p := range paths {
			desc.Secondary = append(desc.Secondary, stage.SecondaryInput{Path: p, IncrementalSafe: sec.IncrementalSafe})
		}
	}

	if err := desc.Validate(); err != nil {
		return StageDef{}, err
	}
	return StageDef{Description: desc, Body: sc.Body, Options: sc.Options}, nil
}

// expand resolves paths against Dir. Patterns are globbed; literal paths
// are kept even when they do not exist.
func (c *Config) expand(patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		abs := c.resolvePath(p)
		if !isPattern(p) {
			out = append(out, abs)
			continue
		}
		matches, err := doublestar.FilepathGlob(abs)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		out = append(out, matches...)
	}
	return util.SortedUnique(out), nil
}

func (c *Config) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Dir, p)
}

func isPattern(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
