package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/artipipe/cmd/artipipe/internal/builtin"
	"github.com/albertocavalcante/artipipe/cmd/artipipe/internal/incremental"
	"github.com/albertocavalcante/artipipe/internal/log"
	"github.com/albertocavalcante/artipipe/pkg/config"
	"github.com/albertocavalcante/artipipe/pkg/pipeline"
	"github.com/albertocavalcante/artipipe/pkg/stream"
	"github.com/albertocavalcante/artipipe/pkg/util"
)

// session is a loaded configuration wired into a pipeline.
type session struct {
	cfg      *config.Config
	def      *config.Definition
	pipeline *pipeline.Pipeline
	source   *incremental.Source
}

// loadConfig loads the layered configuration and applies its log settings
// where the user did not pass the corresponding flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if globalFlags.config != "" {
		cfg, err = config.LoadFile(globalFlags.config)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	v := globalFlags.verbosity
	if !cmd.Flags().Changed("verbosity") && cfg.Log.Verbosity != nil {
		v = *cfg.Log.Verbosity
	}
	format := globalFlags.logFormat
	if !cmd.Flags().Changed("log-format") && cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	if err := log.ValidateFormat(format); err != nil {
		return nil, err
	}
	log.InitTo(cmd.ErrOrStderr(), v, format)
	return cfg, nil
}

// openSession resolves cfg and wires every stream and stage. full forces
// every stage into full mode.
func openSession(cfg *config.Config, full bool) (*session, error) {
	def, err := cfg.Resolve()
	if err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}

	ctx, err := pipeline.NewContext(pipeline.Config{
		BuildDir:    def.BuildDir,
		Incremental: cfg.IsIncremental() && !full,
		Parallelism: cfg.Pipeline.Parallelism,
		Logger:      log.Component("pipeline"),
	})
	if err != nil {
		return nil, err
	}

	p := pipeline.New(ctx)
	for _, s := range def.Streams {
		p.AddStream(s)
	}
	for _, sd := range def.Stages {
		body, err := builtin.New(sd.Body, sd.Options)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", sd.Description.Name, err)
		}
		if _, err := p.AddStage(sd.Description, body); err != nil {
			return nil, err
		}
	}

	source := incremental.NewSource(ctx.BuildDir(),
		incremental.ScanConfig{Ignore: cfg.Watch.Ignore},
		log.Component("incremental"))

	return &session{cfg: cfg, def: def, pipeline: p, source: source}, nil
}

// inputRoots lists the host paths the pipeline reads: original stream
// artifacts and secondary inputs. Intermediate streams live in the build
// directory and are left out.
func (s *session) inputRoots() []string {
	var roots []string
	for _, o := range s.def.Streams {
		roots = append(roots, stream.Roots(o)...)
	}
	for _, sd := range s.def.Stages {
		for _, sec := range sd.Description.Secondary {
			roots = append(roots, sec.Path)
		}
	}
	return util.SortedUnique(roots)
}

// inBuildDir reports whether path is inside the build directory.
func (s *session) inBuildDir(path string) bool {
	buildDir := s.pipeline.Context().BuildDir()
	rel, err := filepath.Rel(buildDir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// stageNames returns the wired stage names.
func (s *session) stageNames() []string {
	var names []string
	for _, b := range s.pipeline.Stages() {
		names = append(names, b.Stage.Name)
	}
	return names
}
