package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/artipipe/cmd/artipipe/internal/watch"
	"github.com/albertocavalcante/artipipe/pkg/pipeline"
)

var watchFlags struct {
	debounce int
	verbose  bool
	json     bool
	noColor  bool
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch stage inputs and rerun the pipeline on change",
	Long: `Runs the pipeline once, then watches every original stream and secondary
input and runs it again whenever they change. Changes to the pipeline
config are picked up on the next run.

Example output:

  $ artipipe watch

  artipipe: watching 3 input roots
  artipipe: stages: desugar, bundle
  artipipe: ready

  [14:32:15] classes/com/app/Main.class changed, running pipeline...
  [14:32:15] ✓ desugar incremental, 1 changed (12ms)
  [14:32:16] ✓ bundle incremental, 1 changed (80ms)

Press Ctrl+C to stop watching.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVar(&watchFlags.debounce, "debounce", 0,
		"Debounce window in milliseconds (default from config, 500)")
	watchCmd.Flags().BoolVar(&watchFlags.verbose, "verbose", false,
		"Show file-level changes")
	watchCmd.Flags().BoolVar(&watchFlags.json, "json", false,
		"Stream JSON events (for tooling integration)")
	watchCmd.Flags().BoolVar(&watchFlags.noColor, "no-color", false,
		"Disable colored output")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, false)
	if err != nil {
		return err
	}

	// Setup signal handling for graceful shutdown
	// Include SIGHUP to handle terminal hangup
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	logger := watch.NewLogger(watch.LoggerConfig{
		Writer:  cmd.OutOrStdout(),
		Verbose: watchFlags.verbose,
		NoColor: watchFlags.noColor,
		JSON:    watchFlags.json,
	})

	// Catch up before watching.
	reports, err := s.pipeline.Run(ctx, s.source)
	for _, r := range reports {
		if r.Ran {
			logger.StageDone(r)
		}
	}
	if err != nil {
		logger.Error(err)
	}

	debounce := cfg.Watch.Debounce
	if watchFlags.debounce > 0 {
		debounce = watchFlags.debounce
	}

	var extra []string
	if cfg.Source != "" {
		extra = append(extra, cfg.Source)
	}

	scanner := s.source.Scanner()
	w, err := watch.New(watch.Config{
		Roots:    s.inputRoots(),
		Extra:    extra,
		Stages:   s.stageNames(),
		Debounce: time.Duration(debounce) * time.Millisecond,
		Ignored: func(path string) bool {
			return scanner.Ignored(path) || s.inBuildDir(path)
		},
		Trigger: func(ctx context.Context, _ []string) ([]pipeline.Report, error) {
			return rerun(ctx, cmd)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	return w.Run(ctx)
}

// rerun reloads the config and runs a freshly wired pipeline. The new
// session reads ledgers from disk, so each run sees the previous one's
// results.
func rerun(ctx context.Context, cmd *cobra.Command) ([]pipeline.Report, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	s, err := openSession(cfg, false)
	if err != nil {
		return nil, fmt.Errorf("config reload: %w", err)
	}
	return s.pipeline.Run(ctx, s.source)
}
