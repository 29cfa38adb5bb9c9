package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/artipipe/cmd/artipipe/internal/incremental"
)

var cleanFlags struct {
	stateOnly bool
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete stage outputs and tracked state",
	Long: `Deletes every stage's output folder and the per-stage snapshots used to
detect changes. The next run is a full run.

Use --state-only to keep outputs and only forget the snapshots; the next
run of each stage then falls back to full mode on its own.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanFlags.stateOnly, "state-only", false,
		"Only delete tracked state")

	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := s.source.Clear(); err != nil {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	fmt.Fprintf(out, "removed %s\n", incremental.SnapshotDir(s.pipeline.Context().BuildDir()))

	if cleanFlags.stateOnly {
		return nil
	}
	for _, b := range s.pipeline.Stages() {
		if b.Output == nil {
			continue
		}
		if err := os.RemoveAll(b.Output.Root()); err != nil {
			return fmt.Errorf("stage %s: failed to delete outputs: %w", b.Stage.Name, err)
		}
		fmt.Fprintf(out, "removed %s\n", b.Output.Root())
	}
	return nil
}
