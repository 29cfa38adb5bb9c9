package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/artipipe/pkg/pipeline"
)

var statusFlags struct {
	verbose bool
	json    bool
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which stages have changed inputs",
	Long: `Shows, per stage, the input files that changed since the stage last ran.

Nothing is run and no state is written.

The --verbose flag shows individual file changes (new, modified, deleted).
The --json flag outputs the result as JSON for scripting.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusFlags.verbose, "verbose", false,
		"Show individual file changes")
	statusCmd.Flags().BoolVar(&statusFlags.json, "json", false,
		"Output as JSON")

	rootCmd.AddCommand(statusCmd)
}

// StatusOutput is the JSON output format for artipipe status.
type StatusOutput struct {
	Stale  bool          `json:"stale"`
	Stages []StageStatus `json:"stages"`
}

// StageStatus is the status of one stage.
type StageStatus struct {
	Stage         string   `json:"stage"`
	HasState      bool     `json:"has_state"`
	Stale         bool     `json:"stale"`
	NewFiles      []string `json:"new_files,omitempty"`
	ModifiedFiles []string `json:"modified_files,omitempty"`
	DeletedFiles  []string `json:"deleted_files,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, false)
	if err != nil {
		return err
	}

	var output StatusOutput
	for _, b := range s.pipeline.Stages() {
		name := b.Stage.Name
		cs, known, err := s.source.Status(cmd.Context(), name, pipeline.StageRoots(b))
		if err != nil {
			return fmt.Errorf("stage %s: failed to detect changes: %w", name, err)
		}
		st := StageStatus{
			Stage:         name,
			HasState:      known,
			Stale:         !known || !cs.IsEmpty(),
			NewFiles:      cs.Added,
			ModifiedFiles: cs.Modified,
			DeletedFiles:  cs.Removed,
		}
		output.Stale = output.Stale || st.Stale
		output.Stages = append(output.Stages, st)
	}

	out := cmd.OutOrStdout()
	if statusFlags.json {
		return outputJSON(out, output)
	}

	if !output.Stale {
		fmt.Fprintln(out, "All stages are up to date")
		return nil
	}

	for _, st := range output.Stages {
		switch {
		case !st.HasState:
			fmt.Fprintf(out, "%s: never ran\n", st.Stage)
			continue
		case !st.Stale:
			fmt.Fprintf(out, "%s: up to date\n", st.Stage)
			continue
		}
		fmt.Fprintf(out, "%s: %d new, %d modified, %d deleted\n",
			st.Stage, len(st.NewFiles), len(st.ModifiedFiles), len(st.DeletedFiles))

		if statusFlags.verbose {
			for _, f := range st.NewFiles {
				fmt.Fprintf(out, "  + %s\n", f)
			}
			for _, f := range st.ModifiedFiles {
				fmt.Fprintf(out, "  ~ %s\n", f)
			}
			for _, f := range st.DeletedFiles {
				fmt.Fprintf(out, "  - %s\n", f)
			}
		}
	}

	fmt.Fprintln(out, "\nRun 'artipipe run' to bring stages up to date")
	return nil
}
