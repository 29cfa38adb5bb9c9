package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/artipipe/pkg/pipeline"
)

var runFlags struct {
	full   bool
	dryRun bool
	json   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline",
	Long: `Runs every stage of the pipeline, level by level.

Each stage is reconciled against its previous run. Stages whose inputs can
be tracked soundly run incrementally and only see changed inputs; the others
run in full mode and start from an empty output directory.

Use --full to force every stage into full mode.
Use --dry-run to print what each stage would do without running bodies.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runFlags.full, "full", false,
		"Run every stage in full mode")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false,
		"Reconcile stages without running them")
	runCmd.Flags().BoolVar(&runFlags.json, "json", false,
		"Output stage reports as JSON")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, runFlags.full)
	if err != nil {
		return err
	}

	var reports []pipeline.Report
	if runFlags.dryRun {
		reports, err = s.pipeline.Plan(cmd.Context(), s.source)
	} else {
		reports, err = s.pipeline.Run(cmd.Context(), s.source)
	}

	if runFlags.json {
		if jsonErr := outputJSON(cmd.OutOrStdout(), reports); jsonErr != nil {
			return jsonErr
		}
		return err
	}
	printReports(cmd.OutOrStdout(), reports)
	return err
}

// printReports writes one line per reconciled stage.
func printReports(w io.Writer, reports []pipeline.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range reports {
		if r.Stage == "" {
			continue
		}
		mode := "incremental"
		if !r.Incremental {
			mode = "full"
		}
		status := "planned"
		if r.Ran {
			status = fmt.Sprintf("done in %s", r.Duration.Round(time.Millisecond))
		}
		line := fmt.Sprintf("%s\t%s\t%d inputs\t%d changed\t%s", r.Stage, mode, r.Inputs, r.Changed, status)
		if r.FallbackReason != "" {
			line += "\t(" + r.FallbackReason + ")"
		}
		fmt.Fprintln(tw, line)
	}
	_ = tw.Flush()
}
