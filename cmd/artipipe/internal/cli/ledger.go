package cli

import (
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/artipipe/pkg/content"
	"github.com/albertocavalcante/artipipe/pkg/ledger"
)

var ledgerFlags struct {
	json bool
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger [stage...]",
	Short: "Show the output ledgers of stages",
	Long: `Prints the ledger (__content__.json) of each stage's output folder: every
artifact the stage produced, its index, format, content and whether it is
still present.

Without arguments all stages are shown.`,
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().BoolVar(&ledgerFlags.json, "json", false,
		"Output as JSON")

	rootCmd.AddCommand(ledgerCmd)
}

// LedgerOutput is the JSON output format of one stage ledger.
type LedgerOutput struct {
	Stage   string          `json:"stage"`
	Path    string          `json:"path"`
	State   string          `json:"state"`
	Error   string          `json:"error,omitempty"`
	Records []ledger.Record `json:"records"`
}

func runLedger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, false)
	if err != nil {
		return err
	}

	var outputs []LedgerOutput
	matched := make(map[string]bool)
	for _, b := range s.pipeline.Stages() {
		if b.Output == nil || (len(args) > 0 && !slices.Contains(args, b.Stage.Name)) {
			continue
		}
		matched[b.Stage.Name] = true
		l, err := ledger.Load(b.Output.Root())
		if err != nil {
			return fmt.Errorf("stage %s: %w", b.Stage.Name, err)
		}
		lo := LedgerOutput{
			Stage:   b.Stage.Name,
			Path:    ledger.Path(b.Output.Root()),
			State:   l.State.String(),
			Records: l.Records,
		}
		if l.Err != nil {
			lo.Error = l.Err.Error()
		}
		outputs = append(outputs, lo)
	}
	for _, name := range args {
		if !matched[name] {
			return fmt.Errorf("no stage with an output named %q", name)
		}
	}

	out := cmd.OutOrStdout()
	if ledgerFlags.json {
		return outputJSON(out, outputs)
	}

	for i, lo := range outputs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s (%s): %s\n", lo.Stage, lo.State, lo.Path)
		if lo.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", lo.Error)
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, r := range lo.Records {
			present := "present"
			if !r.Present {
				present = "absent"
			}
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\t%s\t%s\n", r.Index, r.Name, r.Format,
				content.FormatTypes(r.Types), content.FormatScopes(r.Scopes), present)
		}
		_ = tw.Flush()
	}
	return nil
}
