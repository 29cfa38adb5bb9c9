package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/albertocavalcante/artipipe/pkg/stream"
)

var streamsFlags struct {
	json bool
}

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "Show how streams are partitioned and bound to stages",
	Long: `Wires the pipeline without running it and prints the live streams left
in the registry and, for each stage, the streams it consumes, references
and produces.`,
	Args: cobra.NoArgs,
	RunE: runStreams,
}

func init() {
	streamsCmd.Flags().BoolVar(&streamsFlags.json, "json", false,
		"Output as JSON")

	rootCmd.AddCommand(streamsCmd)
}

// StreamInfo describes one stream.
type StreamInfo struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Content  string   `json:"content"`
	Producer string   `json:"producer,omitempty"`
	Roots    []string `json:"roots"`
}

// BindingInfo describes how one stage was wired.
type BindingInfo struct {
	Stage      string       `json:"stage"`
	Inputs     []StreamInfo `json:"inputs"`
	Referenced []StreamInfo `json:"referenced,omitempty"`
	Output     *StreamInfo  `json:"output,omitempty"`
}

// StreamsOutput is the JSON output format for artipipe streams.
type StreamsOutput struct {
	Live     []StreamInfo  `json:"live"`
	Bindings []BindingInfo `json:"bindings"`
}

func describeStream(s stream.Stream) StreamInfo {
	info := StreamInfo{Name: s.Name(), Content: s.Descriptor().String(), Roots: stream.Roots(s)}
	switch v := s.(type) {
	case *stream.Original:
		info.Kind = "original"
		info.Producer = v.BuiltBy()
	case *stream.Intermediate:
		info.Kind = "intermediate"
		info.Producer = v.Producer()
	}
	return info
}

func describeStreams(streams []stream.Stream) []StreamInfo {
	out := make([]StreamInfo, len(streams))
	for i, s := range streams {
		out[i] = describeStream(s)
	}
	return out
}

func runStreams(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := openSession(cfg, false)
	if err != nil {
		return err
	}

	reg := s.pipeline.Registry()
	output := StreamsOutput{Live: describeStreams(reg.Streams())}
	for _, b := range reg.Bindings() {
		bi := BindingInfo{
			Stage:      b.Stage.Name,
			Inputs:     describeStreams(b.Inputs),
			Referenced: describeStreams(b.Referenced),
		}
		if b.Output != nil {
			out := describeStream(b.Output)
			bi.Output = &out
		}
		output.Bindings = append(output.Bindings, bi)
	}

	out := cmd.OutOrStdout()
	if streamsFlags.json {
		return outputJSON(out, output)
	}

	fmt.Fprintln(out, "Live streams:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, si := range output.Live {
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", si.Name, si.Kind, si.Content)
	}
	_ = tw.Flush()

	for _, bi := range output.Bindings {
		fmt.Fprintf(out, "\nStage %s:\n", bi.Stage)
		for _, si := range bi.Inputs {
			fmt.Fprintf(out, "  consumes   %s %s\n", si.Name, si.Content)
		}
		for _, si := range bi.Referenced {
			fmt.Fprintf(out, "  references %s %s\n", si.Name, si.Content)
		}
		if bi.Output != nil {
			fmt.Fprintf(out, "  produces   %s %s\n", bi.Output.Name, bi.Output.Content)
		}
	}
	return nil
}
