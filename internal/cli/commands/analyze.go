package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/analyzer"
)

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Report what a generation pass would change",
		Long: `Compare the computed target model against the existing project and
classify every difference by impact, without writing anything.`,
		Example: `  # Human-readable change report
  dv2pbi analyze

  # Machine-readable report
  dv2pbi analyze --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			analysis, err := cc.engine().Analyze()
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(analysis)
			}
			renderAnalysis(cmd.OutOrStdout(), analysis, true)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "output the report as JSON")
	return cmd
}

// renderAnalysis prints the change report. full includes preservation
// records; the compact form shown after generate lists changes only.
func renderAnalysis(w io.Writer, analysis *analyzer.Analysis, full bool) {
	if analysis.RequiresFullRebuild {
		fmt.Fprintln(w, "Full rebuild: no reconcilable project state found.")
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Kind", "Object", "Name", "Impact", "Summary"})

	shown := 0
	for _, r := range analysis.Records {
		if !full && r.Kind == analyzer.KindPreserve {
			continue
		}
		name := r.Name
		if r.Parent != "" {
			name = r.Parent + " / " + r.Name
		}
		t.AppendRow(table.Row{r.Kind, r.Object, name, r.Impact, r.Summary})
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(w, "No changes.")
		return
	}
	t.Render()

	if analysis.MaxImpact() == analyzer.ImpactDestructive {
		fmt.Fprintln(w, "Destructive changes present: generate applies them only with --yes, and takes a backup unless --no-backup is set.")
	}
}
