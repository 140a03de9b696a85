package commands

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent generation runs from the journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if cc.Journal == nil {
				return fmt.Errorf("no run journal configured (set journal: in dv2pbi.yaml)")
			}
			runs, err := cc.Journal.ListRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"ID", "Started", "Duration", "Mode", "Storage", "Tables", "Status"})
			for _, r := range runs {
				duration := ""
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				status := string(r.Status)
				if r.Error != "" {
					status += ": " + r.Error
				}
				t.AppendRow(table.Row{
					r.ID, r.StartedAt.Format(time.RFC3339), duration,
					r.ConnectionMode, r.StorageMode, r.TableCount, status,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to show")
	return cmd
}
