package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/engine"
)

// NewGenerateCommand creates the generate command.
func NewGenerateCommand() *cobra.Command {
	var forceFull, noBackup, dryRun, approve bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Synthesize the semantic model from the metadata snapshot",
		Long: `Generate (or incrementally regenerate) the TMDL semantic model.

Existing identifiers are reused, user-authored measures, calculated columns
and relationships are preserved, and unchanged files come out byte-identical.`,
		Example: `  # Incremental generation
  dv2pbi generate

  # Preview what would change without writing
  dv2pbi generate --dry-run

  # Discard existing state and rebuild from scratch
  dv2pbi generate --force-full`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := newCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			res, err := cc.engine().Generate(engine.GenerateOptions{
				ForceFull:          forceFull,
				ApproveDestructive: approve,
				NoBackup:           noBackup,
				DryRun:             dryRun,
			})
			if errors.Is(err, engine.ErrDestructiveChanges) {
				renderAnalysis(out, res.Analysis, true)
				fmt.Fprintln(out, "\nDestructive changes detected: re-run with --yes to apply them, or --dry-run to inspect.")
				return err
			}
			if err != nil {
				return err
			}

			renderAnalysis(out, res.Analysis, false)
			if dryRun {
				fmt.Fprintln(out, "\nDry run: nothing written.")
				return nil
			}
			if res.BackupDir != "" {
				fmt.Fprintf(out, "\nBackup: %s\n", res.BackupDir)
			}
			fmt.Fprintf(out, "\nWrote %d file(s)", len(res.Written))
			if len(res.Deleted) > 0 {
				fmt.Fprintf(out, ", deleted %d", len(res.Deleted))
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceFull, "force-full", false, "ignore existing project state and regenerate everything")
	cmd.Flags().BoolVarP(&approve, "yes", "y", false, "approve destructive changes")
	cmd.Flags().BoolVar(&noBackup, "no-backup", false, "skip the backup before a destructive apply")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report changes without writing")
	return cmd
}
