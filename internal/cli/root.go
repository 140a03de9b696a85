// Package cli provides the command-line interface for dv2pbi.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/cli/commands"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

var (
	cfgFile     string
	verboseFlag bool
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dv2pbi",
		Short: "Dataverse to Power BI semantic model generator",
		Long: `dv2pbi synthesizes a Power BI semantic model (TMDL) from a Dataverse
metadata snapshot, incrementally: identifiers stay stable across runs and
user-authored measures, relationships and formatting survive regeneration.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "version" {
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if verboseFlag {
				cfg.Verbose = true
			}

			logger := newLogger(cmd.ErrOrStderr(), cfg.Verbose)
			ctx := commands.WithConfig(cmd.Context(), cfg)
			ctx = commands.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./dv2pbi.yaml, searched upward)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ToLower(name))
	})

	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildDate, GitCommit))
	rootCmd.AddCommand(commands.NewGenerateCommand())
	rootCmd.AddCommand(commands.NewAnalyzeCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())

	return rootCmd
}

func loadConfig() (*config.Project, error) {
	if cfgFile != "" {
		return config.Load(cfgFile)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root := config.FindProjectRoot(wd)
	if root == "" {
		return nil, fmt.Errorf("no %s found in %s or any parent directory (or pass --config)",
			config.ConfigFileName, wd)
	}
	return config.LoadFromDir(root)
}

// newLogger builds the CLI logger: warnings and errors by default, debug
// detail with --verbose.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
