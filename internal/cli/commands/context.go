// Package commands implements the dv2pbi subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/config"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/engine"
	"github.com/mscottsewell/DataverseToPowerBI-sub003/internal/state"
	"github.com/spf13/cobra"
)

type configKey struct{}
type loggerKey struct{}

// WithConfig stores the loaded configuration in the command context.
func WithConfig(ctx context.Context, cfg *config.Project) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// WithLogger stores the CLI logger in the command context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// commandContext bundles what every subcommand needs.
type commandContext struct {
	Config  *config.Project
	Logger  *slog.Logger
	Journal *state.Store
}

// newCommandContext extracts config and logger from the command context and
// opens the run journal when configured. The returned cleanup closes it.
func newCommandContext(cmd *cobra.Command) (*commandContext, func(), error) {
	cfg, _ := cmd.Context().Value(configKey{}).(*config.Project)
	if cfg == nil {
		return nil, nil, fmt.Errorf("no configuration loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger, _ := cmd.Context().Value(loggerKey{}).(*slog.Logger)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cc := &commandContext{Config: cfg, Logger: logger}
	cleanup := func() {}
	if cfg.JournalPath != "" {
		journal, err := state.Open(cfg.JournalPath, logger)
		if err != nil {
			// The journal is auxiliary; a broken one must not block
			// generation.
			logger.Warn("run journal unavailable", "path", cfg.JournalPath, "error", err)
		} else {
			cc.Journal = journal
			cleanup = func() { journal.Close() }
		}
	}
	return cc, cleanup, nil
}

func (cc *commandContext) engine() *engine.Engine {
	return engine.New(engine.Config{
		Project: *cc.Config,
		Logger:  cc.Logger,
		Journal: cc.Journal,
	})
}
