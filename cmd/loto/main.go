package main

import (
	"context"
	"fmt"
	"lototet/internal/app"
	"lototet/internal/config"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const releaseVersion = "1.0.0"

func main() {
	cfg := &config.Client{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "loto",
		Short:   "Lô tô over a relay: one host calls numbers, players mark their sheets.",
		Version: releaseVersion,
	}

	config.BindClientFlags(cmd.PersistentFlags(), cfg)

	cmd.AddCommand(newHostCmd(cfg), newJoinCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("loto v{{.Version}}\n")

	cmd.SilenceErrors = false
	cmd.SilenceUsage = true

	return cmd
}

// setup builds the shared dependencies for a subcommand.
func setup(cmd *cobra.Command, cfg *config.Client) (*app.App, *zap.Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	// the terminal is the UI; logs only show up with --verbose
	logger := zap.NewNop()
	if cfg.Verbose {
		var err error
		if logger, err = config.NewLogger(true); err != nil {
			return nil, nil, err
		}
	}
	a, err := app.New(cmd.Context(), cfg, cmd.OutOrStdout(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("setup: %w", err)
	}
	return a, logger, nil
}

// interrupts delivers SIGINT and SIGTERM until ctx ends.
func interrupts(ctx context.Context) <-chan os.Signal {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		signal.Stop(sigs)
	}()
	return sigs
}
