// Package cli implements followupctl, the operator command line for the
// follow-up engine.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"procurement_followup/internal/app"
	"procurement_followup/platform/config"
	"procurement_followup/platform/logger"

	"github.com/spf13/cobra"
)

// Execute runs the CLI.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "followupctl",
		Short:         "Operate the procurement follow-up engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newRunCmd(),
		newProcessCmd(),
		newSweepCmd(),
		newPendingCmd(),
		newAnalyzeCmd(),
		newSendCmd(),
		newMigrateCmd(),
	)
	return cmd
}

// withServices loads config, builds the services and runs fn with a
// signal-aware context.
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Services) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Env)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.Close()

	return fn(ctx, svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
