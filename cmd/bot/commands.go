package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aocbot/internal/app"
	"aocbot/internal/leaderboard"
	"aocbot/internal/reconcile"
	logx "aocbot/pkg/logx"
)

type rootOptions struct {
	Config string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "aocbot",
		Short:         "Advent of Code leaderboard bot for Telegram",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "./config.json", "path to config (json or yaml)")
	cmd.AddCommand(newServeCommand(opts), newSyncCommand(opts))
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: scheduled reconciliation and chat commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, opts.Config)
		},
	}
}

func serve(ctx context.Context, cfgPath string) error {
	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return fmt.Errorf("start: %w", err)
	}
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stopErr := a.Stop(stopCtx)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return stopErr
}

type syncOptions struct {
	*rootOptions
	Year int
	Day  int
}

func newSyncCommand(root *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile once and print the result as JSON",
		Long: `Run a single reconciliation against the configured leaderboard.

Without flags every configured or registered year is reconciled.

Example:
  aocbot sync --config ./config.yaml
  aocbot sync --year 2024 --day 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := opts.request()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			log := logx.NewWriter(cmd.ErrOrStderr(), "INFO")
			res, err := app.RunOnce(ctx, opts.Config, req, log)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().IntVar(&opts.Year, "year", 0, "event year (0 means all)")
	cmd.Flags().IntVar(&opts.Day, "day", 0, "puzzle day (0 means all)")
	return cmd
}

func (o *syncOptions) request() (reconcile.Request, error) {
	if o.Year != 0 && o.Year < 2015 {
		return reconcile.Request{}, fmt.Errorf("--year %d is not an Advent of Code year", o.Year)
	}
	if o.Day < 0 || o.Day > 25 {
		return reconcile.Request{}, fmt.Errorf("--day must be between 1 and 25")
	}
	return reconcile.Request{Selection: leaderboard.Select(o.Year, o.Day)}, nil
}
