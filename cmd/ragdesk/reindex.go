package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newReindexCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex [dir...]",
		Short: "Rebuild the vector index from the document directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			dirs := args
			if len(dirs) == 0 {
				dirs = resolveDirs(cfg)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := a.indexer.Reindex(ctx, dirs)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files (%d skipped) into %d chunks in %s.\n",
				report.Files, report.Skipped, report.Chunks, report.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
