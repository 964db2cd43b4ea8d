package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/ragdesk/ragdesk/pkg/ingest"
	"github.com/ragdesk/ragdesk/pkg/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP question service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					slog.Warn("close failed", "err", err)
				}
			}()

			srv := server.New(cfg, server.Deps{
				Orchestrator: a.orchestrator,
				Router:       a.router,
				Cache:        a.cache,
				Stats:        a.stats,
				Store:        a.store,
				Indexer:      a.indexer,
			})

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, ctx := errgroup.WithContext(ctx)
			if cfg.Ingest.Watch {
				w, err := ingest.NewWatcher(a.indexer, resolveDirs(cfg), ingest.DefaultSettle)
				if err != nil {
					return fmt.Errorf("init watcher: %w", err)
				}
				g.Go(func() error { return w.Run(ctx) })
			}
			g.Go(func() error { return srv.ListenAndServe(ctx) })

			slog.Info("starting ragdesk", "config", flags.configPath, "workers", cfg.Workers, "watch", cfg.Ingest.Watch)
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "override the listen address")
	return cmd
}
