package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ragdesk/ragdesk/pkg/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve ragdesk tools over MCP on stdio",
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

			srv := mcp.New(mcp.Deps{
				Answers:      a.orchestrator,
				Stats:        a.stats,
				Cache:        a.cache,
				Search:       a.retriever,
				DefaultModel: cfg.Models.DefaultText,
			}, version)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
