package main

import (
	"fmt"
	"strings"

	"github.com/ragdesk/ragdesk/pkg/cache"
	"github.com/ragdesk/ragdesk/pkg/config"
	"github.com/ragdesk/ragdesk/pkg/models"
	"github.com/spf13/cobra"
)

func newCacheCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the response cache",
	}

	// openCache loads the persisted cache without the rest of the app.
	openCache := func(cfg *config.Config) (*cache.Cache, error) {
		store, err := openCacheStore(cfg)
		if err != nil {
			return nil, err
		}
		if store == nil {
			return nil, fmt.Errorf("cache persistence is disabled in %s", flags.configPath)
		}
		return cache.New(store), nil
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			s := c.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Entries: %d\n", s.Entries)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if err := c.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All cache entries cleared.")
			return nil
		},
	}

	var model string
	getCmd := &cobra.Command{
		Use:   "get <question>",
		Short: "Print the cached answer for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			c, err := openCache(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			if model == "" {
				model = cfg.Models.DefaultText
			}
			state := c.Get(models.NewCacheKey(strings.Join(args, " "), model))
			if state.Status != models.CacheCompleted {
				return fmt.Errorf("no cached answer for model %s", model)
			}
			fmt.Fprintln(cmd.OutOrStdout(), state.Response)
			return nil
		},
	}
	getCmd.Flags().StringVarP(&model, "model", "m", "", "model the answer was generated with (default from config)")

	cmd.AddCommand(statsCmd, clearCmd, getCmd)
	return cmd
}
