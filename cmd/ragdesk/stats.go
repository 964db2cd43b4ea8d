package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/ragdesk/ragdesk/pkg/stats"
	"github.com/spf13/cobra"
)

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var (
		limit   int
		summary bool
	)

	openLog := func() (stats.Log, error) {
		cfg, err := loadConfig(flags)
		if err != nil {
			return nil, err
		}
		return openStatsLog(cfg)
	}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show response time statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLog()
			if err != nil {
				return err
			}
			defer l.Close()

			ctx := context.Background()

			if summary {
				rows, err := l.Summary(ctx)
				if err != nil {
					return err
				}
				if len(rows) == 0 {
					fmt.Println("No stats recorded.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tSOURCE\tREQUESTS\tAVG MS\tMAX MS")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%d\t%.1f\t%d\n",
						r.Model, r.Source, r.RequestCount, r.AvgResponseMs, r.MaxResponseMs)
				}
				return w.Flush()
			}

			records, err := l.List(ctx, limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("No stats recorded.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tMODEL\tMS\tSOURCE\tQUESTION")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					r.Timestamp.Format("2006-01-02T15:04:05"), r.Model, r.ResponseTimeMs, r.Source, r.Question)
			}
			return w.Flush()
		},
	}

	dedupeCmd := &cobra.Command{
		Use:   "dedupe",
		Short: "Remove duplicate (question, model) records, keeping the first",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openLog()
			if err != nil {
				return err
			}
			defer l.Close()

			removed, err := l.Dedupe(context.Background())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d duplicate records.\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of records to list (0 for all)")
	cmd.Flags().BoolVar(&summary, "summary", false, "show per-model averages instead of records")
	cmd.AddCommand(dedupeCmd)
	return cmd
}
