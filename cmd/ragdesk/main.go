package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "ragdesk",
		Short:         "ragdesk: retrieval-augmented question answering over local documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var flags globalFlags
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "ragdesk.yaml", "path to config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env", ".env", "path to an optional .env file")

	root.AddCommand(
		newServeCmd(&flags),
		newReindexCmd(&flags),
		newAskCmd(&flags),
		newCacheCmd(&flags),
		newStatsCmd(&flags),
		newMCPCmd(&flags),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
