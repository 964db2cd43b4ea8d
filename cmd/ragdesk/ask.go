package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ragdesk/ragdesk/pkg/ask"
	"github.com/ragdesk/ragdesk/pkg/ingest"
	"github.com/ragdesk/ragdesk/pkg/router"
	"github.com/spf13/cobra"
)

func newAskCmd(flags *globalFlags) *cobra.Command {
	var (
		model  string
		stream bool
		file   string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question from the command line",
		Args:  cobra.MinimumNArgs(1),
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

			resolved, err := a.router.Resolve(router.Text, model)
			if err != nil {
				return err
			}
			req := ask.Request{Prompt: strings.Join(args, " "), Model: resolved}
			if file != "" {
				text, err := ingest.ExtractFile(file)
				if err != nil {
					return fmt.Errorf("read attachment: %w", err)
				}
				req.Attachment = text
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if stream {
				return askStream(ctx, a.orchestrator, req, out)
			}

			res, err := a.orchestrator.Ask(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, res.Answer)
			fmt.Fprintf(cmd.ErrOrStderr(), "[%s, %s, %s]\n", res.Model, res.Outcome, res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model to use (default from config)")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().StringVarP(&file, "file", "f", "", "attach a .txt, .md or .pdf file as extra context")
	return cmd
}

func askStream(ctx context.Context, o *ask.Orchestrator, req ask.Request, out io.Writer) error {
	streamed := false
	res, err := o.AskStream(ctx, req, func(fragment string) error {
		streamed = true
		_, err := io.WriteString(out, fragment)
		return err
	})
	if err != nil {
		return err
	}
	if !streamed {
		fmt.Fprint(out, res.Answer)
	}
	fmt.Fprintln(out)
	return nil
}
