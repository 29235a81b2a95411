package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gwi.com/live-replay/internal/app"
	"gwi.com/live-replay/internal/config"
	"gwi.com/live-replay/pkg/logging"
)

// cli holds the wiring built in PersistentPreRunE.
type cli struct {
	app *app.App
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	root := &cobra.Command{
		Use:           "replayctl",
		Short:         "Import, segment, analyze and stitch captured live sessions",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnvFile()
			cfg := config.Load()
			// Logs go to stderr so stdout stays machine-readable.
			logger := logging.NewWithFormat(cfg.LogLevel, "text", cmd.ErrOrStderr())
			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
	}
	root.AddCommand(c.importCmd(), c.segmentsCmd(), c.analyzeCmd(), c.stitchCmd(), c.sessionsCmd())
	return root, c
}

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.jsonl|->",
		Short: "Import capture events, one JSON object per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open import file: %w", err)
				}
				defer f.Close()
				r = f
			}
			result, err := c.app.Interactions.Import(cmd.Context(), r)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

func (c *cli) segmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segments <session-id>",
		Short: "Print the conversation segments of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segments, err := c.app.Replays.Segments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), segments)
		},
	}
}

func (c *cli) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <session-id>",
		Short: "Print the capture quality report of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := c.app.Replays.Analyze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func (c *cli) stitchCmd() *cobra.Command {
	var segments []int
	cmd := &cobra.Command{
		Use:   "stitch <session-id>",
		Short: "Render and publish segment media for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.app.Replays.CreateSessionVideo(cmd.Context(), args[0], segments)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().IntSliceVar(&segments, "segment", nil, "only render these segment ids (repeatable)")
	return cmd
}

func (c *cli) sessionsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List captured sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := c.app.Interactions.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sessions)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum sessions to list")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func executeContext(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, c := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if c.app != nil {
		err = errors.Join(err, c.app.Close())
	}
	return err
}
