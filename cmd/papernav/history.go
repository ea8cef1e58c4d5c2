package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [session]",
		Short: "List recorded sessions, or show one session's messages",
		Long:  "Reads the transcript database (transcript.enabled must be true). Without an argument, lists recent sessions.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			if !cfg.Transcript.Enabled {
				return fmt.Errorf("transcript is disabled (run 'papernav config set transcript.enabled true')")
			}
			store, err := openTranscript(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				msgs, err := store.GetMessages(ctx, args[0], limit)
				if err != nil {
					return err
				}
				if len(msgs) == 0 {
					return fmt.Errorf("no messages for session %s", args[0])
				}
				for _, m := range msgs {
					fmt.Fprintf(out, "[%s] %-6s %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04:05"), m.Sender, m.Text)
				}
				return nil
			}

			sessions, err := store.ListSessions(ctx, limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions recorded yet.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tCHANNEL\tDOCUMENT\tMESSAGES\tSTARTED")
			for _, s := range sessions {
				doc := s.Document
				if doc == "" {
					doc = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Channel, doc, s.Messages, s.StartedAt.Local().Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of sessions or messages to show")
	return cmd
}
