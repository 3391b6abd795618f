package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/databridge/internal/state"
	"github.com/user/databridge/internal/types"
)

const timeLayout = "2006-01-02 15:04:05"

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionClearCmd)

	sessionShowCmd.Flags().Int("limit", 20, "number of most recent turns to show (0 for all)")
	sessionShowCmd.Flags().Bool("raw", false, "print the stored execution result of each turn")
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect recorded conversations",
}

func transcriptStores() (*state.TranscriptStore, *state.ArtifactStore) {
	cfg := loadConfig()
	return state.NewTranscriptStore(cfg.TranscriptDir()), state.NewArtifactStore(cfg.TranscriptDir())
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with a transcript",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		transcripts, _ := transcriptStores()
		return listSessions(cmd.Context(), cmd.OutOrStdout(), transcripts)
	},
}

func listSessions(ctx context.Context, out io.Writer, transcripts *state.TranscriptStore) error {
	ids, err := transcripts.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		fmt.Fprintln(out, "No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTURNS\tLAST ACTIVITY\tLAST QUERY")
	for _, id := range ids {
		count, err := transcripts.Count(ctx, id)
		if err != nil {
			count = 0
		}
		last, err := transcripts.Tail(ctx, id, 1)
		if err != nil || len(last) == 0 {
			fmt.Fprintf(w, "%s\t%d\t-\t-\n", id, count)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", id, count, last[0].At.Format(timeLayout), truncate(last[0].Query, 60))
	}
	return w.Flush()
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the recorded turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		raw, _ := cmd.Flags().GetBool("raw")
		transcripts, artifacts := transcriptStores()
		return showSession(cmd.Context(), cmd.OutOrStdout(), transcripts, artifacts, types.SessionID(args[0]), limit, raw)
	},
}

func showSession(ctx context.Context, out io.Writer, transcripts *state.TranscriptStore, artifacts *state.ArtifactStore, id types.SessionID, limit int, raw bool) error {
	entries, err := transcripts.Tail(ctx, id, limit)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("session not found: %s", id)
	}

	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
			if e.ErrorType != "" {
				status += " (" + e.ErrorType + ")"
			}
		}
		fmt.Fprintf(out, "#%d  %s  %s\n", e.Seq, e.At.Format(timeLayout), status)
		fmt.Fprintf(out, "  query:   %s\n", e.Query)
		if e.Summary != "" {
			fmt.Fprintf(out, "  summary: %s\n", e.Summary)
		}
		fmt.Fprintf(out, "  data:    %d dataflows, %d observation sets\n", e.Dataflows, e.Observations)
		if e.Clarification != "" {
			fmt.Fprintf(out, "  asked:   %s\n", e.Clarification)
		}
		if raw && e.ArtifactID != "" {
			data, err := artifacts.Get(ctx, e.ArtifactID)
			if err != nil {
				fmt.Fprintf(out, "  result:  unavailable (%v)\n", err)
			} else {
				fmt.Fprintf(out, "  result:  %s\n", data)
			}
		}
	}
	return nil
}

var sessionClearCmd = &cobra.Command{
	Use:   "clear <id|all>",
	Short: "Delete the transcript of a session, or of all sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transcripts, _ := transcriptStores()
		ctx := cmd.Context()

		if args[0] == "all" {
			if err := transcripts.ClearAll(ctx); err != nil {
				return fmt.Errorf("clear sessions: %w", err)
			}
			fmt.Fprintln(os.Stdout, "All sessions cleared.")
			return nil
		}

		id := types.SessionID(args[0])
		count, err := transcripts.Count(ctx, id)
		if err != nil {
			return fmt.Errorf("read transcript: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("session not found: %s", id)
		}
		if err := transcripts.Clear(ctx, id); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Session %s cleared.\n", id)
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
