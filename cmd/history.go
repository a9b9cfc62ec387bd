package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucidbard/canvas-author/internal/output"
)

var historyLiveOnly bool

var historyCmd = &cobra.Command{
	Use:   "history <item-id>",
	Short: "Show an item's review record across all sessions",
	Long: `Show every review session an item has appeared in, archived ones
included, ordered by session creation time. This is the permanent
audit trail; archived sessions are never deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(args[0])
	},
}

func init() {
	historyCmd.Flags().BoolVar(&historyLiveOnly, "live-only", false, "Exclude archived sessions")
	rootCmd.AddCommand(historyCmd)
}

func historyRun(itemID string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	entries, err := e.GetItemHistory(ctx, itemID, !historyLiveOnly)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Info("No review history for item %s", itemID)
		return nil
	}

	for _, entry := range entries {
		state := output.Green("live")
		if entry.ArchivedAt != nil {
			state = fmt.Sprintf("%s %s by %s (%s)",
				output.Yellow("merged"),
				entry.ArchivedAt.Format(time.DateOnly),
				entry.MergedBy, entry.MergeRef)
		}
		ui.Info("Session %s [%s]: %s", output.Cyan(entry.SessionID), state,
			output.StatusColor(string(entry.Item.Status)))

		for _, p := range entry.Item.Passes {
			fmt.Fprintf(ui.Out, "    %s %s by %s: %s",
				p.SubmittedAt.Format(time.DateTime), p.PassKind, p.ReviewerID,
				output.DecisionColor(string(p.Decision)))
			if p.Reasoning != "" {
				fmt.Fprintf(ui.Out, ": %s", p.Reasoning)
			}
			fmt.Fprintln(ui.Out)
		}
		if esc := entry.Item.Escalation; esc != nil {
			fmt.Fprintf(ui.Out, "    escalated by %s: %s", esc.RaisedBy, esc.Reason)
			if esc.Resolved() {
				fmt.Fprintf(ui.Out, " (resolved %s by %s)", esc.Resolution, esc.ResolvedBy)
			}
			fmt.Fprintln(ui.Out)
		}
	}
	return nil
}
