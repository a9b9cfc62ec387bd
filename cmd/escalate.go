package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lucidbard/canvas-author/internal/output"
)

var (
	escalateReason   string
	escalateBy       string
	escalateEvidence []string
)

var escalateCmd = &cobra.Command{
	Use:   "escalate <session-id> <item-id>",
	Short: "Escalate a rejected item to a human decision-maker",
	Long: `Escalate a rejected item. The item moves to escalation_pending and
blocks its session from merging until a human_override review pass
resolves the escalation.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return escalateRun(args[0], args[1])
	},
}

var conflictsCmd = &cobra.Command{
	Use:   "conflicts [session-id]",
	Short: "List items with unresolved escalations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := ""
		if len(args) > 0 {
			sessionID = args[0]
		}
		return conflictsRun(sessionID)
	},
}

func init() {
	escalateCmd.Flags().StringVar(&escalateReason, "reason", "", "Why this needs human judgment (required)")
	escalateCmd.Flags().StringVar(&escalateBy, "by", "", "Identity of the escalating agent (required)")
	escalateCmd.Flags().StringArrayVar(&escalateEvidence, "evidence", nil, "Supporting evidence (repeatable)")
	_ = escalateCmd.MarkFlagRequired("reason")
	_ = escalateCmd.MarkFlagRequired("by")

	rootCmd.AddCommand(escalateCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func escalateRun(sessionID, itemID string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	item, err := e.Escalate(ctx, sessionID, itemID, escalateReason, escalateBy, escalateEvidence)
	if err != nil {
		return err
	}

	ui.Success("Escalated %s in session %s", output.Cyan(itemID), sessionID)
	ui.Info("Item status: %s", output.StatusColor(string(item.Status)))
	return nil
}

func conflictsRun(sessionID string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	entries, err := e.GetConflicts(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		ui.Success("No unresolved escalations")
		return nil
	}

	table := ui.Table([]string{"SESSION", "ITEM", "TYPE", "RAISED BY", "REASON"})
	for _, entry := range entries {
		esc := entry.Item.Escalation
		raisedBy, reason := "", ""
		if esc != nil {
			raisedBy, reason = esc.RaisedBy, esc.Reason
		}
		_ = table.Append([]string{
			entry.SessionID,
			entry.Item.ItemID,
			entry.Item.ItemType,
			raisedBy,
			reason,
		})
	}
	return table.Render()
}
