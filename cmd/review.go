package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucidbard/canvas-author/internal/models"
	"github.com/lucidbard/canvas-author/internal/output"
)

var (
	reviewKind      string
	reviewReviewer  string
	reviewRole      string
	reviewDecision  string
	reviewReasoning string
	reviewSeverity  string
	reviewRefs      []string
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Submit and inspect review passes",
}

var reviewSubmitCmd = &cobra.Command{
	Use:   "submit <session-id> <item-id>",
	Short: "Submit a review pass for an item",
	Long: `Submit a review pass. A later pass by the same reviewer for the same
kind supersedes their earlier one; the item's consensus status is
recomputed from surviving passes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewSubmitRun(args[0], args[1])
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <session-id> <item-id>",
	Short: "Show an item's review passes and status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(args[0], args[1])
	},
}

func init() {
	reviewSubmitCmd.Flags().StringVar(&reviewKind, "kind", "", "Pass kind: style, fact_check, consistency, human_override (required)")
	reviewSubmitCmd.Flags().StringVar(&reviewReviewer, "reviewer", "", "Reviewer identity (required)")
	reviewSubmitCmd.Flags().StringVar(&reviewRole, "role", "", "Reviewer role")
	reviewSubmitCmd.Flags().StringVar(&reviewDecision, "decision", "", "approved or rejected (required)")
	reviewSubmitCmd.Flags().StringVar(&reviewReasoning, "reasoning", "", "Rationale; required when rejecting")
	reviewSubmitCmd.Flags().StringVar(&reviewSeverity, "severity", "", "low, medium, or high")
	reviewSubmitCmd.Flags().StringArrayVar(&reviewRefs, "ref", nil, "Supporting reference (repeatable)")
	_ = reviewSubmitCmd.MarkFlagRequired("kind")
	_ = reviewSubmitCmd.MarkFlagRequired("reviewer")
	_ = reviewSubmitCmd.MarkFlagRequired("decision")

	reviewCmd.AddCommand(reviewSubmitCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewSubmitRun(sessionID, itemID string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	pass := &models.ReviewPass{
		PassKind:     reviewKind,
		ReviewerID:   reviewReviewer,
		ReviewerRole: reviewRole,
		Decision:     models.ReviewDecision(reviewDecision),
		Reasoning:    reviewReasoning,
		Severity:     models.Severity(reviewSeverity),
		References:   reviewRefs,
	}

	item, err := e.SubmitReview(ctx, sessionID, itemID, pass)
	if err != nil {
		return err
	}

	ui.Success("Recorded %s pass by %s: %s", reviewKind, reviewReviewer,
		output.DecisionColor(reviewDecision))
	ui.Info("Item %s is now %s", itemID, output.StatusColor(string(item.Status)))
	return nil
}

func reviewShowRun(sessionID, itemID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	item, err := s.GetItem(ctx, sessionID, itemID)
	if err != nil {
		return err
	}

	title := item.ItemTitle
	if title == "" {
		title = item.ItemID
	}
	ui.Info("%s (%s): %s", output.Cyan(title), item.ItemType,
		output.StatusColor(string(item.Status)))

	if len(item.Passes) == 0 {
		ui.Info("No review passes yet")
	} else {
		table := ui.Table([]string{"KIND", "REVIEWER", "DECISION", "SEVERITY", "SUBMITTED", "REASONING"})
		for _, p := range item.Passes {
			_ = table.Append([]string{
				p.PassKind,
				p.ReviewerID,
				output.DecisionColor(string(p.Decision)),
				string(p.Severity),
				p.SubmittedAt.Format(time.DateTime),
				p.Reasoning,
			})
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if esc := item.Escalation; esc != nil {
		ui.Warning("Escalated by %s at %s: %s", esc.RaisedBy,
			esc.RaisedAt.Format(time.DateTime), esc.Reason)
		for _, ev := range esc.Evidence {
			fmt.Fprintf(ui.Out, "    - %s\n", ev)
		}
		if esc.Resolved() {
			ui.Info("Resolved %s by %s", output.Cyan(string(esc.Resolution)), esc.ResolvedBy)
		}
	}
	return nil
}
