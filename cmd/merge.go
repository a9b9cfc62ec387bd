package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lucidbard/canvas-author/internal/output"
)

var mergeBy string

var mergeCmd = &cobra.Command{
	Use:   "merge <session-id>",
	Short: "Merge a fully-approved session and archive it",
	Long: `Merge the session's workspace into the base branch. Every item must
be approved; any pending, rejected, or escalated item blocks the merge.
On success the session is archived (permanently, as the audit record)
and the workspace is removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return mergeRun(args[0])
	},
}

func init() {
	mergeCmd.Flags().StringVar(&mergeBy, "by", "", "Identity of the approver performing the merge (required)")
	_ = mergeCmd.MarkFlagRequired("by")
	rootCmd.AddCommand(mergeCmd)
}

func mergeRun(sessionID string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	result, err := e.ApproveAndMerge(ctx, sessionID, mergeBy)
	if err != nil {
		return err
	}

	ui.Success("Merged session %s as %s", output.Cyan(sessionID), result.MergeRef)
	if len(result.Drift) > 0 {
		ui.Warning("%d item(s) changed remotely during the session:", len(result.Drift))
		for _, d := range result.Drift {
			ui.Warning("  %s %s (remote update %s)", d.ItemType, d.ItemID, d.RemoteUpdatedAt)
		}
	}
	if !result.WorkspaceRemoved {
		ui.Warning("Workspace %s could not be removed; clean it up manually", sessionID)
	}
	return nil
}
