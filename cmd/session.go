package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucidbard/canvas-author/internal/output"
	"github.com/lucidbard/canvas-author/internal/workflow"
)

var (
	sessionCourse string
	sessionItems  []string
	sessionAll    bool
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage review sessions",
	Long:  "Create and inspect review sessions and their isolated workspaces.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a review session with an isolated workspace",
	Long: `Create a review session over one or more course items. A new git
workspace (branch + worktree) is provisioned; its name doubles as the
session id. Items are given as type:id or type:id:title, e.g.

  canvas-author session create --course 12345 \
    --item pages:intro-page:"Course Introduction" \
    --item quizzes:week1-quiz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionCreateRun()
	},
}

var sessionListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List review sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show a session's review status and mergeability",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionStatusRun(args[0])
	},
}

func init() {
	sessionCreateCmd.Flags().StringVar(&sessionCourse, "course", "", "Canvas course id (required)")
	sessionCreateCmd.Flags().StringArrayVar(&sessionItems, "item", nil, "Item under review as type:id[:title] (repeatable, required)")
	_ = sessionCreateCmd.MarkFlagRequired("course")
	_ = sessionCreateCmd.MarkFlagRequired("item")

	sessionListCmd.Flags().BoolVar(&sessionAll, "all", false, "Include archived sessions")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionStatusCmd)
	rootCmd.AddCommand(sessionCmd)
}

// parseItemSpec parses a type:id[:title] flag value. The stored item id
// is the composite type:id form, so the same slug under two content
// types stays distinct across sessions.
func parseItemSpec(spec string) (workflow.ItemInput, error) {
	parts := strings.SplitN(spec, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return workflow.ItemInput{}, fmt.Errorf("invalid item %q: expected type:id[:title]", spec)
	}
	input := workflow.ItemInput{Type: parts[0], ID: parts[0] + ":" + parts[1]}
	if len(parts) == 3 {
		input.Title = parts[2]
	}
	return input, nil
}

func sessionCreateRun() error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	inputs := make([]workflow.ItemInput, 0, len(sessionItems))
	for _, spec := range sessionItems {
		input, err := parseItemSpec(spec)
		if err != nil {
			return err
		}
		inputs = append(inputs, input)
	}

	session, info, err := e.CreateSession(ctx, sessionCourse, inputs)
	if err != nil {
		return err
	}

	ui.Success("Created session %s for course %s (%d items)",
		output.Cyan(session.SessionID), sessionCourse, len(session.Items))
	ui.Info("Workspace: %s (branch %s)", info.Path, info.Branch)
	return nil
}

func sessionListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx, sessionAll)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No review sessions found")
		return nil
	}

	table := ui.Table([]string{"SESSION", "COURSE", "CREATED", "STATE", "MERGED BY"})
	for _, sess := range sessions {
		state := output.Green("live")
		mergedBy := ""
		if sess.Archived() {
			state = output.Yellow("archived")
			mergedBy = sess.MergedBy
		}
		_ = table.Append([]string{
			sess.SessionID,
			sess.CourseID,
			sess.CreatedAt.Format(time.DateOnly),
			state,
			mergedBy,
		})
	}
	return table.Render()
}

func sessionStatusRun(sessionID string) error {
	e, err := getEngine()
	if err != nil {
		return err
	}
	ctx := context.Background()

	summary, err := e.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return err
	}

	ui.Info("Session %s: %d items", output.Cyan(sessionID), summary.TotalItems)
	fmt.Fprintf(ui.Out, "  approved:  %s\n", output.Green(fmt.Sprintf("%d", summary.Approved)))
	fmt.Fprintf(ui.Out, "  pending:   %s\n", output.Yellow(fmt.Sprintf("%d", summary.Pending)))
	fmt.Fprintf(ui.Out, "  rejected:  %s\n", output.Red(fmt.Sprintf("%d", summary.Rejected)))
	fmt.Fprintf(ui.Out, "  escalated: %s\n", output.Cyan(fmt.Sprintf("%d", summary.Escalated)))
	if len(summary.EscalatedItems) > 0 {
		fmt.Fprintf(ui.Out, "  escalated items: %s\n", strings.Join(summary.EscalatedItems, ", "))
	}

	if summary.Mergeable() {
		ui.Success("Session is mergeable")
	} else {
		ui.Warning("Session is not mergeable")
	}
	return nil
}
