package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lucidbard/canvas-author/internal/authz"
	"github.com/lucidbard/canvas-author/internal/mcp"
)

var mcpRole string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

Each agent process runs its own server with a fixed role; the role
limits which tools the agent may call. Configure in an MCP client with:

  {
    "mcpServers": {
      "canvas-author": { "command": "canvas-author", "args": ["mcp", "--role", "style_agent"] }
    }
  }

Available tools: create_review_session, submit_review,
get_item_review_history, get_session_review_status,
get_review_conflicts, escalate_review_conflict,
approve_and_merge_workspace`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun(cmd)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&mcpRole, "role", "", "Agent role: "+strings.Join(authz.Roles(), ", "))
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun(cmd *cobra.Command) error {
	role := mcpRole
	if role == "" {
		role = viper.GetString("mcp.role")
	}
	if role == "" {
		return fmt.Errorf("role is required; pass --role or set mcp.role (one of: %s)",
			strings.Join(authz.Roles(), ", "))
	}

	e, err := getEngine()
	if err != nil {
		return err
	}

	srv := mcp.NewServer(e, authz.Role(role))
	return srv.ServeStdio(cmd.Context())
}
