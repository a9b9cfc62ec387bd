// Package mcp exposes the review workflow as MCP tools so review and
// approval agents can drive sessions over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lucidbard/canvas-author/internal/authz"
	"github.com/lucidbard/canvas-author/internal/models"
	"github.com/lucidbard/canvas-author/internal/workflow"
)

// Server wraps the workflow engine and exposes it as MCP tools. The
// role is fixed per server process; each connected agent runs its own
// server with its own role.
type Server struct {
	engine *workflow.Engine
	role   authz.Role
}

// NewServer creates the MCP server wrapper.
func NewServer(engine *workflow.Engine, role authz.Role) *Server {
	return &Server{engine: engine, role: role}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("canvas-author", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.createSessionTool())
	srv.AddTool(s.submitReviewTool())
	srv.AddTool(s.itemHistoryTool())
	srv.AddTool(s.sessionStatusTool())
	srv.AddTool(s.conflictsTool())
	srv.AddTool(s.escalateTool())
	srv.AddTool(s.approveAndMergeTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// authorize rejects tools the server's role may not call.
func (s *Server) authorize(operation string) *mcp.CallToolResult {
	if !authz.Allowed(s.role, operation) {
		return mcp.NewToolResultError(fmt.Sprintf("role %s is not allowed to call %s", s.role, operation))
	}
	return nil
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// create_review_session
func (s *Server) createSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(authz.OpCreateSession,
		mcp.WithDescription("Create an isolated workspace and open a review session over course items. Returns the session id (which is also the workspace name) and workspace path as JSON."),
		mcp.WithString("course_id", mcp.Required(), mcp.Description("Canvas course id")),
		mcp.WithString("items", mcp.Required(), mcp.Description(`JSON array of items under review, e.g. [{"id":"pages:intro-page","title":"Intro","type":"pages"}]. Types: pages, quizzes, assignments, rubrics. Bare ids are prefixed with the type.`)),
	)
	return tool, s.handleCreateSession
}

func (s *Server) handleCreateSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if denied := s.authorize(authz.OpCreateSession); denied != nil {
		return denied, nil
	}

	courseID, err := request.RequireString("course_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: course_id"), nil
	}
	itemsJSON, err := request.RequireString("items")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: items"), nil
	}

	var items []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Type  string `json:"type"`
	}
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid items JSON: %v", err)), nil
	}

	inputs := make([]workflow.ItemInput, len(items))
	for i, item := range items {
		// Item ids are canonically type:id; accept bare ids for
		// convenience and prefix them.
		id := item.ID
		if item.Type != "" && !strings.HasPrefix(id, item.Type+":") {
			id = item.Type + ":" + id
		}
		inputs[i] = workflow.ItemInput{ID: id, Title: item.Title, Type: item.Type}
	}

	session, info, err := s.engine.CreateSession(ctx, courseID, inputs)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"session_id":     session.SessionID,
		"course_id":      session.CourseID,
		"created_at":     session.CreatedAt.Format(time.RFC3339),
		"workspace_path": info.Path,
		"branch":         info.Branch,
		"items":          len(session.Items),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal session: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// submit_review
func (s *Server) submitReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(authz.OpSubmitReview,
		mcp.WithDescription("Submit a review pass for an item. A later pass by the same reviewer for the same kind supersedes their earlier one. Returns the item's recomputed review status as JSON."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("Item under review")),
		mcp.WithString("pass_kind", mcp.Required(), mcp.Description("Review kind: style, fact_check, consistency, or human_override (escalated items only)")),
		mcp.WithString("reviewer_id", mcp.Required(), mcp.Description("Stable reviewer identity")),
		mcp.WithString("decision", mcp.Required(), mcp.Description("approved or rejected")),
		mcp.WithString("reviewer_role", mcp.Description("Role of the submitting reviewer")),
		mcp.WithString("reasoning", mcp.Description("Free-text rationale; required when rejecting")),
		mcp.WithString("severity", mcp.Description("low, medium, or high")),
		mcp.WithString("references", mcp.Description("JSON array of supporting reference strings")),
	)
	return tool, s.handleSubmitReview
}

func (s *Server) handleSubmitReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if denied := s.authorize(authz.OpSubmitReview); denied != nil {
		return denied, nil
	}

	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	itemID, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: item_id"), nil
	}
	passKind, err := request.RequireString("pass_kind")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: pass_kind"), nil
	}
	reviewerID, err := request.RequireString("reviewer_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reviewer_id"), nil
	}
	decision, err := request.RequireString("decision")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: decision"), nil
	}

	var refs []string
	if refsJSON := request.GetString("references", ""); refsJSON != "" {
		if err := json.Unmarshal([]byte(refsJSON), &refs); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid references JSON: %v", err)), nil
		}
	}

	pass := &models.ReviewPass{
		PassKind:     passKind,
		ReviewerID:   reviewerID,
		ReviewerRole: request.GetString("reviewer_role", ""),
		Decision:     models.ReviewDecision(decision),
		Reasoning:    request.GetString("reasoning", ""),
		Severity:     models.Severity(request.GetString("severity", "")),
		References:   refs,
	}

	item, err := s.engine.SubmitReview(ctx, sessionID, itemID, pass)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(itemOut(item))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal item: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// get_item_review_history
func (s *Server) itemHistoryTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(authz.OpItemHistory,
		mcp.WithDescription("Get an item's complete review record across all sessions, including archived ones. Returns a JSON array ordered by session creation time."),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("Item id")),
		mcp.WithBoolean("include_archived", mcp.Description("Include archived sessions (default true)")),
	)
	return tool, s.handleItemHistory
}

func (s *Server) handleItemHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if denied := s.authorize(authz.OpItemHistory); denied != nil {
		return denied, nil
	}

	itemID, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: item_id"), nil
	}
	includeArchived := request.GetBool("include_archived", true)

	entries, err := s.engine.GetItemHistory(ctx, itemID, includeArchived)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(historyOut(entries))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal history: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// get_session_review_status
func (s *Server) sessionStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(authz.OpSessionStatus,
		mcp.WithDescription("Summarize a session's item statuses and whether it is mergeable. Returns JSON with approved/rejected/pending/escalated counts."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
	)
	return tool, s.handleSessionStatus
}

func (s *Server) handleSessionStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if denied := s.authorize(authz.OpSessionStatus); denied != nil {
		return denied, nil
	}

	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	summary, err := s.engine.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := map[string]any{
		"session_id":      summary.SessionID,
		"total_items":     summary.TotalItems,
		"approved":        summary.Approved,
		"rejected":        summary.Rejected,
		"pending":         summary.Pending,
		"escalated":       summary.Escalated,
		"escalated_items": summary.EscalatedItems,
		"mergeable":       summary.Mergeable(),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// get_review_conflicts
func (s *Server) conflictsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(authz.OpGetConflicts,
		mcp.WithDescription("List items with unresolved escalations, for one session or all sessions. Returns a JSON array."),
		mcp.WithString("session_id", mcp.Description("Review session id; omit to query all sessions")),
	)
	return tool, s.handleConflicts
}

func (s *Server) handleConflicts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if denied := s.authorize(authz.OpGetConflicts); denied != nil {
		return denied, nil
	}

	sessionID := request.GetString("session_id", "")
	entries, err := s.engine.GetConflicts(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(historyOut(entries))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal conflicts: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// escalate_review_conflict
func (s *Server) escalateTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(authz.OpEscalate,
		mcp.WithDescription("Escalate a rejected item to a human decision-maker. The item moves to escalation_pending and blocks merge until a human_override pass resolves it."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("Rejected item to escalate")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why this needs human judgment")),
		mcp.WithString("raised_by", mcp.Required(), mcp.Description("Identity of the escalating agent")),
		mcp.WithString("evidence", mcp.Description("JSON array of supporting evidence strings")),
	)
	return tool, s.handleEscalate
}

func (s *Server) handleEscalate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if denied := s.authorize(authz.OpEscalate); denied != nil {
		return denied, nil
	}

	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	itemID, err := request.RequireString("item_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: item_id"), nil
	}
	reason, err := request.RequireString("reason")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reason"), nil
	}
	raisedBy, err := request.RequireString("raised_by")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: raised_by"), nil
	}

	var evidence []string
	if evJSON := request.GetString("evidence", ""); evJSON != "" {
		if err := json.Unmarshal([]byte(evJSON), &evidence); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid evidence JSON: %v", err)), nil
		}
	}

	item, err := s.engine.Escalate(ctx, sessionID, itemID, reason, raisedBy, evidence)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(itemOut(item))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal item: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// approve_and_merge_workspace
func (s *Server) approveAndMergeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool(authz.OpApproveAndMerge,
		mcp.WithDescription("Merge a fully-approved session's workspace into the base branch, archive the session, and remove the workspace. Fails if any item is not approved."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session id")),
		mcp.WithString("merged_by", mcp.Required(), mcp.Description("Identity of the approver performing the merge")),
	)
	return tool, s.handleApproveAndMerge
}

func (s *Server) handleApproveAndMerge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if denied := s.authorize(authz.OpApproveAndMerge); denied != nil {
		return denied, nil
	}

	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	mergedBy, err := request.RequireString("merged_by")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: merged_by"), nil
	}

	result, err := s.engine.ApproveAndMerge(ctx, sessionID, mergedBy)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ---------------------------------------------------------------------------
// Output shaping
// ---------------------------------------------------------------------------

type passView struct {
	ID           string   `json:"id"`
	PassKind     string   `json:"pass_kind"`
	ReviewerID   string   `json:"reviewer_id"`
	ReviewerRole string   `json:"reviewer_role,omitempty"`
	Decision     string   `json:"decision"`
	Reasoning    string   `json:"reasoning,omitempty"`
	Severity     string   `json:"severity,omitempty"`
	References   []string `json:"references,omitempty"`
	SubmittedAt  string   `json:"submitted_at"`
}

type itemView struct {
	ItemID     string          `json:"item_id"`
	ItemTitle  string          `json:"item_title,omitempty"`
	ItemType   string          `json:"item_type"`
	Status     string          `json:"status"`
	Passes     []passView      `json:"passes"`
	Escalation *escalationView `json:"escalation,omitempty"`
}

type escalationView struct {
	Reason     string   `json:"reason"`
	Evidence   []string `json:"evidence,omitempty"`
	RaisedBy   string   `json:"raised_by"`
	RaisedAt   string   `json:"raised_at"`
	Resolution string   `json:"resolution,omitempty"`
	ResolvedBy string   `json:"resolved_by,omitempty"`
	ResolvedAt string   `json:"resolved_at,omitempty"`
}

type historyEntryView struct {
	SessionID  string   `json:"session_id"`
	CreatedAt  string   `json:"created_at"`
	ArchivedAt string   `json:"archived_at,omitempty"`
	MergedBy   string   `json:"merged_by,omitempty"`
	MergeRef   string   `json:"merge_ref,omitempty"`
	Item       itemView `json:"item"`
}

func itemOut(item *models.ItemReview) itemView {
	view := itemView{
		ItemID:    item.ItemID,
		ItemTitle: item.ItemTitle,
		ItemType:  item.ItemType,
		Status:    string(item.Status),
		Passes:    make([]passView, len(item.Passes)),
	}
	for i, p := range item.Passes {
		view.Passes[i] = passView{
			ID:           p.ID,
			PassKind:     p.PassKind,
			ReviewerID:   p.ReviewerID,
			ReviewerRole: p.ReviewerRole,
			Decision:     string(p.Decision),
			Reasoning:    p.Reasoning,
			Severity:     string(p.Severity),
			References:   p.References,
			SubmittedAt:  p.SubmittedAt.Format(time.RFC3339),
		}
	}
	if esc := item.Escalation; esc != nil {
		ev := &escalationView{
			Reason:     esc.Reason,
			Evidence:   esc.Evidence,
			RaisedBy:   esc.RaisedBy,
			RaisedAt:   esc.RaisedAt.Format(time.RFC3339),
			Resolution: string(esc.Resolution),
			ResolvedBy: esc.ResolvedBy,
		}
		if esc.ResolvedAt != nil {
			ev.ResolvedAt = esc.ResolvedAt.Format(time.RFC3339)
		}
		view.Escalation = ev
	}
	return view
}

func historyOut(entries []*models.HistoryEntry) []historyEntryView {
	out := make([]historyEntryView, len(entries))
	for i, e := range entries {
		out[i] = historyEntryView{
			SessionID: e.SessionID,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
			MergedBy:  e.MergedBy,
			MergeRef:  e.MergeRef,
			Item:      itemOut(e.Item),
		}
		if e.ArchivedAt != nil {
			out[i].ArchivedAt = e.ArchivedAt.Format(time.RFC3339)
		}
	}
	return out
}
