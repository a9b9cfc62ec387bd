// Package workflow orchestrates review sessions: session lifecycle,
// review pass acceptance, consensus recomputation, escalation, and the
// approve-and-merge endgame.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lucidbard/canvas-author/internal/canvas"
	"github.com/lucidbard/canvas-author/internal/consensus"
	"github.com/lucidbard/canvas-author/internal/models"
	"github.com/lucidbard/canvas-author/internal/policy"
	"github.com/lucidbard/canvas-author/internal/store"
	"github.com/lucidbard/canvas-author/internal/workspace"
)

// DefaultMergeTimeout bounds the git merge during approveAndMerge.
const DefaultMergeTimeout = 2 * time.Minute

// Engine coordinates the review workflow. All state lives in the store;
// the engine adds validation, per-session serialization, and the merge
// protocol on top.
type Engine struct {
	store        store.Store
	ws           workspace.Client
	policy       *policy.WorkflowPolicy
	sync         canvas.SyncChecker
	mergeTimeout time.Duration

	mu           sync.Mutex
	sessionLocks map[string]*sync.Mutex
	merging      map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMergeTimeout overrides the default merge timeout.
func WithMergeTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.mergeTimeout = d
		}
	}
}

// WithSyncChecker sets the remote drift checker used at merge time.
func WithSyncChecker(sc canvas.SyncChecker) Option {
	return func(e *Engine) { e.sync = sc }
}

// NewEngine creates a workflow engine.
func NewEngine(st store.Store, ws workspace.Client, pol *policy.WorkflowPolicy, opts ...Option) *Engine {
	e := &Engine{
		store:        st,
		ws:           ws,
		policy:       pol,
		sync:         canvas.NoopChecker{},
		mergeTimeout: DefaultMergeTimeout,
		sessionLocks: make(map[string]*sync.Mutex),
		merging:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// lockSession serializes operations on one session without blocking
// operations on others.
func (e *Engine) lockSession(sessionID string) func() {
	e.mu.Lock()
	l, ok := e.sessionLocks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		e.sessionLocks[sessionID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// mapStoreErr translates store sentinels into workflow error kinds.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrItemNotFound):
		return notFoundErr("%s", err.Error())
	case errors.Is(err, store.ErrSessionExists):
		return conflictErr("%s", err.Error())
	case errors.Is(err, store.ErrSessionArchived):
		return invalidStateErr("%s", err.Error())
	case errors.Is(err, store.ErrAlreadyArchived):
		return conflictErr("%s", err.Error())
	default:
		return storageErr("storage operation failed", err)
	}
}

// ItemInput declares an item under review when creating a session.
type ItemInput struct {
	ID    string
	Title string
	Type  string
}

// CreateSession provisions an isolated workspace and opens a review
// session over the given items. The workspace name doubles as the
// session id.
func (e *Engine) CreateSession(ctx context.Context, courseID string, items []ItemInput) (*models.ReviewSession, *workspace.Info, error) {
	if courseID == "" {
		return nil, nil, validationErr("course id is required")
	}
	if len(items) == 0 {
		return nil, nil, validationErr("at least one item is required")
	}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ID == "" {
			return nil, nil, validationErr("item id is required")
		}
		if seen[item.ID] {
			return nil, nil, validationErr("%s", fmt.Sprintf("duplicate item id %q", item.ID))
		}
		seen[item.ID] = true
		if _, ok := e.policy.ForItemType(item.Type); !ok {
			return nil, nil, validationErr("%s", fmt.Sprintf("unknown item type %q for item %s", item.Type, item.ID))
		}
	}

	name := workspace.NewName()
	info, err := e.ws.Create(ctx, name)
	if err != nil {
		if errors.Is(err, workspace.ErrWorkspaceExists) {
			return nil, nil, conflictErr("%s", err.Error())
		}
		return nil, nil, storageErr("create workspace", err)
	}

	session := &models.ReviewSession{
		SessionID: name,
		CourseID:  courseID,
		CreatedAt: time.Now().UTC(),
		Items:     make(map[string]*models.ItemReview, len(items)),
	}
	for _, item := range items {
		session.Items[item.ID] = &models.ItemReview{
			ItemID:    item.ID,
			ItemTitle: item.Title,
			ItemType:  item.Type,
			Status:    models.ItemStatusPending,
		}
	}

	if err := e.store.CreateSession(ctx, session); err != nil {
		// Don't leave an orphan worktree behind.
		if rmErr := e.ws.Remove(ctx, name); rmErr != nil {
			slog.Warn("failed to clean up workspace after session create failure",
				"workspace", name, "error", rmErr)
		}
		return nil, nil, mapStoreErr(err)
	}

	return session, info, nil
}

// SubmitReview records a review pass for an item and recomputes its
// consensus status. The item must have been declared when the session
// was created.
func (e *Engine) SubmitReview(ctx context.Context, sessionID, itemID string, pass *models.ReviewPass) (*models.ItemReview, error) {
	if pass.ReviewerID == "" {
		return nil, validationErr("reviewer id is required")
	}
	if pass.PassKind == "" {
		return nil, validationErr("pass kind is required")
	}
	switch pass.Decision {
	case models.DecisionApproved, models.DecisionRejected:
	default:
		return nil, validationErr("%s", fmt.Sprintf("invalid decision %q: must be approved or rejected", pass.Decision))
	}
	if pass.Decision == models.DecisionRejected && pass.Reasoning == "" {
		return nil, validationErr("reasoning is required for a rejection")
	}
	switch pass.Severity {
	case "", models.SeverityLow, models.SeverityMedium, models.SeverityHigh:
	default:
		return nil, validationErr("%s", fmt.Sprintf("invalid severity %q", pass.Severity))
	}

	unlock := e.lockSession(sessionID)
	defer unlock()

	item, err := e.store.GetItem(ctx, sessionID, itemID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	pol, ok := e.policy.ForItemType(item.ItemType)
	if !ok {
		return nil, validationErr("%s", fmt.Sprintf("no review policy for item type %q", item.ItemType))
	}
	if !e.policy.RecognizesPassKind(item.ItemType, pass.PassKind) {
		return nil, validationErr("%s", fmt.Sprintf("pass kind %q is not accepted for %s items", pass.PassKind, item.ItemType))
	}
	if pass.PassKind == models.PassKindHumanOverride && item.Status != models.ItemStatusEscalationPending {
		return nil, invalidStateErr("%s", fmt.Sprintf(
			"human_override requires an escalated item; %s is %s", itemID, item.Status))
	}

	meta := models.ItemMeta{Title: item.ItemTitle, Type: item.ItemType}
	updated, err := e.store.AppendPass(ctx, sessionID, itemID, meta, pass, func(it *models.ItemReview) models.ItemStatus {
		return consensus.Evaluate(it.Passes, pol, it.Escalation)
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return updated, nil
}

// Escalate raises a rejected item to a human decision-maker. Only
// rejected items can be escalated; an escalation parks the item in
// escalation_pending until a human_override pass resolves it.
func (e *Engine) Escalate(ctx context.Context, sessionID, itemID, reason, raisedBy string, evidence []string) (*models.ItemReview, error) {
	if reason == "" {
		return nil, validationErr("escalation reason is required")
	}
	if raisedBy == "" {
		return nil, validationErr("escalation raiser is required")
	}

	unlock := e.lockSession(sessionID)
	defer unlock()

	item, err := e.store.GetItem(ctx, sessionID, itemID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if item.Status != models.ItemStatusRejected {
		return nil, invalidStateErr("%s", fmt.Sprintf(
			"only rejected items can be escalated; %s is %s", itemID, item.Status))
	}

	esc := &models.Escalation{
		Reason:   reason,
		Evidence: evidence,
		RaisedBy: raisedBy,
		RaisedAt: time.Now().UTC(),
	}
	if err := e.store.Escalate(ctx, sessionID, itemID, esc); err != nil {
		return nil, mapStoreErr(err)
	}

	item.Escalation = esc
	item.Status = models.ItemStatusEscalationPending
	return item, nil
}

// GetItemHistory returns the item's review record across all sessions,
// archived ones included by default.
func (e *Engine) GetItemHistory(ctx context.Context, itemID string, includeArchived bool) ([]*models.HistoryEntry, error) {
	if itemID == "" {
		return nil, validationErr("item id is required")
	}
	entries, err := e.store.GetItemHistory(ctx, itemID, includeArchived)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return entries, nil
}

// GetSessionStatus summarizes per-item statuses and overall
// mergeability for a session.
func (e *Engine) GetSessionStatus(ctx context.Context, sessionID string) (*models.SessionSummary, error) {
	summary, err := e.store.SessionSummary(ctx, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return summary, nil
}

// GetConflicts lists items with unresolved escalations, for one session
// or (with an empty sessionID) across all of them.
func (e *Engine) GetConflicts(ctx context.Context, sessionID string) ([]*models.HistoryEntry, error) {
	entries, err := e.store.ListConflicts(ctx, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return entries, nil
}

// MergeResult reports the outcome of an approveAndMerge.
type MergeResult struct {
	SessionID        string         `json:"session_id"`
	MergeRef         string         `json:"merge_ref"`
	MergedBy         string         `json:"merged_by"`
	Drift            []canvas.Drift `json:"drift,omitempty"`
	WorkspaceRemoved bool           `json:"workspace_removed"`
}

// ApproveAndMerge merges a fully-approved session's workspace into the
// base branch and archives the session. At most one merge per session
// can be in flight; a second caller gets a conflict error immediately
// rather than queueing.
func (e *Engine) ApproveAndMerge(ctx context.Context, sessionID, mergedBy string) (*MergeResult, error) {
	if mergedBy == "" {
		return nil, validationErr("merger identity is required")
	}

	e.mu.Lock()
	if e.merging[sessionID] {
		e.mu.Unlock()
		return nil, conflictErr("%s", fmt.Sprintf("merge already in progress for session %s", sessionID))
	}
	e.merging[sessionID] = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.merging, sessionID)
		e.mu.Unlock()
	}()

	unlock := e.lockSession(sessionID)
	defer unlock()

	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if session.Archived() {
		return nil, invalidStateErr("%s", fmt.Sprintf("session %s is already archived", sessionID))
	}

	// Validate under the session lock so no pass can slip in between
	// the check and the merge.
	summary := session.Summary()
	if !summary.Mergeable() {
		return nil, notMergeableErr("%s", fmt.Sprintf(
			"session %s is not mergeable: %d approved of %d items (%d pending, %d rejected, %d escalated)",
			sessionID, summary.Approved, summary.TotalItems,
			summary.Pending, summary.Rejected, summary.Escalated))
	}

	mctx, cancel := context.WithTimeout(ctx, e.mergeTimeout)
	defer cancel()

	mergeRef, err := e.ws.Merge(mctx, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, workspace.ErrMergeConflict):
			return nil, &Error{Kind: KindMergeConflict, Msg: err.Error()}
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(mctx.Err(), context.DeadlineExceeded):
			return nil, &Error{Kind: KindMergeTimeout,
				Msg: fmt.Sprintf("merge of session %s exceeded %s", sessionID, e.mergeTimeout)}
		default:
			return nil, storageErr("merge workspace", err)
		}
	}

	// Archiving is the commit point of the workflow. The git merge has
	// already landed; a failure here leaves the session live with the
	// merge recorded only in git, which the caller must reconcile.
	if err := e.store.ArchiveSession(ctx, sessionID, mergedBy, mergeRef); err != nil {
		slog.Error("workspace merged but session archive failed",
			"session", sessionID, "merge_ref", mergeRef, "error", err)
		return nil, mapStoreErr(err)
	}

	// Drift is advisory: report remote edits made during the session,
	// but never block a committed merge on them. It runs after the
	// archive so the report only ever describes a merge that happened.
	var drift []canvas.Drift
	refs := make([]canvas.ItemRef, 0, len(session.Items))
	for _, item := range session.Items {
		refs = append(refs, canvas.ItemRef{ID: item.ItemID, Type: item.ItemType})
	}
	drift, err = e.sync.CheckDrift(ctx, session.CourseID, refs, session.CreatedAt)
	if err != nil {
		slog.Warn("remote drift check failed", "session", sessionID, "error", err)
		drift = nil
	}

	result := &MergeResult{
		SessionID:        sessionID,
		MergeRef:         mergeRef,
		MergedBy:         mergedBy,
		Drift:            drift,
		WorkspaceRemoved: true,
	}
	if err := e.ws.Remove(ctx, sessionID); err != nil {
		slog.Warn("failed to remove merged workspace", "session", sessionID, "error", err)
		result.WorkspaceRemoved = false
	}
	return result, nil
}
