package models

import (
	"sort"
	"time"
)

// ReviewSession is the full review state for one isolated workspace.
// It is created empty alongside the workspace, accumulates item reviews,
// and becomes immutable when archived at merge time. Sessions are never
// deleted; the archive is the permanent audit record after the workspace
// itself is removed.
type ReviewSession struct {
	SessionID  string // matches the external workspace name
	CourseID   string
	CreatedAt  time.Time
	Items      map[string]*ItemReview
	ArchivedAt *time.Time
	MergedBy   string
	MergeRef   string // external merge commit reference
}

// Archived reports whether this session has been merged and archived.
func (s *ReviewSession) Archived() bool {
	return s.ArchivedAt != nil
}

// Summary aggregates this session's item statuses.
func (s *ReviewSession) Summary() SessionSummary {
	summary := SessionSummary{SessionID: s.SessionID, TotalItems: len(s.Items)}
	for _, item := range s.Items {
		switch item.Status {
		case ItemStatusApproved:
			summary.Approved++
		case ItemStatusRejected:
			summary.Rejected++
		case ItemStatusEscalationPending:
			summary.Escalated++
			summary.EscalatedItems = append(summary.EscalatedItems, item.ItemID)
		default:
			summary.Pending++
		}
	}
	sort.Strings(summary.EscalatedItems)
	return summary
}

// SessionSummary aggregates item statuses for one session.
type SessionSummary struct {
	SessionID      string
	TotalItems     int
	Approved       int
	Rejected       int
	Pending        int
	Escalated      int
	EscalatedItems []string
}

// Mergeable reports whether every item is approved with no open
// escalations. An empty session is not mergeable; there is nothing to
// merge.
func (s SessionSummary) Mergeable() bool {
	return s.TotalItems > 0 && s.Approved == s.TotalItems
}

// HistoryEntry is one session's view of an item, returned by
// cross-session history queries. Entries are copies; they never alias
// live session state.
type HistoryEntry struct {
	SessionID  string
	CreatedAt  time.Time
	ArchivedAt *time.Time
	MergedBy   string
	MergeRef   string
	Item       *ItemReview
}
