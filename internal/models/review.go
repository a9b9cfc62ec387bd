package models

import "time"

// ReviewDecision is a reviewer's verdict on an item.
type ReviewDecision string

const (
	DecisionApproved ReviewDecision = "approved"
	DecisionRejected ReviewDecision = "rejected"
)

// Severity rates how serious a rejection is. It carries no meaning on
// an approval.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// PassKindHumanOverride is the pseudo-pass recorded when a human resolves
// an escalated item. It is always recognized regardless of policy.
const PassKindHumanOverride = "human_override"

// ReviewPass is one reviewer's verdict on one item for one review
// category. Passes are immutable once stored; a reviewer supersedes an
// earlier verdict by submitting a new pass of the same kind.
type ReviewPass struct {
	ID           string
	PassKind     string // policy-driven: style, fact_check, consistency, ...
	ReviewerID   string
	ReviewerRole string
	Decision     ReviewDecision
	Reasoning    string
	Severity     Severity
	References   []string // item ids cited as evidence
	SubmittedAt  time.Time
}

// ItemStatus is the aggregate review status of an item, derived from its
// passes and the active workflow policy.
type ItemStatus string

const (
	ItemStatusPending           ItemStatus = "pending"
	ItemStatusApproved          ItemStatus = "approved"
	ItemStatusRejected          ItemStatus = "rejected"
	ItemStatusEscalationPending ItemStatus = "escalation_pending"
)

// EscalationResolution is the outcome of a human override on an
// escalated item.
type EscalationResolution string

const (
	ResolutionApproved EscalationResolution = "approved"
	ResolutionRevise   EscalationResolution = "revise"
)

// Escalation flags an item whose rejection deadlock requires human
// resolution. The session cannot merge while any escalation is
// unresolved.
type Escalation struct {
	Reason     string
	Evidence   []string
	RaisedBy   string
	RaisedAt   time.Time
	Resolution EscalationResolution // empty until resolved
	ResolvedBy string
	ResolvedAt *time.Time
}

// Resolved reports whether a human override has resolved this escalation.
func (e *Escalation) Resolved() bool {
	return e != nil && e.Resolution != ""
}

// ItemReview holds all review passes for one content item within one
// session. Passes keep submission acceptance order and are never
// reordered.
type ItemReview struct {
	ItemID     string // stable cross-session id, "<contentType>:<contentId>"
	ItemTitle  string
	ItemType   string
	Passes     []ReviewPass
	Status     ItemStatus
	Escalation *Escalation
}

// ItemMeta carries the descriptive fields needed when a pass creates an
// item's review record on first submission.
type ItemMeta struct {
	Title string
	Type  string
}
