package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionSummary(t *testing.T) {
	s := &ReviewSession{
		SessionID: "agent-1",
		Items: map[string]*ItemReview{
			"a": {ItemID: "a", Status: ItemStatusApproved},
			"b": {ItemID: "b", Status: ItemStatusRejected},
			"c": {ItemID: "c", Status: ItemStatusPending},
			"d": {ItemID: "d", Status: ItemStatusEscalationPending},
			"e": {ItemID: "e", Status: ItemStatusEscalationPending},
		},
	}

	sum := s.Summary()
	assert.Equal(t, 5, sum.TotalItems)
	assert.Equal(t, 1, sum.Approved)
	assert.Equal(t, 1, sum.Rejected)
	assert.Equal(t, 1, sum.Pending)
	assert.Equal(t, 2, sum.Escalated)
	assert.Equal(t, []string{"d", "e"}, sum.EscalatedItems)
	assert.False(t, sum.Mergeable())
}

func TestMergeable(t *testing.T) {
	empty := SessionSummary{}
	assert.False(t, empty.Mergeable(), "nothing to merge")

	all := SessionSummary{TotalItems: 3, Approved: 3}
	assert.True(t, all.Mergeable())

	partial := SessionSummary{TotalItems: 3, Approved: 2, Pending: 1}
	assert.False(t, partial.Mergeable())
}

func TestArchived(t *testing.T) {
	s := &ReviewSession{}
	assert.False(t, s.Archived())

	now := time.Now()
	s.ArchivedAt = &now
	assert.True(t, s.Archived())
}

func TestEscalationResolved(t *testing.T) {
	var nilEsc *Escalation
	assert.False(t, nilEsc.Resolved())

	esc := &Escalation{Reason: "deadlock"}
	assert.False(t, esc.Resolved())

	esc.Resolution = ResolutionApproved
	assert.True(t, esc.Resolved())
}
