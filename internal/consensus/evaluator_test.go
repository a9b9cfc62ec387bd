package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lucidbard/canvas-author/internal/models"
	"github.com/lucidbard/canvas-author/internal/policy"
)

var pagePolicy = policy.ItemPolicy{
	RequiredPasses:    []string{"style", "fact_check", "consistency"},
	RequiredApprovals: 1,
}

var quizPolicy = policy.ItemPolicy{
	RequiredPasses:    []string{"style", "fact_check", "consistency"},
	RequiredApprovals: 2,
}

func pass(kind, reviewer string, decision models.ReviewDecision) models.ReviewPass {
	return models.ReviewPass{
		PassKind:   kind,
		ReviewerID: reviewer,
		Decision:   decision,
		Reasoning:  "because",
	}
}

func TestEvaluate_NoPassesIsPending(t *testing.T) {
	assert.Equal(t, models.ItemStatusPending, Evaluate(nil, pagePolicy, nil))
}

func TestEvaluate_MissingRequiredKindIsPending(t *testing.T) {
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionApproved),
		// no consistency pass
	}
	assert.Equal(t, models.ItemStatusPending, Evaluate(passes, pagePolicy, nil))
}

func TestEvaluate_AllKindsApprovedByOneReviewer(t *testing.T) {
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "alice", models.DecisionApproved),
		pass("consistency", "alice", models.DecisionApproved),
	}
	assert.Equal(t, models.ItemStatusApproved, Evaluate(passes, pagePolicy, nil))
}

func TestEvaluate_ThresholdCountsDistinctReviewers(t *testing.T) {
	// One reviewer approving every kind is one approver, not three.
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "alice", models.DecisionApproved),
		pass("consistency", "alice", models.DecisionApproved),
	}
	assert.Equal(t, models.ItemStatusPending, Evaluate(passes, quizPolicy, nil))

	passes = append(passes, pass("style", "bob", models.DecisionApproved))
	assert.Equal(t, models.ItemStatusApproved, Evaluate(passes, quizPolicy, nil))
}

func TestEvaluate_SingleRejectionVetoes(t *testing.T) {
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionApproved),
		pass("consistency", "carol", models.DecisionRejected),
		pass("style", "dave", models.DecisionApproved),
	}
	assert.Equal(t, models.ItemStatusRejected, Evaluate(passes, pagePolicy, nil))
}

func TestEvaluate_LaterPassSupersedes(t *testing.T) {
	// Carol rejects, then changes her mind. Her later pass is the one
	// that counts.
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionApproved),
		pass("consistency", "carol", models.DecisionRejected),
		pass("consistency", "carol", models.DecisionApproved),
	}
	assert.Equal(t, models.ItemStatusApproved, Evaluate(passes, pagePolicy, nil))
}

func TestEvaluate_SupersessionIsPerKind(t *testing.T) {
	// Carol's later style approval does not supersede her consistency
	// rejection.
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionApproved),
		pass("consistency", "carol", models.DecisionRejected),
		pass("style", "carol", models.DecisionApproved),
	}
	assert.Equal(t, models.ItemStatusRejected, Evaluate(passes, pagePolicy, nil))
}

func TestEvaluate_UnresolvedEscalationPreempts(t *testing.T) {
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionApproved),
		pass("consistency", "carol", models.DecisionApproved),
	}
	esc := &models.Escalation{Reason: "disagreement", RaisedBy: "carol"}
	assert.Equal(t, models.ItemStatusEscalationPending, Evaluate(passes, pagePolicy, esc))
}

func TestEvaluate_OverrideOutranksVeto(t *testing.T) {
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionRejected),
		pass("consistency", "carol", models.DecisionApproved),
		pass(models.PassKindHumanOverride, "instructor", models.DecisionApproved),
	}
	esc := &models.Escalation{
		Reason:     "disagreement",
		RaisedBy:   "carol",
		Resolution: models.ResolutionApproved,
		ResolvedBy: "instructor",
	}
	assert.Equal(t, models.ItemStatusApproved, Evaluate(passes, pagePolicy, esc))
}

func TestEvaluate_OverrideRejectionDoesNotLiftVeto(t *testing.T) {
	// The human sided with the rejecting reviewer: the item stays
	// rejected and needs another round.
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionRejected),
		pass("consistency", "carol", models.DecisionApproved),
		pass(models.PassKindHumanOverride, "instructor", models.DecisionRejected),
	}
	esc := &models.Escalation{
		Reason:     "disagreement",
		RaisedBy:   "carol",
		Resolution: models.ResolutionRevise,
		ResolvedBy: "instructor",
	}
	assert.Equal(t, models.ItemStatusRejected, Evaluate(passes, pagePolicy, esc))
}

func TestEvaluate_RejectionAfterOverrideStands(t *testing.T) {
	// The override settled bob's objection, but dave rejected after the
	// human ruled. His veto is a new objection, not an overridden one.
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionRejected),
		pass("consistency", "carol", models.DecisionApproved),
		pass(models.PassKindHumanOverride, "instructor", models.DecisionApproved),
		pass("style", "dave", models.DecisionRejected),
	}
	esc := &models.Escalation{
		Reason:     "disagreement",
		RaisedBy:   "carol",
		Resolution: models.ResolutionApproved,
		ResolvedBy: "instructor",
	}
	assert.Equal(t, models.ItemStatusRejected, Evaluate(passes, pagePolicy, esc))
}

func TestEvaluate_OverrideCountsTowardThreshold(t *testing.T) {
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "alice", models.DecisionApproved),
		pass("consistency", "alice", models.DecisionApproved),
		pass(models.PassKindHumanOverride, "instructor", models.DecisionApproved),
	}
	esc := &models.Escalation{
		Reason:     "stuck",
		RaisedBy:   "alice",
		Resolution: models.ResolutionApproved,
		ResolvedBy: "instructor",
	}
	// alice + instructor reach the quiz threshold of 2.
	assert.Equal(t, models.ItemStatusApproved, Evaluate(passes, quizPolicy, esc))
}

func TestEvaluate_Deterministic(t *testing.T) {
	passes := []models.ReviewPass{
		pass("style", "alice", models.DecisionApproved),
		pass("fact_check", "bob", models.DecisionRejected),
		pass("fact_check", "bob", models.DecisionApproved),
		pass("consistency", "carol", models.DecisionApproved),
	}
	first := Evaluate(passes, quizPolicy, nil)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Evaluate(passes, quizPolicy, nil))
	}
}
