// Package consensus derives an item's aggregate review status from its
// pass history and the active workflow policy. Evaluation is a pure
// function of its inputs: the same ordered pass sequence and policy
// always produce the same status.
package consensus

import (
	"github.com/lucidbard/canvas-author/internal/models"
	"github.com/lucidbard/canvas-author/internal/policy"
)

// Evaluate computes the aggregate status for an item.
//
// The rules are deliberately asymmetric: a single surviving rejection
// vetoes the item no matter how many approvals exist, while approval
// requires a distinct-reviewer count to clear the policy threshold. An
// unresolved escalation preempts everything. A resolved escalation's
// human_override pass outranks prior vetoes for this item only.
func Evaluate(passes []models.ReviewPass, pol policy.ItemPolicy, esc *models.Escalation) models.ItemStatus {
	if esc != nil && !esc.Resolved() {
		return models.ItemStatusEscalationPending
	}

	surviving := supersede(passes)

	// An approving override lifts vetoes accepted before it; objections
	// raised after the human ruled stand on their own. overrideIdx marks
	// the latest surviving approving override in acceptance order.
	overrideIdx := -1
	for i, p := range surviving {
		if p.PassKind == models.PassKindHumanOverride && p.Decision == models.DecisionApproved {
			overrideIdx = i
		}
	}

	// Every required kind needs at least one surviving pass.
	byKind := make(map[string][]models.ReviewPass, len(pol.RequiredPasses))
	required := make(map[string]bool, len(pol.RequiredPasses))
	for _, p := range surviving {
		byKind[p.PassKind] = append(byKind[p.PassKind], p)
	}
	for _, kind := range pol.RequiredPasses {
		required[kind] = true
		if len(byKind[kind]) == 0 {
			return models.ItemStatusPending
		}
	}

	// Veto: one surviving rejection on a required kind halts merge,
	// unless an approving override was accepted after it.
	for i, p := range surviving {
		if required[p.PassKind] && p.Decision == models.DecisionRejected && i > overrideIdx {
			return models.ItemStatusRejected
		}
	}

	// Threshold: distinct reviewers approving across required kinds.
	// An approving override reviewer counts toward the threshold as an
	// additional required-kind pass.
	approvers := make(map[string]bool)
	for _, kind := range pol.RequiredPasses {
		for _, p := range byKind[kind] {
			if p.Decision == models.DecisionApproved {
				approvers[p.ReviewerID] = true
			}
		}
	}
	for _, p := range surviving {
		if p.PassKind == models.PassKindHumanOverride && p.Decision == models.DecisionApproved {
			approvers[p.ReviewerID] = true
		}
	}

	if len(approvers) >= pol.RequiredApprovals {
		return models.ItemStatusApproved
	}
	return models.ItemStatusPending
}

// supersede keeps only the most recent pass per (reviewer, kind) pair.
// "Most recent" is acceptance order, not the caller-supplied timestamp,
// so clock skew between reviewers cannot reorder verdicts. Historical
// passes stay in the stored sequence for audit; they just stop counting.
func supersede(passes []models.ReviewPass) []models.ReviewPass {
	type key struct{ reviewer, kind string }

	latest := make(map[key]int, len(passes))
	for i, p := range passes {
		latest[key{p.ReviewerID, p.PassKind}] = i
	}

	out := make([]models.ReviewPass, 0, len(latest))
	for i, p := range passes {
		if latest[key{p.ReviewerID, p.PassKind}] == i {
			out = append(out, p)
		}
	}
	return out
}
