// Package authz maps agent roles to the workflow operations they may
// invoke. Unknown roles get read-only access.
package authz

// Role identifies what kind of agent is calling.
type Role string

const (
	RoleContentAgent     Role = "content_agent"
	RoleStyleAgent       Role = "style_agent"
	RoleFactCheckAgent   Role = "fact_check_agent"
	RoleConsistencyAgent Role = "consistency_agent"
	RoleApprovalAgent    Role = "approval_agent"
)

// Operation names match the MCP tool names.
const (
	OpCreateSession   = "create_review_session"
	OpSubmitReview    = "submit_review"
	OpItemHistory     = "get_item_review_history"
	OpSessionStatus   = "get_session_review_status"
	OpGetConflicts    = "get_review_conflicts"
	OpEscalate        = "escalate_review_conflict"
	OpApproveAndMerge = "approve_and_merge_workspace"
)

// readOps are available to every role, including unrecognized ones.
var readOps = map[string]bool{
	OpItemHistory:   true,
	OpSessionStatus: true,
	OpGetConflicts:  true,
}

var writeOps = map[Role]map[string]bool{
	RoleContentAgent: {
		OpCreateSession: true,
	},
	RoleStyleAgent: {
		OpSubmitReview: true,
		OpEscalate:     true,
	},
	RoleFactCheckAgent: {
		OpSubmitReview: true,
		OpEscalate:     true,
	},
	RoleConsistencyAgent: {
		OpSubmitReview: true,
		OpEscalate:     true,
	},
	RoleApprovalAgent: {
		OpSubmitReview:    true, // human_override passes
		OpEscalate:        true,
		OpApproveAndMerge: true,
	},
}

// Allowed reports whether the role may invoke the operation.
func Allowed(role Role, operation string) bool {
	if readOps[operation] {
		return true
	}
	return writeOps[role][operation]
}

// Roles lists the recognized roles, for CLI validation messages.
func Roles() []string {
	return []string{
		string(RoleContentAgent),
		string(RoleStyleAgent),
		string(RoleFactCheckAgent),
		string(RoleConsistencyAgent),
		string(RoleApprovalAgent),
	}
}
