package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadOpsOpenToEveryone(t *testing.T) {
	for _, op := range []string{OpItemHistory, OpSessionStatus, OpGetConflicts} {
		assert.True(t, Allowed(RoleContentAgent, op), op)
		assert.True(t, Allowed(RoleApprovalAgent, op), op)
		assert.True(t, Allowed(Role("unknown"), op), "unknown roles are read-only, not locked out")
	}
}

func TestWriteOps(t *testing.T) {
	cases := []struct {
		role    Role
		op      string
		allowed bool
	}{
		{RoleContentAgent, OpCreateSession, true},
		{RoleContentAgent, OpSubmitReview, false},
		{RoleContentAgent, OpApproveAndMerge, false},
		{RoleStyleAgent, OpSubmitReview, true},
		{RoleStyleAgent, OpEscalate, true},
		{RoleStyleAgent, OpCreateSession, false},
		{RoleFactCheckAgent, OpSubmitReview, true},
		{RoleConsistencyAgent, OpSubmitReview, true},
		{RoleApprovalAgent, OpApproveAndMerge, true},
		{RoleApprovalAgent, OpSubmitReview, true},
		{Role("unknown"), OpSubmitReview, false},
		{Role("unknown"), OpApproveAndMerge, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, Allowed(tc.role, tc.op), "%s / %s", tc.role, tc.op)
	}
}

func TestOnlyApprovalAgentMerges(t *testing.T) {
	for _, role := range Roles() {
		want := role == string(RoleApprovalAgent)
		assert.Equal(t, want, Allowed(Role(role), OpApproveAndMerge), role)
	}
}
