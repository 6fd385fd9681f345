package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest() *ApprovalRequest {
	return NewApprovalRequest("a1", RuleOverrideDecision, "proposal", "p1", "requester", "client disputes the score")
}

func TestSubmit_TwoDistinctApprovers(t *testing.T) {
	a := newRequest()
	assert.Equal(t, StatusPendingFirst, a.Status)

	require.NoError(t, a.Submit("alice", ActionApprove, "looks fine"))
	assert.Equal(t, StatusPendingSecond, a.Status)
	assert.Equal(t, "alice", a.FirstApprover)
	require.NotNil(t, a.FirstAt)

	require.NoError(t, a.Submit("bob", ActionApprove, "agreed"))
	assert.Equal(t, StatusApproved, a.Status)
	assert.Equal(t, "bob", a.SecondApprover)
	assert.True(t, a.Approved())
}

func TestSubmit_SameApproverBlocked(t *testing.T) {
	a := newRequest()
	require.NoError(t, a.Submit("alice", ActionApprove, ""))

	err := a.Submit("alice", ActionApprove, "trying again")
	assert.ErrorIs(t, err, ErrSameApprover)
	assert.Equal(t, StatusPendingSecond, a.Status)
	assert.Empty(t, a.SecondApprover)
}

func TestSubmit_RejectIsImmediatelyTerminal(t *testing.T) {
	first := newRequest()
	require.NoError(t, first.Submit("alice", ActionReject, "suspicious"))
	assert.Equal(t, StatusRejected, first.Status)
	assert.False(t, first.Approved())

	second := newRequest()
	require.NoError(t, second.Submit("alice", ActionApprove, ""))
	require.NoError(t, second.Submit("bob", ActionReject, "disagree"))
	assert.Equal(t, StatusRejected, second.Status)
}

func TestSubmit_TerminalRejectsFurtherSubmissions(t *testing.T) {
	a := newRequest()
	require.NoError(t, a.Submit("alice", ActionApprove, ""))
	require.NoError(t, a.Submit("bob", ActionApprove, ""))

	err := a.Submit("carol", ActionApprove, "late")
	assert.ErrorIs(t, err, ErrInvalidApprovalState)
}

func TestExpire(t *testing.T) {
	a := newRequest()
	require.NoError(t, a.Expire())
	assert.Equal(t, StatusExpired, a.Status)

	assert.ErrorIs(t, a.Expire(), ErrInvalidApprovalState)
	assert.ErrorIs(t, a.Submit("alice", ActionApprove, ""), ErrInvalidApprovalState)
}

func TestValidRuleType(t *testing.T) {
	assert.True(t, ValidRuleType("override_decision"))
	assert.True(t, ValidRuleType("high_value_disbursement"))
	assert.False(t, ValidRuleType("coffee_budget_increase"))
	assert.False(t, ValidRuleType(""))
}
