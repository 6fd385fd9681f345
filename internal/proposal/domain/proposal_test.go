package domain

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoanProposal() *Proposal {
	return NewProposal("p1", "c1", "cv1", ProductConsignmentLoan, decimal.NewFromInt(5000), 12)
}

func TestNewProposal_AdvanceForcesSingleInstallment(t *testing.T) {
	p := NewProposal("p1", "c1", "cv1", ProductSalaryAdvance, decimal.NewFromInt(400), 12)
	assert.Equal(t, 1, p.Installments)
	assert.Equal(t, StatusDraft, p.Status)
}

func TestTransition_HappyPathToDisbursed(t *testing.T) {
	p := newLoanProposal()

	path := []Status{
		StatusAwaitingDocuments,
		StatusUnderAnalysis,
		StatusMarginCheck,
		StatusMarginApproved,
		StatusCCBPending,
		StatusCCBIssued,
		StatusSignaturePending,
		StatusSignatureCompleted,
		StatusAverbationPending,
		StatusAverbated,
		StatusDisbursed,
	}
	for _, next := range path {
		require.NoError(t, p.Transition(next, "step"), "edge to %s", next)
	}
	assert.True(t, p.Status.IsTerminal())
}

func TestTransition_NoEdgeLeavesStatusUntouched(t *testing.T) {
	p := newLoanProposal()

	err := p.Transition(StatusDisbursed, "skip everything")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusDraft, p.Status)
}

func TestTransition_TerminalAbsorbsEverything(t *testing.T) {
	p := newLoanProposal()
	require.NoError(t, p.Transition(StatusCancelled, "client gave up"))

	for _, target := range []Status{
		StatusAwaitingDocuments, StatusMarginCheck, StatusDisbursed, StatusExpired, StatusCancelled,
	} {
		assert.ErrorIs(t, p.Transition(target, "late"), ErrInvalidTransition, "edge to %s", target)
	}
}

func TestTransition_CancelAndExpireFromAnyNonTerminal(t *testing.T) {
	for _, from := range []Status{
		StatusDraft, StatusUnderAnalysis, StatusMarginApproved, StatusSignaturePending, StatusAverbated,
	} {
		p := newLoanProposal()
		p.Status = from
		assert.True(t, p.CanTransition(StatusCancelled), "cancel from %s", from)
		assert.True(t, p.CanTransition(StatusExpired), "expire from %s", from)
	}
}

func TestCanTransition_DirectDisbursementGuard(t *testing.T) {
	loan := newLoanProposal()
	loan.Status = StatusSignatureCompleted
	assert.False(t, loan.CanTransition(StatusDisbursed), "loans must averbate first")

	advance := NewProposal("p2", "c1", "cv1", ProductSalaryAdvance, decimal.NewFromInt(400), 1)
	advance.Status = StatusSignatureCompleted
	assert.False(t, advance.CanTransition(StatusDisbursed), "unvalidated account blocks the shortcut")

	advance.BankValidated = true
	assert.True(t, advance.CanTransition(StatusDisbursed))
}

func TestCanTransition_RejectionOverrideEdge(t *testing.T) {
	p := newLoanProposal()
	p.Status = StatusMarginRejected
	assert.True(t, p.CanTransition(StatusMarginApproved))
	assert.True(t, p.CanTransition(StatusRejected))
	assert.False(t, p.CanTransition(StatusCCBPending))
}

func TestSetDecision_ApprovedCappedByRequested(t *testing.T) {
	p := newLoanProposal()

	err := p.SetDecision(DecisionApproved, 10, decimal.NewFromInt(6000))
	assert.ErrorIs(t, err, ErrApprovedOverRequested)
	assert.Equal(t, DecisionNone, p.DecisionResult)

	require.NoError(t, p.SetDecision(DecisionApproved, 10, decimal.NewFromInt(5000)))
	assert.Equal(t, DecisionApproved, p.DecisionResult)
	require.NotNil(t, p.DecisionScore)
	assert.Equal(t, 10, *p.DecisionScore)
	assert.Equal(t, "5000", p.ApprovedAmount.String())
}

func TestSetDecision_RejectedKeepsApprovedAmountZero(t *testing.T) {
	p := newLoanProposal()
	require.NoError(t, p.SetDecision(DecisionRejected, 80, decimal.NewFromInt(5000)))
	assert.True(t, p.ApprovedAmount.IsZero())
}

func TestAppendNote_AppendOnly(t *testing.T) {
	p := newLoanProposal()
	p.AppendNote("first")
	p.AppendNote("")
	p.AppendNote("second")

	assert.Contains(t, p.Notes, "first")
	assert.Contains(t, p.Notes, "second")
	assert.Len(t, strings.Split(p.Notes, "\n"), 2)
}

func TestPostDecision(t *testing.T) {
	p := newLoanProposal()
	for _, s := range []Status{StatusDraft, StatusAwaitingDocuments, StatusUnderAnalysis, StatusMarginCheck} {
		p.Status = s
		assert.False(t, p.PostDecision(), "status %s", s)
	}
	for _, s := range []Status{StatusMarginApproved, StatusMarginRejected, StatusCCBPending, StatusDisbursed, StatusRejected} {
		p.Status = s
		assert.True(t, p.PostDecision(), "status %s", s)
	}
}
