package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrProposalNotFound  = errors.New("proposal not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrVersionConflict   = errors.New("proposal modified concurrently")
	ErrApprovedOverRequested = errors.New("approved amount exceeds requested amount")
)

// ProductType distinguishes the two lending models.
type ProductType string

const (
	ProductSalaryAdvance   ProductType = "salary_advance"
	ProductConsignmentLoan ProductType = "consignment_loan"
)

// Status is the proposal lifecycle state. Transitions only move along the
// edges in the transition table below.
type Status string

const (
	StatusDraft              Status = "draft"
	StatusAwaitingDocuments  Status = "awaiting_documents"
	StatusUnderAnalysis      Status = "under_analysis"
	StatusMarginCheck        Status = "margin_check"
	StatusMarginApproved     Status = "margin_approved"
	StatusMarginRejected     Status = "margin_rejected"
	StatusCCBPending         Status = "ccb_pending"
	StatusCCBIssued          Status = "ccb_issued"
	StatusSignaturePending   Status = "signature_pending"
	StatusSignatureCompleted Status = "signature_completed"
	StatusAverbationPending  Status = "averbation_pending"
	StatusAverbated          Status = "averbated"
	StatusDisbursed          Status = "disbursed"
	StatusRejected           Status = "rejected"
	StatusCancelled          Status = "cancelled"
	StatusExpired            Status = "expired"
)

// DecisionResult is the engine's verdict attached to a scored proposal.
type DecisionResult string

const (
	DecisionNone         DecisionResult = ""
	DecisionApproved     DecisionResult = "approved"
	DecisionRejected     DecisionResult = "rejected"
	DecisionManualReview DecisionResult = "manual_review"
)

// transitions is the closed edge set of the lifecycle. cancelled and expired
// are additionally reachable from every non-terminal state (see CanTransition).
var transitions = map[Status][]Status{
	StatusDraft:              {StatusAwaitingDocuments},
	StatusAwaitingDocuments:  {StatusUnderAnalysis},
	StatusUnderAnalysis:      {StatusMarginCheck, StatusRejected},
	StatusMarginCheck:        {StatusMarginApproved, StatusMarginRejected, StatusRejected},
	StatusMarginApproved:     {StatusCCBPending, StatusRejected},
	StatusMarginRejected:     {StatusMarginApproved, StatusRejected},
	StatusCCBPending:         {StatusCCBIssued},
	StatusCCBIssued:          {StatusSignaturePending},
	StatusSignaturePending:   {StatusSignatureCompleted},
	StatusSignatureCompleted: {StatusAverbationPending, StatusDisbursed},
	StatusAverbationPending:  {StatusAverbated},
	StatusAverbated:          {StatusDisbursed},
	StatusDisbursed:          {},
	StatusRejected:           {},
	StatusCancelled:          {},
	StatusExpired:            {},
}

// IsTerminal reports whether s absorbs all further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDisbursed, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Proposal is the central record of a credit request. Only the state machine
// mutates Status; Notes is an append-only rationale log.
type Proposal struct {
	ID               string          `json:"id"`
	ClientID         string          `json:"client_id"`
	ConvenioID       string          `json:"convenio_id"`
	ProductType      ProductType     `json:"product_type"`
	PixKey           string          `json:"pix_key"`
	Margin           decimal.Decimal `json:"margin"`
	RequestedAmount  decimal.Decimal `json:"requested_amount"`
	RequestedPct     decimal.Decimal `json:"requested_pct"`
	ApprovedAmount   decimal.Decimal `json:"approved_amount"`
	Installments     int             `json:"installments"`
	InstallmentValue decimal.Decimal `json:"installment_value"`
	DaysWorked       int             `json:"days_worked"`
	ClaimsAffiliation bool           `json:"claims_affiliation"`
	// BankValidated is set when the payout account passed titularity and
	// blacklist checks; it guards the direct disbursement edge for advances.
	BankValidated  bool           `json:"bank_validated"`
	Status         Status         `json:"status"`
	DecisionResult DecisionResult `json:"decision_result"`
	DecisionScore  *int           `json:"decision_score,omitempty"`
	Notes          string         `json:"notes"`
	Version        uint64         `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// NewProposal creates a draft proposal. Salary advances always carry a single
// installment regardless of the requested term.
func NewProposal(id, clientID, convenioID string, product ProductType, requested decimal.Decimal, installments int) *Proposal {
	if product == ProductSalaryAdvance {
		installments = 1
	}
	now := time.Now()
	return &Proposal{
		ID:              id,
		ClientID:        clientID,
		ConvenioID:      convenioID,
		ProductType:     product,
		RequestedAmount: requested,
		Installments:    installments,
		Status:          StatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// CanTransition reports whether the edge from the current status to target
// exists, including the universal cancel/expire edges.
func (p *Proposal) CanTransition(target Status) bool {
	if p.Status.IsTerminal() {
		return false
	}
	if target == StatusCancelled || target == StatusExpired {
		return true
	}
	if target == StatusDisbursed && p.Status == StatusSignatureCompleted {
		// Direct disbursement skips averbation only for salary advances whose
		// payout account passed validation.
		return p.ProductType == ProductSalaryAdvance && p.BankValidated
	}
	for _, next := range transitions[p.Status] {
		if next == target {
			return true
		}
	}
	return false
}

// Transition moves the proposal to target, appending the rationale to the
// notes log. The status is left untouched when no edge exists.
func (p *Proposal) Transition(target Status, rationale string) error {
	if !p.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
	}
	p.Status = target
	p.AppendNote(rationale)
	p.UpdatedAt = time.Now()
	return nil
}

// SetDecision records the scoring verdict. The approved amount can never
// exceed what was requested.
func (p *Proposal) SetDecision(result DecisionResult, score int, approved decimal.Decimal) error {
	if approved.GreaterThan(p.RequestedAmount) {
		return ErrApprovedOverRequested
	}
	p.DecisionResult = result
	s := score
	p.DecisionScore = &s
	if result == DecisionApproved || result == DecisionManualReview {
		p.ApprovedAmount = approved
	}
	p.UpdatedAt = time.Now()
	return nil
}

// AppendNote adds one line to the rationale log.
func (p *Proposal) AppendNote(note string) {
	if note == "" {
		return
	}
	if p.Notes != "" {
		p.Notes += "\n"
	}
	p.Notes += fmt.Sprintf("[%s] %s", time.Now().Format(time.RFC3339), note)
}

// PostDecision reports whether the proposal already carries a decision or sits
// past the margin gate, making a fresh evaluation a no-op.
func (p *Proposal) PostDecision() bool {
	if p.Status.IsTerminal() {
		return true
	}
	switch p.Status {
	case StatusDraft, StatusAwaitingDocuments, StatusUnderAnalysis, StatusMarginCheck:
		return false
	}
	return true
}
