package application

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/consigfacil/creditengine/internal/proposal/domain"
)

// CreateProposalCommand is the intake payload for a new credit request.
type CreateProposalCommand struct {
	ClientID          string          `json:"client_id"`
	ConvenioID        string          `json:"convenio_id"`
	ProductType       string          `json:"product_type"`
	PixKey            string          `json:"pix_key"`
	Margin            decimal.Decimal `json:"margin"`
	RequestedAmount   decimal.Decimal `json:"requested_amount"`
	RequestedPct      decimal.Decimal `json:"requested_pct"`
	Installments      int             `json:"installments"`
	DaysWorked        int             `json:"days_worked"`
	ClaimsAffiliation bool            `json:"claims_affiliation"`
}

// EvaluationResult is the outcome of one EvaluateProposal run.
type EvaluationResult struct {
	ProposalID     string                `json:"proposal_id"`
	NewStatus      domain.Status         `json:"new_status"`
	DecisionResult domain.DecisionResult `json:"decision_result"`
	Score          int                   `json:"score"`
	WithinLimits   bool                  `json:"within_limits"`
	// NoOp marks an idempotent return: the proposal was already terminal or
	// post-decision and nothing was written.
	NoOp bool `json:"no_op"`
}

// ManualDecisionCommand is a reviewer's verdict on a manual_review proposal
// or an override of an automatic rejection.
type ManualDecisionCommand struct {
	ProposalID string `json:"proposal_id"`
	ReviewerID string `json:"reviewer_id"`
	Approve    bool   `json:"approve"`
	Notes      string `json:"notes"`
}

// DisburseCommand confirms the outbound payment for an approved proposal.
type DisburseCommand struct {
	ProposalID  string    `json:"proposal_id"`
	Actor       string    `json:"actor"`
	DisbursedAt time.Time `json:"disbursed_at"`
}

// BankValidationCommand records the payout-account check outcome on the
// proposal, enabling the direct disbursement edge for salary advances.
type BankValidationCommand struct {
	ProposalID    string `json:"proposal_id"`
	IsOwner       bool   `json:"is_owner"`
	IsBlacklisted bool   `json:"is_blacklisted"`
}
