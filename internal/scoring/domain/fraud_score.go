package domain

import (
	"fmt"
	"time"
)

// Severity grades an individual risk factor.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RiskLevel is the categorical band derived from the total score.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// Score thresholds. ManualReviewThreshold doubles as the auto-reject floor
// consumed by the proposal state machine.
const (
	MediumThreshold       = 20
	ManualReviewThreshold = 40
	CriticalThreshold     = 70
)

// Fixed factor contributions.
const (
	PointsNoCreditHistory   = 60
	PointsRegistryMismatch  = 40
	PointsBlacklistedPix    = 80
	PointsTitularityUnknown = 70
	PointsFirstOperation    = 5
	PointsMonthlyVelocity   = 30
	PointsSharedPixKey      = 50
)

// RiskFactor is one itemized contribution to the total score.
type RiskFactor struct {
	Factor   string   `json:"factor"`
	Severity Severity `json:"severity"`
	Points   int      `json:"points"`
	Detail   string   `json:"detail"`
}

// FraudScore is the immutable record of one scoring evaluation. It is created
// once per evaluation event and never mutated.
type FraudScore struct {
	ID                   string       `json:"id"`
	ClientID             string       `json:"client_id"`
	ProposalID           string       `json:"proposal_id"`
	Score                int          `json:"score"`
	RiskLevel            RiskLevel    `json:"risk_level"`
	RiskFactors          []RiskFactor `json:"risk_factors"`
	RequiresManualReview bool         `json:"requires_manual_review"`
	CreatedAt            time.Time    `json:"created_at"`
}

// LevelForScore maps a total score to its band. The sum is left unclamped;
// totals above 100 simply signal extreme risk inside the critical band.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= CriticalThreshold:
		return RiskLevelCritical
	case score >= ManualReviewThreshold:
		return RiskLevelHigh
	case score >= MediumThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// ClientHistory is the aggregated prior consumed during evaluation.
type ClientHistory struct {
	TotalOperations       int
	SuccessfulOperations  int
	OperationsThisMonth   int
	SharedPixOtherClients int // distinct other client ids using the same pix key
}

// EvaluationInput gathers everything the scoring run needs. Verification
// fields default to failed outcomes so that an unpopulated input scores
// maximally cautious.
type EvaluationInput struct {
	ClientID          string
	ProposalID        string
	PixKey            string
	ClaimsAffiliation bool
	Bureau            BureauResult
	Registry          RegistryResult
	BankAccount       BankAccountResult
	History           ClientHistory
}

// Evaluate runs the weighted additive scoring in a fixed factor order so that
// identical inputs always reproduce identical scores.
//
// The first-operation signal is suppressed once the running subtotal of the
// other factors reaches the manual-review threshold. The bureau-history
// contribution is excluded from that subtotal: a first operation necessarily
// has no bureau history, and counting those points would make the signal
// unreachable for the very clients it describes.
func Evaluate(in EvaluationInput) FraudScore {
	var factors []RiskFactor
	score := 0
	nonHistorySubtotal := 0

	add := func(name string, severity Severity, points int, detail string, countsTowardSuppression bool) {
		factors = append(factors, RiskFactor{Factor: name, Severity: severity, Points: points, Detail: detail})
		score += points
		if countsTowardSuppression {
			nonHistorySubtotal += points
		}
	}

	if !in.Bureau.HasHistory() {
		add("no_credit_history", SeverityCritical, PointsNoCreditHistory,
			"no prior credit history found at the bureau", false)
	}

	if in.ClaimsAffiliation && !in.Registry.AffiliationConfirmed() {
		add("registry_unconfirmed", SeverityHigh, PointsRegistryMismatch,
			"claimed public-employment affiliation not confirmed by the registry", true)
	}

	if in.BankAccount.Blacklisted() {
		add("blacklisted_account", SeverityCritical, PointsBlacklistedPix,
			"payout account is on the blacklist", true)
	}

	if !in.BankAccount.OwnerConfirmed() {
		add("titularity_unconfirmed", SeverityCritical, PointsTitularityUnknown,
			"payout account titularity not confirmed for this client", true)
	}

	if in.History.TotalOperations == 0 && nonHistorySubtotal < ManualReviewThreshold {
		add("first_operation", SeverityLow, PointsFirstOperation,
			"first operation for this client with no dominating risk flags", true)
	}

	if in.History.OperationsThisMonth > 2 {
		add("monthly_velocity", SeverityHigh, PointsMonthlyVelocity,
			fmt.Sprintf("%d operations in the current calendar month", in.History.OperationsThisMonth), true)
	}

	if in.History.SharedPixOtherClients > 0 {
		add("shared_pix_key", SeverityCritical, PointsSharedPixKey,
			fmt.Sprintf("pix key used by %d other client identifier(s)", in.History.SharedPixOtherClients), true)
	}

	return FraudScore{
		ClientID:             in.ClientID,
		ProposalID:           in.ProposalID,
		Score:                score,
		RiskLevel:            LevelForScore(score),
		RiskFactors:          factors,
		RequiresManualReview: score >= ManualReviewThreshold,
		CreatedAt:            time.Now(),
	}
}
