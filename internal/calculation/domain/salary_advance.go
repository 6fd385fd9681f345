package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("requested amount must be positive")
	ErrInvalidTerm   = errors.New("installment term must be positive")
	ErrInvalidMargin = errors.New("available margin must be positive")
)

// AdvanceInput describes a single salary-advance draw request.
type AdvanceInput struct {
	Margin       decimal.Decimal // consignable margin M
	RequestedPct decimal.Decimal // share of margin requested, 1.0 = 100%
	DaysWorked   int             // 0 means not informed (full month assumed)
	CalcDate     time.Time
}

// AdvanceResult is the calculator output for the salary-advance product.
// WithinLimits is reported, never enforced here: the state machine decides
// whether an out-of-limit proposal may advance.
type AdvanceResult struct {
	Disbursed     decimal.Decimal `json:"disbursed"`      // V0
	Fee           decimal.Decimal `json:"fee"`            //
	Repayment     decimal.Decimal `json:"repayment"`      // V1 = V0 + fee
	MaxAvailable  decimal.Decimal `json:"max_available"`  //
	WithinLimits  bool            `json:"within_limits"`  //
	RepasseDate   time.Time       `json:"repasse_date"`   //
	YieldDays     int             `json:"yield_days"`     //
	EffectiveCost decimal.Decimal `json:"effective_cost"` // fee / V0
}

// thirty caps the days-worked proration at 31/30 of a full month.
var (
	thirty    = decimal.NewFromInt(30)
	thirtyOne = decimal.NewFromInt(31)
)

// CalculateAdvance derives the disbursement for a salary advance.
//
// The base availability is M × haircut × advancePct, prorated by days worked
// in the current cycle. The disbursed amount is the smaller of the requested
// share of margin and that availability.
func CalculateAdvance(in AdvanceInput, cfg ConvenioConfig) (AdvanceResult, error) {
	if in.Margin.LessThanOrEqual(decimal.Zero) {
		return AdvanceResult{}, ErrInvalidMargin
	}
	if in.RequestedPct.LessThanOrEqual(decimal.Zero) {
		return AdvanceResult{}, ErrInvalidAmount
	}

	base := in.Margin.Mul(cfg.Haircut).Mul(cfg.AdvancePct)

	maxAvailable := base
	if in.DaysWorked > 0 {
		worked := decimal.NewFromInt(int64(in.DaysWorked))
		if worked.GreaterThan(thirtyOne) {
			worked = thirtyOne
		}
		maxAvailable = base.Mul(worked).Div(thirty)
	}

	requested := in.RequestedPct.Mul(in.Margin)
	disbursed := decimal.Min(requested, maxAvailable)
	fee := cfg.AdvanceFlatFee
	repayment := disbursed.Add(fee)

	withinLimits := disbursed.GreaterThanOrEqual(cfg.AdvanceMinPayout) &&
		disbursed.LessThanOrEqual(cfg.AdvanceMaxPayout)

	calcDate := in.CalcDate
	if calcDate.IsZero() {
		calcDate = time.Now()
	}
	repasse := cfg.NextRepasseDate(calcDate)
	yieldDays := int(repasse.Sub(calcDate.Truncate(24*time.Hour)).Hours() / 24)

	effectiveCost := decimal.Zero
	if disbursed.IsPositive() {
		effectiveCost = fee.Div(disbursed).Round(6)
	}

	return AdvanceResult{
		Disbursed:     disbursed.Round(2),
		Fee:           fee,
		Repayment:     repayment.Round(2),
		MaxAvailable:  maxAvailable.Round(2),
		WithinLimits:  withinLimits,
		RepasseDate:   repasse,
		YieldDays:     yieldDays,
		EffectiveCost: effectiveCost,
	}, nil
}
