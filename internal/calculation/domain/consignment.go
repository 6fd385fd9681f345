package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanInput describes a consignment-loan pricing request.
type LoanInput struct {
	Principal decimal.Decimal
	Term      int             // installments n
	Rate      decimal.Decimal // resolved monthly rate i; zero is a valid degenerate case
}

// LoanResult is the calculator output for the installment product.
type LoanResult struct {
	Installment   decimal.Decimal `json:"installment"`
	Total         decimal.Decimal `json:"total"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	AnnualRate    decimal.Decimal `json:"annual_rate"`
	CET           decimal.Decimal `json:"cet"` // annualized composite effective cost
	TotalFees     decimal.Decimal `json:"total_fees"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	MonthlyRate   decimal.Decimal `json:"monthly_rate"`
}

// Installment is one row of the amortization schedule emitted on disbursement.
type Installment struct {
	Number    int             `json:"number"`
	DueDate   time.Time       `json:"due_date"`
	Amount    decimal.Decimal `json:"amount"`
	Interest  decimal.Decimal `json:"interest"`
	Principal decimal.Decimal `json:"principal"`
	Balance   decimal.Decimal `json:"balance"` // remaining after this payment
}

var (
	one    = decimal.NewFromInt(1)
	twelve = decimal.NewFromInt(12)
)

// CalculateLoan prices a consignment loan with the constant-payment (Price)
// formula: installment = R × (i × (1+i)^n) / ((1+i)^n − 1). A zero rate
// branches to the closed-form R/n split instead of dividing by zero.
func CalculateLoan(in LoanInput, cfg ConvenioConfig) (LoanResult, error) {
	if in.Principal.LessThanOrEqual(decimal.Zero) {
		return LoanResult{}, ErrInvalidAmount
	}
	if in.Term <= 0 {
		return LoanResult{}, ErrInvalidTerm
	}
	if in.Rate.IsNegative() {
		return LoanResult{}, ErrInvalidAmount
	}

	n := decimal.NewFromInt(int64(in.Term))

	var installment decimal.Decimal
	if in.Rate.IsZero() {
		installment = in.Principal.Div(n)
	} else {
		compound := one.Add(in.Rate).Pow(n)
		installment = in.Principal.Mul(in.Rate.Mul(compound)).Div(compound.Sub(one))
	}
	installment = installment.Round(2)

	total := installment.Mul(n)
	totalInterest := total.Sub(in.Principal)

	annualRate := decimal.Zero
	if !in.Rate.IsZero() {
		annualRate = one.Add(in.Rate).Pow(twelve).Sub(one)
	}

	feePct := cfg.OriginationPct.Add(cfg.InsurancePct)
	totalFees := in.Principal.Mul(feePct).Round(2)
	netAmount := in.Principal.Sub(totalFees)

	// CET spreads the upfront fee percentage across the term on top of the
	// periodic rate, then annualizes the composite.
	cetMonthly := in.Rate
	if in.Term > 0 {
		cetMonthly = cetMonthly.Add(feePct.Div(n))
	}
	cet := decimal.Zero
	if !cetMonthly.IsZero() {
		cet = one.Add(cetMonthly).Pow(twelve).Sub(one)
	}

	return LoanResult{
		Installment:   installment,
		Total:         total,
		TotalInterest: totalInterest,
		AnnualRate:    annualRate.Round(6),
		CET:           cet.Round(6),
		TotalFees:     totalFees,
		NetAmount:     netAmount,
		MonthlyRate:   in.Rate,
	}, nil
}

// BuildSchedule expands a priced loan into its per-installment breakdown.
// Due dates land on the convênio payment day, starting from the first
// occurrence at least one month after the disbursement date. The final row
// absorbs any rounding residue so the balance closes at exactly zero.
func BuildSchedule(in LoanInput, cfg ConvenioConfig, disbursedAt time.Time) ([]Installment, error) {
	result, err := CalculateLoan(in, cfg)
	if err != nil {
		return nil, err
	}

	firstDue := cfg.NextRepasseDate(disbursedAt.AddDate(0, 1, 0))
	balance := in.Principal
	schedule := make([]Installment, 0, in.Term)

	for k := 1; k <= in.Term; k++ {
		interest := balance.Mul(in.Rate).Round(2)
		principal := result.Installment.Sub(interest)
		amount := result.Installment

		if k == in.Term {
			// Close out the remaining balance exactly.
			principal = balance
			amount = balance.Add(interest)
		}

		balance = balance.Sub(principal)
		schedule = append(schedule, Installment{
			Number:    k,
			DueDate:   firstDue.AddDate(0, k-1, 0),
			Amount:    amount.Round(2),
			Interest:  interest,
			Principal: principal.Round(2),
			Balance:   balance.Round(2),
		})
	}
	return schedule, nil
}
