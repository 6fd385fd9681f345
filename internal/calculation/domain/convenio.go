package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConvenioConfig is the per-employer parameter snapshot consumed by the
// calculator. It is created and edited outside the engine and read by value;
// a calculation never observes a partially updated convênio.
type ConvenioConfig struct {
	ConvenioID       string
	Name             string
	Haircut          decimal.Decimal // discount on available margin, e.g. 0.95
	AdvancePct       decimal.Decimal // salary-advance share of margin, e.g. 0.25
	PaymentDay       int             // day of month the employer repasses payroll
	MinMarginPct     decimal.Decimal
	MaxMarginPct     decimal.Decimal
	MinTermMonths    int
	MaxTermMonths    int
	BaseMonthlyRate  decimal.Decimal // consignment pricing base
	RateRanges       []RateRange     // optional amount-keyed overrides
	OriginationPct   decimal.Decimal // fee percentage on principal
	InsurancePct     decimal.Decimal // insurance percentage on principal
	AdvanceFlatFee   decimal.Decimal // fixed salary-advance origination fee
	AdvanceMinPayout decimal.Decimal
	AdvanceMaxPayout decimal.Decimal
}

// RateRange overrides the base monthly rate for principals inside [Min, Max].
// A zero Max means no upper bound.
type RateRange struct {
	Min  decimal.Decimal
	Max  decimal.Decimal
	Rate decimal.Decimal
}

// DefaultConvenio returns the product defaults applied when an employer has no
// bespoke agreement parameters.
func DefaultConvenio() ConvenioConfig {
	return ConvenioConfig{
		Haircut:          decimal.NewFromFloat(0.95),
		AdvancePct:       decimal.NewFromFloat(0.25),
		PaymentDay:       5,
		MinTermMonths:    1,
		MaxTermMonths:    48,
		BaseMonthlyRate:  decimal.NewFromFloat(0.025),
		AdvanceFlatFee:   decimal.NewFromFloat(29.90),
		AdvanceMinPayout: decimal.NewFromInt(300),
		AdvanceMaxPayout: decimal.NewFromInt(600),
	}
}

// MonthlyRate resolves the consignment rate for a principal: the first matching
// amount range wins, otherwise the base rate applies.
func (c ConvenioConfig) MonthlyRate(principal decimal.Decimal) decimal.Decimal {
	for _, r := range c.RateRanges {
		if principal.LessThan(r.Min) {
			continue
		}
		if !r.Max.IsZero() && principal.GreaterThan(r.Max) {
			continue
		}
		return r.Rate
	}
	return c.BaseMonthlyRate
}

// NextRepasseDate returns the first occurrence of the convênio payment day on
// or after the given date. Payment days beyond a month's length clamp to its
// last day.
func (c ConvenioConfig) NextRepasseDate(from time.Time) time.Time {
	day := c.PaymentDay
	if day <= 0 {
		day = 1
	}

	year, month := from.Year(), from.Month()
	candidate := dateWithDay(year, month, day, from.Location())
	if candidate.Before(from.Truncate(24 * time.Hour)) {
		candidate = dateWithDay(year, month+1, day, from.Location())
	}
	return candidate
}

func dateWithDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, loc)
	lastDay := firstOfNext.AddDate(0, 0, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}
