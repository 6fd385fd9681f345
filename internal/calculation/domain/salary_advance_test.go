package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateAdvance_FullMonth(t *testing.T) {
	cfg := DefaultConvenio()

	result, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(1500),
		RequestedPct: decimal.NewFromInt(1),
		DaysWorked:   30,
		CalcDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, cfg)
	require.NoError(t, err)

	// 1500 × 0.95 × 0.25 = 356.25, full month worked
	assert.Equal(t, "356.25", result.MaxAvailable.StringFixed(2))
	assert.Equal(t, "356.25", result.Disbursed.StringFixed(2))
	assert.Equal(t, "29.90", result.Fee.StringFixed(2))
	assert.Equal(t, "386.15", result.Repayment.StringFixed(2))
	assert.True(t, result.WithinLimits)
}

func TestCalculateAdvance_ProratedByDaysWorked(t *testing.T) {
	cfg := DefaultConvenio()

	result, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(1500),
		RequestedPct: decimal.NewFromInt(1),
		DaysWorked:   15,
	}, cfg)
	require.NoError(t, err)

	// half the cycle worked, half the base available
	assert.Equal(t, "178.13", result.MaxAvailable.StringFixed(2))
	assert.Equal(t, "178.13", result.Disbursed.StringFixed(2))
	assert.False(t, result.WithinLimits, "below the minimum payout")
}

func TestCalculateAdvance_DaysWorkedCappedAt31(t *testing.T) {
	cfg := DefaultConvenio()

	capped, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(1500),
		RequestedPct: decimal.NewFromInt(1),
		DaysWorked:   45,
	}, cfg)
	require.NoError(t, err)

	at31, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(1500),
		RequestedPct: decimal.NewFromInt(1),
		DaysWorked:   31,
	}, cfg)
	require.NoError(t, err)

	assert.True(t, capped.MaxAvailable.Equal(at31.MaxAvailable))
	assert.Equal(t, "368.13", capped.MaxAvailable.StringFixed(2))
}

func TestCalculateAdvance_RequestBelowAvailability(t *testing.T) {
	cfg := DefaultConvenio()

	result, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(1500),
		RequestedPct: decimal.NewFromFloat(0.2),
		DaysWorked:   30,
	}, cfg)
	require.NoError(t, err)

	// 20% of margin (300.00) is under the 356.25 availability
	assert.Equal(t, "300.00", result.Disbursed.StringFixed(2))
	assert.True(t, result.WithinLimits)
}

func TestCalculateAdvance_AboveMaxPayout(t *testing.T) {
	cfg := DefaultConvenio()

	result, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(4000),
		RequestedPct: decimal.NewFromInt(1),
		DaysWorked:   30,
	}, cfg)
	require.NoError(t, err)

	// 4000 × 0.95 × 0.25 = 950.00, over the 600 ceiling
	assert.Equal(t, "950.00", result.Disbursed.StringFixed(2))
	assert.False(t, result.WithinLimits)
}

func TestCalculateAdvance_RepasseAndYield(t *testing.T) {
	cfg := DefaultConvenio() // payment day 5

	result, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(1500),
		RequestedPct: decimal.NewFromInt(1),
		DaysWorked:   30,
		CalcDate:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), result.RepasseDate)
	assert.Equal(t, 4, result.YieldDays)
	assert.Equal(t, "0.083930", result.EffectiveCost.StringFixed(6))
}

func TestCalculateAdvance_InvalidInputs(t *testing.T) {
	cfg := DefaultConvenio()

	_, err := CalculateAdvance(AdvanceInput{
		Margin:       decimal.Zero,
		RequestedPct: decimal.NewFromInt(1),
	}, cfg)
	assert.ErrorIs(t, err, ErrInvalidMargin)

	_, err = CalculateAdvance(AdvanceInput{
		Margin:       decimal.NewFromInt(1500),
		RequestedPct: decimal.Zero,
	}, cfg)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}
