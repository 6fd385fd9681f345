package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/consigfacil/creditengine/internal/calculation/domain"
)

// ConvenioModel is the gorm mapping of an employer agreement row. The
// amount-keyed rate overrides live in a JSON column; rows are administered by
// the back-office, the engine only reads them.
type ConvenioModel struct {
	gorm.Model
	ConvenioID       string          `gorm:"column:convenio_id;type:varchar(64);uniqueIndex;not null"`
	Name             string          `gorm:"column:name;type:varchar(128);not null"`
	Haircut          decimal.Decimal `gorm:"column:haircut;type:decimal(10,4);not null"`
	AdvancePct       decimal.Decimal `gorm:"column:advance_pct;type:decimal(10,4);not null"`
	PaymentDay       int             `gorm:"column:payment_day;not null"`
	MinMarginPct     decimal.Decimal `gorm:"column:min_margin_pct;type:decimal(10,4)"`
	MaxMarginPct     decimal.Decimal `gorm:"column:max_margin_pct;type:decimal(10,4)"`
	MinTermMonths    int             `gorm:"column:min_term_months"`
	MaxTermMonths    int             `gorm:"column:max_term_months"`
	BaseMonthlyRate  decimal.Decimal `gorm:"column:base_monthly_rate;type:decimal(10,6);not null"`
	RateRanges       string          `gorm:"column:rate_ranges;type:text"`
	OriginationPct   decimal.Decimal `gorm:"column:origination_pct;type:decimal(10,4)"`
	InsurancePct     decimal.Decimal `gorm:"column:insurance_pct;type:decimal(10,4)"`
	AdvanceFlatFee   decimal.Decimal `gorm:"column:advance_flat_fee;type:decimal(20,2)"`
	AdvanceMinPayout decimal.Decimal `gorm:"column:advance_min_payout;type:decimal(20,2)"`
	AdvanceMaxPayout decimal.Decimal `gorm:"column:advance_max_payout;type:decimal(20,2)"`
}

// TableName sets the convenios table.
func (ConvenioModel) TableName() string { return "convenios" }

type rateRangeJSON struct {
	Min  decimal.Decimal `json:"min"`
	Max  decimal.Decimal `json:"max"`
	Rate decimal.Decimal `json:"rate"`
}

// ConvenioRepo implements domain.ConvenioProvider on MySQL.
type ConvenioRepo struct {
	db *gorm.DB
}

// NewConvenioRepo creates the repository.
func NewConvenioRepo(db *gorm.DB) *ConvenioRepo {
	return &ConvenioRepo{db: db}
}

// Get loads the agreement snapshot by its public id.
func (r *ConvenioRepo) Get(ctx context.Context, convenioID string) (domain.ConvenioConfig, error) {
	var model ConvenioModel
	if err := r.db.WithContext(ctx).Where("convenio_id = ?", convenioID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ConvenioConfig{}, domain.ErrConvenioNotFound
		}
		return domain.ConvenioConfig{}, err
	}

	cfg := domain.ConvenioConfig{
		ConvenioID:       model.ConvenioID,
		Name:             model.Name,
		Haircut:          model.Haircut,
		AdvancePct:       model.AdvancePct,
		PaymentDay:       model.PaymentDay,
		MinMarginPct:     model.MinMarginPct,
		MaxMarginPct:     model.MaxMarginPct,
		MinTermMonths:    model.MinTermMonths,
		MaxTermMonths:    model.MaxTermMonths,
		BaseMonthlyRate:  model.BaseMonthlyRate,
		OriginationPct:   model.OriginationPct,
		InsurancePct:     model.InsurancePct,
		AdvanceFlatFee:   model.AdvanceFlatFee,
		AdvanceMinPayout: model.AdvanceMinPayout,
		AdvanceMaxPayout: model.AdvanceMaxPayout,
	}

	if model.RateRanges != "" {
		var ranges []rateRangeJSON
		if err := json.Unmarshal([]byte(model.RateRanges), &ranges); err != nil {
			return domain.ConvenioConfig{}, fmt.Errorf("convenio %s: decode rate ranges: %w", convenioID, err)
		}
		for _, rr := range ranges {
			cfg.RateRanges = append(cfg.RateRanges, domain.RateRange{Min: rr.Min, Max: rr.Max, Rate: rr.Rate})
		}
	}
	return cfg, nil
}
