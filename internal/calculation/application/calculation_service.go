package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/consigfacil/creditengine/internal/calculation/domain"
	"github.com/consigfacil/creditengine/pkg/metrics"
)

// AdvanceCommand requests a salary-advance disbursement calculation.
type AdvanceCommand struct {
	ConvenioID   string
	Margin       decimal.Decimal
	RequestedPct decimal.Decimal
	DaysWorked   int
	CalcDate     time.Time
}

// LoanCommand requests a consignment-loan pricing.
type LoanCommand struct {
	ConvenioID string
	Principal  decimal.Decimal
	Term       int
	// RateOverride, when positive, bypasses the convênio pricing rule.
	RateOverride decimal.Decimal
}

// CalculationService resolves convênio parameters and runs the pure
// calculators. Out-of-limit results are returned, never blocked here; the
// state machine owns that policy decision.
type CalculationService struct {
	convenios domain.ConvenioProvider
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewCalculationService wires the calculator use cases.
func NewCalculationService(convenios domain.ConvenioProvider, m *metrics.Metrics, logger *slog.Logger) *CalculationService {
	return &CalculationService{convenios: convenios, metrics: m, logger: logger}
}

// Convenio resolves the agreement snapshot, falling back to product defaults
// when no convênio id is supplied.
func (s *CalculationService) Convenio(ctx context.Context, convenioID string) (domain.ConvenioConfig, error) {
	if convenioID == "" {
		return domain.DefaultConvenio(), nil
	}
	cfg, err := s.convenios.Get(ctx, convenioID)
	if err != nil {
		return domain.ConvenioConfig{}, fmt.Errorf("failed to resolve convenio %s: %w", convenioID, err)
	}
	return cfg, nil
}

// CalculateAdvance prices a salary-advance draw.
func (s *CalculationService) CalculateAdvance(ctx context.Context, cmd AdvanceCommand) (*domain.AdvanceResult, error) {
	cfg, err := s.Convenio(ctx, cmd.ConvenioID)
	if err != nil {
		return nil, err
	}

	result, err := domain.CalculateAdvance(domain.AdvanceInput{
		Margin:       cmd.Margin,
		RequestedPct: cmd.RequestedPct,
		DaysWorked:   cmd.DaysWorked,
		CalcDate:     cmd.CalcDate,
	}, cfg)
	if err != nil {
		return nil, err
	}

	if !result.WithinLimits && s.metrics != nil {
		s.metrics.LimitRejections.Inc()
	}
	s.logger.DebugContext(ctx, "advance calculated",
		"convenio_id", cmd.ConvenioID,
		"disbursed", result.Disbursed,
		"within_limits", result.WithinLimits,
	)
	return &result, nil
}

// CalculateLoan prices a consignment loan under the convênio rate rule.
func (s *CalculationService) CalculateLoan(ctx context.Context, cmd LoanCommand) (*domain.LoanResult, error) {
	cfg, err := s.Convenio(ctx, cmd.ConvenioID)
	if err != nil {
		return nil, err
	}

	rate := cmd.RateOverride
	if !rate.IsPositive() {
		rate = cfg.MonthlyRate(cmd.Principal)
	}

	result, err := domain.CalculateLoan(domain.LoanInput{
		Principal: cmd.Principal,
		Term:      cmd.Term,
		Rate:      rate,
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// BuildSchedule expands a disbursed loan into its collection schedule.
func (s *CalculationService) BuildSchedule(ctx context.Context, cmd LoanCommand, disbursedAt time.Time) ([]domain.Installment, error) {
	cfg, err := s.Convenio(ctx, cmd.ConvenioID)
	if err != nil {
		return nil, err
	}

	rate := cmd.RateOverride
	if !rate.IsPositive() {
		rate = cfg.MonthlyRate(cmd.Principal)
	}
	return domain.BuildSchedule(domain.LoanInput{
		Principal: cmd.Principal,
		Term:      cmd.Term,
		Rate:      rate,
	}, cfg, disbursedAt)
}
