package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	approvalapp "github.com/consigfacil/creditengine/internal/approval/application"
	calcapp "github.com/consigfacil/creditengine/internal/calculation/application"
	"github.com/consigfacil/creditengine/internal/proposal/domain"
	scoringapp "github.com/consigfacil/creditengine/internal/scoring/application"
	scoringdomain "github.com/consigfacil/creditengine/internal/scoring/domain"
	"github.com/consigfacil/creditengine/pkg/metrics"
)

var (
	// ErrEvaluationInFlight signals a second evaluation racing the per-proposal lock.
	ErrEvaluationInFlight = errors.New("another evaluation is in flight for this proposal")
	// ErrApprovalRequired signals a sensitive action attempted without a
	// cleared dual-approval workflow.
	ErrApprovalRequired = errors.New("action requires a completed dual approval")
	// ErrNotDecidable signals a manual decision on a proposal outside the
	// review band.
	ErrNotDecidable = errors.New("proposal is not awaiting a manual decision")
	// ErrNotApproved signals a disbursement attempt without an approved decision.
	ErrNotApproved = errors.New("proposal decision is not approved")
)

// ProposalService owns the proposal lifecycle: it is the only writer of
// proposal status. Calculation and scoring feed it; the approval workflow
// gates its sensitive actions.
type ProposalService struct {
	repo   domain.ProposalRepository
	tx     domain.TxRunner
	locker domain.ProposalLocker

	calc     *calcapp.CalculationService
	scoring  *scoringapp.ScoringService
	approval *approvalapp.ApprovalService

	autoApproveFloor   int
	highValueThreshold decimal.Decimal

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// ProposalServiceDeps bundles the collaborators of the proposal use cases.
// Tx supplies the transactional scope every transition writes through; Repo
// covers reads and single-row updates outside the state machine.
type ProposalServiceDeps struct {
	Repo   domain.ProposalRepository
	Tx     domain.TxRunner
	Locker domain.ProposalLocker

	Calc     *calcapp.CalculationService
	Scoring  *scoringapp.ScoringService
	Approval *approvalapp.ApprovalService

	AutoApproveFloor   int
	HighValueThreshold decimal.Decimal

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// NewProposalService wires the state machine use cases.
func NewProposalService(deps ProposalServiceDeps) *ProposalService {
	return &ProposalService{
		repo:               deps.Repo,
		tx:                 deps.Tx,
		locker:             deps.Locker,
		calc:               deps.Calc,
		scoring:            deps.Scoring,
		approval:           deps.Approval,
		autoApproveFloor:   deps.AutoApproveFloor,
		highValueThreshold: deps.HighValueThreshold,
		metrics:            deps.Metrics,
		logger:             deps.Logger,
	}
}

// Create registers a new draft proposal.
func (s *ProposalService) Create(ctx context.Context, cmd CreateProposalCommand) (*domain.Proposal, error) {
	product := domain.ProductType(cmd.ProductType)
	if product != domain.ProductSalaryAdvance && product != domain.ProductConsignmentLoan {
		return nil, fmt.Errorf("unknown product type %q", cmd.ProductType)
	}
	if cmd.RequestedAmount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("requested amount must be positive")
	}

	p := domain.NewProposal(uuid.New().String(), cmd.ClientID, cmd.ConvenioID, product, cmd.RequestedAmount, cmd.Installments)
	p.PixKey = cmd.PixKey
	p.Margin = cmd.Margin
	p.RequestedPct = cmd.RequestedPct
	p.DaysWorked = cmd.DaysWorked
	p.ClaimsAffiliation = cmd.ClaimsAffiliation

	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create proposal: %w", err)
	}
	s.logger.InfoContext(ctx, "proposal created", "proposal_id", p.ID, "client_id", p.ClientID, "product", p.ProductType)
	return p, nil
}

// Get returns one proposal.
func (s *ProposalService) Get(ctx context.Context, id string) (*domain.Proposal, error) {
	return s.repo.Get(ctx, id)
}

// EvaluateProposal runs the decision pipeline for one proposal: the financial
// calculation gates entry to margin_check, the risk score picks the exit
// edge, and the committed transition is audited and published. Evaluations
// are serialized per proposal id and idempotent once a decision exists.
func (s *ProposalService) EvaluateProposal(ctx context.Context, proposalID string) (*EvaluationResult, error) {
	release, ok, err := s.locker.Acquire(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire proposal lock: %w", err)
	}
	if !ok {
		return nil, ErrEvaluationInFlight
	}
	defer release()

	p, err := s.repo.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	if p.PostDecision() {
		score := 0
		if p.DecisionScore != nil {
			score = *p.DecisionScore
		}
		return &EvaluationResult{
			ProposalID:     p.ID,
			NewStatus:      p.Status,
			DecisionResult: p.DecisionResult,
			Score:          score,
			WithinLimits:   true,
			NoOp:           true,
		}, nil
	}

	// Proposals still in intake move to analysis before the margin gate.
	for _, step := range []domain.Status{domain.StatusAwaitingDocuments, domain.StatusUnderAnalysis} {
		if p.CanTransition(step) && p.Status != domain.StatusMarginCheck {
			if err := s.commitTransition(ctx, p, step, "advanced by evaluation pipeline", "engine"); err != nil {
				return nil, err
			}
		}
	}

	approvedAmount, installmentValue, withinLimits, yieldDays, err := s.runCalculation(ctx, p)
	if err != nil {
		return nil, err
	}
	if !withinLimits {
		// No edge into margin_check without a within-limits calculation.
		p.AppendNote("calculation outside product limits, held before margin check")
		if err := s.repo.Save(ctx, p); err != nil {
			return nil, err
		}
		return &EvaluationResult{
			ProposalID:     p.ID,
			NewStatus:      p.Status,
			DecisionResult: p.DecisionResult,
			WithinLimits:   false,
		}, nil
	}

	if p.Status != domain.StatusMarginCheck {
		if err := s.commitTransition(ctx, p, domain.StatusMarginCheck, "calculation within product limits", "engine"); err != nil {
			return nil, err
		}
	}

	score, err := s.scoring.ScoreRisk(ctx, scoringapp.ScoreRiskCommand{
		ClientID:          p.ClientID,
		ProposalID:        p.ID,
		PixKey:            p.PixKey,
		ClaimsAffiliation: p.ClaimsAffiliation,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to score proposal: %w", err)
	}

	target, decision := s.decide(ctx, p.ClientID, score)

	if err := p.SetDecision(decision, score.Score, approvedAmount); err != nil {
		return nil, err
	}
	p.InstallmentValue = installmentValue

	rationale := fmt.Sprintf("risk score %d (%s), decision %s", score.Score, score.RiskLevel, decision)
	decisionEvent := domain.DecisionMadeEvent{
		ProposalID: p.ID,
		ClientID:   p.ClientID,
		Result:     decision,
		Score:      score.Score,
		OccurredAt: time.Now(),
	}
	if err := s.commitTransition(ctx, p, target, rationale, "engine", func(scope domain.TxScope) error {
		return scope.Publisher.PublishDecisionMade(decisionEvent)
	}); err != nil {
		return nil, err
	}

	if err := s.scoring.RecordOutcome(ctx, p.ClientID, score.Score, decision == domain.DecisionApproved, yieldDays, s.autoApproveFloor); err != nil {
		s.logger.WarnContext(ctx, "failed to update client learning", "client_id", p.ClientID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.ProposalsEvaluated.WithLabelValues(string(decision)).Inc()
	}
	s.logger.InfoContext(ctx, "proposal evaluated",
		"proposal_id", p.ID, "status", p.Status, "decision", decision, "score", score.Score)

	return &EvaluationResult{
		ProposalID:     p.ID,
		NewStatus:      p.Status,
		DecisionResult: decision,
		Score:          score.Score,
		WithinLimits:   true,
	}, nil
}

// runCalculation prices the proposal under its product model and reports the
// amount the decision may approve.
func (s *ProposalService) runCalculation(ctx context.Context, p *domain.Proposal) (approved, installment decimal.Decimal, withinLimits bool, yieldDays int, err error) {
	switch p.ProductType {
	case domain.ProductSalaryAdvance:
		result, calcErr := s.calc.CalculateAdvance(ctx, calcapp.AdvanceCommand{
			ConvenioID:   p.ConvenioID,
			Margin:       p.Margin,
			RequestedPct: p.RequestedPct,
			DaysWorked:   p.DaysWorked,
		})
		if calcErr != nil {
			return decimal.Zero, decimal.Zero, false, 0, calcErr
		}
		return result.Disbursed, result.Repayment, result.WithinLimits, result.YieldDays, nil
	default:
		result, calcErr := s.calc.CalculateLoan(ctx, calcapp.LoanCommand{
			ConvenioID: p.ConvenioID,
			Principal:  p.RequestedAmount,
			Term:       p.Installments,
		})
		if calcErr != nil {
			return decimal.Zero, decimal.Zero, false, 0, calcErr
		}
		// Installment loans have no fixed payout window; limits are the
		// convênio term/margin bounds already validated at intake.
		return p.RequestedAmount, result.Installment, true, 0, nil
	}
}

// decide maps a score and the client's prior to the margin_check exit edge.
func (s *ProposalService) decide(ctx context.Context, clientID string, score *scoringdomain.FraudScore) (domain.Status, domain.DecisionResult) {
	if score.Score >= scoringdomain.ManualReviewThreshold {
		return domain.StatusMarginRejected, domain.DecisionRejected
	}

	if score.Score < scoringdomain.MediumThreshold {
		learning, err := s.scoring.ClientLearning(ctx, clientID)
		if err == nil && learning.SuccessfulOperations >= s.autoApproveFloor {
			return domain.StatusMarginApproved, domain.DecisionApproved
		}
	}

	// Low score without the eligibility floor, or the 20–39 band: a human
	// decides, but the margin itself is cleared.
	return domain.StatusMarginApproved, domain.DecisionManualReview
}

// commitTransition applies one edge and persists it atomically: the state
// write (under the optimistic version check), the audit entry, the outbox
// events and any extra writes share one transaction, so a failure in any of
// them rolls the whole transition back. A concurrent cancel or expire
// surfaces as ErrVersionConflict and discards this result.
func (s *ProposalService) commitTransition(ctx context.Context, p *domain.Proposal, target domain.Status, rationale, actor string, extra ...func(scope domain.TxScope) error) error {
	from := p.Status
	if err := p.Transition(target, rationale); err != nil {
		if s.metrics != nil {
			s.metrics.InvalidTransitions.Inc()
		}
		return err
	}

	now := time.Now()
	err := s.tx.InTx(ctx, func(scope domain.TxScope) error {
		if err := scope.Proposals.Save(ctx, p); err != nil {
			return err
		}
		if err := s.appendAudit(ctx, scope, domain.AuditEntry{
			EntityType: "proposal",
			EntityID:   p.ID,
			Action:     "status_transition",
			FromValue:  string(from),
			ToValue:    string(target),
			Detail:     rationale,
			Actor:      actor,
			At:         now,
		}); err != nil {
			return err
		}
		if err := scope.Publisher.PublishStatusChanged(domain.StatusChangedEvent{
			ProposalID: p.ID,
			ClientID:   p.ClientID,
			From:       from,
			To:         target,
			Rationale:  rationale,
			OccurredAt: now,
		}); err != nil {
			return err
		}
		for _, fn := range extra {
			if err := fn(scope); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(from), string(target)).Inc()
	}
	return nil
}

// appendAudit writes the audit row and mirrors it onto the audit stream,
// inside the caller's transaction.
func (s *ProposalService) appendAudit(ctx context.Context, scope domain.TxScope, entry domain.AuditEntry) error {
	if err := scope.Audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return scope.Publisher.PublishAuditRecorded(entry)
}
