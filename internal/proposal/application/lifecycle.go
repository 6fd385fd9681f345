package application

import (
	"context"
	"fmt"
	"time"

	approvaldomain "github.com/consigfacil/creditengine/internal/approval/domain"
	calcapp "github.com/consigfacil/creditengine/internal/calculation/application"
	calcdomain "github.com/consigfacil/creditengine/internal/calculation/domain"
	"github.com/consigfacil/creditengine/internal/proposal/domain"
)

// Decide applies a reviewer's verdict to a proposal in the manual-review band,
// or overrides an automatic rejection. Overriding a rejection is a sensitive
// action and must have cleared the override_decision dual approval first.
func (s *ProposalService) Decide(ctx context.Context, cmd ManualDecisionCommand) (*domain.Proposal, error) {
	release, ok, err := s.locker.Acquire(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEvaluationInFlight
	}
	defer release()

	p, err := s.repo.Get(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}

	switch {
	case p.Status == domain.StatusMarginApproved && p.DecisionResult == domain.DecisionManualReview:
		if cmd.Approve {
			p.DecisionResult = domain.DecisionApproved
			p.AppendNote(fmt.Sprintf("manual review approved by %s: %s", cmd.ReviewerID, cmd.Notes))
			if err := s.tx.InTx(ctx, func(scope domain.TxScope) error {
				if err := scope.Proposals.Save(ctx, p); err != nil {
					return err
				}
				return s.appendAudit(ctx, scope, decisionEntry(p, cmd, "manual_approve"))
			}); err != nil {
				return nil, err
			}
			return p, nil
		}
		p.DecisionResult = domain.DecisionRejected
		if err := s.commitTransition(ctx, p, domain.StatusRejected,
			fmt.Sprintf("manual review rejected by %s: %s", cmd.ReviewerID, cmd.Notes), cmd.ReviewerID); err != nil {
			return nil, err
		}
		return p, nil

	case p.Status == domain.StatusMarginRejected && cmd.Approve:
		cleared, err := s.approval.GateCleared(ctx, approvaldomain.RuleOverrideDecision, "proposal", p.ID)
		if err != nil {
			return nil, err
		}
		if !cleared {
			return nil, fmt.Errorf("%w: %s", ErrApprovalRequired, approvaldomain.RuleOverrideDecision)
		}
		p.DecisionResult = domain.DecisionApproved
		if err := s.commitTransition(ctx, p, domain.StatusMarginApproved,
			fmt.Sprintf("rejection overridden by %s after dual approval: %s", cmd.ReviewerID, cmd.Notes), cmd.ReviewerID,
			func(scope domain.TxScope) error {
				return s.appendAudit(ctx, scope, decisionEntry(p, cmd, "override_decision"))
			}); err != nil {
			return nil, err
		}
		return p, nil
	}

	return nil, ErrNotDecidable
}

// RequestCCB moves an approved proposal toward note issuance.
func (s *ProposalService) RequestCCB(ctx context.Context, proposalID, actor string) (*domain.Proposal, error) {
	if p, err := s.repo.Get(ctx, proposalID); err != nil {
		return nil, err
	} else if p.DecisionResult != domain.DecisionApproved {
		return nil, ErrNotApproved
	}
	return s.applyExternalTransition(ctx, proposalID, domain.StatusCCBPending, "ccb issuance requested", actor)
}

// ConfirmCCBIssued records the SCD's issuance confirmation.
func (s *ProposalService) ConfirmCCBIssued(ctx context.Context, proposalID, actor string) (*domain.Proposal, error) {
	return s.applyExternalTransition(ctx, proposalID, domain.StatusCCBIssued, "ccb issued by scd", actor)
}

// RequestSignature sends the note out for signature.
func (s *ProposalService) RequestSignature(ctx context.Context, proposalID, actor string) (*domain.Proposal, error) {
	return s.applyExternalTransition(ctx, proposalID, domain.StatusSignaturePending, "signature requested", actor)
}

// ConfirmSignature records the completed signature.
func (s *ProposalService) ConfirmSignature(ctx context.Context, proposalID, actor string) (*domain.Proposal, error) {
	return s.applyExternalTransition(ctx, proposalID, domain.StatusSignatureCompleted, "signature completed", actor)
}

// RequestAverbation registers the payroll deduction with the employer.
func (s *ProposalService) RequestAverbation(ctx context.Context, proposalID, actor string) (*domain.Proposal, error) {
	return s.applyExternalTransition(ctx, proposalID, domain.StatusAverbationPending, "averbation requested", actor)
}

// ConfirmAverbation records the employer's registration confirmation.
func (s *ProposalService) ConfirmAverbation(ctx context.Context, proposalID, actor string) (*domain.Proposal, error) {
	return s.applyExternalTransition(ctx, proposalID, domain.StatusAverbated, "averbation confirmed", actor)
}

// Cancel terminates a proposal explicitly.
func (s *ProposalService) Cancel(ctx context.Context, proposalID, actor, reason string) (*domain.Proposal, error) {
	return s.applyExternalTransition(ctx, proposalID, domain.StatusCancelled, "cancelled: "+reason, actor)
}

// Expire terminates a proposal on the external time-based trigger.
func (s *ProposalService) Expire(ctx context.Context, proposalID string) (*domain.Proposal, error) {
	return s.applyExternalTransition(ctx, proposalID, domain.StatusExpired, "expired", "scheduler")
}

// RecordBankValidation stores the payout-account check result. Only an
// owner-confirmed, non-blacklisted account enables the advance product's
// direct disbursement edge.
func (s *ProposalService) RecordBankValidation(ctx context.Context, cmd BankValidationCommand) (*domain.Proposal, error) {
	release, ok, err := s.locker.Acquire(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEvaluationInFlight
	}
	defer release()

	p, err := s.repo.Get(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	p.BankValidated = cmd.IsOwner && !cmd.IsBlacklisted
	p.AppendNote(fmt.Sprintf("bank validation recorded: owner=%t blacklisted=%t", cmd.IsOwner, cmd.IsBlacklisted))
	if err := s.repo.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ChangeBankAccount swaps the payout destination. The change is gated by the
// bank_account_change dual approval and resets the validation flag.
func (s *ProposalService) ChangeBankAccount(ctx context.Context, proposalID, pixKey, actor string) (*domain.Proposal, error) {
	cleared, err := s.approval.GateCleared(ctx, approvaldomain.RuleBankAccountChange, "proposal", proposalID)
	if err != nil {
		return nil, err
	}
	if !cleared {
		return nil, fmt.Errorf("%w: %s", ErrApprovalRequired, approvaldomain.RuleBankAccountChange)
	}

	release, ok, err := s.locker.Acquire(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEvaluationInFlight
	}
	defer release()

	p, err := s.repo.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	old := p.PixKey
	p.PixKey = pixKey
	p.BankValidated = false
	p.AppendNote(fmt.Sprintf("payout destination changed by %s", actor))
	if err := s.tx.InTx(ctx, func(scope domain.TxScope) error {
		if err := scope.Proposals.Save(ctx, p); err != nil {
			return err
		}
		return s.appendAudit(ctx, scope, domain.AuditEntry{
			EntityType: "proposal",
			EntityID:   p.ID,
			Action:     "bank_account_change",
			FromValue:  old,
			ToValue:    pixKey,
			Actor:      actor,
			At:         time.Now(),
		})
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// Disburse pays out an approved proposal and emits its collection schedule.
// The edge itself enforces averbation (or validated-account advances); high
// value payouts additionally require the high_value_disbursement approval.
func (s *ProposalService) Disburse(ctx context.Context, cmd DisburseCommand) (*domain.Proposal, error) {
	release, ok, err := s.locker.Acquire(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEvaluationInFlight
	}
	defer release()

	p, err := s.repo.Get(ctx, cmd.ProposalID)
	if err != nil {
		return nil, err
	}
	if p.DecisionResult != domain.DecisionApproved {
		return nil, ErrNotApproved
	}

	if p.ApprovedAmount.GreaterThanOrEqual(s.highValueThreshold) {
		cleared, err := s.approval.GateCleared(ctx, approvaldomain.RuleHighValueDisbursement, "proposal", p.ID)
		if err != nil {
			return nil, err
		}
		if !cleared {
			return nil, fmt.Errorf("%w: %s", ErrApprovalRequired, approvaldomain.RuleHighValueDisbursement)
		}
	}

	disbursedAt := cmd.DisbursedAt
	if disbursedAt.IsZero() {
		disbursedAt = time.Now()
	}

	schedule, err := s.buildSchedule(ctx, p, disbursedAt)
	if err != nil {
		return nil, err
	}

	// The schedule and the disbursed event land in the same transaction as
	// the terminal transition: a disbursed proposal always has its
	// collection rows.
	if err := s.commitTransition(ctx, p, domain.StatusDisbursed, "funds disbursed", cmd.Actor,
		func(scope domain.TxScope) error {
			if err := scope.Installments.SaveSchedule(ctx, p.ID, schedule); err != nil {
				return fmt.Errorf("failed to persist installment schedule: %w", err)
			}
			return scope.Publisher.PublishDisbursed(domain.DisbursedEvent{
				ProposalID:   p.ID,
				ClientID:     p.ClientID,
				Amount:       p.ApprovedAmount.String(),
				Installments: len(schedule),
				OccurredAt:   disbursedAt,
			})
		}); err != nil {
		return nil, err
	}
	return p, nil
}

// buildSchedule derives the collection rows for the disbursed product: the
// full amortization for loans, a single repayment on the next repasse date
// for advances.
func (s *ProposalService) buildSchedule(ctx context.Context, p *domain.Proposal, disbursedAt time.Time) ([]calcdomain.Installment, error) {
	if p.ProductType == domain.ProductConsignmentLoan {
		return s.calc.BuildSchedule(ctx, calcapp.LoanCommand{
			ConvenioID: p.ConvenioID,
			Principal:  p.ApprovedAmount,
			Term:       p.Installments,
		}, disbursedAt)
	}

	cfg, err := s.calc.Convenio(ctx, p.ConvenioID)
	if err != nil {
		return nil, err
	}
	repayment := p.InstallmentValue
	if repayment.IsZero() {
		repayment = p.ApprovedAmount.Add(cfg.AdvanceFlatFee)
	}
	return []calcdomain.Installment{{
		Number:    1,
		DueDate:   cfg.NextRepasseDate(disbursedAt),
		Amount:    repayment,
		Interest:  cfg.AdvanceFlatFee,
		Principal: p.ApprovedAmount,
	}}, nil
}

// applyExternalTransition is the shared path for externally confirmed edges.
func (s *ProposalService) applyExternalTransition(ctx context.Context, proposalID string, target domain.Status, rationale, actor string) (*domain.Proposal, error) {
	release, ok, err := s.locker.Acquire(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEvaluationInFlight
	}
	defer release()

	p, err := s.repo.Get(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if err := s.commitTransition(ctx, p, target, rationale, actor); err != nil {
		return nil, err
	}
	return p, nil
}

func decisionEntry(p *domain.Proposal, cmd ManualDecisionCommand, action string) domain.AuditEntry {
	return domain.AuditEntry{
		EntityType: "proposal",
		EntityID:   p.ID,
		Action:     action,
		FromValue:  string(domain.DecisionManualReview),
		ToValue:    string(p.DecisionResult),
		Detail:     cmd.Notes,
		Actor:      cmd.ReviewerID,
		At:         time.Now(),
	}
}
