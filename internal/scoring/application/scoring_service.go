package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/consigfacil/creditengine/internal/scoring/domain"
	"github.com/consigfacil/creditengine/pkg/metrics"
)

// ScoreRiskCommand identifies the client/proposal pair to evaluate.
type ScoreRiskCommand struct {
	ClientID          string
	ProposalID        string
	PixKey            string
	ClaimsAffiliation bool
}

// ScoringService orchestrates one risk evaluation: external verifications
// under bounded timeouts, a history read, the deterministic factor sum, and
// persistence of the immutable score record. It never mutates the proposal.
type ScoringService struct {
	scores   domain.ScoreRepository
	history  domain.HistoryRepository
	learning domain.LearningRepository
	bureau   domain.BureauVerifier
	registry domain.RegistryVerifier
	bank     domain.BankAccountVerifier
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewScoringService wires the scoring use case.
func NewScoringService(
	scores domain.ScoreRepository,
	history domain.HistoryRepository,
	learning domain.LearningRepository,
	bureau domain.BureauVerifier,
	registry domain.RegistryVerifier,
	bank domain.BankAccountVerifier,
	timeout time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ScoringService {
	return &ScoringService{
		scores:   scores,
		history:  history,
		learning: learning,
		bureau:   bureau,
		registry: registry,
		bank:     bank,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

// ScoreRisk runs the full evaluation for one proposal. Verification failures
// and timeouts degrade to failed outcomes and score as non-confirming; they
// never abort the evaluation.
func (s *ScoringService) ScoreRisk(ctx context.Context, cmd ScoreRiskCommand) (*domain.FraudScore, error) {
	history, err := s.history.ClientHistory(ctx, cmd.ClientID, cmd.PixKey, cmd.ProposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client history: %w", err)
	}

	input := domain.EvaluationInput{
		ClientID:          cmd.ClientID,
		ProposalID:        cmd.ProposalID,
		PixKey:            cmd.PixKey,
		ClaimsAffiliation: cmd.ClaimsAffiliation,
		Bureau:            s.checkBureau(ctx, cmd.ClientID),
		Registry:          s.checkRegistry(ctx, cmd.ClientID),
		BankAccount:       s.checkBankAccount(ctx, cmd.ClientID, cmd.PixKey),
		History:           history,
	}

	score := domain.Evaluate(input)
	score.ID = uuid.New().String()

	if err := s.scores.Save(ctx, &score); err != nil {
		return nil, fmt.Errorf("failed to persist fraud score: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RiskScores.Observe(float64(score.Score))
	}
	s.logger.InfoContext(ctx, "risk evaluated",
		"client_id", cmd.ClientID,
		"proposal_id", cmd.ProposalID,
		"score", score.Score,
		"risk_level", score.RiskLevel,
		"factors", len(score.RiskFactors),
	)
	return &score, nil
}

// GetScore returns the score recorded for a proposal.
func (s *ScoringService) GetScore(ctx context.Context, proposalID string) (*domain.FraudScore, error) {
	return s.scores.GetByProposal(ctx, proposalID)
}

// ClientLearning exposes the per-client aggregate for callers that need the
// auto-approve prior.
func (s *ScoringService) ClientLearning(ctx context.Context, clientID string) (*domain.ClientLearning, error) {
	return s.learning.Get(ctx, clientID)
}

// RecordOutcome folds a completed evaluation into the client aggregate.
func (s *ScoringService) RecordOutcome(ctx context.Context, clientID string, score int, successful bool, yieldDays, autoApproveFloor int) error {
	learning, err := s.learning.Get(ctx, clientID)
	if err != nil {
		learning = &domain.ClientLearning{ClientID: clientID}
	}
	learning.RecordEvaluation(score, successful, yieldDays, autoApproveFloor)
	return s.learning.Upsert(ctx, learning)
}

func (s *ScoringService) checkBureau(ctx context.Context, clientID string) domain.BureauResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.bureau.Check(ctx, clientID)
	if err != nil {
		s.logger.WarnContext(ctx, "bureau check failed, scoring as non-confirming", "client_id", clientID, "error", err)
		return domain.BureauResult{Outcome: domain.OutcomeFailed}
	}
	return result
}

func (s *ScoringService) checkRegistry(ctx context.Context, clientID string) domain.RegistryResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.registry.Check(ctx, clientID)
	if err != nil {
		s.logger.WarnContext(ctx, "registry check failed, scoring as non-confirming", "client_id", clientID, "error", err)
		return domain.RegistryResult{Outcome: domain.OutcomeFailed}
	}
	return result
}

func (s *ScoringService) checkBankAccount(ctx context.Context, clientID, pixKey string) domain.BankAccountResult {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.bank.Check(ctx, clientID, pixKey)
	if err != nil {
		s.logger.WarnContext(ctx, "bank account check failed, scoring as non-confirming", "client_id", clientID, "error", err)
		return domain.BankAccountResult{Outcome: domain.OutcomeFailed}
	}
	return result
}
