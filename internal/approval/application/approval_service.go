package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/consigfacil/creditengine/internal/approval/domain"
	"github.com/consigfacil/creditengine/pkg/metrics"
)

// OpenRequestCommand opens a dual-approval workflow for a sensitive action.
type OpenRequestCommand struct {
	RuleType      string
	EntityType    string
	EntityID      string
	RequestedBy   string
	Justification string
}

// SubmitCommand is one approval or rejection submission.
type SubmitCommand struct {
	RequestID  string
	ApproverID string
	Action     string
	Notes      string
}

// ApprovalService owns the dual-approval use cases.
type ApprovalService struct {
	repo           domain.ApprovalRepository
	sensitiveRules []string
	metrics        *metrics.Metrics
	logger         *slog.Logger
}

// NewApprovalService wires the approval workflow.
func NewApprovalService(repo domain.ApprovalRepository, sensitiveRules []string, m *metrics.Metrics, logger *slog.Logger) *ApprovalService {
	return &ApprovalService{repo: repo, sensitiveRules: sensitiveRules, metrics: m, logger: logger}
}

// RuleIsSensitive reports whether a rule type is configured to require dual
// approval. Non-sensitive rules let the caller proceed without a workflow.
func (s *ApprovalService) RuleIsSensitive(rule domain.RuleType) bool {
	return slices.Contains(s.sensitiveRules, string(rule))
}

// Open creates a new pending_first request for the gated action.
func (s *ApprovalService) Open(ctx context.Context, cmd OpenRequestCommand) (*domain.ApprovalRequest, error) {
	if !domain.ValidRuleType(cmd.RuleType) {
		return nil, fmt.Errorf("unknown approval rule type %q", cmd.RuleType)
	}

	req := domain.NewApprovalRequest(
		uuid.New().String(),
		domain.RuleType(cmd.RuleType),
		cmd.EntityType,
		cmd.EntityID,
		cmd.RequestedBy,
		cmd.Justification,
	)
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	s.logger.InfoContext(ctx, "approval request opened",
		"request_id", req.ID, "rule_type", req.RuleType, "entity_id", req.EntityID)
	return req, nil
}

// Submit applies one submission with a compare-and-swap commit. Losers of a
// racing submission receive ErrStaleApprovalState and must re-read.
func (s *ApprovalService) Submit(ctx context.Context, cmd SubmitCommand) (*domain.ApprovalRequest, error) {
	action := domain.Action(cmd.Action)
	if action != domain.ActionApprove && action != domain.ActionReject {
		return nil, fmt.Errorf("unknown approval action %q", cmd.Action)
	}

	req, err := s.repo.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	readVersion := req.Version

	if err := req.Submit(cmd.ApproverID, action, cmd.Notes); err != nil {
		return nil, err
	}
	if err := s.repo.SaveCAS(ctx, req, readVersion); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ApprovalDecisions.WithLabelValues(string(req.RuleType), cmd.Action).Inc()
	}
	s.logger.InfoContext(ctx, "approval submitted",
		"request_id", req.ID, "approver", cmd.ApproverID, "action", cmd.Action, "status", req.Status)
	return req, nil
}

// Expire terminates a pending request; invoked by an external scheduler.
func (s *ApprovalService) Expire(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	req, err := s.repo.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	readVersion := req.Version

	if err := req.Expire(); err != nil {
		return nil, err
	}
	if err := s.repo.SaveCAS(ctx, req, readVersion); err != nil {
		return nil, err
	}
	return req, nil
}

// Get returns one request by id.
func (s *ApprovalService) Get(ctx context.Context, requestID string) (*domain.ApprovalRequest, error) {
	return s.repo.Get(ctx, requestID)
}

// ListPending returns open requests for a rule type, for the review queue.
func (s *ApprovalService) ListPending(ctx context.Context, rule domain.RuleType) ([]*domain.ApprovalRequest, error) {
	return s.repo.ListPending(ctx, rule)
}

// GateCleared reports whether a gated action on an entity may proceed: either
// the rule is not sensitive, or an approved workflow exists for the entity.
func (s *ApprovalService) GateCleared(ctx context.Context, rule domain.RuleType, entityType, entityID string) (bool, error) {
	if !s.RuleIsSensitive(rule) {
		return true, nil
	}
	req, err := s.repo.FindLatestForEntity(ctx, rule, entityType, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrApprovalNotFound) {
			return false, nil
		}
		return false, err
	}
	return req.Approved(), nil
}
