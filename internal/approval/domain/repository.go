package domain

import "context"

// ApprovalRepository persists approval requests. SaveCAS performs an atomic
// compare-and-swap on the version the entity was read at: when another
// submission won the race, it returns ErrStaleApprovalState and writes
// nothing, so racing approvers always resolve to exactly one winner.
type ApprovalRepository interface {
	Create(ctx context.Context, a *ApprovalRequest) error
	Get(ctx context.Context, id string) (*ApprovalRequest, error)
	SaveCAS(ctx context.Context, a *ApprovalRequest, expectedVersion uint64) error
	ListPending(ctx context.Context, rule RuleType) ([]*ApprovalRequest, error)
	// FindLatestForEntity returns the most recent request gating the given
	// entity under the given rule, or ErrApprovalNotFound.
	FindLatestForEntity(ctx context.Context, rule RuleType, entityType, entityID string) (*ApprovalRequest, error)
}
