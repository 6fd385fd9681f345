package domain

import (
	"context"
	"errors"
)

var (
	ErrScoreNotFound    = errors.New("fraud score not found")
	ErrLearningNotFound = errors.New("client learning record not found")
)

// ScoreRepository persists immutable FraudScore records.
type ScoreRepository interface {
	Save(ctx context.Context, score *FraudScore) error
	GetByProposal(ctx context.Context, proposalID string) (*FraudScore, error)
	ListByClient(ctx context.Context, clientID string) ([]*FraudScore, error)
}

// HistoryRepository answers the aggregate queries the evaluator needs:
// operation counts and pix-key reuse across client identifiers. The proposal
// under evaluation is excluded so counts describe the client's prior only.
type HistoryRepository interface {
	ClientHistory(ctx context.Context, clientID, pixKey, excludeProposalID string) (ClientHistory, error)
}

// LearningRepository stores the per-client aggregate.
type LearningRepository interface {
	Get(ctx context.Context, clientID string) (*ClientLearning, error)
	Upsert(ctx context.Context, learning *ClientLearning) error
}

// BureauVerifier checks the credit bureau. Implementations translate
// transport failures into an error; callers score errors as failed outcomes.
type BureauVerifier interface {
	Check(ctx context.Context, clientID string) (BureauResult, error)
}

// RegistryVerifier checks the public-employment registry.
type RegistryVerifier interface {
	Check(ctx context.Context, clientID string) (RegistryResult, error)
}

// BankAccountVerifier checks payout-account titularity and blacklist status.
type BankAccountVerifier interface {
	Check(ctx context.Context, clientID, pixKey string) (BankAccountResult, error)
}
