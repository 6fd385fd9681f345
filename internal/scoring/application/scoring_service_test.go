package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consigfacil/creditengine/internal/scoring/domain"
)

type capturingScoreRepo struct {
	mu     sync.Mutex
	scores []*domain.FraudScore
}

func (r *capturingScoreRepo) Save(_ context.Context, score *domain.FraudScore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scores = append(r.scores, score)
	return nil
}

func (r *capturingScoreRepo) GetByProposal(_ context.Context, proposalID string) (*domain.FraudScore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.scores {
		if s.ProposalID == proposalID {
			return s, nil
		}
	}
	return nil, domain.ErrScoreNotFound
}

func (r *capturingScoreRepo) ListByClient(_ context.Context, clientID string) ([]*domain.FraudScore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.FraudScore
	for _, s := range r.scores {
		if s.ClientID == clientID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fixedHistory struct {
	history domain.ClientHistory
}

func (f fixedHistory) ClientHistory(context.Context, string, string, string) (domain.ClientHistory, error) {
	return f.history, nil
}

type memoryLearning struct {
	mu       sync.Mutex
	learning map[string]*domain.ClientLearning
}

func (r *memoryLearning) Get(_ context.Context, clientID string) (*domain.ClientLearning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cl, ok := r.learning[clientID]
	if !ok {
		return nil, domain.ErrLearningNotFound
	}
	clone := *cl
	return &clone, nil
}

func (r *memoryLearning) Upsert(_ context.Context, cl *domain.ClientLearning) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.learning == nil {
		r.learning = make(map[string]*domain.ClientLearning)
	}
	clone := *cl
	r.learning[cl.ClientID] = &clone
	return nil
}

type okBureau struct{ result domain.BureauResult }

func (v okBureau) Check(context.Context, string) (domain.BureauResult, error) { return v.result, nil }

type failingBureau struct{}

func (failingBureau) Check(context.Context, string) (domain.BureauResult, error) {
	return domain.BureauResult{}, errors.New("bureau unreachable")
}

type okRegistry struct{ result domain.RegistryResult }

func (v okRegistry) Check(context.Context, string) (domain.RegistryResult, error) {
	return v.result, nil
}

type okBank struct{ result domain.BankAccountResult }

func (v okBank) Check(context.Context, string, string) (domain.BankAccountResult, error) {
	return v.result, nil
}

type slowBank struct{ result domain.BankAccountResult }

func (v slowBank) Check(ctx context.Context, _, _ string) (domain.BankAccountResult, error) {
	select {
	case <-ctx.Done():
		return domain.BankAccountResult{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return v.result, nil
	}
}

func newScoringFixture(bureau domain.BureauVerifier, bank domain.BankAccountVerifier, history domain.ClientHistory) (*ScoringService, *capturingScoreRepo) {
	scores := &capturingScoreRepo{}
	svc := NewScoringService(
		scores,
		fixedHistory{history: history},
		&memoryLearning{},
		bureau,
		okRegistry{result: domain.RegistryResult{Outcome: domain.OutcomeConfirmed, PublicEmployee: true}},
		bank,
		50*time.Millisecond,
		nil,
		slog.Default(),
	)
	return svc, scores
}

func TestScoreRisk_PersistsImmutableRecord(t *testing.T) {
	svc, scores := newScoringFixture(
		okBureau{result: domain.BureauResult{Outcome: domain.OutcomeConfirmed, HasCreditHistory: true}},
		okBank{result: domain.BankAccountResult{Outcome: domain.OutcomeConfirmed, IsOwner: true}},
		domain.ClientHistory{TotalOperations: 3},
	)

	score, err := svc.ScoreRisk(context.Background(), ScoreRiskCommand{
		ClientID: "c1", ProposalID: "p1", PixKey: "pix", ClaimsAffiliation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, score.Score)
	assert.NotEmpty(t, score.ID)

	stored, err := scores.GetByProposal(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, score.ID, stored.ID)
}

func TestScoreRisk_VerifierErrorScoresFailClosed(t *testing.T) {
	svc, _ := newScoringFixture(
		failingBureau{},
		okBank{result: domain.BankAccountResult{Outcome: domain.OutcomeConfirmed, IsOwner: true}},
		domain.ClientHistory{TotalOperations: 3},
	)

	score, err := svc.ScoreRisk(context.Background(), ScoreRiskCommand{
		ClientID: "c1", ProposalID: "p1", ClaimsAffiliation: true,
	})
	require.NoError(t, err, "a failing verifier must not abort the evaluation")

	// The bureau failure scores exactly like a confirmed absence of history.
	assert.Equal(t, domain.PointsNoCreditHistory, score.Score)
	require.Len(t, score.RiskFactors, 1)
	assert.Equal(t, "no_credit_history", score.RiskFactors[0].Factor)
}

func TestScoreRisk_TimeoutScoresFailClosed(t *testing.T) {
	svc, _ := newScoringFixture(
		okBureau{result: domain.BureauResult{Outcome: domain.OutcomeConfirmed, HasCreditHistory: true}},
		slowBank{result: domain.BankAccountResult{Outcome: domain.OutcomeConfirmed, IsOwner: true}},
		domain.ClientHistory{TotalOperations: 3},
	)

	start := time.Now()
	score, err := svc.ScoreRisk(context.Background(), ScoreRiskCommand{
		ClientID: "c1", ProposalID: "p1", ClaimsAffiliation: true,
	})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second, "the bounded timeout must apply")
	assert.Equal(t, domain.PointsTitularityUnknown, score.Score)
}

func TestRecordOutcome_CreatesAggregateOnFirstUse(t *testing.T) {
	svc, _ := newScoringFixture(
		okBureau{result: domain.BureauResult{Outcome: domain.OutcomeConfirmed, HasCreditHistory: true}},
		okBank{result: domain.BankAccountResult{Outcome: domain.OutcomeConfirmed, IsOwner: true}},
		domain.ClientHistory{},
	)
	ctx := context.Background()

	require.NoError(t, svc.RecordOutcome(ctx, "c-new", 10, true, 4, 3))

	cl, err := svc.ClientLearning(ctx, "c-new")
	require.NoError(t, err)
	assert.Equal(t, 1, cl.TotalOperations)
	assert.Equal(t, 1, cl.SuccessfulOperations)
	assert.False(t, cl.AutoApprove)
}
