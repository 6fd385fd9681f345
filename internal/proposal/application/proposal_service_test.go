package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	approvalapp "github.com/consigfacil/creditengine/internal/approval/application"
	approvaldomain "github.com/consigfacil/creditengine/internal/approval/domain"
	calcapp "github.com/consigfacil/creditengine/internal/calculation/application"
	calcdomain "github.com/consigfacil/creditengine/internal/calculation/domain"
	"github.com/consigfacil/creditengine/internal/proposal/domain"
	scoringapp "github.com/consigfacil/creditengine/internal/scoring/application"
	scoringdomain "github.com/consigfacil/creditengine/internal/scoring/domain"
)

// ---- in-memory collaborators ----

type memoryProposalRepo struct {
	mu        sync.Mutex
	proposals map[string]*domain.Proposal
}

func newMemoryProposalRepo() *memoryProposalRepo {
	return &memoryProposalRepo{proposals: make(map[string]*domain.Proposal)}
}

func (r *memoryProposalRepo) Create(_ context.Context, p *domain.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *p
	r.proposals[p.ID] = &clone
	return nil
}

func (r *memoryProposalRepo) Get(_ context.Context, id string) (*domain.Proposal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.proposals[id]
	if !ok {
		return nil, domain.ErrProposalNotFound
	}
	clone := *p
	return &clone, nil
}

func (r *memoryProposalRepo) Save(_ context.Context, p *domain.Proposal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.proposals[p.ID]
	if !ok {
		return domain.ErrProposalNotFound
	}
	if stored.Version != p.Version {
		return domain.ErrVersionConflict
	}
	clone := *p
	clone.Version = p.Version + 1
	r.proposals[p.ID] = &clone
	p.Version = clone.Version
	return nil
}

type capturingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	fail    error
}

func (a *capturingAudit) Append(_ context.Context, entry domain.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	a.entries = append(a.entries, entry)
	return nil
}

type capturingInstallments struct {
	mu        sync.Mutex
	schedules map[string][]calcdomain.Installment
	fail      error
}

func (c *capturingInstallments) SaveSchedule(_ context.Context, proposalID string, rows []calcdomain.Installment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	if c.schedules == nil {
		c.schedules = make(map[string][]calcdomain.Installment)
	}
	c.schedules[proposalID] = rows
	return nil
}

type capturingPublisher struct {
	mu         sync.Mutex
	statuses   []domain.StatusChangedEvent
	decisions  []domain.DecisionMadeEvent
	disbursed  []domain.DisbursedEvent
	auditTrail []domain.AuditEntry
	fail       error
}

func (p *capturingPublisher) PublishStatusChanged(e domain.StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.statuses = append(p.statuses, e)
	return nil
}

func (p *capturingPublisher) PublishDecisionMade(e domain.DecisionMadeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.decisions = append(p.decisions, e)
	return nil
}

func (p *capturingPublisher) PublishDisbursed(e domain.DisbursedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.disbursed = append(p.disbursed, e)
	return nil
}

func (p *capturingPublisher) PublishAuditRecorded(e domain.AuditEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.auditTrail = append(p.auditTrail, e)
	return nil
}

// memoryTx hands the in-memory collaborators out as one scope and undoes
// their writes when fn fails, mirroring a database rollback.
type memoryTx struct {
	repo         *memoryProposalRepo
	audit        *capturingAudit
	installments *capturingInstallments
	publisher    *capturingPublisher
}

type txSnapshot struct {
	proposals  map[string]*domain.Proposal
	schedules  map[string][]calcdomain.Installment
	audits     int
	statuses   int
	decisions  int
	disbursed  int
	auditTrail int
}

func (t *memoryTx) InTx(_ context.Context, fn func(domain.TxScope) error) error {
	snap := t.snapshot()
	err := fn(domain.TxScope{
		Proposals:    t.repo,
		Audit:        t.audit,
		Installments: t.installments,
		Publisher:    t.publisher,
	})
	if err != nil {
		t.restore(snap)
	}
	return err
}

func (t *memoryTx) snapshot() txSnapshot {
	t.repo.mu.Lock()
	proposals := make(map[string]*domain.Proposal, len(t.repo.proposals))
	for id, p := range t.repo.proposals {
		proposals[id] = p
	}
	t.repo.mu.Unlock()

	t.installments.mu.Lock()
	schedules := make(map[string][]calcdomain.Installment, len(t.installments.schedules))
	for id, rows := range t.installments.schedules {
		schedules[id] = rows
	}
	t.installments.mu.Unlock()

	t.audit.mu.Lock()
	audits := len(t.audit.entries)
	t.audit.mu.Unlock()

	t.publisher.mu.Lock()
	defer t.publisher.mu.Unlock()
	return txSnapshot{
		proposals:  proposals,
		schedules:  schedules,
		audits:     audits,
		statuses:   len(t.publisher.statuses),
		decisions:  len(t.publisher.decisions),
		disbursed:  len(t.publisher.disbursed),
		auditTrail: len(t.publisher.auditTrail),
	}
}

func (t *memoryTx) restore(snap txSnapshot) {
	t.repo.mu.Lock()
	t.repo.proposals = snap.proposals
	t.repo.mu.Unlock()

	t.installments.mu.Lock()
	t.installments.schedules = snap.schedules
	t.installments.mu.Unlock()

	t.audit.mu.Lock()
	t.audit.entries = t.audit.entries[:snap.audits]
	t.audit.mu.Unlock()

	t.publisher.mu.Lock()
	t.publisher.statuses = t.publisher.statuses[:snap.statuses]
	t.publisher.decisions = t.publisher.decisions[:snap.decisions]
	t.publisher.disbursed = t.publisher.disbursed[:snap.disbursed]
	t.publisher.auditTrail = t.publisher.auditTrail[:snap.auditTrail]
	t.publisher.mu.Unlock()
}

type testLocker struct {
	mu   sync.Mutex
	held map[string]bool
	deny bool
}

func newTestLocker() *testLocker { return &testLocker{held: make(map[string]bool)} }

func (l *testLocker) Acquire(_ context.Context, proposalID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.deny || l.held[proposalID] {
		return nil, false, nil
	}
	l.held[proposalID] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, proposalID)
	}, true, nil
}

// ---- scoring collaborators ----

type stubScoreRepo struct{}

func (stubScoreRepo) Save(context.Context, *scoringdomain.FraudScore) error { return nil }
func (stubScoreRepo) GetByProposal(context.Context, string) (*scoringdomain.FraudScore, error) {
	return nil, scoringdomain.ErrScoreNotFound
}
func (stubScoreRepo) ListByClient(context.Context, string) ([]*scoringdomain.FraudScore, error) {
	return nil, nil
}

type stubHistoryRepo struct {
	history scoringdomain.ClientHistory
}

func (s stubHistoryRepo) ClientHistory(context.Context, string, string, string) (scoringdomain.ClientHistory, error) {
	return s.history, nil
}

type memoryLearningRepo struct {
	mu       sync.Mutex
	learning map[string]*scoringdomain.ClientLearning
}

func (r *memoryLearningRepo) Get(_ context.Context, clientID string) (*scoringdomain.ClientLearning, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cl, ok := r.learning[clientID]
	if !ok {
		return nil, scoringdomain.ErrLearningNotFound
	}
	clone := *cl
	return &clone, nil
}

func (r *memoryLearningRepo) Upsert(_ context.Context, cl *scoringdomain.ClientLearning) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.learning == nil {
		r.learning = make(map[string]*scoringdomain.ClientLearning)
	}
	clone := *cl
	r.learning[cl.ClientID] = &clone
	return nil
}

type stubVerifiers struct {
	bureau   scoringdomain.BureauResult
	registry scoringdomain.RegistryResult
	bank     scoringdomain.BankAccountResult
}

func (s stubVerifiers) bureauVerifier() scoringdomain.BureauVerifier     { return bureauFn(s) }
func (s stubVerifiers) registryVerifier() scoringdomain.RegistryVerifier { return registryFn(s) }
func (s stubVerifiers) bankVerifier() scoringdomain.BankAccountVerifier  { return bankFn(s) }

type bureauFn stubVerifiers

func (f bureauFn) Check(context.Context, string) (scoringdomain.BureauResult, error) {
	return f.bureau, nil
}

type registryFn stubVerifiers

func (f registryFn) Check(context.Context, string) (scoringdomain.RegistryResult, error) {
	return f.registry, nil
}

type bankFn stubVerifiers

func (f bankFn) Check(context.Context, string, string) (scoringdomain.BankAccountResult, error) {
	return f.bank, nil
}

type memoryApprovalRepo struct {
	mu       sync.Mutex
	requests map[string]*approvaldomain.ApprovalRequest
}

func newMemoryApprovalRepo() *memoryApprovalRepo {
	return &memoryApprovalRepo{requests: make(map[string]*approvaldomain.ApprovalRequest)}
}

func (r *memoryApprovalRepo) Create(_ context.Context, a *approvaldomain.ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *a
	r.requests[a.ID] = &clone
	return nil
}

func (r *memoryApprovalRepo) Get(_ context.Context, id string) (*approvaldomain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.requests[id]
	if !ok {
		return nil, approvaldomain.ErrApprovalNotFound
	}
	clone := *a
	return &clone, nil
}

func (r *memoryApprovalRepo) SaveCAS(_ context.Context, a *approvaldomain.ApprovalRequest, expectedVersion uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.requests[a.ID]
	if !ok {
		return approvaldomain.ErrApprovalNotFound
	}
	if stored.Version != expectedVersion {
		return approvaldomain.ErrStaleApprovalState
	}
	clone := *a
	clone.Version = expectedVersion + 1
	r.requests[a.ID] = &clone
	a.Version = clone.Version
	return nil
}

func (r *memoryApprovalRepo) ListPending(_ context.Context, rule approvaldomain.RuleType) ([]*approvaldomain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*approvaldomain.ApprovalRequest
	for _, a := range r.requests {
		if a.RuleType == rule && !a.Status.IsTerminal() {
			clone := *a
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *memoryApprovalRepo) FindLatestForEntity(_ context.Context, rule approvaldomain.RuleType, entityType, entityID string) (*approvaldomain.ApprovalRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *approvaldomain.ApprovalRequest
	for _, a := range r.requests {
		if a.RuleType != rule || a.EntityType != entityType || a.EntityID != entityID {
			continue
		}
		if latest == nil || a.RequestedAt.After(latest.RequestedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, approvaldomain.ErrApprovalNotFound
	}
	clone := *latest
	return &clone, nil
}

type stubConvenios struct{}

func (stubConvenios) Get(context.Context, string) (calcdomain.ConvenioConfig, error) {
	return calcdomain.ConvenioConfig{}, calcdomain.ErrConvenioNotFound
}

// ---- fixture ----

type fixture struct {
	service      *ProposalService
	repo         *memoryProposalRepo
	audit        *capturingAudit
	installments *capturingInstallments
	publisher    *capturingPublisher
	locker       *testLocker
	learning     *memoryLearningRepo
	approvals    *approvalapp.ApprovalService
	approvalRepo *memoryApprovalRepo
}

func cleanVerifiers() stubVerifiers {
	return stubVerifiers{
		bureau:   scoringdomain.BureauResult{Outcome: scoringdomain.OutcomeConfirmed, HasCreditHistory: true},
		registry: scoringdomain.RegistryResult{Outcome: scoringdomain.OutcomeConfirmed, PublicEmployee: true},
		bank:     scoringdomain.BankAccountResult{Outcome: scoringdomain.OutcomeConfirmed, IsOwner: true},
	}
}

func newFixture(t *testing.T, verifiers stubVerifiers, history scoringdomain.ClientHistory) *fixture {
	t.Helper()
	logger := slog.Default()

	repo := newMemoryProposalRepo()
	audit := &capturingAudit{}
	installments := &capturingInstallments{}
	publisher := &capturingPublisher{}
	locker := newTestLocker()
	learning := &memoryLearningRepo{}

	calcService := calcapp.NewCalculationService(stubConvenios{}, nil, logger)
	scoringService := scoringapp.NewScoringService(
		stubScoreRepo{},
		stubHistoryRepo{history: history},
		learning,
		verifiers.bureauVerifier(),
		verifiers.registryVerifier(),
		verifiers.bankVerifier(),
		time.Second,
		nil,
		logger,
	)
	approvalRepo := newMemoryApprovalRepo()
	approvalService := approvalapp.NewApprovalService(
		approvalRepo,
		[]string{"override_decision", "bank_account_change", "high_value_disbursement"},
		nil,
		logger,
	)

	service := NewProposalService(ProposalServiceDeps{
		Repo:               repo,
		Tx:                 &memoryTx{repo: repo, audit: audit, installments: installments, publisher: publisher},
		Locker:             locker,
		Calc:               calcService,
		Scoring:            scoringService,
		Approval:           approvalService,
		AutoApproveFloor:   3,
		HighValueThreshold: decimal.NewFromInt(5000),
		Metrics:            nil,
		Logger:             logger,
	})

	return &fixture{
		service:      service,
		repo:         repo,
		audit:        audit,
		installments: installments,
		publisher:    publisher,
		locker:       locker,
		learning:     learning,
		approvals:    approvalService,
		approvalRepo: approvalRepo,
	}
}

func (f *fixture) createAdvance(t *testing.T) *domain.Proposal {
	t.Helper()
	p, err := f.service.Create(context.Background(), CreateProposalCommand{
		ClientID:          "c1",
		ProductType:       "salary_advance",
		PixKey:            "pix-1",
		Margin:            decimal.NewFromInt(1500),
		RequestedAmount:   decimal.NewFromInt(400),
		RequestedPct:      decimal.NewFromInt(1),
		DaysWorked:        30,
		ClaimsAffiliation: true,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) seedLearning(clientID string, successes int) {
	_ = f.learning.Upsert(context.Background(), &scoringdomain.ClientLearning{
		ClientID:             clientID,
		TotalOperations:      successes,
		SuccessfulOperations: successes,
	})
}

func (f *fixture) clearGate(t *testing.T, rule, entityID string) {
	t.Helper()
	ctx := context.Background()
	req, err := f.approvals.Open(ctx, approvalapp.OpenRequestCommand{
		RuleType: rule, EntityType: "proposal", EntityID: entityID, RequestedBy: "r",
	})
	require.NoError(t, err)
	_, err = f.approvals.Submit(ctx, approvalapp.SubmitCommand{RequestID: req.ID, ApproverID: "alice", Action: "approve"})
	require.NoError(t, err)
	_, err = f.approvals.Submit(ctx, approvalapp.SubmitCommand{RequestID: req.ID, ApproverID: "bob", Action: "approve"})
	require.NoError(t, err)
}

// ---- tests ----

func TestEvaluateProposal_AutoApprove(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	f.seedLearning("c1", 3)
	p := f.createAdvance(t)

	result, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusMarginApproved, result.NewStatus)
	assert.Equal(t, domain.DecisionApproved, result.DecisionResult)
	assert.Equal(t, 0, result.Score)
	assert.True(t, result.WithinLimits)

	stored, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "356.25", stored.ApprovedAmount.StringFixed(2))
	assert.Equal(t, "386.15", stored.InstallmentValue.StringFixed(2))

	// Intake edges plus the decision edge, each audited and published.
	require.NotEmpty(t, f.publisher.decisions)
	assert.Equal(t, domain.DecisionApproved, f.publisher.decisions[0].Result)
	assert.NotEmpty(t, f.audit.entries)
	last := f.audit.entries[len(f.audit.entries)-1]
	assert.Equal(t, string(domain.StatusMarginApproved), last.ToValue)
	// Every audit entry is mirrored onto the audit log stream.
	assert.Len(t, f.publisher.auditTrail, len(f.audit.entries))
}

func TestEvaluateProposal_LowScoreWithoutPriorGoesToReview(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	// No learning record: the eligibility floor is not met.
	p := f.createAdvance(t)

	result, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusMarginApproved, result.NewStatus)
	assert.Equal(t, domain.DecisionManualReview, result.DecisionResult)
}

func TestEvaluateProposal_HighScoreAutoRejects(t *testing.T) {
	verifiers := cleanVerifiers()
	verifiers.bank = scoringdomain.BankAccountResult{Outcome: scoringdomain.OutcomeFailed}

	f := newFixture(t, verifiers, scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)

	result, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)

	// Titularity unconfirmed scores 70, past the auto-reject floor.
	assert.Equal(t, domain.StatusMarginRejected, result.NewStatus)
	assert.Equal(t, domain.DecisionRejected, result.DecisionResult)
	assert.GreaterOrEqual(t, result.Score, 40)
}

func TestEvaluateProposal_OutOfLimitsHeldBeforeMarginCheck(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})

	p, err := f.service.Create(context.Background(), CreateProposalCommand{
		ClientID:        "c1",
		ProductType:     "salary_advance",
		Margin:          decimal.NewFromInt(500), // base availability 118.75, under the 300 floor
		RequestedAmount: decimal.NewFromInt(400),
		RequestedPct:    decimal.NewFromInt(1),
		DaysWorked:      30,
	})
	require.NoError(t, err)

	result, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)

	assert.False(t, result.WithinLimits)
	assert.NotEqual(t, domain.StatusMarginCheck, result.NewStatus)
	assert.Equal(t, domain.DecisionResult(""), result.DecisionResult)

	stored, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderAnalysis, stored.Status)
	assert.Contains(t, stored.Notes, "outside product limits")
}

func TestEvaluateProposal_IdempotentAfterDecision(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	f.seedLearning("c1", 3)
	p := f.createAdvance(t)

	first, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionApproved, first.DecisionResult)
	decisionEvents := len(f.publisher.decisions)

	second, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, second.NoOp)
	assert.Equal(t, first.NewStatus, second.NewStatus)
	assert.Equal(t, first.Score, second.Score)
	assert.Len(t, f.publisher.decisions, decisionEvents, "a no-op run publishes nothing")
}

func TestEvaluateProposal_LockContention(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{})
	p := f.createAdvance(t)
	f.locker.deny = true

	_, err := f.service.EvaluateProposal(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrEvaluationInFlight)
}

func TestDecide_ManualReviewApprove(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)

	result, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DecisionManualReview, result.DecisionResult)

	decided, err := f.service.Decide(context.Background(), ManualDecisionCommand{
		ProposalID: p.ID, ReviewerID: "reviewer", Approve: true, Notes: "docs verified",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionApproved, decided.DecisionResult)
	assert.Equal(t, domain.StatusMarginApproved, decided.Status)
}

func TestDecide_OverrideRequiresClearedGate(t *testing.T) {
	verifiers := cleanVerifiers()
	verifiers.bank = scoringdomain.BankAccountResult{Outcome: scoringdomain.OutcomeFailed}
	f := newFixture(t, verifiers, scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)

	result, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusMarginRejected, result.NewStatus)

	_, err = f.service.Decide(context.Background(), ManualDecisionCommand{
		ProposalID: p.ID, ReviewerID: "reviewer", Approve: true,
	})
	assert.ErrorIs(t, err, ErrApprovalRequired)

	f.clearGate(t, "override_decision", p.ID)

	decided, err := f.service.Decide(context.Background(), ManualDecisionCommand{
		ProposalID: p.ID, ReviewerID: "reviewer", Approve: true, Notes: "score disputed and verified",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusMarginApproved, decided.Status)
	assert.Equal(t, domain.DecisionApproved, decided.DecisionResult)
}

func TestDecide_NotInReviewBand(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)

	_, err := f.service.Decide(context.Background(), ManualDecisionCommand{
		ProposalID: p.ID, ReviewerID: "reviewer", Approve: true,
	})
	assert.ErrorIs(t, err, ErrNotDecidable)
}

func TestDisburse_AdvanceShortcutWithValidatedAccount(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	f.seedLearning("c1", 3)
	p := f.createAdvance(t)
	ctx := context.Background()

	_, err := f.service.EvaluateProposal(ctx, p.ID)
	require.NoError(t, err)

	_, err = f.service.RecordBankValidation(ctx, BankValidationCommand{
		ProposalID: p.ID, IsOwner: true, IsBlacklisted: false,
	})
	require.NoError(t, err)

	_, err = f.service.RequestCCB(ctx, p.ID, "ops")
	require.NoError(t, err)
	_, err = f.service.ConfirmCCBIssued(ctx, p.ID, "scd")
	require.NoError(t, err)
	_, err = f.service.RequestSignature(ctx, p.ID, "ops")
	require.NoError(t, err)
	_, err = f.service.ConfirmSignature(ctx, p.ID, "client")
	require.NoError(t, err)

	disbursed, err := f.service.Disburse(ctx, DisburseCommand{
		ProposalID:  p.ID,
		Actor:       "treasury",
		DisbursedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisbursed, disbursed.Status)

	rows := f.installments.schedules[p.ID]
	require.Len(t, rows, 1)
	assert.Equal(t, "386.15", rows[0].Amount.StringFixed(2))
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), rows[0].DueDate)

	require.Len(t, f.publisher.disbursed, 1)
	assert.Equal(t, 1, f.publisher.disbursed[0].Installments)
}

func TestDisburse_RequiresApprovedDecision(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)

	_, err := f.service.Disburse(context.Background(), DisburseCommand{ProposalID: p.ID, Actor: "treasury"})
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestDisburse_HighValueLoanGate(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	f.seedLearning("c1", 3)
	ctx := context.Background()

	p, err := f.service.Create(ctx, CreateProposalCommand{
		ClientID:        "c1",
		ProductType:     "consignment_loan",
		RequestedAmount: decimal.NewFromInt(7000), // over the 5000 threshold
		Installments:    12,
	})
	require.NoError(t, err)

	_, err = f.service.EvaluateProposal(ctx, p.ID)
	require.NoError(t, err)

	for _, step := range []func(context.Context, string, string) (*domain.Proposal, error){
		f.service.RequestCCB, f.service.ConfirmCCBIssued,
		f.service.RequestSignature, f.service.ConfirmSignature,
		f.service.RequestAverbation, f.service.ConfirmAverbation,
	} {
		_, err = step(ctx, p.ID, "ops")
		require.NoError(t, err)
	}

	_, err = f.service.Disburse(ctx, DisburseCommand{ProposalID: p.ID, Actor: "treasury"})
	assert.ErrorIs(t, err, ErrApprovalRequired)

	f.clearGate(t, "high_value_disbursement", p.ID)

	disbursed, err := f.service.Disburse(ctx, DisburseCommand{ProposalID: p.ID, Actor: "treasury"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisbursed, disbursed.Status)
	assert.Len(t, f.installments.schedules[p.ID], 12)
}

func TestChangeBankAccount_GatedAndResetsValidation(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)
	ctx := context.Background()

	_, err := f.service.RecordBankValidation(ctx, BankValidationCommand{ProposalID: p.ID, IsOwner: true})
	require.NoError(t, err)

	_, err = f.service.ChangeBankAccount(ctx, p.ID, "pix-2", "ops")
	assert.ErrorIs(t, err, ErrApprovalRequired)

	f.clearGate(t, "bank_account_change", p.ID)

	changed, err := f.service.ChangeBankAccount(ctx, p.ID, "pix-2", "ops")
	require.NoError(t, err)
	assert.Equal(t, "pix-2", changed.PixKey)
	assert.False(t, changed.BankValidated, "a new destination starts unvalidated")
}

func TestCancel_AuditFailureRollsBackTransition(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)
	f.audit.fail = errors.New("audit insert failed")

	_, err := f.service.Cancel(context.Background(), p.ID, "client", "changed their mind")
	require.Error(t, err)

	stored, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status, "a transition without its audit entry must not commit")
	assert.Empty(t, f.publisher.statuses)
	assert.Empty(t, f.audit.entries)
}

func TestCancel_OutboxFailureRollsBackTransition(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)
	f.publisher.fail = errors.New("outbox insert failed")

	_, err := f.service.Cancel(context.Background(), p.ID, "client", "changed their mind")
	require.Error(t, err)

	stored, err := f.service.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status, "a transition without its outbox event must not commit")
	assert.Empty(t, f.audit.entries, "the audit row rolls back with the transition")
}

func TestDisburse_ScheduleFailureRollsBackTransition(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	f.seedLearning("c1", 3)
	p := f.createAdvance(t)
	ctx := context.Background()

	_, err := f.service.EvaluateProposal(ctx, p.ID)
	require.NoError(t, err)
	_, err = f.service.RecordBankValidation(ctx, BankValidationCommand{ProposalID: p.ID, IsOwner: true})
	require.NoError(t, err)
	for _, step := range []func(context.Context, string, string) (*domain.Proposal, error){
		f.service.RequestCCB, f.service.ConfirmCCBIssued,
		f.service.RequestSignature, f.service.ConfirmSignature,
	} {
		_, err = step(ctx, p.ID, "ops")
		require.NoError(t, err)
	}

	f.installments.fail = errors.New("schedule insert failed")
	_, err = f.service.Disburse(ctx, DisburseCommand{ProposalID: p.ID, Actor: "treasury"})
	require.Error(t, err)

	stored, err := f.service.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSignatureCompleted, stored.Status,
		"a disbursement without its collection schedule must not commit")
	assert.Empty(t, f.installments.schedules[p.ID])
	assert.Empty(t, f.publisher.disbursed)

	// The retry after the storage fault recovers sees the untouched state.
	f.installments.fail = nil
	disbursed, err := f.service.Disburse(ctx, DisburseCommand{ProposalID: p.ID, Actor: "treasury"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDisbursed, disbursed.Status)
	assert.Len(t, f.installments.schedules[p.ID], 1)
	assert.Len(t, f.publisher.disbursed, 1)
}

func TestCancel_TerminalStopsEvaluation(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)
	ctx := context.Background()

	_, err := f.service.Cancel(ctx, p.ID, "client", "changed their mind")
	require.NoError(t, err)

	result, err := f.service.EvaluateProposal(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, result.NoOp)
	assert.Equal(t, domain.StatusCancelled, result.NewStatus)
}

func TestExpire_External(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	p := f.createAdvance(t)

	expired, err := f.service.Expire(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, expired.Status)
}

func TestEvaluateProposal_UpdatesClientLearning(t *testing.T) {
	f := newFixture(t, cleanVerifiers(), scoringdomain.ClientHistory{TotalOperations: 4})
	f.seedLearning("c1", 3)
	p := f.createAdvance(t)

	_, err := f.service.EvaluateProposal(context.Background(), p.ID)
	require.NoError(t, err)

	cl, err := f.learning.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 4, cl.SuccessfulOperations)
	assert.Equal(t, 0, cl.LastRiskScore)
}
