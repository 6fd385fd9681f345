package domain

import (
	"context"
	"time"

	calcdomain "github.com/consigfacil/creditengine/internal/calculation/domain"
)

// ProposalRepository is the persistence contract for proposals. Save must
// apply an optimistic version check and return ErrVersionConflict when the
// stored version no longer matches the one the entity was read at.
type ProposalRepository interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	Save(ctx context.Context, p *Proposal) error
}

// AuditEntry is one append-only audit record written on every transition.
type AuditEntry struct {
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     string    `json:"action"`
	FromValue  string    `json:"from_value"`
	ToValue    string    `json:"to_value"`
	Detail     string    `json:"detail"`
	Actor      string    `json:"actor"`
	At         time.Time `json:"at"`
}

// AuditLogger appends audit entries through the external persistence
// collaborator. The engine only owns the write contract.
type AuditLogger interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// InstallmentRepository stores the collection schedule emitted when a
// proposal reaches disbursement.
type InstallmentRepository interface {
	SaveSchedule(ctx context.Context, proposalID string, rows []calcdomain.Installment) error
}

// TxScope bundles the write collaborators bound to one transaction.
type TxScope struct {
	Proposals    ProposalRepository
	Audit        AuditLogger
	Installments InstallmentRepository
	Publisher    EventPublisher
}

// TxRunner executes fn atomically: every write made through the scope commits
// or rolls back as one unit. A transition, its audit entry and its outbox
// events must never land partially.
type TxRunner interface {
	InTx(ctx context.Context, fn func(scope TxScope) error) error
}

// ProposalLocker serializes work per proposal id: at most one in-flight
// transition per proposal. ok is false when another evaluation holds the lock.
type ProposalLocker interface {
	Acquire(ctx context.Context, proposalID string) (release func(), ok bool, err error)
}
