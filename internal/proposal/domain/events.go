package domain

import "time"

// Event types published through the outbox.
const (
	EventStatusChanged = "ProposalStatusChanged"
	EventDecisionMade  = "ProposalDecisionMade"
	EventDisbursed     = "ProposalDisbursed"
	EventAuditRecorded = "AuditEntryRecorded"
)

// StatusChangedEvent is emitted on every committed transition.
type StatusChangedEvent struct {
	ProposalID string    `json:"proposal_id"`
	ClientID   string    `json:"client_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Rationale  string    `json:"rationale"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DecisionMadeEvent is emitted when the engine records a scoring verdict.
type DecisionMadeEvent struct {
	ProposalID string         `json:"proposal_id"`
	ClientID   string         `json:"client_id"`
	Result     DecisionResult `json:"result"`
	Score      int            `json:"score"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// DisbursedEvent is emitted when funds go out, carrying the schedule size so
// collection tracking can pick it up.
type DisbursedEvent struct {
	ProposalID   string    `json:"proposal_id"`
	ClientID     string    `json:"client_id"`
	Amount       string    `json:"amount"`
	Installments int       `json:"installments"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventPublisher records engine events for asynchronous delivery. The outbox
// implementation writes them in the same transaction as the state change.
type EventPublisher interface {
	PublishStatusChanged(event StatusChangedEvent) error
	PublishDecisionMade(event DecisionMadeEvent) error
	PublishDisbursed(event DisbursedEvent) error
	// PublishAuditRecorded mirrors an audit entry onto the audit log stream.
	PublishAuditRecorded(entry AuditEntry) error
}
