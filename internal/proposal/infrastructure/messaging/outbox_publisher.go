package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/consigfacil/creditengine/internal/proposal/domain"
)

// OutboxMessage is one event waiting for relay to the broker.
type OutboxMessage struct {
	ID        string    `gorm:"type:varchar(36);primaryKey"`
	EventType string    `gorm:"type:varchar(100);index"`
	Key       string    `gorm:"type:varchar(64);index"`
	Payload   string    `gorm:"type:text"`
	Status    string    `gorm:"type:varchar(20);index;default:'pending'"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// TableName sets the outbox table.
func (OutboxMessage) TableName() string { return "proposal_outbox" }

const (
	outboxPending   = "pending"
	outboxPublished = "published"
)

// OutboxEventPublisher implements domain.EventPublisher with the outbox
// pattern: events land in the same database as the state they describe and a
// relay drains them to Kafka.
type OutboxEventPublisher struct {
	db *gorm.DB
}

// NewOutboxEventPublisher creates the publisher.
func NewOutboxEventPublisher(db *gorm.DB) *OutboxEventPublisher {
	return &OutboxEventPublisher{db: db}
}

// PublishStatusChanged records a transition event.
func (p *OutboxEventPublisher) PublishStatusChanged(event domain.StatusChangedEvent) error {
	return p.publish(domain.EventStatusChanged, event.ProposalID, event)
}

// PublishDecisionMade records a decision event.
func (p *OutboxEventPublisher) PublishDecisionMade(event domain.DecisionMadeEvent) error {
	return p.publish(domain.EventDecisionMade, event.ProposalID, event)
}

// PublishDisbursed records a disbursement event.
func (p *OutboxEventPublisher) PublishDisbursed(event domain.DisbursedEvent) error {
	return p.publish(domain.EventDisbursed, event.ProposalID, event)
}

// PublishAuditRecorded mirrors an audit entry onto the audit log stream; the
// relay routes it to the audit topic.
func (p *OutboxEventPublisher) PublishAuditRecorded(entry domain.AuditEntry) error {
	return p.publish(domain.EventAuditRecorded, entry.EntityID, entry)
}

func (p *OutboxEventPublisher) publish(eventType, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.db.Create(&OutboxMessage{
		ID:        uuid.New().String(),
		EventType: eventType,
		Key:       key,
		Payload:   string(payload),
		Status:    outboxPending,
	}).Error
}
