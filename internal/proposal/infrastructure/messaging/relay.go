package messaging

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/consigfacil/creditengine/internal/proposal/domain"
	"github.com/consigfacil/creditengine/pkg/logger"
	"github.com/consigfacil/creditengine/pkg/metrics"
	"github.com/consigfacil/creditengine/pkg/mq"
)

// Relay drains pending outbox rows to Kafka. Rows are marked published only
// after the broker acknowledged the write, so delivery is at-least-once.
// Audit-trail events go to their own topic; everything else to the proposal
// topic.
type Relay struct {
	db            *gorm.DB
	producer      *mq.KafkaProducer
	proposalTopic string
	auditTopic    string
	interval      time.Duration
	batch         int
	metrics       *metrics.Metrics
}

// NewRelay creates the outbox relay.
func NewRelay(db *gorm.DB, producer *mq.KafkaProducer, proposalTopic, auditTopic string, interval time.Duration, m *metrics.Metrics) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		db:            db,
		producer:      producer,
		proposalTopic: proposalTopic,
		auditTopic:    auditTopic,
		interval:      interval,
		batch:         100,
		metrics:       m,
	}
}

// topicFor picks the destination topic for one outbox row.
func (r *Relay) topicFor(eventType string) string {
	if eventType == domain.EventAuditRecorded && r.auditTopic != "" {
		return r.auditTopic
	}
	return r.proposalTopic
}

// Run loops until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				logger.Error(ctx, "outbox drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drain(ctx context.Context) error {
	var pending []OutboxMessage
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxPending).
		Order("created_at").
		Limit(r.batch).
		Find(&pending).Error; err != nil {
		return err
	}

	if r.metrics != nil {
		r.metrics.OutboxPending.Set(float64(len(pending)))
	}

	for _, msg := range pending {
		if err := r.producer.SendRaw(ctx, r.topicFor(msg.EventType), msg.Key, []byte(msg.Payload)); err != nil {
			// Leave the row pending; the next tick retries.
			return err
		}
		if err := r.db.WithContext(ctx).Model(&OutboxMessage{}).
			Where("id = ?", msg.ID).
			Update("status", outboxPublished).Error; err != nil {
			return err
		}
	}
	return nil
}
