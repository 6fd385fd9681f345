package mysql

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/consigfacil/creditengine/internal/proposal/domain"
)

// AuditLogModel is one append-only audit row.
type AuditLogModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	EntityType string    `gorm:"column:entity_type;type:varchar(32);index:idx_audit_entity;not null"`
	EntityID   string    `gorm:"column:entity_id;type:varchar(64);index:idx_audit_entity;not null"`
	Action     string    `gorm:"column:action;type:varchar(64);not null"`
	FromValue  string    `gorm:"column:from_value;type:varchar(255)"`
	ToValue    string    `gorm:"column:to_value;type:varchar(255)"`
	Detail     string    `gorm:"column:detail;type:text"`
	Actor      string    `gorm:"column:actor;type:varchar(64)"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName sets the audit table.
func (AuditLogModel) TableName() string { return "audit_log" }

// AuditRepo implements domain.AuditLogger. Rows are insert-only.
type AuditRepo struct {
	db *gorm.DB
}

// NewAuditRepo creates the audit appender.
func NewAuditRepo(db *gorm.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append writes one audit entry.
func (r *AuditRepo) Append(ctx context.Context, entry domain.AuditEntry) error {
	at := entry.At
	if at.IsZero() {
		at = time.Now()
	}
	return r.db.WithContext(ctx).Create(&AuditLogModel{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		FromValue:  entry.FromValue,
		ToValue:    entry.ToValue,
		Detail:     entry.Detail,
		Actor:      entry.Actor,
		CreatedAt:  at,
	}).Error
}
