package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/consigfacil/creditengine/internal/approval/domain"
)

// ApprovalRequestModel is the gorm mapping of an approval request row.
type ApprovalRequestModel struct {
	gorm.Model
	RequestID      string     `gorm:"column:request_id;type:varchar(64);uniqueIndex;not null"`
	RuleType       string     `gorm:"column:rule_type;type:varchar(40);index;not null"`
	EntityType     string     `gorm:"column:entity_type;type:varchar(40);not null"`
	EntityID       string     `gorm:"column:entity_id;type:varchar(64);index;not null"`
	Status         string     `gorm:"column:status;type:varchar(20);index;not null"`
	RequestedBy    string     `gorm:"column:requested_by;type:varchar(64);not null"`
	RequestedAt    time.Time  `gorm:"column:requested_at;not null"`
	Justification  string     `gorm:"column:justification;type:text"`
	FirstApprover  string     `gorm:"column:first_approver;type:varchar(64)"`
	FirstAt        *time.Time `gorm:"column:first_at"`
	FirstNotes     string     `gorm:"column:first_notes;type:text"`
	SecondApprover string     `gorm:"column:second_approver;type:varchar(64)"`
	SecondAt       *time.Time `gorm:"column:second_at"`
	SecondNotes    string     `gorm:"column:second_notes;type:text"`
	Version        uint64     `gorm:"column:version;not null;default:0"`
}

// TableName sets the approval requests table.
func (ApprovalRequestModel) TableName() string { return "approval_requests" }

// ApprovalRepo implements domain.ApprovalRepository on MySQL.
type ApprovalRepo struct {
	db *gorm.DB
}

// NewApprovalRepo creates the repository.
func NewApprovalRepo(db *gorm.DB) *ApprovalRepo {
	return &ApprovalRepo{db: db}
}

// Create inserts a new request at version zero.
func (r *ApprovalRepo) Create(ctx context.Context, a *domain.ApprovalRequest) error {
	return r.db.WithContext(ctx).Create(toModel(a)).Error
}

// Get loads a request by its public id.
func (r *ApprovalRepo) Get(ctx context.Context, id string) (*domain.ApprovalRequest, error) {
	var model ApprovalRequestModel
	if err := r.db.WithContext(ctx).Where("request_id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrApprovalNotFound
		}
		return nil, err
	}
	return toDomain(&model), nil
}

// SaveCAS persists the request only when the stored version still matches the
// version the caller read. Zero affected rows means a racing submission landed
// first and the state must be re-read before retrying.
func (r *ApprovalRepo) SaveCAS(ctx context.Context, a *domain.ApprovalRequest, expectedVersion uint64) error {
	model := toModel(a)
	model.Version = expectedVersion + 1

	result := r.db.WithContext(ctx).Model(&ApprovalRequestModel{}).
		Where("request_id = ? AND version = ?", a.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":          model.Status,
			"first_approver":  model.FirstApprover,
			"first_at":        model.FirstAt,
			"first_notes":     model.FirstNotes,
			"second_approver": model.SecondApprover,
			"second_at":       model.SecondAt,
			"second_notes":    model.SecondNotes,
			"version":         model.Version,
			"updated_at":      time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrStaleApprovalState
	}
	a.Version = model.Version
	return nil
}

// ListPending returns the non-terminal requests for one rule, oldest first.
func (r *ApprovalRepo) ListPending(ctx context.Context, rule domain.RuleType) ([]*domain.ApprovalRequest, error) {
	var models []ApprovalRequestModel
	err := r.db.WithContext(ctx).
		Where("rule_type = ? AND status IN ?", string(rule),
			[]string{string(domain.StatusPendingFirst), string(domain.StatusPendingSecond)}).
		Order("requested_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ApprovalRequest, 0, len(models))
	for i := range models {
		out = append(out, toDomain(&models[i]))
	}
	return out, nil
}

// FindLatestForEntity returns the most recent request gating the entity under
// the rule, regardless of status.
func (r *ApprovalRepo) FindLatestForEntity(ctx context.Context, rule domain.RuleType, entityType, entityID string) (*domain.ApprovalRequest, error) {
	var model ApprovalRequestModel
	err := r.db.WithContext(ctx).
		Where("rule_type = ? AND entity_type = ? AND entity_id = ?", string(rule), entityType, entityID).
		Order("requested_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrApprovalNotFound
		}
		return nil, err
	}
	return toDomain(&model), nil
}

func toModel(a *domain.ApprovalRequest) *ApprovalRequestModel {
	return &ApprovalRequestModel{
		RequestID:      a.ID,
		RuleType:       string(a.RuleType),
		EntityType:     a.EntityType,
		EntityID:       a.EntityID,
		Status:         string(a.Status),
		RequestedBy:    a.RequestedBy,
		RequestedAt:    a.RequestedAt,
		Justification:  a.Justification,
		FirstApprover:  a.FirstApprover,
		FirstAt:        a.FirstAt,
		FirstNotes:     a.FirstNotes,
		SecondApprover: a.SecondApprover,
		SecondAt:       a.SecondAt,
		SecondNotes:    a.SecondNotes,
		Version:        a.Version,
	}
}

func toDomain(m *ApprovalRequestModel) *domain.ApprovalRequest {
	return &domain.ApprovalRequest{
		ID:             m.RequestID,
		RuleType:       domain.RuleType(m.RuleType),
		EntityType:     m.EntityType,
		EntityID:       m.EntityID,
		Status:         domain.Status(m.Status),
		RequestedBy:    m.RequestedBy,
		RequestedAt:    m.RequestedAt,
		Justification:  m.Justification,
		FirstApprover:  m.FirstApprover,
		FirstAt:        m.FirstAt,
		FirstNotes:     m.FirstNotes,
		SecondApprover: m.SecondApprover,
		SecondAt:       m.SecondAt,
		SecondNotes:    m.SecondNotes,
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
