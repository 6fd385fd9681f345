package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/consigfacil/creditengine/internal/scoring/domain"
)

// FraudScoreModel is the immutable scoring record row.
type FraudScoreModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ScoreID    string    `gorm:"column:score_id;type:varchar(36);uniqueIndex;not null"`
	ClientID   string    `gorm:"column:client_id;type:varchar(64);index;not null"`
	ProposalID string    `gorm:"column:proposal_id;type:varchar(64);index;not null"`
	Score      int       `gorm:"column:score;not null"`
	RiskLevel  string    `gorm:"column:risk_level;type:varchar(16);not null"`
	Factors    string    `gorm:"column:factors;type:text"`
	ManualReview bool    `gorm:"column:manual_review;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

// TableName sets the scores table.
func (FraudScoreModel) TableName() string { return "fraud_scores" }

// ClientLearningModel is the per-client aggregate row.
type ClientLearningModel struct {
	ID                   uint64    `gorm:"primaryKey;autoIncrement"`
	ClientID             string    `gorm:"column:client_id;type:varchar(64);uniqueIndex;not null"`
	TotalOperations      int       `gorm:"column:total_operations;not null"`
	SuccessfulOperations int       `gorm:"column:successful_operations;not null"`
	AvgDaysToPayroll     float64   `gorm:"column:avg_days_to_payroll"`
	LastRiskScore        int       `gorm:"column:last_risk_score"`
	AutoApprove          bool      `gorm:"column:auto_approve;not null"`
	UpdatedAt            time.Time `gorm:"column:updated_at"`
}

// TableName sets the learning table.
func (ClientLearningModel) TableName() string { return "client_learning" }

// ScoreRepo implements domain.ScoreRepository. Rows are insert-only.
type ScoreRepo struct {
	db *gorm.DB
}

// NewScoreRepo creates the repository.
func NewScoreRepo(db *gorm.DB) *ScoreRepo {
	return &ScoreRepo{db: db}
}

// Save inserts the score record with its ordered factor list as JSON.
func (r *ScoreRepo) Save(ctx context.Context, score *domain.FraudScore) error {
	factors, err := json.Marshal(score.RiskFactors)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Create(&FraudScoreModel{
		ScoreID:      score.ID,
		ClientID:     score.ClientID,
		ProposalID:   score.ProposalID,
		Score:        score.Score,
		RiskLevel:    string(score.RiskLevel),
		Factors:      string(factors),
		ManualReview: score.RequiresManualReview,
		CreatedAt:    score.CreatedAt,
	}).Error
}

// GetByProposal returns the most recent score for a proposal.
func (r *ScoreRepo) GetByProposal(ctx context.Context, proposalID string) (*domain.FraudScore, error) {
	var model FraudScoreModel
	err := r.db.WithContext(ctx).
		Where("proposal_id = ?", proposalID).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrScoreNotFound
		}
		return nil, err
	}
	return scoreToDomain(&model)
}

// ListByClient returns every score recorded for a client, newest first.
func (r *ScoreRepo) ListByClient(ctx context.Context, clientID string) ([]*domain.FraudScore, error) {
	var models []FraudScoreModel
	if err := r.db.WithContext(ctx).
		Where("client_id = ?", clientID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	scores := make([]*domain.FraudScore, 0, len(models))
	for i := range models {
		score, err := scoreToDomain(&models[i])
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, nil
}

func scoreToDomain(m *FraudScoreModel) (*domain.FraudScore, error) {
	var factors []domain.RiskFactor
	if m.Factors != "" {
		if err := json.Unmarshal([]byte(m.Factors), &factors); err != nil {
			return nil, err
		}
	}
	return &domain.FraudScore{
		ID:                   m.ScoreID,
		ClientID:             m.ClientID,
		ProposalID:           m.ProposalID,
		Score:                m.Score,
		RiskLevel:            domain.RiskLevel(m.RiskLevel),
		RiskFactors:          factors,
		RequiresManualReview: m.ManualReview,
		CreatedAt:            m.CreatedAt,
	}, nil
}

// LearningRepo implements domain.LearningRepository.
type LearningRepo struct {
	db *gorm.DB
}

// NewLearningRepo creates the repository.
func NewLearningRepo(db *gorm.DB) *LearningRepo {
	return &LearningRepo{db: db}
}

// Get loads the aggregate for a client.
func (r *LearningRepo) Get(ctx context.Context, clientID string) (*domain.ClientLearning, error) {
	var model ClientLearningModel
	if err := r.db.WithContext(ctx).Where("client_id = ?", clientID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrLearningNotFound
		}
		return nil, err
	}
	return &domain.ClientLearning{
		ClientID:             model.ClientID,
		TotalOperations:      model.TotalOperations,
		SuccessfulOperations: model.SuccessfulOperations,
		AvgDaysToPayroll:     model.AvgDaysToPayroll,
		LastRiskScore:        model.LastRiskScore,
		AutoApprove:          model.AutoApprove,
		UpdatedAt:            model.UpdatedAt,
	}, nil
}

// Upsert writes the aggregate, inserting on first contact.
func (r *LearningRepo) Upsert(ctx context.Context, learning *domain.ClientLearning) error {
	model := ClientLearningModel{
		ClientID:             learning.ClientID,
		TotalOperations:      learning.TotalOperations,
		SuccessfulOperations: learning.SuccessfulOperations,
		AvgDaysToPayroll:     learning.AvgDaysToPayroll,
		LastRiskScore:        learning.LastRiskScore,
		AutoApprove:          learning.AutoApprove,
		UpdatedAt:            learning.UpdatedAt,
	}

	var exist ClientLearningModel
	if err := r.db.WithContext(ctx).Where("client_id = ?", learning.ClientID).First(&exist).Error; err == nil {
		model.ID = exist.ID
	}
	return r.db.WithContext(ctx).Save(&model).Error
}

// HistoryRepo implements domain.HistoryRepository with aggregate queries over
// the proposals and scores tables.
type HistoryRepo struct {
	db *gorm.DB
}

// NewHistoryRepo creates the repository.
func NewHistoryRepo(db *gorm.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// ClientHistory answers the evaluator's aggregate questions. The proposal
// currently under evaluation is excluded from every count.
func (r *HistoryRepo) ClientHistory(ctx context.Context, clientID, pixKey, excludeProposalID string) (domain.ClientHistory, error) {
	var history domain.ClientHistory

	prior := func() *gorm.DB {
		q := r.db.WithContext(ctx).Table("proposals").Where("client_id = ?", clientID)
		if excludeProposalID != "" {
			q = q.Where("proposal_id <> ?", excludeProposalID)
		}
		return q
	}

	var total int64
	if err := prior().Count(&total).Error; err != nil {
		return history, err
	}
	history.TotalOperations = int(total)

	var successful int64
	if err := prior().Where("status = ?", "disbursed").Count(&successful).Error; err != nil {
		return history, err
	}
	history.SuccessfulOperations = int(successful)

	now := time.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	var monthOps int64
	if err := prior().Where("created_at >= ?", monthStart).Count(&monthOps).Error; err != nil {
		return history, err
	}
	history.OperationsThisMonth = int(monthOps)

	if pixKey != "" {
		var otherClients int64
		if err := r.db.WithContext(ctx).Table("proposals").
			Where("pix_key = ? AND client_id <> ?", pixKey, clientID).
			Distinct("client_id").
			Count(&otherClients).Error; err != nil {
			return history, err
		}
		history.SharedPixOtherClients = int(otherClients)
	}
	return history, nil
}
