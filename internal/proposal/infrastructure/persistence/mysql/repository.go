package mysql

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	calcdomain "github.com/consigfacil/creditengine/internal/calculation/domain"
	"github.com/consigfacil/creditengine/internal/proposal/domain"
)

// ProposalModel is the gorm mapping of a proposal row.
type ProposalModel struct {
	gorm.Model
	ProposalID        string          `gorm:"column:proposal_id;type:varchar(64);uniqueIndex;not null"`
	ClientID          string          `gorm:"column:client_id;type:varchar(64);index;not null"`
	ConvenioID        string          `gorm:"column:convenio_id;type:varchar(64);index"`
	ProductType       string          `gorm:"column:product_type;type:varchar(32);not null"`
	PixKey            string          `gorm:"column:pix_key;type:varchar(128);index"`
	Margin            decimal.Decimal `gorm:"column:margin;type:decimal(20,2)"`
	RequestedAmount   decimal.Decimal `gorm:"column:requested_amount;type:decimal(20,2);not null"`
	RequestedPct      decimal.Decimal `gorm:"column:requested_pct;type:decimal(10,4)"`
	ApprovedAmount    decimal.Decimal `gorm:"column:approved_amount;type:decimal(20,2)"`
	Installments      int             `gorm:"column:installments;not null"`
	InstallmentValue  decimal.Decimal `gorm:"column:installment_value;type:decimal(20,2)"`
	DaysWorked        int             `gorm:"column:days_worked"`
	ClaimsAffiliation bool            `gorm:"column:claims_affiliation"`
	BankValidated     bool            `gorm:"column:bank_validated"`
	Status            string          `gorm:"column:status;type:varchar(32);index;not null"`
	DecisionResult    string          `gorm:"column:decision_result;type:varchar(20)"`
	DecisionScore     *int            `gorm:"column:decision_score"`
	Notes             string          `gorm:"column:notes;type:text"`
	Version           uint64          `gorm:"column:version;not null;default:0"`
}

// TableName sets the proposals table.
func (ProposalModel) TableName() string { return "proposals" }

// ProposalRepo implements domain.ProposalRepository on MySQL.
type ProposalRepo struct {
	db *gorm.DB
}

// NewProposalRepo creates the repository.
func NewProposalRepo(db *gorm.DB) *ProposalRepo {
	return &ProposalRepo{db: db}
}

// Create inserts a new proposal at version zero.
func (r *ProposalRepo) Create(ctx context.Context, p *domain.Proposal) error {
	model := toModel(p)
	return r.db.WithContext(ctx).Create(model).Error
}

// Get loads a proposal by its public id.
func (r *ProposalRepo) Get(ctx context.Context, id string) (*domain.Proposal, error) {
	var model ProposalModel
	if err := r.db.WithContext(ctx).Where("proposal_id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProposalNotFound
		}
		return nil, err
	}
	return toDomain(&model), nil
}

// Save persists the proposal with an optimistic version check: the update only
// lands when the stored version matches the version the entity was read at.
// Zero affected rows means a concurrent writer won and the caller must re-read.
func (r *ProposalRepo) Save(ctx context.Context, p *domain.Proposal) error {
	model := toModel(p)
	readVersion := p.Version
	model.Version = readVersion + 1

	result := r.db.WithContext(ctx).Model(&ProposalModel{}).
		Where("proposal_id = ? AND version = ?", p.ID, readVersion).
		Updates(map[string]interface{}{
			"pix_key":           model.PixKey,
			"approved_amount":   model.ApprovedAmount,
			"installment_value": model.InstallmentValue,
			"bank_validated":    model.BankValidated,
			"status":            model.Status,
			"decision_result":   model.DecisionResult,
			"decision_score":    model.DecisionScore,
			"notes":             model.Notes,
			"version":           model.Version,
			"updated_at":        time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	p.Version = model.Version
	return nil
}

func toModel(p *domain.Proposal) *ProposalModel {
	return &ProposalModel{
		ProposalID:        p.ID,
		ClientID:          p.ClientID,
		ConvenioID:        p.ConvenioID,
		ProductType:       string(p.ProductType),
		PixKey:            p.PixKey,
		Margin:            p.Margin,
		RequestedAmount:   p.RequestedAmount,
		RequestedPct:      p.RequestedPct,
		ApprovedAmount:    p.ApprovedAmount,
		Installments:      p.Installments,
		InstallmentValue:  p.InstallmentValue,
		DaysWorked:        p.DaysWorked,
		ClaimsAffiliation: p.ClaimsAffiliation,
		BankValidated:     p.BankValidated,
		Status:            string(p.Status),
		DecisionResult:    string(p.DecisionResult),
		DecisionScore:     p.DecisionScore,
		Notes:             p.Notes,
		Version:           p.Version,
	}
}

func toDomain(m *ProposalModel) *domain.Proposal {
	return &domain.Proposal{
		ID:                m.ProposalID,
		ClientID:          m.ClientID,
		ConvenioID:        m.ConvenioID,
		ProductType:       domain.ProductType(m.ProductType),
		PixKey:            m.PixKey,
		Margin:            m.Margin,
		RequestedAmount:   m.RequestedAmount,
		RequestedPct:      m.RequestedPct,
		ApprovedAmount:    m.ApprovedAmount,
		Installments:      m.Installments,
		InstallmentValue:  m.InstallmentValue,
		DaysWorked:        m.DaysWorked,
		ClaimsAffiliation: m.ClaimsAffiliation,
		BankValidated:     m.BankValidated,
		Status:            domain.Status(m.Status),
		DecisionResult:    domain.DecisionResult(m.DecisionResult),
		DecisionScore:     m.DecisionScore,
		Notes:             m.Notes,
		Version:           m.Version,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

// InstallmentModel is one collection-schedule row.
type InstallmentModel struct {
	gorm.Model
	ProposalID string          `gorm:"column:proposal_id;type:varchar(64);index;not null"`
	Number     int             `gorm:"column:number;not null"`
	DueDate    time.Time       `gorm:"column:due_date;not null"`
	Amount     decimal.Decimal `gorm:"column:amount;type:decimal(20,2);not null"`
	Interest   decimal.Decimal `gorm:"column:interest;type:decimal(20,2)"`
	Principal  decimal.Decimal `gorm:"column:principal;type:decimal(20,2)"`
	Balance    decimal.Decimal `gorm:"column:balance;type:decimal(20,2)"`
	Paid       bool            `gorm:"column:paid;not null;default:false"`
}

// TableName sets the installments table.
func (InstallmentModel) TableName() string { return "proposal_installments" }

// InstallmentRepo implements domain.InstallmentRepository.
type InstallmentRepo struct {
	db *gorm.DB
}

// NewInstallmentRepo creates the repository.
func NewInstallmentRepo(db *gorm.DB) *InstallmentRepo {
	return &InstallmentRepo{db: db}
}

// SaveSchedule writes the full schedule for one proposal in a single batch.
func (r *InstallmentRepo) SaveSchedule(ctx context.Context, proposalID string, rows []calcdomain.Installment) error {
	models := make([]InstallmentModel, 0, len(rows))
	for _, row := range rows {
		models = append(models, InstallmentModel{
			ProposalID: proposalID,
			Number:     row.Number,
			DueDate:    row.DueDate,
			Amount:     row.Amount,
			Interest:   row.Interest,
			Principal:  row.Principal,
			Balance:    row.Balance,
		})
	}
	return r.db.WithContext(ctx).Create(&models).Error
}
