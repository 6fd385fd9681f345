package mysql

import (
	"context"

	"gorm.io/gorm"

	"github.com/consigfacil/creditengine/internal/proposal/domain"
	"github.com/consigfacil/creditengine/internal/proposal/infrastructure/messaging"
	pkgdb "github.com/consigfacil/creditengine/pkg/db"
)

// TxManager implements domain.TxRunner on the shared database handle. The
// collaborators handed to fn are bound to one transaction, so a state write,
// its audit entry and its outbox rows commit or roll back together.
type TxManager struct {
	db *pkgdb.DB
}

// NewTxManager creates the transactional scope factory.
func NewTxManager(database *pkgdb.DB) *TxManager {
	return &TxManager{db: database}
}

// InTx runs fn inside a single database transaction.
func (m *TxManager) InTx(ctx context.Context, fn func(scope domain.TxScope) error) error {
	return m.db.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(domain.TxScope{
			Proposals:    NewProposalRepo(tx),
			Audit:        NewAuditRepo(tx),
			Installments: NewInstallmentRepo(tx),
			Publisher:    messaging.NewOutboxEventPublisher(tx),
		})
	})
}
