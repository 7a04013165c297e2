package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"casino-settlement/internal/models"
)

// ConfirmDeposit credits a confirmed on-chain transfer exactly once. The
// transaction row is inserted before the balance write, so a replayed
// tx_hash trips the unique constraint and rolls back with no credit.
func (s *Store) ConfirmDeposit(ctx context.Context, accountID uint64, txHash, fromAddress string, amount decimal.Decimal, blockNumber uint64) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	txRow := &models.Transaction{
		ID:          models.GenerateTransactionID(),
		AccountID:   accountID,
		Type:        models.TransactionTypeDeposit,
		Amount:      amount,
		TxHash:      txHash,
		FromAddress: fromAddress,
		Status:      models.TransactionStatusConfirmed,
		BlockNumber: int64(blockNumber),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(txRow).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.ErrDuplicateTransaction
			}
			return err
		}

		acct, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(amount)
		acct.TotalDeposited = acct.TotalDeposited.Add(amount)
		if err := checkInvariants(acct); err != nil {
			return err
		}
		return tx.Model(acct).Updates(map[string]interface{}{
			"balance":         acct.Balance,
			"total_deposited": acct.TotalDeposited,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return txRow, nil
}

// HasTransaction reports whether a tx_hash is already recorded.
func (s *Store) HasTransaction(ctx context.Context, txHash string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("tx_hash = ?", txHash).
		Count(&count).Error
	return count > 0, err
}

// ListTransactions returns the account's on-chain movements, newest first.
func (s *Store) ListTransactions(ctx context.Context, accountID uint64, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}
