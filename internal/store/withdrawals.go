package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"casino-settlement/internal/models"
)

// WithdrawalLimits is the policy applied when a request is created.
type WithdrawalLimits struct {
	Min        decimal.Decimal
	Max        decimal.Decimal
	DailyLimit decimal.Decimal
}

// CreateWithdrawal validates the request against limits and the live
// balance, then moves the amount into frozen_balance and records the
// request as pending, all in one locked transaction.
func (s *Store) CreateWithdrawal(ctx context.Context, accountID uint64, amount decimal.Decimal, toAddress string, limits WithdrawalLimits) (*models.WithdrawalRequest, error) {
	if !amount.IsPositive() || amount.LessThan(limits.Min) || amount.GreaterThan(limits.Max) {
		return nil, models.ErrInvalidAmount
	}

	req := &models.WithdrawalRequest{
		AccountID:   accountID,
		Amount:      amount,
		ToAddress:   toAddress,
		Status:      models.WithdrawalStatusPending,
		RequestedAt: time.Now(),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if acct.Balance.LessThan(amount) {
			return models.ErrInsufficientFunds
		}

		daily, err := dailyWithdrawalTotal(tx, accountID)
		if err != nil {
			return err
		}
		if daily.Add(amount).GreaterThan(limits.DailyLimit) {
			return models.ErrDailyLimitExceeded
		}

		acct.Balance = acct.Balance.Sub(amount)
		acct.FrozenBalance = acct.FrozenBalance.Add(amount)
		if err := checkInvariants(acct); err != nil {
			return err
		}
		if err := tx.Model(acct).Updates(map[string]interface{}{
			"balance":        acct.Balance,
			"frozen_balance": acct.FrozenBalance,
		}).Error; err != nil {
			return err
		}

		return tx.Create(req).Error
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// truncateReason clamps operator and worker supplied reasons to the column
// size so a verbose RPC error cannot fail the compensating transaction.
func truncateReason(reason string) string {
	const max = 255
	if len(reason) > max {
		return reason[:max]
	}
	return reason
}

// dailyWithdrawalTotal sums the last 24 hours of requests that still count
// against the limit. Failed and rejected requests gave the money back, so
// they do not count.
func dailyWithdrawalTotal(tx *gorm.DB, accountID uint64) (decimal.Decimal, error) {
	var rows []models.WithdrawalRequest
	err := tx.
		Where("account_id = ? AND requested_at > ? AND status NOT IN ?",
			accountID,
			time.Now().Add(-24*time.Hour),
			[]models.WithdrawalStatus{models.WithdrawalStatusFailed, models.WithdrawalStatusRejected}).
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, r := range rows {
		total = total.Add(r.Amount)
	}
	return total, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := s.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

func (s *Store) ListWithdrawalsByAccount(ctx context.Context, accountID uint64, limit int) ([]models.WithdrawalRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var reqs []models.WithdrawalRequest
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("requested_at DESC").
		Limit(limit).
		Find(&reqs).Error
	return reqs, err
}

// ListPendingWithdrawals returns the manual-review queue, oldest first.
func (s *Store) ListPendingWithdrawals(ctx context.Context) ([]models.WithdrawalRequest, error) {
	var reqs []models.WithdrawalRequest
	err := s.db.WithContext(ctx).
		Where("status = ?", models.WithdrawalStatusPending).
		Order("requested_at ASC").
		Find(&reqs).Error
	return reqs, err
}

// transition moves a request between states with an optimistic guard on the
// current status, so two workers cannot both claim the same request.
func transition(tx *gorm.DB, req *models.WithdrawalRequest, next models.WithdrawalStatus, updates map[string]interface{}) error {
	if !req.Status.CanTransitionTo(next) {
		return errors.Wrapf(models.ErrInvalidTransition, "%s -> %s", req.Status, next)
	}
	updates["status"] = next
	res := tx.Model(&models.WithdrawalRequest{}).
		Where("id = ? AND status = ?", req.ID, req.Status).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(models.ErrInvalidTransition, "request %d changed state concurrently", req.ID)
	}
	req.Status = next
	return nil
}

// ApproveWithdrawal marks a pending request approved. Queueing for the
// worker happens after this commits.
func (s *Store) ApproveWithdrawal(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = loadWithdrawal(tx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		req.ApprovedAt = &now
		return transition(tx, req, models.WithdrawalStatusApproved, map[string]interface{}{
			"approved_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// RejectWithdrawal declines a pending request and returns the frozen amount
// to the spendable balance.
func (s *Store) RejectWithdrawal(ctx context.Context, id uint64, reason string) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = loadWithdrawal(tx, id)
		if err != nil {
			return err
		}
		if err := transition(tx, req, models.WithdrawalStatusRejected, map[string]interface{}{
			"reason": truncateReason(reason),
		}); err != nil {
			return err
		}
		return unfreeze(tx, req.AccountID, req.Amount, true)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// MarkProcessing claims an approved request for broadcast. The worker calls
// this before touching the chain, so a crash mid-broadcast leaves the
// request in processing for reconciliation instead of silently retrying.
func (s *Store) MarkProcessing(ctx context.Context, id uint64) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = loadWithdrawal(tx, id)
		if err != nil {
			return err
		}
		return transition(tx, req, models.WithdrawalStatusProcessing, map[string]interface{}{})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// RecordWithdrawalTxHash persists the broadcast hash as soon as it exists,
// before confirmation, so reconciliation after a crash can find it.
func (s *Store) RecordWithdrawalTxHash(ctx context.Context, id uint64, txHash string) error {
	return s.db.WithContext(ctx).Model(&models.WithdrawalRequest{}).
		Where("id = ?", id).
		Update("tx_hash", txHash).Error
}

// CompleteWithdrawal finalizes a processing request: the frozen amount is
// burned, lifetime totals advance, and the on-chain movement is recorded.
func (s *Store) CompleteWithdrawal(ctx context.Context, id uint64, txHash string) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = loadWithdrawal(tx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		req.ProcessedAt = &now
		if err := transition(tx, req, models.WithdrawalStatusCompleted, map[string]interface{}{
			"tx_hash":      txHash,
			"processed_at": now,
		}); err != nil {
			return err
		}

		acct, err := lockAccount(tx, req.AccountID)
		if err != nil {
			return err
		}
		acct.FrozenBalance = acct.FrozenBalance.Sub(req.Amount)
		acct.TotalWithdrawn = acct.TotalWithdrawn.Add(req.Amount)
		if err := checkInvariants(acct); err != nil {
			return err
		}
		if err := tx.Model(acct).Updates(map[string]interface{}{
			"frozen_balance":  acct.FrozenBalance,
			"total_withdrawn": acct.TotalWithdrawn,
		}).Error; err != nil {
			return err
		}

		record := &models.Transaction{
			ID:        models.GenerateTransactionID(),
			AccountID: req.AccountID,
			Type:      models.TransactionTypeWithdraw,
			Amount:    req.Amount,
			TxHash:    txHash,
			ToAddress: req.ToAddress,
			Status:    models.TransactionStatusConfirmed,
		}
		if err := tx.Create(record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.ErrDuplicateTransaction
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// FailWithdrawal marks a processing request failed and refunds the frozen
// amount. Callers must first confirm the transfer did not land on chain.
func (s *Store) FailWithdrawal(ctx context.Context, id uint64, reason string) (*models.WithdrawalRequest, error) {
	var req *models.WithdrawalRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = loadWithdrawal(tx, id)
		if err != nil {
			return err
		}
		now := time.Now()
		req.ProcessedAt = &now
		if err := transition(tx, req, models.WithdrawalStatusFailed, map[string]interface{}{
			"reason":       truncateReason(reason),
			"processed_at": now,
		}); err != nil {
			return err
		}
		return unfreeze(tx, req.AccountID, req.Amount, true)
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListStaleProcessing returns processing requests older than cutoff, for
// startup reconciliation after a crash.
func (s *Store) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.WithdrawalRequest, error) {
	var reqs []models.WithdrawalRequest
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.WithdrawalStatusProcessing, cutoff).
		Order("requested_at ASC").
		Find(&reqs).Error
	return reqs, err
}

func loadWithdrawal(tx *gorm.DB, id uint64) (*models.WithdrawalRequest, error) {
	var req models.WithdrawalRequest
	err := tx.First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

// unfreeze moves amount out of frozen_balance, optionally returning it to
// the spendable balance.
func unfreeze(tx *gorm.DB, accountID uint64, amount decimal.Decimal, refund bool) error {
	acct, err := lockAccount(tx, accountID)
	if err != nil {
		return err
	}
	acct.FrozenBalance = acct.FrozenBalance.Sub(amount)
	if refund {
		acct.Balance = acct.Balance.Add(amount)
	}
	if err := checkInvariants(acct); err != nil {
		return err
	}
	return tx.Model(acct).Updates(map[string]interface{}{
		"balance":        acct.Balance,
		"frozen_balance": acct.FrozenBalance,
	}).Error
}
