package store

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"casino-settlement/internal/models"
)

// lockAccount loads the account row under FOR UPDATE. Everything that
// mutates a balance goes through this.
func lockAccount(tx *gorm.DB, accountID uint64) (*models.Account, error) {
	var acct models.Account
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&acct, "id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// checkInvariants guards the non-negativity rule before any locked
// transaction commits. A violation here means a logic bug upstream, so it
// surfaces as an IntegrityViolation and rolls the transaction back.
func checkInvariants(acct *models.Account) error {
	if acct.Balance.IsNegative() {
		return &models.IntegrityViolation{AccountID: acct.ID, Detail: "negative balance"}
	}
	if acct.FrozenBalance.IsNegative() {
		return &models.IntegrityViolation{AccountID: acct.ID, Detail: "negative frozen balance"}
	}
	return nil
}

// Credit adds amount to the spendable balance.
func (s *Store) Credit(ctx context.Context, accountID uint64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(amount)
		if err := checkInvariants(acct); err != nil {
			return err
		}
		return tx.Model(acct).Update("balance", acct.Balance).Error
	})
}

// Debit removes amount from the spendable balance, failing with
// ErrInsufficientFunds rather than ever going negative.
func (s *Store) Debit(ctx context.Context, accountID uint64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if acct.Balance.LessThan(amount) {
			return models.ErrInsufficientFunds
		}
		acct.Balance = acct.Balance.Sub(amount)
		if err := checkInvariants(acct); err != nil {
			return err
		}
		return tx.Model(acct).Update("balance", acct.Balance).Error
	})
}

// Reserve moves amount from the spendable balance into frozen_balance.
func (s *Store) Reserve(ctx context.Context, accountID uint64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if acct.Balance.LessThan(amount) {
			return models.ErrInsufficientFunds
		}
		acct.Balance = acct.Balance.Sub(amount)
		acct.FrozenBalance = acct.FrozenBalance.Add(amount)
		if err := checkInvariants(acct); err != nil {
			return err
		}
		return tx.Model(acct).Updates(map[string]interface{}{
			"balance":        acct.Balance,
			"frozen_balance": acct.FrozenBalance,
		}).Error
	})
}

// Release returns a reserved amount to the spendable balance.
func (s *Store) Release(ctx context.Context, accountID uint64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return models.ErrInvalidAmount
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return unfreeze(tx, accountID, amount, true)
	})
}

// SeedState is the provably-fair material handed to a settlement callback.
// The nonce is owned by the ledger and consumed exactly once per bet.
type SeedState struct {
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
	Nonce          int64
}

// BetSettlement is what a game returns for one resolved wager.
type BetSettlement struct {
	GameType   models.GameType
	BetData    string
	ResultData string
	Multiplier float64
	Payout     decimal.Decimal
	IsWin      bool
}

// SettleBet atomically resolves one wager: it locks the account, checks
// funds, hands the live seed state to the game callback, applies the debit
// and payout in one balance write, advances the nonce, and persists the bet
// row. The unique (account_id, nonce) index makes double settlement of a
// nonce impossible; the unique request_id index makes client retries
// idempotent failures instead of double spends.
func (s *Store) SettleBet(
	ctx context.Context,
	accountID uint64,
	amount decimal.Decimal,
	requestID string,
	settle func(seed SeedState) (BetSettlement, error),
) (*models.Bet, *models.Account, error) {
	if !amount.IsPositive() {
		return nil, nil, models.ErrInvalidAmount
	}

	var (
		bet  models.Bet
		acct *models.Account
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		acct, err = lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if acct.Balance.LessThan(amount) {
			return models.ErrInsufficientFunds
		}

		result, err := settle(SeedState{
			ServerSeed:     acct.ServerSeed,
			ServerSeedHash: acct.ServerSeedHash,
			ClientSeed:     acct.ClientSeed,
			Nonce:          acct.Nonce,
		})
		if err != nil {
			return err
		}

		bet = models.Bet{
			ID:             models.GenerateBetID(),
			AccountID:      acct.ID,
			Game:           result.GameType,
			Amount:         amount,
			BetData:        result.BetData,
			ResultData:     result.ResultData,
			Nonce:          acct.Nonce,
			ServerSeedHash: acct.ServerSeedHash,
			ClientSeed:     acct.ClientSeed,
			Multiplier:     result.Multiplier,
			Payout:         result.Payout,
			Profit:         result.Payout.Sub(amount),
			IsWin:          result.IsWin,
		}
		if requestID != "" {
			bet.RequestID = &requestID
		}
		if err := tx.Create(&bet).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return models.ErrDuplicateTransaction
			}
			return err
		}

		acct.Balance = acct.Balance.Sub(amount).Add(result.Payout)
		acct.Nonce++
		acct.TotalWagered = acct.TotalWagered.Add(amount)
		acct.TotalWon = acct.TotalWon.Add(result.Payout)
		if err := checkInvariants(acct); err != nil {
			return err
		}

		return tx.Model(acct).Updates(map[string]interface{}{
			"balance":       acct.Balance,
			"nonce":         acct.Nonce,
			"total_wagered": acct.TotalWagered,
			"total_won":     acct.TotalWon,
		}).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &bet, acct, nil
}
