package store

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"casino-settlement/internal/fairness"
	"casino-settlement/internal/models"
)

// GetAccountByUserID returns the account for a platform user, or
// ErrAccountNotFound.
func (s *Store) GetAccountByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).First(&acct, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

func (s *Store) GetAccountByID(ctx context.Context, accountID uint64) (*models.Account, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).First(&acct, "id = ?", accountID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrAccountNotFound
		}
		return nil, err
	}
	return &acct, nil
}

// CreateAccount inserts a bare account row. Wallet material is attached
// afterwards because the derivation index is the generated account ID.
func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	return s.db.WithContext(ctx).Create(acct).Error
}

// AttachWallet records the derived deposit address and sealed key.
func (s *Store) AttachWallet(ctx context.Context, accountID uint64, address, privateKeyEnc, path string) error {
	return s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"address":         address,
			"private_key_enc": privateKeyEnc,
			"derivation_path": path,
		}).Error
}

// WatchedAccounts returns every account with a deposit address, for the
// pipeline's polling set.
func (s *Store) WatchedAccounts(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.WithContext(ctx).
		Where("address <> ''").
		Find(&accounts).Error
	return accounts, err
}

// SetClientSeed updates the client seed for future wagers. Past bets keep
// the seed they were settled under in their own rows.
func (s *Store) SetClientSeed(ctx context.Context, accountID uint64, clientSeed string) error {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("client_seed", clientSeed)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// RotateSeeds retires the live server seed and installs a fresh one, under
// the account row lock so no wager can land between reveal and replacement.
// The revealed seed never rolls again; the new seed starts at nonce 0.
func (s *Store) RotateSeeds(ctx context.Context, accountID uint64, newSeed string) (*fairness.Rotation, error) {
	newHash := fairness.HashSeed(newSeed)

	var rotation fairness.Rotation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acct, err := lockAccount(tx, accountID)
		if err != nil {
			return err
		}

		rotation = fairness.Rotation{
			RevealedSeed:     acct.ServerSeed,
			RevealedSeedHash: acct.ServerSeedHash,
			FinalNonce:       acct.Nonce - 1,
			NextSeedHash:     newHash,
		}

		return tx.Model(acct).Updates(map[string]interface{}{
			"server_seed":      newSeed,
			"server_seed_hash": newHash,
			"nonce":            0,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &rotation, nil
}

// AdvanceDepositBlock moves the deposit watermark forward. It never moves
// backwards, so concurrent scans cannot regress it.
func (s *Store) AdvanceDepositBlock(ctx context.Context, accountID uint64, block uint64) error {
	return s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND deposit_block < ?", accountID, block).
		Update("deposit_block", block).Error
}

// ListBets returns the account's settled wagers, newest first.
func (s *Store) ListBets(ctx context.Context, accountID uint64, limit int) ([]models.Bet, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var bets []models.Bet
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&bets).Error
	return bets, err
}

// GetBetByRequestID looks up an already-settled wager by its idempotency key.
func (s *Store) GetBetByRequestID(ctx context.Context, requestID string) (*models.Bet, error) {
	var bet models.Bet
	if err := s.db.WithContext(ctx).First(&bet, "request_id = ?", requestID).Error; err != nil {
		return nil, err
	}
	return &bet, nil
}
