package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/fairness"
	"casino-settlement/internal/models"
	"casino-settlement/internal/store"
	"casino-settlement/internal/vault"
)

// AccountService provisions accounts on first interaction: a fresh ledger
// row, a provably-fair seed pair, and a derived deposit address.
type AccountService struct {
	store *store.Store
	vault *vault.Vault
	log   *logrus.Logger
}

func NewAccountService(st *store.Store, v *vault.Vault, log *logrus.Logger) *AccountService {
	return &AccountService{store: st, vault: v, log: log}
}

// GetOrCreate returns the user's account, creating and fully provisioning
// it on first sight. The wallet index is the generated account ID, so the
// row must exist before derivation.
func (s *AccountService) GetOrCreate(ctx context.Context, userID int64) (*models.Account, error) {
	acct, err := s.store.GetAccountByUserID(ctx, userID)
	if err == nil {
		// A crash between CreateAccount and AttachWallet leaves a row with
		// no address; heal it here. Derivation is keyed on the account ID,
		// so a concurrent heal attaches the identical wallet.
		if acct.Address == "" {
			if err := s.attachWallet(ctx, acct); err != nil {
				return nil, err
			}
		}
		return acct, nil
	}
	if !errors.Is(err, models.ErrAccountNotFound) {
		return nil, err
	}

	serverSeed, err := fairness.GenerateServerSeed()
	if err != nil {
		return nil, err
	}
	clientSeed, err := fairness.GenerateClientSeed()
	if err != nil {
		return nil, err
	}

	acct = &models.Account{
		UserID:         userID,
		ServerSeed:     serverSeed,
		ServerSeedHash: fairness.HashSeed(serverSeed),
		ClientSeed:     clientSeed,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		// Concurrent first request for the same user: the unique index on
		// user_id decides the winner, the loser rereads. The winner may not
		// have attached the wallet yet, so the loser heals too.
		if existing, lookupErr := s.store.GetAccountByUserID(ctx, userID); lookupErr == nil {
			if existing.Address == "" {
				if err := s.attachWallet(ctx, existing); err != nil {
					return nil, err
				}
			}
			return existing, nil
		}
		return nil, err
	}

	if err := s.attachWallet(ctx, acct); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"account_id": acct.ID,
		"address":    acct.Address,
	}).Info("provisioned new account")

	return acct, nil
}

func (s *AccountService) attachWallet(ctx context.Context, acct *models.Account) error {
	key, err := s.vault.Derive(uint32(acct.ID))
	if err != nil {
		return err
	}
	if err := s.store.AttachWallet(ctx, acct.ID, key.Address, key.PrivateKeyEnc, key.Path); err != nil {
		return err
	}
	acct.Address = key.Address
	acct.PrivateKeyEnc = key.PrivateKeyEnc
	acct.DerivationPath = key.Path
	return nil
}
