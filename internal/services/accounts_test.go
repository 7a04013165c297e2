package services_test

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"casino-settlement/internal/fairness"
	"casino-settlement/internal/models"
	"casino-settlement/internal/services"
	"casino-settlement/internal/store"
	"casino-settlement/internal/vault"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func openAccountService(t *testing.T) (*services.AccountService, *store.Store, *vault.Vault) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_DSN")
	if dsn == "" {
		t.Skipf("TEST_DATABASE_DSN not set, skipping database integration test")
	}
	s, err := store.Open(dsn)
	if err != nil {
		t.Skipf("database not available: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	v, err := vault.New(testMnemonic, "test-master-key")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	return services.NewAccountService(s, v, log), s, v
}

func TestGetOrCreateProvisionsWallet(t *testing.T) {
	svc, _, v := openAccountService(t)
	ctx := context.Background()

	acct, err := svc.GetOrCreate(ctx, time.Now().UnixNano())
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if acct.Address == "" || acct.PrivateKeyEnc == "" {
		t.Fatal("new account is missing its wallet")
	}
	if acct.ServerSeedHash == "" || acct.ClientSeed == "" {
		t.Fatal("new account is missing its seed pair")
	}

	key, err := v.Derive(uint32(acct.ID))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if acct.Address != key.Address {
		t.Errorf("address = %s, want derivation at the account index %s", acct.Address, key.Address)
	}
}

func TestGetOrCreateHealsMissingWallet(t *testing.T) {
	svc, s, v := openAccountService(t)
	ctx := context.Background()
	userID := time.Now().UnixNano()

	// A crash between row creation and wallet attachment leaves an account
	// with no address. Seed such a row directly.
	seed, err := fairness.GenerateServerSeed()
	if err != nil {
		t.Fatalf("generate seed: %v", err)
	}
	bare := &models.Account{
		UserID:         userID,
		ServerSeed:     seed,
		ServerSeedHash: fairness.HashSeed(seed),
		ClientSeed:     "test-client-seed",
	}
	if err := s.CreateAccount(ctx, bare); err != nil {
		t.Fatalf("create account: %v", err)
	}

	acct, err := svc.GetOrCreate(ctx, userID)
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if acct.ID != bare.ID {
		t.Fatalf("resolved account %d, want the existing row %d", acct.ID, bare.ID)
	}
	if acct.Address == "" {
		t.Fatal("existing account without a wallet was not healed")
	}

	key, err := v.Derive(uint32(bare.ID))
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if acct.Address != key.Address {
		t.Errorf("healed address = %s, want %s", acct.Address, key.Address)
	}

	// The heal is persisted, not just patched on the returned struct.
	stored, err := s.GetAccountByUserID(ctx, userID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if stored.Address != key.Address {
		t.Errorf("stored address = %s, want %s", stored.Address, key.Address)
	}
}
