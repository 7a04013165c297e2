package deposit_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/chain"
	"casino-settlement/internal/deposit"
	"casino-settlement/internal/models"
	"casino-settlement/internal/services"
)

type fakeOracle struct {
	head      uint64
	transfers map[string][]chain.Transfer
}

func (f *fakeOracle) ListTransfers(_ context.Context, address string, fromBlock uint64) ([]chain.Transfer, error) {
	var out []chain.Transfer
	for _, t := range f.transfers[address] {
		if t.BlockNumber >= fromBlock {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeOracle) LatestBlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeOracle) TransactionConfirmations(context.Context, string) (uint64, error) {
	return 0, nil
}

func (f *fakeOracle) BroadcastTransfer(context.Context, *ecdsa.PrivateKey, string, decimal.Decimal) (string, error) {
	return "", nil
}

// genesisOracle returns its transfers regardless of the requested range,
// like explorers whose from-block parameter is a page hint, not a filter.
type genesisOracle struct {
	fakeOracle
}

func (g *genesisOracle) ListTransfers(_ context.Context, address string, _ uint64) ([]chain.Transfer, error) {
	return g.transfers[address], nil
}

type fakeLedger struct {
	accounts   []models.Account
	credited   map[string]decimal.Decimal
	credits    int
	watermark  map[uint64]uint64
	confirmErr map[string]error
}

func newFakeLedger(accounts ...models.Account) *fakeLedger {
	return &fakeLedger{
		accounts:   accounts,
		credited:   make(map[string]decimal.Decimal),
		watermark:  make(map[uint64]uint64),
		confirmErr: make(map[string]error),
	}
}

func (f *fakeLedger) WatchedAccounts(context.Context) ([]models.Account, error) {
	out := make([]models.Account, len(f.accounts))
	copy(out, f.accounts)
	for i := range out {
		if wm, ok := f.watermark[out[i].ID]; ok {
			out[i].DepositBlock = wm
		}
	}
	return out, nil
}

func (f *fakeLedger) ConfirmDeposit(_ context.Context, _ uint64, txHash, _ string, amount decimal.Decimal, _ uint64) (*models.Transaction, error) {
	if err := f.confirmErr[txHash]; err != nil {
		return nil, err
	}
	if _, dup := f.credited[txHash]; dup {
		return nil, models.ErrDuplicateTransaction
	}
	f.credited[txHash] = amount
	f.credits++
	return &models.Transaction{TxHash: txHash, Amount: amount}, nil
}

func (f *fakeLedger) AdvanceDepositBlock(_ context.Context, accountID uint64, block uint64) error {
	if block > f.watermark[accountID] {
		f.watermark[accountID] = block
	}
	return nil
}

// coldCache never remembers anything, forcing every cycle through the
// database dedup path.
type coldCache struct{}

func (coldCache) SeenTransaction(context.Context, string) bool          { return false }
func (coldCache) MarkTransaction(context.Context, string, time.Duration) {}

type captureEvents struct {
	events []services.Event
}

func (c *captureEvents) PublishEvent(_ context.Context, e services.Event) {
	c.events = append(c.events, e)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig() deposit.Config {
	return deposit.Config{
		PollInterval:          time.Second,
		AddressCacheTTL:       0, // reload the polling set every cycle
		RequiredConfirmations: 20,
		MinDeposit:            decimal.NewFromInt(1),
		PerAddressTimeout:     time.Second,
	}
}

func TestCreditsOnlyAfterConfirmationDepth(t *testing.T) {
	acct := models.Account{ID: 1, UserID: 100, Address: "0xabc"}
	oracle := &fakeOracle{
		head: 1000,
		transfers: map[string][]chain.Transfer{
			"0xabc": {{TxHash: "0xt1", To: "0xabc", Amount: decimal.NewFromInt(50), BlockNumber: 990}},
		},
	}
	ledger := newFakeLedger(acct)
	events := &captureEvents{}
	p := deposit.NewPipeline(oracle, ledger, coldCache{}, events, testConfig(), testLogger())

	// 10 confirmations: too shallow.
	p.ScanOnce(context.Background())
	if ledger.credits != 0 {
		t.Fatalf("credited with only 10 confirmations")
	}
	if len(events.events) != 0 {
		t.Fatal("event published before confirmation depth")
	}

	// Head advances to exactly the required depth.
	oracle.head = 1010
	p.ScanOnce(context.Background())
	if ledger.credits != 1 {
		t.Fatalf("credits = %d, want 1", ledger.credits)
	}
	if !ledger.credited["0xt1"].Equal(decimal.NewFromInt(50)) {
		t.Errorf("credited amount = %s, want 50", ledger.credited["0xt1"])
	}
	if len(events.events) != 1 || events.events[0].Type != services.EventDepositConfirmed {
		t.Fatalf("expected one deposit.confirmed event, got %+v", events.events)
	}
	if events.events[0].UserID != 100 {
		t.Errorf("event user = %d, want 100", events.events[0].UserID)
	}
}

func TestNeverCreditsTwiceAcrossCycles(t *testing.T) {
	acct := models.Account{ID: 1, UserID: 100, Address: "0xabc"}
	oracle := &fakeOracle{
		head: 2000,
		transfers: map[string][]chain.Transfer{
			"0xabc": {{TxHash: "0xt1", To: "0xabc", Amount: decimal.NewFromInt(50), BlockNumber: 900}},
		},
	}
	ledger := newFakeLedger(acct)
	p := deposit.NewPipeline(oracle, ledger, coldCache{}, &captureEvents{}, testConfig(), testLogger())

	for cycle := 0; cycle < 5; cycle++ {
		p.ScanOnce(context.Background())
	}
	if ledger.credits != 1 {
		t.Fatalf("credits = %d after 5 cycles, want 1", ledger.credits)
	}

	// Even if the watermark were lost, the dedup path absorbs the replay.
	ledger.watermark[1] = 0
	p.ScanOnce(context.Background())
	if ledger.credits != 1 {
		t.Fatalf("credits = %d after watermark reset, want 1", ledger.credits)
	}
}

func TestWatermarkPinnedBelowUnconfirmedTransfer(t *testing.T) {
	acct := models.Account{ID: 1, UserID: 100, Address: "0xabc"}
	oracle := &fakeOracle{
		head: 1000,
		transfers: map[string][]chain.Transfer{
			"0xabc": {
				{TxHash: "0xold", To: "0xabc", Amount: decimal.NewFromInt(10), BlockNumber: 500},
				{TxHash: "0xnew", To: "0xabc", Amount: decimal.NewFromInt(20), BlockNumber: 995},
			},
		},
	}
	ledger := newFakeLedger(acct)
	p := deposit.NewPipeline(oracle, ledger, coldCache{}, &captureEvents{}, testConfig(), testLogger())

	p.ScanOnce(context.Background())
	if ledger.credits != 1 {
		t.Fatalf("credits = %d, want 1 (only the confirmed transfer)", ledger.credits)
	}
	if wm := ledger.watermark[1]; wm != 980 {
		t.Fatalf("watermark = %d, want safe block 980", wm)
	}

	// The pending transfer confirms; the scan resumes above the watermark
	// and credits it exactly once.
	oracle.head = 1015
	p.ScanOnce(context.Background())
	if ledger.credits != 2 {
		t.Fatalf("credits = %d, want 2", ledger.credits)
	}
	if _, ok := ledger.credited["0xnew"]; !ok {
		t.Error("confirmed transfer was not credited")
	}
}

func TestDustIgnoredButWatermarkAdvances(t *testing.T) {
	acct := models.Account{ID: 1, UserID: 100, Address: "0xabc"}
	oracle := &fakeOracle{
		head: 1000,
		transfers: map[string][]chain.Transfer{
			"0xabc": {{TxHash: "0xdust", To: "0xabc", Amount: decimal.RequireFromString("0.0001"), BlockNumber: 900}},
		},
	}
	ledger := newFakeLedger(acct)
	p := deposit.NewPipeline(oracle, ledger, coldCache{}, &captureEvents{}, testConfig(), testLogger())

	p.ScanOnce(context.Background())
	if ledger.credits != 0 {
		t.Fatal("dust transfer was credited")
	}
	if wm := ledger.watermark[1]; wm != 980 {
		t.Fatalf("watermark = %d, want 980", wm)
	}
}

func TestFailedGenesisTransferPinsWatermarkAtZero(t *testing.T) {
	acct := models.Account{ID: 1, UserID: 100, Address: "0xabc"}
	oracle := &genesisOracle{fakeOracle{
		head: 1000,
		transfers: map[string][]chain.Transfer{
			"0xabc": {{TxHash: "0xg", To: "0xabc", Amount: decimal.NewFromInt(50), BlockNumber: 0}},
		},
	}}
	ledger := newFakeLedger(acct)
	ledger.confirmErr["0xg"] = errors.New("database unavailable")
	p := deposit.NewPipeline(oracle, ledger, coldCache{}, &captureEvents{}, testConfig(), testLogger())

	p.ScanOnce(context.Background())
	if ledger.credits != 0 {
		t.Fatal("failed settlement must not credit")
	}
	// There is no block below the genesis block. The watermark must stay at
	// zero rather than wrap around and skip the transfer forever.
	if wm := ledger.watermark[1]; wm != 0 {
		t.Fatalf("watermark = %d, want 0 (pinned at the failed transfer)", wm)
	}

	// The store recovers; the transfer is still in range and credits.
	delete(ledger.confirmErr, "0xg")
	p.ScanOnce(context.Background())
	if ledger.credits != 1 {
		t.Fatalf("credits = %d after recovery, want 1", ledger.credits)
	}
}

func TestMultipleAccountsScanIndependently(t *testing.T) {
	a := models.Account{ID: 1, UserID: 100, Address: "0xaaa"}
	b := models.Account{ID: 2, UserID: 200, Address: "0xbbb"}
	oracle := &fakeOracle{
		head: 1000,
		transfers: map[string][]chain.Transfer{
			"0xaaa": {{TxHash: "0xa1", To: "0xaaa", Amount: decimal.NewFromInt(5), BlockNumber: 910}},
			"0xbbb": {{TxHash: "0xb1", To: "0xbbb", Amount: decimal.NewFromInt(7), BlockNumber: 920}},
		},
	}
	ledger := newFakeLedger(a, b)
	events := &captureEvents{}
	p := deposit.NewPipeline(oracle, ledger, coldCache{}, events, testConfig(), testLogger())

	p.ScanOnce(context.Background())
	if ledger.credits != 2 {
		t.Fatalf("credits = %d, want 2", ledger.credits)
	}
	if len(events.events) != 2 {
		t.Fatalf("events = %d, want 2", len(events.events))
	}
}
