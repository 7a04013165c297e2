package withdraw_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/models"
	"casino-settlement/internal/services"
	"casino-settlement/internal/withdraw"
)

type fakeLedger struct {
	requests map[uint64]*models.WithdrawalRequest
	accounts map[uint64]*models.Account
	refunds  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		requests: make(map[uint64]*models.WithdrawalRequest),
		accounts: make(map[uint64]*models.Account),
	}
}

func (f *fakeLedger) addApproved(id, accountID uint64, amount int64) *models.WithdrawalRequest {
	req := &models.WithdrawalRequest{
		ID:        id,
		AccountID: accountID,
		Amount:    decimal.NewFromInt(amount),
		ToAddress: "0x00000000000000000000000000000000000000aa",
		Status:    models.WithdrawalStatusApproved,
	}
	f.requests[id] = req
	f.accounts[accountID] = &models.Account{ID: accountID, UserID: int64(accountID) * 10}
	return req
}

func (f *fakeLedger) GetWithdrawal(_ context.Context, id uint64) (*models.WithdrawalRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, models.ErrWithdrawalNotFound
	}
	return req, nil
}

func (f *fakeLedger) GetAccountByID(_ context.Context, accountID uint64) (*models.Account, error) {
	acct, ok := f.accounts[accountID]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return acct, nil
}

func (f *fakeLedger) transition(id uint64, next models.WithdrawalStatus) (*models.WithdrawalRequest, error) {
	req, ok := f.requests[id]
	if !ok {
		return nil, models.ErrWithdrawalNotFound
	}
	if !req.Status.CanTransitionTo(next) {
		return nil, models.ErrInvalidTransition
	}
	req.Status = next
	return req, nil
}

func (f *fakeLedger) MarkProcessing(_ context.Context, id uint64) (*models.WithdrawalRequest, error) {
	return f.transition(id, models.WithdrawalStatusProcessing)
}

func (f *fakeLedger) RecordWithdrawalTxHash(_ context.Context, id uint64, txHash string) error {
	f.requests[id].TxHash = txHash
	return nil
}

func (f *fakeLedger) CompleteWithdrawal(_ context.Context, id uint64, txHash string) (*models.WithdrawalRequest, error) {
	req, err := f.transition(id, models.WithdrawalStatusCompleted)
	if err != nil {
		return nil, err
	}
	req.TxHash = txHash
	return req, nil
}

func (f *fakeLedger) FailWithdrawal(_ context.Context, id uint64, reason string) (*models.WithdrawalRequest, error) {
	req, err := f.transition(id, models.WithdrawalStatusFailed)
	if err != nil {
		return nil, err
	}
	req.Reason = reason
	f.refunds++
	return req, nil
}

func (f *fakeLedger) ListStaleProcessing(_ context.Context, _ time.Time) ([]models.WithdrawalRequest, error) {
	var out []models.WithdrawalRequest
	for _, req := range f.requests {
		if req.Status == models.WithdrawalStatusProcessing {
			out = append(out, *req)
		}
	}
	return out, nil
}

type fakeBroadcaster struct {
	broadcastErr  error
	broadcastHash string
	confirmations uint64
	broadcasts    int
}

func (f *fakeBroadcaster) BroadcastTransfer(_ context.Context, _ *ecdsa.PrivateKey, _ string, _ decimal.Decimal) (string, error) {
	if f.broadcastErr != nil {
		// broadcastHash set means the transaction was signed before the
		// submission error, mirroring the node client's contract.
		return f.broadcastHash, f.broadcastErr
	}
	f.broadcasts++
	return "0xbroadcast", nil
}

func (f *fakeBroadcaster) TransactionConfirmations(_ context.Context, _ string) (uint64, error) {
	return f.confirmations, nil
}

type captureEvents struct {
	events []services.Event
}

func (c *captureEvents) PublishEvent(_ context.Context, e services.Event) {
	c.events = append(c.events, e)
}

func testKey() func() (*ecdsa.PrivateKey, error) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	return func() (*ecdsa.PrivateKey, error) { return key, nil }
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testConfig() withdraw.Config {
	return withdraw.Config{
		RequiredConfirmations: 3,
		PopTimeout:            10 * time.Millisecond,
		ConfirmPollInterval:   time.Millisecond,
		ConfirmWaitTimeout:    20 * time.Millisecond,
		StaleAfter:            time.Nanosecond,
	}
}

func TestProcessCompletes(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addApproved(1, 5, 40)
	broad := &fakeBroadcaster{confirmations: 5}
	events := &captureEvents{}
	w := withdraw.NewWorker(nil, ledger, broad, events, testKey(), testConfig(), testLogger())

	w.Process(context.Background(), 1)

	req := ledger.requests[1]
	if req.Status != models.WithdrawalStatusCompleted {
		t.Fatalf("status = %s, want completed", req.Status)
	}
	if req.TxHash != "0xbroadcast" {
		t.Errorf("tx hash = %q", req.TxHash)
	}
	if ledger.refunds != 0 {
		t.Error("completed withdrawal must not refund")
	}
	if len(events.events) != 1 || events.events[0].Type != services.EventWithdrawalCompleted {
		t.Fatalf("expected one completed event, got %+v", events.events)
	}
	if events.events[0].UserID != 50 {
		t.Errorf("event user = %d, want 50", events.events[0].UserID)
	}
}

func TestProcessBroadcastFailureRefunds(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addApproved(1, 5, 40)
	broad := &fakeBroadcaster{broadcastErr: errors.New("node down")}
	events := &captureEvents{}
	w := withdraw.NewWorker(nil, ledger, broad, events, testKey(), testConfig(), testLogger())

	w.Process(context.Background(), 1)

	if got := ledger.requests[1].Status; got != models.WithdrawalStatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
	if ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", ledger.refunds)
	}
	if len(events.events) != 1 || events.events[0].Type != services.EventWithdrawalFailed {
		t.Fatalf("expected one failed event, got %+v", events.events)
	}
}

func TestProcessIndeterminateBroadcastNotRefunded(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addApproved(1, 5, 40)
	// The transaction was signed, so a hash exists, but submission timed
	// out. The transfer may still propagate; refunding here would double
	// spend.
	broad := &fakeBroadcaster{broadcastErr: errors.New("rpc timeout"), broadcastHash: "0xsigned"}
	events := &captureEvents{}
	w := withdraw.NewWorker(nil, ledger, broad, events, testKey(), testConfig(), testLogger())

	w.Process(context.Background(), 1)

	req := ledger.requests[1]
	if req.Status != models.WithdrawalStatusProcessing {
		t.Fatalf("status = %s, want processing (resolved by reconciler)", req.Status)
	}
	if ledger.refunds != 0 {
		t.Fatal("indeterminate broadcast must not refund")
	}
	if req.TxHash != "0xsigned" {
		t.Fatalf("tx hash = %q, want the signed hash persisted for reconciliation", req.TxHash)
	}
	if len(events.events) != 0 {
		t.Errorf("no event expected while unresolved, got %+v", events.events)
	}

	// The transfer did land: reconciliation completes it off the recorded
	// hash instead of refunding.
	broad.confirmations = 10
	w.Reconcile(context.Background())
	if req.Status != models.WithdrawalStatusCompleted {
		t.Fatalf("status after reconcile = %s, want completed", req.Status)
	}
	if ledger.refunds != 0 {
		t.Fatal("confirmed transfer must never refund")
	}
}

func TestProcessInvalidAddressRefunds(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addApproved(1, 5, 40)
	broad := &fakeBroadcaster{broadcastErr: models.ErrInvalidAddress}
	w := withdraw.NewWorker(nil, ledger, broad, &captureEvents{}, testKey(), testConfig(), testLogger())

	w.Process(context.Background(), 1)

	req := ledger.requests[1]
	if req.Status != models.WithdrawalStatusFailed {
		t.Fatalf("status = %s, want failed", req.Status)
	}
	if req.Reason != "invalid destination address" {
		t.Errorf("reason = %q", req.Reason)
	}
}

func TestProcessUnconfirmedStaysProcessing(t *testing.T) {
	ledger := newFakeLedger()
	ledger.addApproved(1, 5, 40)
	// Broadcast succeeds but never reaches depth within the wait window.
	broad := &fakeBroadcaster{confirmations: 1}
	events := &captureEvents{}
	w := withdraw.NewWorker(nil, ledger, broad, events, testKey(), testConfig(), testLogger())

	w.Process(context.Background(), 1)

	req := ledger.requests[1]
	if req.Status != models.WithdrawalStatusProcessing {
		t.Fatalf("status = %s, want processing (frozen until reconciled)", req.Status)
	}
	if ledger.refunds != 0 {
		t.Error("unconfirmed broadcast must not refund")
	}
	if len(events.events) != 0 {
		t.Errorf("no event expected while unresolved, got %+v", events.events)
	}
}

func TestProcessSkipsNonApprovedEntries(t *testing.T) {
	ledger := newFakeLedger()
	req := ledger.addApproved(1, 5, 40)
	req.Status = models.WithdrawalStatusPending
	broad := &fakeBroadcaster{confirmations: 5}
	w := withdraw.NewWorker(nil, ledger, broad, &captureEvents{}, testKey(), testConfig(), testLogger())

	w.Process(context.Background(), 1)

	if broad.broadcasts != 0 {
		t.Error("must not broadcast for a non-approved request")
	}
	if req.Status != models.WithdrawalStatusPending {
		t.Errorf("status = %s, want pending untouched", req.Status)
	}
}

func TestReconcileConfirmedCompletes(t *testing.T) {
	ledger := newFakeLedger()
	req := ledger.addApproved(1, 5, 40)
	req.Status = models.WithdrawalStatusProcessing
	req.TxHash = "0xstuck"
	broad := &fakeBroadcaster{confirmations: 10}
	events := &captureEvents{}
	w := withdraw.NewWorker(nil, ledger, broad, events, testKey(), testConfig(), testLogger())

	w.Reconcile(context.Background())

	if req.Status != models.WithdrawalStatusCompleted {
		t.Fatalf("status = %s, want completed", req.Status)
	}
	if ledger.refunds != 0 {
		t.Error("confirmed transfer must not refund")
	}
}

func TestReconcileNoBroadcastRefunds(t *testing.T) {
	ledger := newFakeLedger()
	req := ledger.addApproved(1, 5, 40)
	req.Status = models.WithdrawalStatusProcessing
	broad := &fakeBroadcaster{}
	w := withdraw.NewWorker(nil, ledger, broad, &captureEvents{}, testKey(), testConfig(), testLogger())

	w.Reconcile(context.Background())

	if req.Status != models.WithdrawalStatusFailed {
		t.Fatalf("status = %s, want failed", req.Status)
	}
	if ledger.refunds != 1 {
		t.Errorf("refunds = %d, want 1", ledger.refunds)
	}
}

func TestReconcileShallowTransferLeftAlone(t *testing.T) {
	ledger := newFakeLedger()
	req := ledger.addApproved(1, 5, 40)
	req.Status = models.WithdrawalStatusProcessing
	req.TxHash = "0xshallow"
	broad := &fakeBroadcaster{confirmations: 1}
	w := withdraw.NewWorker(nil, ledger, broad, &captureEvents{}, testKey(), testConfig(), testLogger())

	w.Reconcile(context.Background())

	if req.Status != models.WithdrawalStatusProcessing {
		t.Fatalf("status = %s, want processing (neither refund nor complete)", req.Status)
	}
	if ledger.refunds != 0 {
		t.Error("shallow transfer must not refund")
	}
}
