// Package withdraw drains the approved-withdrawal queue, broadcasts the
// transfers, and settles each request as completed or failed. Funds stay
// frozen until the outcome is known; a refund only happens once the chain
// confirms the transfer never landed.
package withdraw

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/models"
	"casino-settlement/internal/services"
)

// Queue is the FIFO of approved request IDs.
type Queue interface {
	PopWithdrawal(ctx context.Context, timeout time.Duration) (requestID uint64, ok bool, err error)
	PushWithdrawal(ctx context.Context, requestID uint64) error
}

// Ledger is the slice of the store the worker needs.
type Ledger interface {
	GetWithdrawal(ctx context.Context, id uint64) (*models.WithdrawalRequest, error)
	GetAccountByID(ctx context.Context, accountID uint64) (*models.Account, error)
	MarkProcessing(ctx context.Context, id uint64) (*models.WithdrawalRequest, error)
	RecordWithdrawalTxHash(ctx context.Context, id uint64, txHash string) error
	CompleteWithdrawal(ctx context.Context, id uint64, txHash string) (*models.WithdrawalRequest, error)
	FailWithdrawal(ctx context.Context, id uint64, reason string) (*models.WithdrawalRequest, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.WithdrawalRequest, error)
}

// Events receives a notification per settled request.
type Events interface {
	PublishEvent(ctx context.Context, event services.Event)
}

// Broadcaster is the chain surface the worker uses.
type Broadcaster interface {
	BroadcastTransfer(ctx context.Context, key *ecdsa.PrivateKey, to string, amount decimal.Decimal) (string, error)
	TransactionConfirmations(ctx context.Context, txHash string) (uint64, error)
}

type Config struct {
	RequiredConfirmations uint64
	PopTimeout            time.Duration
	ConfirmPollInterval   time.Duration
	ConfirmWaitTimeout    time.Duration

	// StaleAfter is how long a request may sit in processing before the
	// reconciler inspects it.
	StaleAfter time.Duration
}

// Worker consumes the queue one request at a time, preserving approval
// order. HotKey returns the signing key for the payout wallet; it is called
// per broadcast so the plaintext key never sits on the struct.
type Worker struct {
	queue  Queue
	ledger Ledger
	broad  Broadcaster
	events Events
	hotKey func() (*ecdsa.PrivateKey, error)
	cfg    Config
	log    *logrus.Logger
}

func NewWorker(queue Queue, ledger Ledger, broad Broadcaster, events Events, hotKey func() (*ecdsa.PrivateKey, error), cfg Config, log *logrus.Logger) *Worker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = 10 * time.Second
	}
	if cfg.ConfirmWaitTimeout <= 0 {
		cfg.ConfirmWaitTimeout = 30 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = time.Hour
	}
	return &Worker{
		queue:  queue,
		ledger: ledger,
		broad:  broad,
		events: events,
		hotKey: hotKey,
		cfg:    cfg,
		log:    log,
	}
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.log.Info("withdrawal worker started")
	for {
		if ctx.Err() != nil {
			w.log.Info("withdrawal worker stopped")
			return
		}
		id, ok, err := w.queue.PopWithdrawal(ctx, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info("withdrawal worker stopped")
				return
			}
			w.log.WithError(err).Warn("queue pop failed")
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			continue
		}
		w.Process(ctx, id)
	}
}

// Process settles one approved request end to end.
func (w *Worker) Process(ctx context.Context, id uint64) {
	req, err := w.ledger.MarkProcessing(ctx, id)
	if err != nil {
		// Already claimed, rejected meanwhile, or unknown. Nothing to do.
		w.log.WithError(err).WithField("withdrawal_id", id).Warn("skipping queue entry")
		return
	}
	log := w.log.WithFields(logrus.Fields{
		"withdrawal_id": req.ID,
		"account_id":    req.AccountID,
		"amount":        req.Amount.String(),
	})

	key, err := w.hotKey()
	if err != nil {
		// No key means no broadcast happened; safe to fail and refund.
		log.WithError(err).Error("hot wallet key unavailable")
		w.fail(ctx, req, "hot wallet unavailable")
		return
	}

	txHash, err := w.broad.BroadcastTransfer(ctx, key, req.ToAddress, req.Amount)
	if err != nil {
		if txHash == "" {
			// The failure happened before a signed transaction existed,
			// so nothing can land on chain. Refund.
			if errors.Is(err, models.ErrInvalidAddress) {
				log.Warn("invalid destination address")
				w.fail(ctx, req, "invalid destination address")
				return
			}
			log.WithError(err).Error("broadcast failed")
			w.fail(ctx, req, "broadcast failed")
			return
		}
		// A signed transaction exists under this hash and the submission
		// error may be spurious, so the transfer could still propagate.
		// Not safe to refund; persist the hash and leave the request in
		// processing for the reconciler to resolve against the chain.
		w.recordTxHash(ctx, req, txHash)
		log.WithError(err).WithField("tx_hash", txHash).Warn("broadcast indeterminate, leaving request in processing")
		return
	}

	// The hash is persisted before we wait on confirmations so that a crash
	// from here on leaves enough state for reconciliation.
	w.recordTxHash(ctx, req, txHash)
	log = log.WithField("tx_hash", txHash)

	if w.awaitConfirmation(ctx, txHash) {
		w.complete(ctx, req, txHash)
		log.Info("withdrawal completed")
		return
	}
	// Broadcast but unconfirmed: the money may still land, so the request
	// stays frozen in processing until the reconciler resolves it.
	log.Warn("confirmation wait expired, leaving request in processing")
}

// recordTxHash persists the broadcast hash, retrying because a lost hash is
// what lets Reconcile mistake a propagated transfer for a never-broadcast one.
func (w *Worker) recordTxHash(ctx context.Context, req *models.WithdrawalRequest, txHash string) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = w.ledger.RecordWithdrawalTxHash(ctx, req.ID, txHash); err == nil {
			req.TxHash = txHash
			return
		}
		time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
	}
	req.TxHash = txHash
	w.log.WithError(err).WithFields(logrus.Fields{
		"withdrawal_id": req.ID,
		"tx_hash":       txHash,
	}).Error("failed to record tx hash, manual reconciliation may be needed")
}

func (w *Worker) awaitConfirmation(ctx context.Context, txHash string) bool {
	deadline := time.Now().Add(w.cfg.ConfirmWaitTimeout)
	ticker := time.NewTicker(w.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		confs, err := w.broad.TransactionConfirmations(ctx, txHash)
		if err != nil {
			w.log.WithError(err).WithField("tx_hash", txHash).Warn("confirmation check failed")
		} else if confs >= w.cfg.RequiredConfirmations {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Reconcile resolves requests stuck in processing, typically after a crash
// or an expired confirmation wait. A request with no recorded hash never
// reached the chain and is refunded; one with a hash is completed or kept
// waiting based on what the chain says.
func (w *Worker) Reconcile(ctx context.Context) {
	stale, err := w.ledger.ListStaleProcessing(ctx, time.Now().Add(-w.cfg.StaleAfter))
	if err != nil {
		w.log.WithError(err).Warn("failed to list stale withdrawals")
		return
	}
	for _, req := range stale {
		log := w.log.WithField("withdrawal_id", req.ID)

		if req.TxHash == "" {
			log.Info("reconciling: no broadcast recorded, refunding")
			w.fail(ctx, &req, "no broadcast before crash")
			continue
		}

		confs, err := w.broad.TransactionConfirmations(ctx, req.TxHash)
		if err != nil {
			log.WithError(err).Warn("reconciliation check failed")
			continue
		}
		if confs >= w.cfg.RequiredConfirmations {
			log.Info("reconciling: transfer confirmed on chain")
			w.complete(ctx, &req, req.TxHash)
			continue
		}
		// Mined shallowly or still pending: not safe to refund, not proven
		// enough to complete. Leave it for the next pass.
		log.WithField("confirmations", confs).Info("reconciling: transfer still unconfirmed")
	}
}

func (w *Worker) complete(ctx context.Context, req *models.WithdrawalRequest, txHash string) {
	if _, err := w.ledger.CompleteWithdrawal(ctx, req.ID, txHash); err != nil {
		w.log.WithError(err).WithField("withdrawal_id", req.ID).Error("failed to complete withdrawal")
		return
	}
	w.publish(ctx, req, services.EventWithdrawalCompleted, map[string]interface{}{
		"withdrawal_id": req.ID,
		"amount":        req.Amount,
		"tx_hash":       txHash,
	})
}

func (w *Worker) fail(ctx context.Context, req *models.WithdrawalRequest, reason string) {
	if _, err := w.ledger.FailWithdrawal(ctx, req.ID, reason); err != nil {
		w.log.WithError(err).WithField("withdrawal_id", req.ID).Error("failed to fail withdrawal")
		return
	}
	w.publish(ctx, req, services.EventWithdrawalFailed, map[string]interface{}{
		"withdrawal_id": req.ID,
		"amount":        req.Amount,
		"reason":        reason,
	})
}

func (w *Worker) publish(ctx context.Context, req *models.WithdrawalRequest, eventType string, payload map[string]interface{}) {
	acct, err := w.ledger.GetAccountByID(ctx, req.AccountID)
	if err != nil {
		w.log.WithError(err).WithField("account_id", req.AccountID).Warn("failed to resolve account for event")
		return
	}
	w.events.PublishEvent(ctx, services.Event{
		Type:    eventType,
		UserID:  acct.UserID,
		Payload: payload,
	})
}
