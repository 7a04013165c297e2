// Package deposit polls the chain for inbound transfers and credits them
// exactly once after the confirmation depth is reached.
package deposit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/chain"
	"casino-settlement/internal/models"
	"casino-settlement/internal/services"
)

// Ledger is the slice of the store the pipeline needs.
type Ledger interface {
	WatchedAccounts(ctx context.Context) ([]models.Account, error)
	ConfirmDeposit(ctx context.Context, accountID uint64, txHash, fromAddress string, amount decimal.Decimal, blockNumber uint64) (*models.Transaction, error)
	AdvanceDepositBlock(ctx context.Context, accountID uint64, block uint64) error
}

// Cache is the redis fast path in front of the tx_hash unique constraint.
type Cache interface {
	SeenTransaction(ctx context.Context, txHash string) bool
	MarkTransaction(ctx context.Context, txHash string, ttl time.Duration)
}

// Events receives a notification per credited deposit.
type Events interface {
	PublishEvent(ctx context.Context, event services.Event)
}

type Config struct {
	PollInterval          time.Duration
	AddressCacheTTL       time.Duration
	RequiredConfirmations uint64
	MinDeposit            decimal.Decimal

	// PerAddressTimeout bounds one address scan so a slow explorer cannot
	// stall the whole cycle.
	PerAddressTimeout time.Duration
}

// Pipeline is the deposit poller. One instance runs per process; the
// database constraints keep multiple instances safe anyway.
type Pipeline struct {
	oracle chain.Oracle
	ledger Ledger
	cache  Cache
	events Events
	cfg    Config
	log    *logrus.Logger

	watched   []models.Account
	watchedAt time.Time
}

func NewPipeline(oracle chain.Oracle, ledger Ledger, cache Cache, events Events, cfg Config, log *logrus.Logger) *Pipeline {
	if cfg.PerAddressTimeout <= 0 {
		cfg.PerAddressTimeout = 15 * time.Second
	}
	return &Pipeline{
		oracle: oracle,
		ledger: ledger,
		cache:  cache,
		events: events,
		cfg:    cfg,
		log:    log,
	}
}

// Run polls until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	p.log.WithField("interval", p.cfg.PollInterval).Info("deposit pipeline started")
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("deposit pipeline stopped")
			return
		case <-ticker.C:
			p.ScanOnce(ctx)
		}
	}
}

// ScanOnce runs one full polling cycle. A failing address never blocks the
// others; its watermark simply stays put until the next cycle.
func (p *Pipeline) ScanOnce(ctx context.Context) {
	head, err := p.oracle.LatestBlockNumber(ctx)
	if err != nil {
		p.log.WithError(err).Warn("failed to read chain head, skipping cycle")
		return
	}
	if head < p.cfg.RequiredConfirmations {
		return
	}
	// Everything at or below safeBlock has the required depth.
	safeBlock := head - p.cfg.RequiredConfirmations

	accounts, err := p.watchedAccounts(ctx)
	if err != nil {
		p.log.WithError(err).Warn("failed to load watched addresses, skipping cycle")
		return
	}

	for i := range accounts {
		acct := &accounts[i]
		scanCtx, cancel := context.WithTimeout(ctx, p.cfg.PerAddressTimeout)
		p.scanAccount(scanCtx, acct, safeBlock)
		cancel()

		if ctx.Err() != nil {
			return
		}
	}
}

func (p *Pipeline) scanAccount(ctx context.Context, acct *models.Account, safeBlock uint64) {
	if acct.DepositBlock >= safeBlock {
		return
	}

	transfers, err := p.oracle.ListTransfers(ctx, acct.Address, acct.DepositBlock+1)
	if err != nil {
		p.log.WithError(err).WithField("address", acct.Address).Warn("transfer listing failed")
		return
	}

	// The watermark may only move past blocks whose transfers are all
	// settled. An unconfirmed or failed transfer pins it just below its
	// block so the transfer is re-seen next cycle.
	advanceTo := safeBlock
	for _, transfer := range transfers {
		if transfer.BlockNumber > safeBlock {
			advanceTo = pinBelow(advanceTo, transfer.BlockNumber)
			break
		}
		if err := p.settleTransfer(ctx, acct, transfer); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"address": acct.Address,
				"tx_hash": transfer.TxHash,
			}).Warn("deposit settlement failed")
			advanceTo = pinBelow(advanceTo, transfer.BlockNumber)
			break
		}
	}

	if advanceTo > acct.DepositBlock {
		if err := p.ledger.AdvanceDepositBlock(ctx, acct.ID, advanceTo); err != nil {
			p.log.WithError(err).WithField("address", acct.Address).Warn("failed to advance watermark")
			return
		}
		acct.DepositBlock = advanceTo
	}
}

// pinBelow caps the watermark strictly below block. A transfer in the
// genesis block has no block below it, so the watermark stays at zero
// instead of wrapping around.
func pinBelow(advanceTo, block uint64) uint64 {
	if block == 0 {
		return 0
	}
	if block-1 < advanceTo {
		return block - 1
	}
	return advanceTo
}

func (p *Pipeline) settleTransfer(ctx context.Context, acct *models.Account, transfer chain.Transfer) error {
	if transfer.Amount.LessThan(p.cfg.MinDeposit) {
		// Dust is ignored but still advances the watermark.
		return nil
	}
	if p.cache.SeenTransaction(ctx, transfer.TxHash) {
		return nil
	}

	_, err := p.ledger.ConfirmDeposit(ctx, acct.ID, transfer.TxHash, transfer.From, transfer.Amount, transfer.BlockNumber)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateTransaction) {
			// Already credited in an earlier cycle or by another instance.
			p.cache.MarkTransaction(ctx, transfer.TxHash, 24*time.Hour)
			return nil
		}
		var integrity *models.IntegrityViolation
		if errors.As(err, &integrity) {
			// The account is in a state no automated path should touch.
			p.log.WithError(err).WithField("account_id", acct.ID).Error("integrity violation, account needs operator attention")
			return err
		}
		return err
	}

	p.cache.MarkTransaction(ctx, transfer.TxHash, 24*time.Hour)
	p.events.PublishEvent(ctx, services.Event{
		Type:   services.EventDepositConfirmed,
		UserID: acct.UserID,
		Payload: map[string]interface{}{
			"tx_hash": transfer.TxHash,
			"amount":  transfer.Amount,
			"block":   transfer.BlockNumber,
		},
	})
	p.log.WithFields(logrus.Fields{
		"account_id": acct.ID,
		"tx_hash":    transfer.TxHash,
		"amount":     transfer.Amount.String(),
	}).Info("credited deposit")
	return nil
}

// watchedAccounts caches the polling set briefly; new accounts appear within
// the TTL, which is acceptable because their first deposit also needs
// confirmations.
func (p *Pipeline) watchedAccounts(ctx context.Context) ([]models.Account, error) {
	if p.watched != nil && time.Since(p.watchedAt) < p.cfg.AddressCacheTTL {
		return p.watched, nil
	}
	accounts, err := p.ledger.WatchedAccounts(ctx)
	if err != nil {
		return nil, err
	}
	p.watched = accounts
	p.watchedAt = time.Now()
	return p.watched, nil
}
