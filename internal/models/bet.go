package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type GameType string

const (
	GameTypeDice GameType = "dice"
)

// Bet is the immutable record of one settled wager. It is created in the
// same transaction as its ledger effect and never updated afterwards.
// ServerSeedHash is the commitment; the raw seed only appears in the
// account row until rotation reveals it.
type Bet struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	AccountID uint64 `gorm:"not null;index;uniqueIndex:idx_bets_account_nonce,priority:1" json:"account_id"`

	Game       GameType        `gorm:"size:32;not null" json:"game"`
	Amount     decimal.Decimal `gorm:"type:numeric(32,8);not null" json:"amount"`
	BetData    string          `gorm:"type:text" json:"bet_data"`
	ResultData string          `gorm:"type:text" json:"result_data"`

	ServerSeedHash string `gorm:"size:128;not null" json:"server_seed_hash"`
	ClientSeed     string `gorm:"size:128;not null" json:"client_seed"`
	Nonce          int64  `gorm:"not null;uniqueIndex:idx_bets_account_nonce,priority:2" json:"nonce"`

	// RequestID is the caller-supplied idempotency key. The nonce is owned
	// by the ledger, so a retried request gets deduplicated through this
	// column instead of resubmitting under a fresh nonce.
	RequestID *string `gorm:"size:64;uniqueIndex" json:"request_id,omitempty"`

	Multiplier float64         `gorm:"not null" json:"multiplier"`
	Payout     decimal.Decimal `gorm:"type:numeric(32,8);not null" json:"payout"`
	Profit     decimal.Decimal `gorm:"type:numeric(32,8);not null" json:"profit"`
	IsWin      bool            `gorm:"not null" json:"is_win"`

	CreatedAt time.Time `json:"created_at"`
}
