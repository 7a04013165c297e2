package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is the single custodial balance row per user. All mutations go
// through the ledger inside a row-locked transaction; nothing else writes
// balance or frozen_balance.
type Account struct {
	ID     uint64 `gorm:"primaryKey" json:"id"`
	UserID int64  `gorm:"uniqueIndex;not null" json:"user_id"`

	Balance       decimal.Decimal `gorm:"type:numeric(32,8);not null;default:0" json:"balance"`
	FrozenBalance decimal.Decimal `gorm:"type:numeric(32,8);not null;default:0" json:"frozen_balance"`

	// Receive address and its AES-GCM encrypted private key. Only the
	// address is ever handed out. Rows are created before the wallet is
	// attached, so the address is indexed but not unique at the schema
	// level; derivation from distinct indexes keeps it unique in practice.
	Address        string `gorm:"size:64;index" json:"address"`
	PrivateKeyEnc  string `gorm:"type:text" json:"-"`
	DerivationPath string `gorm:"size:128" json:"-"`

	// Provably-fair state. ServerSeed is the live, unrevealed seed; only
	// its hash leaves the process until rotation.
	ServerSeed     string `gorm:"size:128" json:"-"`
	ServerSeedHash string `gorm:"size:128" json:"server_seed_hash"`
	ClientSeed     string `gorm:"size:128" json:"client_seed"`
	Nonce          int64  `gorm:"not null;default:0" json:"nonce"`

	TotalWagered   decimal.Decimal `gorm:"type:numeric(32,8);not null;default:0" json:"total_wagered"`
	TotalWon       decimal.Decimal `gorm:"type:numeric(32,8);not null;default:0" json:"total_won"`
	TotalDeposited decimal.Decimal `gorm:"type:numeric(32,8);not null;default:0" json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(32,8);not null;default:0" json:"total_withdrawn"`

	// Watermark for the deposit pipeline: the highest block for which every
	// transfer to this account's address has been settled. Scans resume at
	// DepositBlock+1, so an unconfirmed transfer is re-seen until it either
	// confirms or falls out of the chain.
	DepositBlock uint64 `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available is what the user may wager or request to withdraw.
func (a *Account) Available() decimal.Decimal {
	return a.Balance
}

type BalanceResponse struct {
	Balance        decimal.Decimal `json:"balance"`
	FrozenBalance  decimal.Decimal `json:"frozen_balance"`
	TotalWagered   decimal.Decimal `json:"total_wagered"`
	TotalWon       decimal.Decimal `json:"total_won"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}

func (a *Account) BalanceResponse() *BalanceResponse {
	return &BalanceResponse{
		Balance:        a.Balance,
		FrozenBalance:  a.FrozenBalance,
		TotalWagered:   a.TotalWagered,
		TotalWon:       a.TotalWon,
		TotalDeposited: a.TotalDeposited,
		TotalWithdrawn: a.TotalWithdrawn,
	}
}
