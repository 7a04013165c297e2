package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit  TransactionType = "deposit"
	TransactionTypeWithdraw TransactionType = "withdraw"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusConfirmed TransactionStatus = "confirmed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction records one on-chain money movement. The unique constraint on
// TxHash is the authoritative de-duplication guard; any cache in front of it
// is an optimization only.
type Transaction struct {
	ID        string          `gorm:"primaryKey;size:64" json:"id"`
	AccountID uint64          `gorm:"not null;index" json:"account_id"`
	Type      TransactionType `gorm:"size:16;not null" json:"type"`

	Amount      decimal.Decimal   `gorm:"type:numeric(32,8);not null" json:"amount"`
	TxHash      string            `gorm:"size:128;uniqueIndex;not null" json:"tx_hash"`
	FromAddress string            `gorm:"size:64" json:"from_address"`
	ToAddress   string            `gorm:"size:64" json:"to_address"`
	Status      TransactionStatus `gorm:"size:16;not null" json:"status"`
	BlockNumber int64             `json:"block_number"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
