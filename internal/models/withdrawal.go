package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalStatusPending    WithdrawalStatus = "pending"
	WithdrawalStatusApproved   WithdrawalStatus = "approved"
	WithdrawalStatusProcessing WithdrawalStatus = "processing"
	WithdrawalStatusCompleted  WithdrawalStatus = "completed"
	WithdrawalStatusFailed     WithdrawalStatus = "failed"
	WithdrawalStatusRejected   WithdrawalStatus = "rejected"
)

// withdrawalTransitions is the full state machine. Anything not listed is an
// illegal transition and fails with ErrInvalidTransition.
var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:    {WithdrawalStatusApproved, WithdrawalStatusRejected},
	WithdrawalStatusApproved:   {WithdrawalStatusProcessing},
	WithdrawalStatusProcessing: {WithdrawalStatusCompleted, WithdrawalStatusFailed},
}

func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition exists.
func (s WithdrawalStatus) Terminal() bool {
	return len(withdrawalTransitions[s]) == 0
}

// WithdrawalRequest is created with the amount already moved from balance
// into frozen_balance. It is never deleted, only transitioned.
type WithdrawalRequest struct {
	ID        uint64 `gorm:"primaryKey" json:"id"`
	AccountID uint64 `gorm:"not null;index" json:"account_id"`

	Amount    decimal.Decimal  `gorm:"type:numeric(32,8);not null" json:"amount"`
	ToAddress string           `gorm:"size:64;not null" json:"to_address"`
	Status    WithdrawalStatus `gorm:"size:16;not null;index" json:"status"`

	TxHash string `gorm:"size:128" json:"tx_hash,omitempty"`
	Reason string `gorm:"size:255" json:"reason,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
