package models

import (
	"errors"
	"fmt"
)

// Error taxonomy. Synchronous validation and funds errors return to the
// caller unchanged; duplicates are successful no-ops from the caller's point
// of view; external errors are retried on the next cycle; integrity
// violations halt the affected account but never the process.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidBet           = errors.New("invalid bet")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrAccountNotFound      = errors.New("account not found")
	ErrWithdrawalNotFound   = errors.New("withdrawal request not found")
	ErrInvalidTransition    = errors.New("invalid withdrawal state transition")
	ErrInvalidAddress       = errors.New("invalid address")
	ErrDailyLimitExceeded   = errors.New("daily withdrawal limit exceeded")
)

// ExternalServiceError wraps a chain RPC / explorer failure. It is transient:
// the loop logs it and retries the item on the next tick.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// IntegrityViolation marks a record whose invariants no longer hold, such as
// a negative balance. Processing for that account must stop and an operator
// must be alerted; other accounts keep flowing.
type IntegrityViolation struct {
	AccountID uint64
	Detail    string
}

func (e *IntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation on account %d: %s", e.AccountID, e.Detail)
}
