package services

import "time"

// Event types fanned out to connected clients.
const (
	EventDepositConfirmed    = "deposit.confirmed"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventWithdrawalFailed    = "withdrawal.failed"
	EventBetSettled          = "bet.settled"
)

// Event is the envelope published on the settlement events channel. UserID
// scopes delivery: the websocket hub only forwards an event to that user's
// connections.
type Event struct {
	Type    string      `json:"type"`
	UserID  int64       `json:"user_id"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}
