package services

import "fmt"

// Centralized redis key builders so the keyspace stays greppable.

const (
	keyWithdrawalQueue = "withdrawal:queue"
	keyEventsChannel   = "settlement:events"
)

func keySeenTx(txHash string) string {
	return fmt.Sprintf("deposit:seen:%s", txHash)
}

func keyRateLimit(userID int64, action string) string {
	return fmt.Sprintf("ratelimit:%d:%s", userID, action)
}
