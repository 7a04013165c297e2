package models

import (
	"fmt"

	"github.com/google/uuid"
)

// IDs are full UUIDs so concurrent generation cannot collide into a
// spurious duplicate-key rollback.
func GenerateBetID() string {
	return fmt.Sprintf("bet_%s", uuid.New().String())
}

func GenerateTransactionID() string {
	return fmt.Sprintf("tx_%s", uuid.New().String())
}
