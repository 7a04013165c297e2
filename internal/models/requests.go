package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

type BetType string

const (
	BetTypeOver  BetType = "over"
	BetTypeUnder BetType = "under"
)

// DiceParams is the typed bet payload for the dice game. It is validated at
// the settlement boundary and serialized into Bet.BetData.
type DiceParams struct {
	Target  int     `json:"target"`
	BetType BetType `json:"type"`
}

func (p DiceParams) Validate() error {
	if p.Target < 1 || p.Target > 98 {
		return fmt.Errorf("%w: target must be in [1,98], got %d", ErrInvalidBet, p.Target)
	}
	switch p.BetType {
	case BetTypeOver, BetTypeUnder:
	default:
		return fmt.Errorf("%w: bet type must be over or under, got %q", ErrInvalidBet, p.BetType)
	}
	return nil
}

func (p DiceParams) JSON() string {
	b, _ := json.Marshal(p)
	return string(b)
}

// DiceResult is the typed outcome payload, serialized into Bet.ResultData.
type DiceResult struct {
	Roll int `json:"roll"`
}

func (r DiceResult) JSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}

type DiceBetRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Target    int             `json:"target"`
	BetType   BetType         `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
}

type WithdrawalCreateRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	ToAddress string          `json:"to_address"`
}

type VerifyRequest struct {
	ServerSeed string `json:"server_seed"`
	ClientSeed string `json:"client_seed"`
	Nonce      int64  `json:"nonce"`
	Digest     string `json:"digest"`
}
