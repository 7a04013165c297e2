// Package games holds the pure outcome math for each game type. Nothing here
// touches storage or randomness; callers supply the roll and get back the
// settled numbers.
package games

import (
	"github.com/shopspring/decimal"

	"casino-settlement/internal/models"
)

// moneyScale is the decimal precision money amounts are rounded to.
const moneyScale = 8

// WinChance returns the probability of winning a dice bet. Over wins on
// rolls strictly above target, under on rolls strictly below, so over has
// 99-target winning values and under has target winning values out of 100.
func WinChance(target int, betType models.BetType) float64 {
	if betType == models.BetTypeOver {
		return float64(99-target) / 100
	}
	return float64(target) / 100
}

// Multiplier returns the payout multiplier for a dice bet such that the
// expected return is exactly 1-houseEdge regardless of target.
func Multiplier(target int, betType models.BetType, houseEdge float64) float64 {
	return (1 - houseEdge) / WinChance(target, betType)
}

// DiceOutcome is a fully settled dice wager.
type DiceOutcome struct {
	Roll       int
	Win        bool
	Multiplier float64
	Payout     decimal.Decimal
	Profit     decimal.Decimal
}

// SettleDice resolves a dice bet given the already-derived roll. The caller
// validates params before settlement.
func SettleDice(params models.DiceParams, amount decimal.Decimal, roll int, houseEdge float64) DiceOutcome {
	var win bool
	if params.BetType == models.BetTypeOver {
		win = roll > params.Target
	} else {
		win = roll < params.Target
	}

	mult := Multiplier(params.Target, params.BetType, houseEdge)

	payout := decimal.Zero
	if win {
		payout = amount.Mul(decimal.NewFromFloat(mult)).Round(moneyScale)
	}

	return DiceOutcome{
		Roll:       roll,
		Win:        win,
		Multiplier: mult,
		Payout:     payout,
		Profit:     payout.Sub(amount),
	}
}
