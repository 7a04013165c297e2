package games_test

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"casino-settlement/internal/games"
	"casino-settlement/internal/models"
)

const houseEdge = 0.01

func TestWinChance(t *testing.T) {
	cases := []struct {
		target  int
		betType models.BetType
		want    float64
	}{
		{50, models.BetTypeOver, 0.49},
		{50, models.BetTypeUnder, 0.50},
		{1, models.BetTypeOver, 0.98},
		{1, models.BetTypeUnder, 0.01},
		{98, models.BetTypeOver, 0.01},
		{98, models.BetTypeUnder, 0.98},
	}
	for _, c := range cases {
		got := games.WinChance(c.target, c.betType)
		if math.Abs(got-c.want) > 1e-12 {
			t.Errorf("WinChance(%d, %s) = %f, want %f", c.target, c.betType, got, c.want)
		}
	}
}

func TestMultiplierExpectedValue(t *testing.T) {
	// multiplier * win_chance must equal 1-house_edge for every legal bet.
	for target := 1; target <= 98; target++ {
		for _, bt := range []models.BetType{models.BetTypeOver, models.BetTypeUnder} {
			chance := games.WinChance(target, bt)
			mult := games.Multiplier(target, bt, houseEdge)
			if ev := mult * chance; math.Abs(ev-0.99) > 1e-9 {
				t.Fatalf("target=%d type=%s: expected value %f, want 0.99", target, bt, ev)
			}
			if mult <= 1 && chance < 0.99 {
				// Every bet with chance below 1-edge must pay above 1x.
				t.Fatalf("target=%d type=%s: multiplier %f not above 1", target, bt, mult)
			}
		}
	}
}

func TestMultiplierKnownValues(t *testing.T) {
	// Over 50 has 49 winning rolls: 0.99/0.49.
	if m := games.Multiplier(50, models.BetTypeOver, houseEdge); math.Abs(m-2.0204081632653) > 1e-9 {
		t.Errorf("Multiplier(50, over) = %f", m)
	}
	// Under 50 has 50 winning rolls: 0.99/0.50.
	if m := games.Multiplier(50, models.BetTypeUnder, houseEdge); math.Abs(m-1.98) > 1e-12 {
		t.Errorf("Multiplier(50, under) = %f", m)
	}
	// Under 98 is the safest bet: 0.99/0.98.
	if m := games.Multiplier(98, models.BetTypeUnder, houseEdge); math.Abs(m-1.0102040816327) > 1e-9 {
		t.Errorf("Multiplier(98, under) = %f", m)
	}
}

func TestSettleDiceWinBoundaries(t *testing.T) {
	amount := decimal.NewFromInt(10)
	over := models.DiceParams{Target: 50, BetType: models.BetTypeOver}
	under := models.DiceParams{Target: 50, BetType: models.BetTypeUnder}

	// Over wins strictly above the target.
	if games.SettleDice(over, amount, 50, houseEdge).Win {
		t.Error("over 50 must lose on a roll of exactly 50")
	}
	if !games.SettleDice(over, amount, 51, houseEdge).Win {
		t.Error("over 50 must win on 51")
	}
	if !games.SettleDice(over, amount, 99, houseEdge).Win {
		t.Error("over 50 must win on 99")
	}

	// Under wins strictly below the target.
	if games.SettleDice(under, amount, 50, houseEdge).Win {
		t.Error("under 50 must lose on a roll of exactly 50")
	}
	if !games.SettleDice(under, amount, 49, houseEdge).Win {
		t.Error("under 50 must win on 49")
	}
	if !games.SettleDice(under, amount, 0, houseEdge).Win {
		t.Error("under 50 must win on 0")
	}
}

func TestSettleDicePayouts(t *testing.T) {
	amount := decimal.NewFromInt(100)
	params := models.DiceParams{Target: 50, BetType: models.BetTypeUnder}

	won := games.SettleDice(params, amount, 10, houseEdge)
	if !won.Win {
		t.Fatal("expected win")
	}
	// 100 * 1.98 = 198.
	if !won.Payout.Equal(decimal.RequireFromString("198")) {
		t.Errorf("payout = %s, want 198", won.Payout)
	}
	if !won.Profit.Equal(decimal.RequireFromString("98")) {
		t.Errorf("profit = %s, want 98", won.Profit)
	}

	lost := games.SettleDice(params, amount, 90, houseEdge)
	if lost.Win {
		t.Fatal("expected loss")
	}
	if !lost.Payout.IsZero() {
		t.Errorf("losing payout = %s, want 0", lost.Payout)
	}
	if !lost.Profit.Equal(amount.Neg()) {
		t.Errorf("losing profit = %s, want -100", lost.Profit)
	}
}
