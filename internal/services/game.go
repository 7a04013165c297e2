package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/fairness"
	"casino-settlement/internal/games"
	"casino-settlement/internal/models"
	"casino-settlement/internal/store"
)

// GameService orchestrates wagers: account lookup, bet validation, atomic
// settlement through the ledger, and the settled-bet event.
type GameService struct {
	store     *store.Store
	accounts  *AccountService
	redis     *RedisService
	houseEdge float64
	log       *logrus.Logger
}

func NewGameService(st *store.Store, accounts *AccountService, redis *RedisService, houseEdge float64, log *logrus.Logger) *GameService {
	return &GameService{
		store:     st,
		accounts:  accounts,
		redis:     redis,
		houseEdge: houseEdge,
		log:       log,
	}
}

// PlayDice settles one dice wager. A retried request_id returns the
// originally settled bet instead of wagering again.
func (g *GameService) PlayDice(ctx context.Context, userID int64, req models.DiceBetRequest) (*models.Bet, *models.Account, error) {
	params := models.DiceParams{Target: req.Target, BetType: req.BetType}
	if err := params.Validate(); err != nil {
		return nil, nil, err
	}

	acct, err := g.accounts.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	bet, after, err := g.store.SettleBet(ctx, acct.ID, req.Amount, req.RequestID,
		func(seed store.SeedState) (store.BetSettlement, error) {
			roll := fairness.Roll(seed.ServerSeed, seed.ClientSeed, seed.Nonce)
			outcome := games.SettleDice(params, req.Amount, roll, g.houseEdge)
			return store.BetSettlement{
				GameType:   models.GameTypeDice,
				BetData:    params.JSON(),
				ResultData: models.DiceResult{Roll: outcome.Roll}.JSON(),
				Multiplier: outcome.Multiplier,
				Payout:     outcome.Payout,
				IsWin:      outcome.Win,
			}, nil
		})
	if err != nil {
		if errors.Is(err, models.ErrDuplicateTransaction) && req.RequestID != "" {
			if prior, lookupErr := g.store.GetBetByRequestID(ctx, req.RequestID); lookupErr == nil {
				current, lookupErr := g.store.GetAccountByID(ctx, acct.ID)
				if lookupErr != nil {
					return nil, nil, lookupErr
				}
				return prior, current, nil
			}
		}
		return nil, nil, err
	}

	g.redis.PublishEvent(ctx, Event{
		Type:   EventBetSettled,
		UserID: userID,
		Payload: map[string]interface{}{
			"bet_id":  bet.ID,
			"game":    bet.Game,
			"is_win":  bet.IsWin,
			"payout":  bet.Payout,
			"balance": after.Balance,
		},
	})

	g.log.WithFields(logrus.Fields{
		"user_id": userID,
		"bet_id":  bet.ID,
		"amount":  req.Amount.String(),
		"is_win":  bet.IsWin,
	}).Debug("settled dice bet")

	return bet, after, nil
}
