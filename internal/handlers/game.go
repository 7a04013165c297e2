package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"casino-settlement/internal/fairness"
	"casino-settlement/internal/models"
	"casino-settlement/internal/services"
	"casino-settlement/internal/store"
)

type GameHandler struct {
	games    *services.GameService
	accounts *services.AccountService
	store    *store.Store
}

func NewGameHandler(games *services.GameService, accounts *services.AccountService, st *store.Store) *GameHandler {
	return &GameHandler{
		games:    games,
		accounts: accounts,
		store:    st,
	}
}

func (h *GameHandler) PlayDice(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.DiceBetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	bet, acct, err := h.games.PlayDice(c.Request.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidBet), errors.Is(err, models.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, models.ErrInsufficientFunds):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient funds"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to settle bet"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"bet":     bet,
		"balance": acct.Balance,
		"nonce":   acct.Nonce,
	})
}

func (h *GameHandler) GetBalance(c *gin.Context) {
	userID := c.GetInt64("user_id")

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	c.JSON(http.StatusOK, acct.BalanceResponse())
}

func (h *GameHandler) GetBets(c *gin.Context) {
	userID := c.GetInt64("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	bets, err := h.store.ListBets(c.Request.Context(), acct.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load bets"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bets": bets})
}

// GetFairness exposes the live commitment: the hash of the unrevealed server
// seed, the active client seed, and the next nonce.
func (h *GameHandler) GetFairness(c *gin.Context) {
	userID := c.GetInt64("user_id")

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"server_seed_hash": acct.ServerSeedHash,
		"client_seed":      acct.ClientSeed,
		"next_nonce":       acct.Nonce,
	})
}

type clientSeedRequest struct {
	ClientSeed string `json:"client_seed" binding:"required,min=1,max=64"`
}

func (h *GameHandler) SetClientSeed(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req clientSeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	if err := h.store.SetClientSeed(c.Request.Context(), acct.ID, req.ClientSeed); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update client seed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "client_seed": req.ClientSeed})
}

// RotateSeed retires the current server seed, revealing it so past bets
// become verifiable, and installs a fresh commitment.
func (h *GameHandler) RotateSeed(c *gin.Context) {
	userID := c.GetInt64("user_id")

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}

	newSeed, err := fairness.GenerateServerSeed()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate seed"})
		return
	}
	rotation, err := h.store.RotateSeeds(c.Request.Context(), acct.ID, newSeed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rotate seeds"})
		return
	}
	c.JSON(http.StatusOK, rotation)
}

// Verify is a stateless check anyone can run against a revealed seed.
func (h *GameHandler) Verify(c *gin.Context) {
	var req models.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	digest := fairness.Digest(req.ServerSeed, req.ClientSeed, req.Nonce)
	valid := req.Digest == "" || fairness.Verify(req.ServerSeed, req.ClientSeed, req.Nonce, req.Digest)

	c.JSON(http.StatusOK, gin.H{
		"valid":  valid,
		"digest": digest,
		"roll":   fairness.Roll(req.ServerSeed, req.ClientSeed, req.Nonce),
	})
}
