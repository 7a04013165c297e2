package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"casino-settlement/internal/config"
	"casino-settlement/internal/models"
	"casino-settlement/internal/services"
	"casino-settlement/internal/store"
	"casino-settlement/internal/vault"
)

type WalletHandler struct {
	accounts *services.AccountService
	store    *store.Store
	redis    *services.RedisService
	cfg      *config.Config
	log      *logrus.Logger
}

func NewWalletHandler(accounts *services.AccountService, st *store.Store, redis *services.RedisService, cfg *config.Config, log *logrus.Logger) *WalletHandler {
	return &WalletHandler{
		accounts: accounts,
		store:    st,
		redis:    redis,
		cfg:      cfg,
		log:      log,
	}
}

// GetDepositAddress returns the account's receive address, provisioning the
// account on first call.
func (h *WalletHandler) GetDepositAddress(c *gin.Context) {
	userID := c.GetInt64("user_id")

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":                acct.Address,
		"derivation":             vault.DerivationPathPrefix,
		"min_deposit":            h.cfg.MinDeposit,
		"required_confirmations": h.cfg.RequiredConfirmations,
	})
}

func (h *WalletHandler) CreateWithdrawal(c *gin.Context) {
	userID := c.GetInt64("user_id")

	var req models.WithdrawalCreateRequest
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

	withdrawal, err := h.store.CreateWithdrawal(c.Request.Context(), acct.ID, req.Amount, req.ToAddress, store.WithdrawalLimits{
		Min:        h.cfg.MinWithdrawal,
		Max:        h.cfg.MaxWithdrawal,
		DailyLimit: h.cfg.DailyWithdrawalLimit,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Amount outside withdrawal limits"})
		case errors.Is(err, models.ErrInsufficientFunds):
			c.JSON(http.StatusPaymentRequired, gin.H{"error": "Insufficient funds"})
		case errors.Is(err, models.ErrDailyLimitExceeded):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Daily withdrawal limit exceeded"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create withdrawal"})
		}
		return
	}

	// Small amounts skip manual review and go straight to the queue.
	if withdrawal.Amount.LessThanOrEqual(h.cfg.AutoApproveMax) {
		approved, err := h.store.ApproveWithdrawal(c.Request.Context(), withdrawal.ID)
		if err != nil {
			h.log.WithError(err).WithField("withdrawal_id", withdrawal.ID).Error("auto approval failed")
		} else {
			withdrawal = approved
			if err := h.redis.PushWithdrawal(c.Request.Context(), withdrawal.ID); err != nil {
				h.log.WithError(err).WithField("withdrawal_id", withdrawal.ID).Error("failed to enqueue withdrawal")
			}
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"withdrawal": withdrawal,
	})
}

func (h *WalletHandler) ListWithdrawals(c *gin.Context) {
	userID := c.GetInt64("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	withdrawals, err := h.store.ListWithdrawalsByAccount(c.Request.Context(), acct.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load withdrawals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawals})
}

func (h *WalletHandler) ListTransactions(c *gin.Context) {
	userID := c.GetInt64("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	acct, err := h.accounts.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load account"})
		return
	}
	txs, err := h.store.ListTransactions(c.Request.Context(), acct.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load transactions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Admin endpoints below. All run behind AdminMiddleware.

func (h *WalletHandler) ListPendingWithdrawals(c *gin.Context) {
	withdrawals, err := h.store.ListPendingWithdrawals(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load pending withdrawals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": withdrawals})
}

func (h *WalletHandler) ApproveWithdrawal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid withdrawal id"})
		return
	}

	withdrawal, err := h.store.ApproveWithdrawal(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrWithdrawalNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		case errors.Is(err, models.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "Withdrawal is not pending"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to approve withdrawal"})
		}
		return
	}

	if err := h.redis.PushWithdrawal(c.Request.Context(), withdrawal.ID); err != nil {
		// The approval committed; the reconciler or a manual requeue will
		// pick it up if the push was lost.
		h.log.WithError(err).WithField("withdrawal_id", withdrawal.ID).Error("failed to enqueue approved withdrawal")
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "withdrawal": withdrawal})
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required,max=255"`
}

func (h *WalletHandler) RejectWithdrawal(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid withdrawal id"})
		return
	}

	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	withdrawal, err := h.store.RejectWithdrawal(c.Request.Context(), id, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrWithdrawalNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Withdrawal not found"})
		case errors.Is(err, models.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "Withdrawal is not pending"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reject withdrawal"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "withdrawal": withdrawal})
}
