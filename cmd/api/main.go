package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"casino-settlement/internal/chain"
	"casino-settlement/internal/config"
	"casino-settlement/internal/deposit"
	"casino-settlement/internal/handlers"
	"casino-settlement/internal/logging"
	"casino-settlement/internal/middleware"
	"casino-settlement/internal/secrets"
	"casino-settlement/internal/services"
	"casino-settlement/internal/store"
	"casino-settlement/internal/vault"
	"casino-settlement/internal/withdraw"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.Setup(cfg.Env, "./logs")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database")
	}
	defer st.Close()

	redisService, err := services.NewRedisService(cfg.RedisURL, cfg.RedisPass, cfg.RedisDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisService.Close()

	secretStore, err := secrets.Open(cfg.SecretsPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open secret store")
	}
	defer secretStore.Close()

	// The mnemonic is generated once on first boot and persisted in the
	// secret store, never in postgres.
	mnemonic, err := secretStore.GetOrCreateString(secrets.KeyMnemonic, vault.GenerateMnemonic)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load wallet mnemonic")
	}
	walletVault, err := vault.New(mnemonic, cfg.MasterKey)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize vault")
	}

	node, err := chain.NewNode(ctx, cfg.ChainRPCURL, cfg.TokenAddress, cfg.TokenDecimals)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to chain node")
	}
	defer node.Close()
	explorer := chain.NewExplorer(cfg.ExplorerURL, cfg.ExplorerAPIKey, cfg.TokenAddress, cfg.TokenDecimals)
	oracle := chain.NewClient(explorer, node)

	// The payout wallet is the derivation index 0 key.
	hotKey := func() (*ecdsa.PrivateKey, error) {
		derived, err := walletVault.Derive(0)
		if err != nil {
			return nil, err
		}
		return walletVault.Unseal(derived.PrivateKeyEnc)
	}

	jwtService := services.NewJWTService(cfg.JWTSecret)
	accountService := services.NewAccountService(st, walletVault, logger)
	gameService := services.NewGameService(st, accountService, redisService, cfg.HouseEdge, logger)

	pipeline := deposit.NewPipeline(oracle, st, redisService, redisService, deposit.Config{
		PollInterval:          cfg.DepositPollInterval,
		AddressCacheTTL:       cfg.AddressCacheTTL,
		RequiredConfirmations: cfg.RequiredConfirmations,
		MinDeposit:            cfg.MinDeposit,
	}, logger)

	worker := withdraw.NewWorker(redisService, st, oracle, redisService, hotKey, withdraw.Config{
		RequiredConfirmations: cfg.RequiredConfirmations,
		PopTimeout:            cfg.QueuePopTimeout,
	}, logger)

	gameHandler := handlers.NewGameHandler(gameService, accountService, st)
	walletHandler := handlers.NewWalletHandler(accountService, st, redisService, cfg, logger)
	wsHandler := handlers.NewWebSocketHandler(accountService, redisService, logger)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		// Resolve anything stranded in processing by a previous crash
		// before taking new work.
		worker.Reconcile(ctx)
		worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		wsHandler.Run(ctx)
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/api")
	protected.Use(middleware.AuthMiddleware(jwtService))
	protected.Use(middleware.RateLimitMiddleware(redisService))
	{
		protected.GET("/balance", gameHandler.GetBalance)
		protected.GET("/bets", gameHandler.GetBets)
		protected.GET("/ws", wsHandler.HandleWebSocket)

		games := protected.Group("/games")
		{
			dice := games.Group("/dice")
			{
				dice.POST("/play", gameHandler.PlayDice)
			}
		}

		fair := protected.Group("/fairness")
		{
			fair.GET("", gameHandler.GetFairness)
			fair.POST("/client-seed", gameHandler.SetClientSeed)
			fair.POST("/rotate", gameHandler.RotateSeed)
		}
		protected.POST("/verify", gameHandler.Verify)

		protected.GET("/deposit/address", walletHandler.GetDepositAddress)
		protected.GET("/transactions", walletHandler.ListTransactions)

		withdrawals := protected.Group("/withdrawals")
		{
			withdrawals.POST("", walletHandler.CreateWithdrawal)
			withdrawals.GET("", walletHandler.ListWithdrawals)
		}

		admin := protected.Group("/admin")
		admin.Use(middleware.AdminMiddleware())
		{
			admin.GET("/withdrawals/pending", walletHandler.ListPendingWithdrawals)
			admin.POST("/withdrawals/:id/approve", walletHandler.ApproveWithdrawal)
			admin.POST("/withdrawals/:id/reject", walletHandler.RejectWithdrawal)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Server shutdown error")
	}

	wg.Wait()
	logger.Info("Shutdown complete")
}
