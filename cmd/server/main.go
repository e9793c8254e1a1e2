package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/auth"
	"github.com/ksred/scalp-api/internal/config"
	"github.com/ksred/scalp-api/internal/database"
	"github.com/ksred/scalp-api/internal/engine"
	"github.com/ksred/scalp-api/internal/oracle"
	"github.com/ksred/scalp-api/internal/orders"
	"github.com/ksred/scalp-api/internal/types"
	"github.com/ksred/scalp-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the scalp API server with graceful shutdown
// support. It sets up the market, oracles, engine, order router, keeper
// loop, and API routes.
func main() {
	cfgPath := os.Getenv("SCALP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.toml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}
	applyLogLevel(cfg.LogLevel)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	genesis, err := genesisConfig(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid scalp parameters in configuration")
	}
	if err := engine.EnsureGenesisConfig(db, *genesis); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to seed scalp parameters")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	authService.RegisterAPICredentials(cfg.Auth.ClientID, cfg.Auth.ClientSecret)
	authService.RegisterOwnerCredentials(cfg.Auth.OwnerID, cfg.Auth.OwnerSecret)

	pair := types.AssetPair{
		Name:          cfg.Market.Pair,
		BaseSymbol:    cfg.Market.BaseSymbol,
		QuoteSymbol:   cfg.Market.QuoteSymbol,
		BaseDecimals:  cfg.Market.BaseDecimals,
		QuoteDecimals: cfg.Market.QuoteDecimals,
	}

	markPrice, err := decimal.NewFromString(cfg.Market.InitialMarkPrice)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid initial mark price")
	}
	volatility, err := decimal.NewFromString(cfg.Market.InitialVolatility)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid initial volatility")
	}

	ledger := assets.NewLedger(db)
	prices := oracle.NewMockPriceOracle(markPrice)
	vols := oracle.NewMockVolatilityOracle(volatility)
	pricer := oracle.NewMockOptionPricer()
	gateway := oracle.NewGateway(prices, vols, pricer)
	swapper := oracle.NewMockSwapper(prices, ledger, pair)
	oracleHandlers := oracle.NewGinHandlers(prices, swapper)

	engineService := engine.NewService(db, pair, gateway, swapper, cfg.Auth.OwnerID)
	engineHandlers := engine.NewGinHandlers(engineService)

	orderService := orders.NewService(db, map[string]*engine.Service{
		pair.Name: engineService,
	})
	orderHandlers := orders.NewGinHandlers(orderService)
	if err := orderService.RegisterTargets([]string{pair.Name}); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to allowlist the market engine")
	}

	// Create and start the keeper processor
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()
	if cfg.Keeper.Enabled {
		keeper := orders.NewProcessor(orderService, cfg.KeeperInterval())
		go keeper.Start(processorCtx)
	}

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, engineHandlers, orderHandlers, oracleHandlers)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// genesisConfig converts the decimal-string scalp parameters from the
// runtime configuration into the first versioned parameter record.
func genesisConfig(cfg *config.Config) (*engine.ScalpConfig, error) {
	maxSize, err := decimal.NewFromString(cfg.Scalp.MaxSize)
	if err != nil {
		return nil, err
	}
	maxOI, err := decimal.NewFromString(cfg.Scalp.MaxOpenInterest)
	if err != nil {
		return nil, err
	}
	minMargin, err := decimal.NewFromString(cfg.Scalp.MinimumMargin)
	if err != nil {
		return nil, err
	}
	feeBps, err := decimal.NewFromString(cfg.Scalp.FeeBps)
	if err != nil {
		return nil, err
	}
	minPremium, err := decimal.NewFromString(cfg.Scalp.MinimumPremiumThreshold)
	if err != nil {
		return nil, err
	}

	genesis := &engine.ScalpConfig{
		MaxSize:                 maxSize,
		MaxOpenInterest:         maxOI,
		MinimumMargin:           minMargin,
		FeeBps:                  feeBps,
		MinimumPremiumThreshold: minPremium,
		CoolingPeriodSeconds:    cfg.Scalp.CoolingPeriodSeconds,
		InsuranceFund:           cfg.Scalp.InsuranceFund,
	}
	return genesis, genesis.Validate()
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Pool, position and order routes: Protected by JWT authentication
// - Internal routes: Protected by the owner claim
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	engineHandlers *engine.GinHandlers,
	orderHandlers *orders.GinHandlers,
	oracleHandlers *oracle.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Pool routes
		pool := v1.Group("/pool")
		pool.Use(middleware.JWTAuth(jwtSecret))
		{
			pool.POST("/deposit", engineHandlers.DepositHandler())
			pool.POST("/withdraw", engineHandlers.WithdrawHandler())
			pool.GET("/:side", engineHandlers.PoolHandler())
		}

		// Position routes
		positions := v1.Group("/positions")
		positions.Use(middleware.JWTAuth(jwtSecret))
		{
			positions.POST("", engineHandlers.OpenPositionHandler())
			positions.GET("", engineHandlers.ListPositionsHandler())
			positions.GET("/:id", engineHandlers.GetPositionHandler())
			positions.POST("/:id/close", engineHandlers.ClosePositionHandler())
			positions.POST("/:id/liquidate", engineHandlers.LiquidatePositionHandler())
			positions.GET("/:id/liquidation-price", engineHandlers.LiquidationPriceHandler())
			positions.GET("/:id/liquidatable", engineHandlers.LiquidatableHandler())
		}

		// Limit-order routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("/open", orderHandlers.CreateOpenOrderHandler())
			orderGroup.POST("/close", orderHandlers.CreateCloseOrderHandler())
			orderGroup.POST("/open/:id/fill", orderHandlers.FillOpenOrderHandler())
			orderGroup.POST("/close/:id/fill", orderHandlers.FillCloseOrderHandler())
			orderGroup.GET("/open/:id/fillable", orderHandlers.OpenOrderFillableHandler())
			orderGroup.GET("/close/:id/fillable", orderHandlers.CloseOrderFillableHandler())
			orderGroup.POST("/open/:id/cancel", orderHandlers.CancelOpenOrderHandler())
			orderGroup.POST("/close/:id/cancel", orderHandlers.CancelCloseOrderHandler())
		}

		// Internal routes (owner token required)
		internal := v1.Group("/internal")
		internal.Use(middleware.OwnerAuth(jwtSecret))
		{
			internal.POST("/config", engineHandlers.UpdateConfigHandler())
			internal.POST("/engines", orderHandlers.RegisterEnginesHandler())
			internal.POST("/emergency-withdraw", engineHandlers.EmergencyWithdrawHandler())
			internal.GET("/check-math", engineHandlers.CheckMathHandler())
			internal.POST("/fund", engineHandlers.FundAccountHandler())
			internal.POST("/oracle/price", oracleHandlers.SetMarkPriceHandler())
			internal.POST("/oracle/tick", oracleHandlers.SetTickHandler())
		}
	}
}
