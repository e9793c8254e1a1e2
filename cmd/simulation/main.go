package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/auth"
	"github.com/ksred/scalp-api/internal/database"
	"github.com/ksred/scalp-api/internal/engine"
	"github.com/ksred/scalp-api/internal/oracle"
	"github.com/ksred/scalp-api/internal/orders"
	"github.com/ksred/scalp-api/internal/types"
	"github.com/ksred/scalp-api/pkg/middleware"
)

const (
	minPositions  = 10
	maxPositions  = 60
	numWorkers    = 5
	serverAddress = "http://localhost:8080"

	jwtSecret   = "simulation-secret"
	ownerKey    = "sim_owner"
	ownerSecret = "sim_owner_secret"
	traderKey   = "sim_trader"
	traderSecret = "sim_trader_secret"

	marketPair = "ETH-USDC"
)

// basisPrice is the starting mark price: 1000.00000000 quoted to eight
// decimals.
var basisPrice = decimal.New(1000, 8)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the scalp API
type simulationClient struct {
	baseURL    string
	authToken  string
	ownerToken string
	client     *http.Client
	stats      map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates both the trader and the owner credentials and
// prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"deposit":  {name: "Pool Deposit"},
			"withdraw": {name: "Pool Withdraw"},
			"open":     {name: "Open Position"},
			"close":    {name: "Close Position"},
			"price":    {name: "Set Mark Price"},
			"check":    {name: "Check Math"},
		},
	}

	token, err := sc.authenticate(traderKey, traderSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate trader: %w", err)
	}
	sc.authToken = token

	ownerToken, err := sc.authenticate(ownerKey, ownerSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate owner: %w", err)
	}
	sc.ownerToken = ownerToken

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(key, secret string) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    key,
		"api_secret": secret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// call issues an authenticated request and decodes the success envelope
// into out when out is non-nil
func (sc *simulationClient) call(method, path, token string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool        `json:"success"`
		Data    interface{} `json:"data"`
	}{Data: out}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return nil
}

// fundAccount credits faucet funds to an account via the owner endpoint
func (sc *simulationClient) fundAccount(account, asset string, amount decimal.Decimal) error {
	payload := map[string]string{
		"account": account,
		"asset":   asset,
		"amount":  amount.String(),
	}
	return sc.call("POST", "/api/v1/internal/fund", sc.ownerToken, payload, nil)
}

// deposit adds liquidity to one side of the pool
func (sc *simulationClient) deposit(side types.Side, amount decimal.Decimal) error {
	start := time.Now()
	defer func() {
		sc.stats["deposit"].addDuration(time.Since(start))
	}()

	payload := types.DepositRequest{Side: side, Amount: amount}
	return sc.call("POST", "/api/v1/pool/deposit", sc.authToken, payload, nil)
}

// withdraw redeems LP shares from one side of the pool
func (sc *simulationClient) withdraw(side types.Side, shares decimal.Decimal) error {
	start := time.Now()
	defer func() {
		sc.stats["withdraw"].addDuration(time.Since(start))
	}()

	payload := types.WithdrawRequest{Side: side, ShareAmount: shares}
	return sc.call("POST", "/api/v1/pool/withdraw", sc.authToken, payload, nil)
}

// openPosition opens a scalp position and returns its record
func (sc *simulationClient) openPosition(isShort bool, size, margin decimal.Decimal) (*types.PositionResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["open"].addDuration(time.Since(start))
	}()

	payload := types.OpenPositionRequest{
		IsShort:   isShort,
		Size:      size,
		Timeframe: rand.Intn(5),
		Margin:    margin,
	}

	var position types.PositionResponse
	if err := sc.call("POST", "/api/v1/positions", sc.authToken, payload, &position); err != nil {
		sc.stats["open"].failures++
		return nil, err
	}
	return &position, nil
}

// closePosition settles a position at the current mark price
func (sc *simulationClient) closePosition(id uint64) (*types.SettlementResponse, error) {
	start := time.Now()
	defer func() {
		sc.stats["close"].addDuration(time.Since(start))
	}()

	var settlement types.SettlementResponse
	path := fmt.Sprintf("/api/v1/positions/%d/close", id)
	if err := sc.call("POST", path, sc.authToken, nil, &settlement); err != nil {
		sc.stats["close"].failures++
		return nil, err
	}
	return &settlement, nil
}

// setMarkPrice drives the mock oracle
func (sc *simulationClient) setMarkPrice(price decimal.Decimal) error {
	start := time.Now()
	defer func() {
		sc.stats["price"].addDuration(time.Since(start))
	}()

	payload := types.SetMarkPriceRequest{Price: price}
	return sc.call("POST", "/api/v1/internal/oracle/price", sc.ownerToken, payload, nil)
}

// checkMath probes the internal asset conservation invariant
func (sc *simulationClient) checkMath() error {
	start := time.Now()
	defer func() {
		sc.stats["check"].addDuration(time.Since(start))
	}()

	return sc.call("GET", "/api/v1/internal/check-math", sc.ownerToken, nil, nil)
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 100))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 100))
}

// main runs the scalp trading simulation
// It starts a local API server, seeds both pools, opens positions under
// a randomly walking mark price, then closes everything and verifies
// the asset conservation invariant
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Faucet funds: base and quote for LP deposits plus quote margin
	if err := simClient.fundAccount(traderKey, "ETH", decimal.New(100, 18)); err != nil {
		log.Fatal().Err(err).Msg("Failed to fund base balance")
	}
	if err := simClient.fundAccount(traderKey, "USDC", decimal.New(1_000_000, 6)); err != nil {
		log.Fatal().Err(err).Msg("Failed to fund quote balance")
	}

	// Seed both sides of the pool
	if err := simClient.deposit(types.SideBase, decimal.New(50, 18)); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed base pool")
	}
	if err := simClient.deposit(types.SideQuote, decimal.New(500_000, 6)); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed quote pool")
	}
	log.Info().Msg("Pools seeded")

	targetPositions := rand.Intn(maxPositions-minPositions) + minPositions
	log.Info().Int("target_positions", targetPositions).Msg("Starting simulation")

	positionsChan := make(chan uint64, targetPositions)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			openPositionsHTTP(workerID, targetPositions/numWorkers, simClient, positionsChan)
		}(i)
	}

	wg.Wait()
	close(positionsChan)

	var positionIDs []uint64
	for id := range positionsChan {
		positionIDs = append(positionIDs, id)
	}

	log.Info().Int("positions_opened", len(positionIDs)).Msg("All positions opened")

	stats := struct {
		TotalPositions  int
		ClosedPositions int
		FailedOpens     int
		FailedCloses    int
		TotalPayout     decimal.Decimal
		TotalPnL        decimal.Decimal
		Wins            int
		Losses          int
		StartTime       time.Time
	}{
		TotalPositions: len(positionIDs),
		TotalPayout:    decimal.Zero,
		TotalPnL:       decimal.Zero,
		StartTime:      time.Now(),
	}

	// Walk the mark price, closing a slice of positions after each move
	chunk := len(positionIDs)/4 + 1
	for i, id := range positionIDs {
		if i%chunk == 0 {
			// Move the price up to 3% in either direction
			drift := decimal.NewFromInt(int64(rand.Intn(600) - 300))
			price := basisPrice.Add(basisPrice.Mul(drift).Div(decimal.NewFromInt(10_000)).Truncate(0))
			if err := simClient.setMarkPrice(price); err != nil {
				log.Error().Err(err).Msg("Failed to move mark price")
			} else {
				log.Info().Str("price", price.String()).Msg("Mark price moved")
			}
		}

		settlement, err := simClient.closePosition(id)
		if err != nil {
			log.Error().Err(err).Uint64("position_id", id).Msg("Failed to close position")
			stats.FailedCloses++
			continue
		}
		stats.ClosedPositions++
		stats.TotalPayout = stats.TotalPayout.Add(settlement.Payout)
		stats.TotalPnL = stats.TotalPnL.Add(settlement.PnL)
		if settlement.PnL.IsPositive() {
			stats.Wins++
		} else {
			stats.Losses++
		}

		log.Info().
			Uint64("position_id", id).
			Str("payout", settlement.Payout.String()).
			Str("pnl", settlement.PnL.String()).
			Msg("Position closed")
	}

	// The ledger must balance exactly once every position is settled
	if err := simClient.checkMath(); err != nil {
		log.Error().Err(err).Msg("Asset conservation check FAILED")
	} else {
		log.Info().Msg("Asset conservation check passed")
	}

	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SCALP SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Position Statistics
-------------------
Total Positions:  %d
Closed:           %d
Failed Closes:    %d
Wins:             %d
Losses:           %d
Total Payout:     %s
Total PnL:        %s
Duration:         %v
`, stats.TotalPositions, stats.ClosedPositions, stats.FailedCloses,
		stats.Wins, stats.Losses,
		stats.TotalPayout.String(), stats.TotalPnL.String(),
		duration.Round(time.Millisecond))

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := 0.0
	if stats.TotalPositions > 0 {
		successRate = float64(stats.ClosedPositions) / float64(stats.TotalPositions) * 100
	}
	log.Info().
		Float64("success_rate", successRate).
		Int("total_positions", stats.TotalPositions).
		Int("closed_positions", stats.ClosedPositions).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// openPositionsHTTP opens random scalp positions against the API
// Runs as a worker goroutine, sending opened position IDs to positionsChan
func openPositionsHTTP(workerID, numPositions int, simClient *simulationClient, positionsChan chan<- uint64) {
	for i := 0; i < numPositions; i++ {
		// Size between 1,000 and 5,000 quote units, margin at 2-10%
		size := decimal.New(int64(rand.Intn(4_000)+1_000), 6)
		marginBps := int64(rand.Intn(800) + 200)
		margin := size.Mul(decimal.NewFromInt(marginBps)).Div(decimal.NewFromInt(10_000)).Truncate(0)
		isShort := rand.Intn(2) == 0

		position, err := simClient.openPosition(isShort, size, margin)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("size", size.String()).
				Msg("Failed to open position")
			continue
		}

		positionsChan <- position.ID
		log.Info().
			Int("worker_id", workerID).
			Uint64("position_id", position.ID).
			Bool("is_short", isShort).
			Str("size", size.String()).
			Str("margin", margin.String()).
			Str("entry_price", position.EntryPrice.String()).
			Msg("Position opened")

		// Random sleep between positions
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// startServer initializes and starts the scalp API server
// Sets up all required services, handlers and routes
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	pair := types.AssetPair{
		Name:          marketPair,
		BaseSymbol:    "ETH",
		QuoteSymbol:   "USDC",
		BaseDecimals:  18,
		QuoteDecimals: 6,
	}

	genesis := engine.ScalpConfig{
		MaxSize:                 decimal.New(10_000, 6),
		MaxOpenInterest:         decimal.New(1_000_000, 6),
		MinimumMargin:           decimal.New(5, 6),
		FeeBps:                  decimal.NewFromInt(5_000_000),
		MinimumPremiumThreshold: decimal.NewFromInt(500_000),
		CoolingPeriodSeconds:    0,
		InsuranceFund:           "insurance-fund",
	}
	if err := engine.EnsureGenesisConfig(db, genesis); err != nil {
		return fmt.Errorf("failed to seed scalp parameters: %w", err)
	}

	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(traderKey, traderSecret)
	authService.RegisterOwnerCredentials(ownerKey, ownerSecret)

	ledger := assets.NewLedger(db)
	prices := oracle.NewMockPriceOracle(basisPrice)
	vols := oracle.NewMockVolatilityOracle(decimal.NewFromInt(100))
	gateway := oracle.NewGateway(prices, vols, oracle.NewMockOptionPricer())
	swapper := oracle.NewMockSwapper(prices, ledger, pair)

	engineService := engine.NewService(db, pair, gateway, swapper, ownerKey)
	orderService := orders.NewService(db, map[string]*engine.Service{
		pair.Name: engineService,
	})
	if err := orderService.RegisterTargets([]string{pair.Name}); err != nil {
		return fmt.Errorf("failed to allowlist the market engine: %w", err)
	}

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	engineHandlers := engine.NewGinHandlers(engineService)
	orderHandlers := orders.NewGinHandlers(orderService)
	oracleHandlers := oracle.NewGinHandlers(prices, swapper)

	setupRoutes(router, authHandlers, engineHandlers, orderHandlers, oracleHandlers)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
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
