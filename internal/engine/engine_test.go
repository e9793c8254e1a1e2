package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/oracle"
	"github.com/ksred/scalp-api/internal/pool"
	"github.com/ksred/scalp-api/internal/positions"
	"github.com/ksred/scalp-api/internal/types"
)

const (
	trader = "trader-1"
	lp     = "lp-1"
	owner  = "owner-1"
)

// The test market: 18-decimal base, 6-decimal quote, priced at
// 1000.00000000.
var (
	testPair = types.AssetPair{
		Name:          "ETH-USDC",
		BaseSymbol:    "ETH",
		QuoteSymbol:   "USDC",
		BaseDecimals:  18,
		QuoteDecimals: 6,
	}
	basisPrice = decimal.New(1000, 8)
)

type testEnv struct {
	svc    *Service
	prices *oracle.MockPriceOracle
}

func newTestEngine(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&assets.Balance{},
		&pool.Pool{},
		&pool.ShareBalance{},
		&positions.Position{},
		&ScalpConfig{},
	))
	require.NoError(t, pool.EnsurePools(db))
	require.NoError(t, EnsureGenesisConfig(db, ScalpConfig{
		MaxSize:                 d(10_000_000_000),
		MaxOpenInterest:         d(12_000_000_000),
		MinimumMargin:           d(5_000_000),
		FeeBps:                  d(5_000_000),
		MinimumPremiumThreshold: d(4_000),
		CoolingPeriodSeconds:    0,
		InsuranceFund:           "insurance-fund",
	}))

	ledger := assets.NewLedger(db)
	prices := oracle.NewMockPriceOracle(basisPrice)
	vols := oracle.NewMockVolatilityOracle(d(100))
	gateway := oracle.NewGateway(prices, vols, oracle.NewMockOptionPricer())
	swapper := oracle.NewMockSwapper(prices, ledger, testPair)

	svc := NewService(db, testPair, gateway, swapper, owner)

	// Faucet funds and seed liquidity on both sides.
	require.NoError(t, svc.FundAccount(trader, "USDC", d(1_000_000_000)))
	require.NoError(t, svc.FundAccount(lp, "ETH", decimal.New(10, 18)))
	require.NoError(t, svc.FundAccount(lp, "USDC", d(10_000_000_000)))
	_, err = svc.Deposit(lp, lp, types.SideBase, decimal.New(10, 18))
	require.NoError(t, err)
	_, err = svc.Deposit(lp, lp, types.SideQuote, d(10_000_000_000))
	require.NoError(t, err)

	return &testEnv{svc: svc, prices: prices}
}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

// openShort opens the reference short: 5000 USDC notional at 20 USDC
// margin.
func (e *testEnv) openShort(t *testing.T) uint64 {
	t.Helper()
	id, err := e.svc.OpenPosition(trader, true, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.NoError(t, err)
	return id
}

func TestOpenShortEscrowsMarginPremiumAndFee(t *testing.T) {
	env := newTestEngine(t)

	id := env.openShort(t)

	p, err := env.svc.GetPosition(id)
	require.NoError(t, err)
	assert.True(t, p.IsOpen)
	assert.True(t, p.IsShort)
	assert.True(t, decimal.New(5, 18).Equal(p.AmountBorrowed), "borrows the notional in base")
	assert.True(t, d(5_000_000_000).Equal(p.AmountOut), "holds the swapped quote")
	assert.True(t, basisPrice.Equal(p.EntryPrice))
	assert.True(t, d(25_000_000).Equal(p.Premium), "half a percent of size at 100 vol")

	// Trader paid margin + premium + fee.
	ledger := assets.NewLedger(env.svc.db)
	balance, err := ledger.BalanceOf(trader, "USDC")
	require.NoError(t, err)
	assert.True(t, d(1_000_000_000-20_000_000-25_000_000-2_500_000).Equal(balance))

	fund, err := ledger.BalanceOf("insurance-fund", "USDC")
	require.NoError(t, err)
	assert.True(t, d(2_500_000).Equal(fund))

	// The premium is credited to quote LPs at open, never refunded.
	quotePool, err := env.svc.GetPool(types.SideQuote)
	require.NoError(t, err)
	assert.True(t, d(10_025_000_000).Equal(quotePool.TotalDeposits))

	// The borrowed base stays locked while the position is open.
	basePool, err := env.svc.GetPool(types.SideBase)
	require.NoError(t, err)
	assert.True(t, decimal.New(5, 18).Equal(basePool.LockedLiquidity))

	require.NoError(t, env.svc.CheckMath())
}

func TestCloseShortAfterTenPercentDrop(t *testing.T) {
	env := newTestEngine(t)
	id := env.openShort(t)

	env.prices.SetPrice(decimal.New(900, 8))

	settlement, err := env.svc.ClosePosition(id)
	require.NoError(t, err)
	assert.Equal(t, id, settlement.PositionID)
	assert.False(t, settlement.Liquidated)
	assert.True(t, d(500_000_000).Equal(settlement.PnL))
	// Profit is realized through the unwind swap, so the payout carries
	// one truncation unit of dust against the exact mark-to-market PnL.
	assert.True(t, d(519_999_999).Equal(settlement.Payout))

	p, err := env.svc.GetPosition(id)
	require.NoError(t, err)
	assert.False(t, p.IsOpen)
	require.NotNil(t, p.ClosedAt)

	// The pool lock is fully released.
	basePool, err := env.svc.GetPool(types.SideBase)
	require.NoError(t, err)
	assert.True(t, basePool.LockedLiquidity.IsZero())

	require.NoError(t, env.svc.CheckMath())
}

func TestCloseLongAfterTenPercentRally(t *testing.T) {
	env := newTestEngine(t)

	id, err := env.svc.OpenPosition(trader, false, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.NoError(t, err)

	p, err := env.svc.GetPosition(id)
	require.NoError(t, err)
	assert.True(t, d(5_000_000_000).Equal(p.AmountBorrowed), "longs borrow the quote notional")
	assert.True(t, decimal.New(5, 18).Equal(p.AmountOut))

	env.prices.SetPrice(decimal.New(1100, 8))

	settlement, err := env.svc.ClosePosition(id)
	require.NoError(t, err)
	assert.True(t, d(500_000_000).Equal(settlement.PnL))
	// The quote surplus needs no second swap, so the payout is exact.
	assert.True(t, d(520_000_000).Equal(settlement.Payout))

	require.NoError(t, env.svc.CheckMath())
}

func TestCloseShortLossComesFromMarginThenPool(t *testing.T) {
	env := newTestEngine(t)
	id := env.openShort(t)

	// A 0.2% rally wipes out half the margin: repay value rises by 10
	// USDC against 20 USDC of margin.
	env.prices.SetPrice(d(100_200_000_000))

	settlement, err := env.svc.ClosePosition(id)
	require.NoError(t, err)
	assert.True(t, settlement.PnL.Equal(d(-10_000_000)))
	assert.True(t, settlement.Payout.LessThan(d(20_000_000)))
	assert.True(t, settlement.Payout.IsPositive())

	require.NoError(t, env.svc.CheckMath())
}

func TestCloseShortBlowupSocializesIntoPool(t *testing.T) {
	env := newTestEngine(t)
	id := env.openShort(t)

	baseBefore, err := env.svc.GetPool(types.SideBase)
	require.NoError(t, err)

	// A 10% rally: the 500 USDC loss dwarfs the 20 USDC margin.
	env.prices.SetPrice(decimal.New(1100, 8))

	settlement, err := env.svc.ClosePosition(id)
	require.NoError(t, err)
	assert.True(t, settlement.PnL.Equal(d(-500_000_000)))
	assert.True(t, settlement.Payout.IsZero())

	// The pool absorbed the shortfall beyond margin.
	baseAfter, err := env.svc.GetPool(types.SideBase)
	require.NoError(t, err)
	assert.True(t, baseAfter.TotalDeposits.LessThan(baseBefore.TotalDeposits))
	assert.True(t, baseAfter.LockedLiquidity.IsZero())

	require.NoError(t, env.svc.CheckMath())
}

func TestDoubleCloseReturnsInvalidPositionID(t *testing.T) {
	env := newTestEngine(t)
	id := env.openShort(t)

	_, err := env.svc.ClosePosition(id)
	require.NoError(t, err)

	_, err = env.svc.ClosePosition(id)
	require.ErrorIs(t, err, positions.ErrInvalidPositionID)
	assert.EqualError(t, err, "Invalid position ID")
}

func TestOpenValidations(t *testing.T) {
	env := newTestEngine(t)

	t.Run("zero size", func(t *testing.T) {
		_, err := env.svc.OpenPosition(trader, true, decimal.Zero, 1, d(20_000_000), decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidSize)
	})

	t.Run("size above cap regardless of margin", func(t *testing.T) {
		_, err := env.svc.OpenPosition(trader, true, d(10_000_000_001), 1, d(900_000_000), decimal.Zero)
		assert.ErrorIs(t, err, ErrPositionExposureTooHigh)
	})

	t.Run("margin below minimum", func(t *testing.T) {
		_, err := env.svc.OpenPosition(trader, true, d(5_000_000_000), 1, d(4_999_999), decimal.Zero)
		assert.ErrorIs(t, err, ErrMarginTooLow)
	})

	t.Run("margin exactly at minimum succeeds", func(t *testing.T) {
		id, err := env.svc.OpenPosition(trader, true, d(1_000_000_000), 1, d(5_000_000), decimal.Zero)
		require.NoError(t, err)
		_, err = env.svc.ClosePosition(id)
		require.NoError(t, err)
	})

	t.Run("timeframe out of range", func(t *testing.T) {
		_, err := env.svc.OpenPosition(trader, true, d(5_000_000_000), 5, d(20_000_000), decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidTimeframe)

		_, err = env.svc.OpenPosition(trader, true, d(5_000_000_000), -1, d(20_000_000), decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidTimeframe)
	})
}

func TestOpenInterestCap(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.svc.OpenPosition(trader, true, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.NoError(t, err)
	_, err = env.svc.OpenPosition(trader, false, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.NoError(t, err)

	// 10,000 of the 12,000 USDC cap is used; another 5,000 won't fit.
	_, err = env.svc.OpenPosition(trader, true, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	assert.ErrorIs(t, err, ErrOpenInterestTooHigh)

	// Closed positions stop counting toward open interest.
	settled, err := env.svc.ClosePosition(1)
	require.NoError(t, err)
	assert.False(t, settled.Liquidated)
	_, err = env.svc.OpenPosition(trader, true, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.NoError(t, err)
}

func TestSlippageGuard(t *testing.T) {
	env := newTestEngine(t)

	// Shorts reject marks above the limit, longs marks below it.
	_, err := env.svc.OpenPosition(trader, true, d(5_000_000_000), 1, d(20_000_000), decimal.New(999, 8))
	assert.ErrorIs(t, err, ErrSlippageExceeded)

	_, err = env.svc.OpenPosition(trader, false, d(5_000_000_000), 1, d(20_000_000), decimal.New(1001, 8))
	assert.ErrorIs(t, err, ErrSlippageExceeded)

	// A limit exactly at the mark passes both sides.
	id, err := env.svc.OpenPosition(trader, true, d(2_000_000_000), 1, d(20_000_000), basisPrice)
	require.NoError(t, err)
	_, err = env.svc.ClosePosition(id)
	require.NoError(t, err)

	id, err = env.svc.OpenPosition(trader, false, d(2_000_000_000), 1, d(20_000_000), basisPrice)
	require.NoError(t, err)
	_, err = env.svc.ClosePosition(id)
	require.NoError(t, err)
}

func TestLiquidationBoundary(t *testing.T) {
	env := newTestEngine(t)
	id := env.openShort(t)

	// Maintenance for a 5000 USDC short is 2.70 USDC, so equity touches
	// it exactly at 1003.46000000.
	boundary := d(100_346_000_000)

	price, err := env.svc.GetLiquidationPrice(id)
	require.NoError(t, err)
	assert.True(t, boundary.Equal(price))

	env.prices.SetPrice(boundary.Sub(d(1)))
	liquidatable, err := env.svc.IsLiquidatable(id)
	require.NoError(t, err)
	assert.False(t, liquidatable)

	_, err = env.svc.LiquidatePosition(id)
	assert.ErrorIs(t, err, ErrNotLiquidatable)

	env.prices.SetPrice(boundary)
	liquidatable, err = env.svc.IsLiquidatable(id)
	require.NoError(t, err)
	assert.True(t, liquidatable)

	settlement, err := env.svc.LiquidatePosition(id)
	require.NoError(t, err)
	assert.True(t, settlement.Liquidated)
	assert.True(t, settlement.Payout.LessThan(d(20_000_000)))

	require.NoError(t, env.svc.CheckMath())
}

func TestLongLiquidationPrice(t *testing.T) {
	env := newTestEngine(t)

	id, err := env.svc.OpenPosition(trader, false, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.NoError(t, err)

	// entry * (size - margin + maintenance) / size
	price, err := env.svc.GetLiquidationPrice(id)
	require.NoError(t, err)
	assert.True(t, d(99_654_000_000).Equal(price))

	env.prices.SetPrice(price)
	liquidatable, err := env.svc.IsLiquidatable(id)
	require.NoError(t, err)
	assert.True(t, liquidatable)

	// Held value only moves in whole quote units, one per 20 price units
	// at this size.
	env.prices.SetPrice(price.Add(d(20)))
	liquidatable, err = env.svc.IsLiquidatable(id)
	require.NoError(t, err)
	assert.False(t, liquidatable)
}

func TestWithdrawRespectsLockedLiquidity(t *testing.T) {
	env := newTestEngine(t)
	env.openShort(t)

	// Half the base pool backs the short; redeeming everything would dip
	// into the lock.
	_, err := env.svc.Withdraw(lp, types.SideBase, decimal.New(10, 18))
	assert.ErrorIs(t, err, pool.ErrInsufficientLiquidity)

	out, err := env.svc.Withdraw(lp, types.SideBase, decimal.New(5, 18))
	require.NoError(t, err)
	assert.True(t, decimal.New(5, 18).Equal(out))

	require.NoError(t, env.svc.CheckMath())
}

func TestWithdrawCoolingPeriod(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.svc.UpdateConfig(ScalpConfig{
		MaxSize:                 d(10_000_000_000),
		MaxOpenInterest:         d(12_000_000_000),
		MinimumMargin:           d(5_000_000),
		FeeBps:                  d(5_000_000),
		MinimumPremiumThreshold: d(4_000),
		CoolingPeriodSeconds:    3600,
		InsuranceFund:           "insurance-fund",
	})
	require.NoError(t, err)

	require.NoError(t, env.svc.FundAccount("lp-2", "USDC", d(1_000_000)))
	_, err = env.svc.Deposit("lp-2", "lp-2", types.SideQuote, d(1_000_000))
	require.NoError(t, err)

	_, err = env.svc.Withdraw("lp-2", types.SideQuote, d(1_000_000))
	assert.ErrorIs(t, err, pool.ErrCoolingPeriod)
}

func TestLPShareAppreciatesOnTraderLoss(t *testing.T) {
	env := newTestEngine(t)

	id, err := env.svc.OpenPosition(trader, false, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.NoError(t, err)

	// The long loses, margin flows into the quote pool on settle, and
	// the premium was already credited at open.
	env.prices.SetPrice(decimal.New(999, 8))
	_, err = env.svc.ClosePosition(id)
	require.NoError(t, err)

	out, err := env.svc.Withdraw(lp, types.SideQuote, d(10_000_000_000))
	require.NoError(t, err)
	assert.True(t, out.GreaterThan(d(10_000_000_000)))
}

func TestUpdateConfigVersioning(t *testing.T) {
	env := newTestEngine(t)

	installed, err := env.svc.UpdateConfig(ScalpConfig{
		MaxSize:                 d(1_000_000_000),
		MaxOpenInterest:         d(12_000_000_000),
		MinimumMargin:           d(5_000_000),
		FeeBps:                  d(5_000_000),
		MinimumPremiumThreshold: d(4_000),
		CoolingPeriodSeconds:    0,
		InsuranceFund:           "insurance-fund",
	})
	require.NoError(t, err)
	assert.Equal(t, uint(2), installed.ID)

	// The shrunken size cap binds immediately.
	_, err = env.svc.OpenPosition(trader, true, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	assert.ErrorIs(t, err, ErrPositionExposureTooHigh)

	current, err := LoadConfig(env.svc.db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), current.ID)
	assert.True(t, d(1_000_000_000).Equal(current.MaxSize))
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.svc.UpdateConfig(ScalpConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmergencyWithdrawDrainsEscrow(t *testing.T) {
	env := newTestEngine(t)

	require.NoError(t, env.svc.EmergencyWithdraw([]string{"ETH", "USDC"}))

	ledger := assets.NewLedger(env.svc.db)
	escrowBase, err := ledger.BalanceOf(EscrowAccount, "ETH")
	require.NoError(t, err)
	assert.True(t, escrowBase.IsZero())

	ownerBase, err := ledger.BalanceOf(owner, "ETH")
	require.NoError(t, err)
	assert.True(t, decimal.New(10, 18).Equal(ownerBase))

	ownerQuote, err := ledger.BalanceOf(owner, "USDC")
	require.NoError(t, err)
	assert.True(t, d(10_000_000_000).Equal(ownerQuote))
}

func TestCheckMathHoldsAcrossLifecycleMix(t *testing.T) {
	env := newTestEngine(t)

	shortID := env.openShort(t)
	longID, err := env.svc.OpenPosition(trader, false, d(3_000_000_000), 2, d(30_000_000), decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, env.svc.CheckMath())

	env.prices.SetPrice(decimal.New(950, 8))
	require.NoError(t, env.svc.CheckMath())

	_, err = env.svc.ClosePosition(shortID)
	require.NoError(t, err)
	require.NoError(t, env.svc.CheckMath())

	env.prices.SetPrice(decimal.New(1020, 8))
	_, err = env.svc.ClosePosition(longID)
	require.NoError(t, err)
	require.NoError(t, env.svc.CheckMath())
}

func TestPositionsOfOwner(t *testing.T) {
	env := newTestEngine(t)

	first := env.openShort(t)
	second, err := env.svc.OpenPosition(trader, false, d(1_000_000_000), 0, d(10_000_000), decimal.Zero)
	require.NoError(t, err)
	_, err = env.svc.ClosePosition(first)
	require.NoError(t, err)

	list, err := env.svc.PositionsOfOwner(trader)
	require.NoError(t, err)
	require.Len(t, list, 2)

	ids := []uint64{list[0].ID, list[1].ID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)

	_, err = env.svc.PositionsOfOwner("nobody")
	require.NoError(t, err)
}

func TestDepositOnBehalfOfMintsToRecipient(t *testing.T) {
	env := newTestEngine(t)

	require.NoError(t, env.svc.FundAccount("funder", "USDC", d(500_000_000)))
	shares, err := env.svc.Deposit("funder", "beneficiary", types.SideQuote, d(500_000_000))
	require.NoError(t, err)
	assert.True(t, d(500_000_000).Equal(shares))

	out, err := env.svc.Withdraw("beneficiary", types.SideQuote, shares)
	require.NoError(t, err)
	assert.True(t, d(500_000_000).Equal(out))

	// The funder has no claim left to redeem.
	_, err = env.svc.Withdraw("funder", types.SideQuote, d(1))
	assert.ErrorIs(t, err, pool.ErrInsufficientShares)
}

func TestOpenFailsWithoutTraderFunds(t *testing.T) {
	env := newTestEngine(t)

	_, err := env.svc.OpenPosition("pauper", true, d(5_000_000_000), 1, d(20_000_000), decimal.Zero)
	require.ErrorIs(t, err, assets.ErrInsufficientBalance)

	// The failed open left no partial state behind.
	basePool, err := env.svc.GetPool(types.SideBase)
	require.NoError(t, err)
	assert.True(t, basePool.LockedLiquidity.IsZero())
	require.NoError(t, env.svc.CheckMath())
}
