package oracle

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/fixedpoint"
	"github.com/ksred/scalp-api/internal/types"
)

// MockPriceOracle is a settable mark-price source used by the development
// server and the test suite.
type MockPriceOracle struct {
	mu    sync.RWMutex
	price decimal.Decimal
}

func NewMockPriceOracle(initial decimal.Decimal) *MockPriceOracle {
	return &MockPriceOracle{price: initial}
}

func (o *MockPriceOracle) MarkPrice(_ types.AssetPair) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.price, nil
}

// SetPrice updates the reported mark price.
func (o *MockPriceOracle) SetPrice(price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = price
}

// MockVolatilityOracle reports a settable implied volatility.
type MockVolatilityOracle struct {
	mu         sync.RWMutex
	volatility decimal.Decimal
}

func NewMockVolatilityOracle(initial decimal.Decimal) *MockVolatilityOracle {
	return &MockVolatilityOracle{volatility: initial}
}

func (o *MockVolatilityOracle) Volatility(_ types.AssetPair) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.volatility, nil
}

func (o *MockVolatilityOracle) SetVolatility(volatility decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volatility = volatility
}

// MockOptionPricer charges a flat rate of size, scaled by volatility
// relative to a 100% baseline. With the default rate a $5000 position at
// 100 vol pays a $25 premium.
type MockOptionPricer struct {
	Rate decimal.Decimal // 1e10 divisor, like fee config values
}

var defaultVolBaseline = decimal.NewFromInt(100)

func NewMockOptionPricer() *MockOptionPricer {
	return &MockOptionPricer{Rate: decimal.NewFromInt(50000000)} // 0.5%
}

func (p *MockOptionPricer) Premium(_, _, volatility, size decimal.Decimal) (decimal.Decimal, error) {
	divisor := fixedpoint.BpsDivisor.Mul(defaultVolBaseline)
	return fixedpoint.MulDiv(size.Mul(volatility), p.Rate, divisor)
}

// MockSwapper executes swaps exactly at the oracle mark price against the
// asset ledger, inside the caller's transaction. The reported tick is
// settable independently so limit-order trigger conditions can be driven
// in tests and simulations.
type MockSwapper struct {
	mu     sync.RWMutex
	tick   int32
	prices PriceOracle
	ledger *assets.Ledger
	pair   types.AssetPair
}

func NewMockSwapper(prices PriceOracle, ledger *assets.Ledger, pair types.AssetPair) *MockSwapper {
	return &MockSwapper{prices: prices, ledger: ledger, pair: pair}
}

func (s *MockSwapper) SwapExactIn(tx *gorm.DB, account, tokenIn, tokenOut string, amountIn, minOut decimal.Decimal) (decimal.Decimal, error) {
	if amountIn.IsZero() {
		return decimal.Zero, nil
	}

	price, err := s.prices.MarkPrice(s.pair)
	if err != nil {
		return decimal.Zero, err
	}

	var amountOut decimal.Decimal
	switch {
	case tokenIn == s.pair.BaseSymbol && tokenOut == s.pair.QuoteSymbol:
		amountOut, err = fixedpoint.BaseToQuote(amountIn, price, s.pair.BaseDecimals, s.pair.QuoteDecimals)
	case tokenIn == s.pair.QuoteSymbol && tokenOut == s.pair.BaseSymbol:
		amountOut, err = fixedpoint.QuoteToBase(amountIn, price, s.pair.BaseDecimals, s.pair.QuoteDecimals)
	default:
		return decimal.Zero, fmt.Errorf("unsupported swap %s -> %s", tokenIn, tokenOut)
	}
	if err != nil {
		return decimal.Zero, err
	}

	if amountOut.LessThan(minOut) {
		return decimal.Zero, fmt.Errorf("swap output %s below minimum %s", amountOut, minOut)
	}

	ledger := s.ledger.WithTx(tx)
	if err := ledger.Debit(account, tokenIn, amountIn); err != nil {
		return decimal.Zero, err
	}
	if err := ledger.Credit(account, tokenOut, amountOut); err != nil {
		return decimal.Zero, err
	}

	return amountOut, nil
}

func (s *MockSwapper) CurrentTick(_ types.AssetPair) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick, nil
}

// SetTick moves the venue's reported tick.
func (s *MockSwapper) SetTick(tick int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick = tick
}
