// Package oracle wraps the external collaborators the lifecycle engine
// prices against: the mark-price and volatility oracles, the option
// pricing model, and the swap venue used to source and return borrowed
// notional. Each query is a fresh synchronous read; a failed read aborts
// the whole enclosing transaction.
package oracle

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/types"
)

var ErrOracleUnavailable = errors.New("oracle unavailable")

// PriceOracle reports the current mark price in quote-per-base at
// 8-decimal scale.
type PriceOracle interface {
	MarkPrice(pair types.AssetPair) (decimal.Decimal, error)
}

// VolatilityOracle reports the current implied volatility for the pair.
type VolatilityOracle interface {
	Volatility(pair types.AssetPair) (decimal.Decimal, error)
}

// OptionPricer prices the upfront premium of a scalp position.
type OptionPricer interface {
	Premium(strikeDistance, timeToExpirySeconds, volatility, size decimal.Decimal) (decimal.Decimal, error)
}

// Swapper is the swap venue boundary. Swaps execute against the asset
// ledger inside the caller's transaction, mirroring a synchronous
// sub-call into an external venue: a failure aborts the caller.
type Swapper interface {
	// SwapExactIn sells amountIn of tokenIn held by account for tokenOut,
	// returning the amount received. Fails if the proceeds fall below
	// minOut.
	SwapExactIn(tx *gorm.DB, account, tokenIn, tokenOut string, amountIn, minOut decimal.Decimal) (decimal.Decimal, error)

	// CurrentTick reports the venue's current price tick, used to verify
	// limit-order trigger conditions independently of the caller.
	CurrentTick(pair types.AssetPair) (int32, error)
}

// Gateway bundles the three pricing queries behind one stable contract.
// It performs no caching.
type Gateway struct {
	prices     PriceOracle
	volatility VolatilityOracle
	pricer     OptionPricer
}

func NewGateway(prices PriceOracle, volatility VolatilityOracle, pricer OptionPricer) *Gateway {
	return &Gateway{
		prices:     prices,
		volatility: volatility,
		pricer:     pricer,
	}
}

// MarkPrice returns the current 8-decimal mark price for the pair.
func (g *Gateway) MarkPrice(pair types.AssetPair) (decimal.Decimal, error) {
	price, err := g.prices.MarkPrice(pair)
	if err != nil {
		return decimal.Zero, errors.Join(ErrOracleUnavailable, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, ErrOracleUnavailable
	}
	return price, nil
}

// Volatility returns the current implied volatility for the pair.
func (g *Gateway) Volatility(pair types.AssetPair) (decimal.Decimal, error) {
	vol, err := g.volatility.Volatility(pair)
	if err != nil {
		return decimal.Zero, errors.Join(ErrOracleUnavailable, err)
	}
	if !vol.IsPositive() {
		return decimal.Zero, ErrOracleUnavailable
	}
	return vol, nil
}

// Premium prices the upfront charge for a position of the given size.
func (g *Gateway) Premium(strikeDistance, timeToExpirySeconds, volatility, size decimal.Decimal) (decimal.Decimal, error) {
	premium, err := g.pricer.Premium(strikeDistance, timeToExpirySeconds, volatility, size)
	if err != nil {
		return decimal.Zero, errors.Join(ErrOracleUnavailable, err)
	}
	if premium.IsNegative() {
		return decimal.Zero, ErrOracleUnavailable
	}
	return premium, nil
}
