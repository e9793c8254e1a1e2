// Package fixedpoint implements the deterministic integer arithmetic used
// for all money amounts in the system. Amounts are integer-valued decimals
// denominated in an asset's smallest unit; every division truncates toward
// zero so results never depend on rounding mode or platform.
package fixedpoint

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Amount is an integer-valued quantity in an asset's smallest unit.
// Amounts are always non-negative; signed quantities such as PnL are
// carried as a magnitude plus an explicit credit/debit direction.
type Amount = decimal.Decimal

var (
	ErrDivisionByZero = errors.New("division by zero")
	ErrNegativeAmount = errors.New("negative amount")
)

// InternalDecimals is the precision all cross-asset math is normalized to.
const InternalDecimals = 18

var (
	// PriceScale is the scale of oracle mark prices: 8 decimals, quote per base.
	PriceScale = decimal.New(1, 8)

	// UsdDivisor is the scale of USD-denominated config thresholds.
	UsdDivisor = decimal.New(1, 8)

	// BpsDivisor is the scale of fee-rate config values: 5_000_000 = 0.05%.
	BpsDivisor = decimal.New(1, 10)

	Zero = decimal.Zero
)

// FromInt64 builds an Amount from a raw smallest-unit integer.
func FromInt64(v int64) Amount {
	return decimal.NewFromInt(v)
}

// MulDiv computes a*b/c with a full-precision intermediate product and the
// quotient truncated toward zero.
func MulDiv(a, b, c Amount) (Amount, error) {
	if c.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q, nil
}

// pow10 returns 10^n as a decimal for non-negative n.
func pow10(n int32) decimal.Decimal {
	return decimal.New(1, n)
}

// ScaleToInternal rebases an amount from fromDecimals to the internal
// 18-decimal precision.
func ScaleToInternal(amount Amount, fromDecimals int32) Amount {
	if fromDecimals >= InternalDecimals {
		q, _ := amount.QuoRem(pow10(fromDecimals-InternalDecimals), 0)
		return q
	}
	return amount.Mul(pow10(InternalDecimals - fromDecimals))
}

// ScaleFromInternal rebases an internal-precision amount down to
// toDecimals, truncating toward zero.
func ScaleFromInternal(amount Amount, toDecimals int32) Amount {
	if toDecimals >= InternalDecimals {
		return amount.Mul(pow10(toDecimals - InternalDecimals))
	}
	q, _ := amount.QuoRem(pow10(InternalDecimals-toDecimals), 0)
	return q
}

// BaseToQuote converts a base-asset amount to quote units at the given
// 8-decimal mark price.
func BaseToQuote(amountBase, price Amount, baseDecimals, quoteDecimals int32) (Amount, error) {
	if price.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	divisor := PriceScale.Mul(pow10(baseDecimals - quoteDecimals))
	return MulDiv(amountBase, price, divisor)
}

// QuoteToBase converts a quote-asset amount to base units at the given
// 8-decimal mark price.
func QuoteToBase(amountQuote, price Amount, baseDecimals, quoteDecimals int32) (Amount, error) {
	multiplier := PriceScale.Mul(pow10(baseDecimals - quoteDecimals))
	return MulDiv(amountQuote, multiplier, price)
}
