package fixedpoint

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// d is a test helper for building amounts from raw integer strings.
func d(s string) Amount {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a, b, c Amount
		want    Amount
	}{
		{"exact", d("10"), d("6"), d("3"), d("20")},
		{"truncates toward zero", d("10"), d("10"), d("3"), d("33")},
		{"full precision intermediate", d("5000000000"), d("100000000000000000000"), d("100000000000"), d("5000000000000000000")},
		{"zero numerator", d("0"), d("123"), d("7"), d("0")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MulDiv(tt.a, tt.b, tt.c)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestMulDivByZero(t *testing.T) {
	_, err := MulDiv(d("1"), d("1"), d("0"))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestScaleRoundTrip(t *testing.T) {
	// 5000 USDC in 6-decimal units up to internal precision and back.
	amount := d("5000000000")
	internal := ScaleToInternal(amount, 6)
	assert.True(t, d("5000000000000000000000").Equal(internal))
	assert.True(t, amount.Equal(ScaleFromInternal(internal, 6)))
}

func TestScaleFromInternalTruncates(t *testing.T) {
	// 1.9 quote-micro-units of dust disappears on the way down.
	internal := d("1900000000000")
	assert.True(t, d("1").Equal(ScaleFromInternal(internal, 6)))
}

func TestBaseQuoteConversion(t *testing.T) {
	// $1000 mark price at 8 decimals, 18-decimal base, 6-decimal quote.
	price := d("100000000000")

	// $5000 of quote buys 5 base units.
	base, err := QuoteToBase(d("5000000000"), price, 18, 6)
	require.NoError(t, err)
	assert.True(t, d("5000000000000000000").Equal(base))

	// And 5 base units are worth $5000 of quote.
	quote, err := BaseToQuote(base, price, 18, 6)
	require.NoError(t, err)
	assert.True(t, d("5000000000").Equal(quote))
}

func TestBaseToQuoteZeroPrice(t *testing.T) {
	_, err := BaseToQuote(d("1"), d("0"), 18, 6)
	assert.ErrorIs(t, err, ErrDivisionByZero)

	_, err = QuoteToBase(d("1"), d("0"), 18, 6)
	assert.ErrorIs(t, err, ErrDivisionByZero)
}
