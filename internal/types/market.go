package types

// Side identifies one of the two pooled assets backing a market.
type Side string

const (
	SideBase  Side = "base"
	SideQuote Side = "quote"
)

// Valid reports whether s names a real pool side.
func (s Side) Valid() bool {
	return s == SideBase || s == SideQuote
}

// Opposite returns the other pool side.
func (s Side) Opposite() Side {
	if s == SideBase {
		return SideQuote
	}
	return SideBase
}

// AssetPair describes the traded market: a base and a quote asset, each
// with its own on-ledger decimal precision.
type AssetPair struct {
	Name          string `json:"name"`
	BaseSymbol    string `json:"base_symbol"`
	QuoteSymbol   string `json:"quote_symbol"`
	BaseDecimals  int32  `json:"base_decimals"`
	QuoteDecimals int32  `json:"quote_decimals"`
}

// SymbolFor returns the asset symbol of the given pool side.
func (p AssetPair) SymbolFor(side Side) string {
	if side == SideBase {
		return p.BaseSymbol
	}
	return p.QuoteSymbol
}

// DecimalsFor returns the decimal precision of the given pool side.
func (p AssetPair) DecimalsFor(side Side) int32 {
	if side == SideBase {
		return p.BaseDecimals
	}
	return p.QuoteDecimals
}
