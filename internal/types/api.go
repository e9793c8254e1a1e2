package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DepositRequest funds one side of the liquidity pool. OnBehalfOf lets a
// caller credit shares to another account; empty means the caller itself.
type DepositRequest struct {
	Side       Side            `json:"side" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	OnBehalfOf string          `json:"on_behalf_of"`
}

// WithdrawRequest redeems LP shares from one side of the pool.
type WithdrawRequest struct {
	Side        Side            `json:"side" binding:"required"`
	ShareAmount decimal.Decimal `json:"share_amount" binding:"required"`
}

// OpenPositionRequest opens a leveraged scalp position. LimitPrice of zero
// disables the slippage guard; Timeframe selects the premium pricing window.
type OpenPositionRequest struct {
	IsShort    bool            `json:"is_short"`
	Size       decimal.Decimal `json:"size" binding:"required"`
	Timeframe  int             `json:"timeframe"`
	Margin     decimal.Decimal `json:"margin" binding:"required"`
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// PositionResponse is the API view of a position record.
type PositionResponse struct {
	ID             uint64          `json:"id"`
	Owner          string          `json:"owner"`
	IsOpen         bool            `json:"is_open"`
	IsShort        bool            `json:"is_short"`
	Size           decimal.Decimal `json:"size"`
	AmountBorrowed decimal.Decimal `json:"amount_borrowed"`
	AmountOut      decimal.Decimal `json:"amount_out"`
	EntryPrice     decimal.Decimal `json:"entry_price"`
	Margin         decimal.Decimal `json:"margin"`
	Premium        decimal.Decimal `json:"premium"`
	Timeframe      int             `json:"timeframe"`
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
}

// SettlementResponse reports the outcome of a close or liquidation.
type SettlementResponse struct {
	PositionID uint64          `json:"position_id"`
	Payout     decimal.Decimal `json:"payout"`
	PnL        decimal.Decimal `json:"pnl"`
	Liquidated bool            `json:"liquidated"`
}

// PoolResponse is the API view of one side of the liquidity pool.
type PoolResponse struct {
	Side            Side            `json:"side"`
	TotalDeposits   decimal.Decimal `json:"total_deposits"`
	TotalShares     decimal.Decimal `json:"total_shares"`
	LockedLiquidity decimal.Decimal `json:"locked_liquidity"`
}

// CreateOpenOrderRequest places a conditional open order filled by keepers
// once the venue tick enters [TickLow, TickHigh].
type CreateOpenOrderRequest struct {
	Target    string          `json:"target" binding:"required"`
	IsShort   bool            `json:"is_short"`
	Size      decimal.Decimal `json:"size" binding:"required"`
	Timeframe int             `json:"timeframe"`
	Margin    decimal.Decimal `json:"margin" binding:"required"`
	TickLow   int32           `json:"tick_low"`
	TickHigh  int32           `json:"tick_high"`
	TTL       int64           `json:"ttl_seconds"`
}

// CreateCloseOrderRequest places a conditional close order on an open
// position.
type CreateCloseOrderRequest struct {
	Target     string `json:"target" binding:"required"`
	PositionID uint64 `json:"position_id" binding:"required"`
	TickLow    int32  `json:"tick_low"`
	TickHigh   int32  `json:"tick_high"`
}

// EmergencyWithdrawRequest drains named assets from the engine escrow to
// the owner account. Circuit breaker only.
type EmergencyWithdrawRequest struct {
	Assets []string `json:"assets" binding:"required"`
}

// RegisterEnginesRequest allowlists lifecycle engines for order routing.
type RegisterEnginesRequest struct {
	Targets []string `json:"targets" binding:"required"`
}

// SetMarkPriceRequest drives the mock price oracle in development and
// simulation environments.
type SetMarkPriceRequest struct {
	Price decimal.Decimal `json:"price" binding:"required"`
}
