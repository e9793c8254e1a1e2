package engine

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/auth"
	"github.com/ksred/scalp-api/internal/oracle"
	"github.com/ksred/scalp-api/internal/pool"
	"github.com/ksred/scalp-api/internal/positions"
	"github.com/ksred/scalp-api/internal/types"
	"github.com/ksred/scalp-api/pkg/response"
)

// GinHandlers contains the HTTP handlers for the pool and position
// surfaces plus the owner-gated admin endpoints.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// respondError translates service sentinels into the standard envelope.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, positions.ErrInvalidPositionID):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotLiquidatable),
		errors.Is(err, pool.ErrCoolingPeriod):
		response.Conflict(c, err.Error())
	case errors.Is(err, oracle.ErrOracleUnavailable):
		response.InternalError(c, err.Error())
	case errors.Is(err, ErrPositionExposureTooHigh),
		errors.Is(err, ErrOpenInterestTooHigh),
		errors.Is(err, ErrMarginTooLow),
		errors.Is(err, ErrSlippageExceeded),
		errors.Is(err, ErrInvalidTimeframe),
		errors.Is(err, ErrInvalidSize),
		errors.Is(err, ErrInvalidConfig),
		errors.Is(err, assets.ErrInsufficientBalance),
		errors.Is(err, assets.ErrInvalidAmount),
		errors.Is(err, pool.ErrInsufficientLiquidity),
		errors.Is(err, pool.ErrInsufficientShares),
		errors.Is(err, pool.ErrInvalidSide),
		errors.Is(err, pool.ErrInvalidAmount):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}

// parseAmount parses a raw smallest-unit amount from its string form.
func parseAmount(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// callerID pulls the authenticated client ID out of the request context.
func callerID(c *gin.Context) (string, bool) {
	claims, exists := c.Get("claims")
	if !exists {
		response.Unauthorized(c, "Missing authentication claims")
		return "", false
	}
	clientID := auth.GetClientID(claims)
	if clientID == "" {
		response.Unauthorized(c, "Invalid client ID in token")
		return "", false
	}
	return clientID, true
}

// positionID parses the :id URL parameter.
func positionID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.BadRequest(c, "Invalid position ID")
		return 0, false
	}
	return id, true
}

// DepositHandler handles POST requests funding one side of the pool.
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		var req types.DepositRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		// Tokens always leave the caller; only share ownership can be
		// assigned elsewhere.
		recipient := caller
		if req.OnBehalfOf != "" {
			recipient = req.OnBehalfOf
		}

		shares, err := h.service.Deposit(caller, recipient, req.Side, req.Amount)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"shares": shares})
	}
}

// WithdrawHandler handles POST requests redeeming LP shares.
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		var req types.WithdrawRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		amountOut, err := h.service.Withdraw(caller, req.Side, req.ShareAmount)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"amount_out": amountOut})
	}
}

// PoolHandler handles GET requests for one side's pool state.
func (h *GinHandlers) PoolHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		side := types.Side(c.Param("side"))
		p, err := h.service.GetPool(side)
		if err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, types.PoolResponse{
			Side:            p.Side,
			TotalDeposits:   p.TotalDeposits,
			TotalShares:     p.TotalShares,
			LockedLiquidity: p.LockedLiquidity,
		})
	}
}

// OpenPositionHandler handles POST requests opening a scalp position.
func (h *GinHandlers) OpenPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		var req types.OpenPositionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		id, err := h.service.OpenPosition(caller, req.IsShort, req.Size, req.Timeframe, req.Margin, req.LimitPrice)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"position_id": id})
	}
}

// ClosePositionHandler handles POST requests closing a position. Any
// authenticated client may close any open position.
func (h *GinHandlers) ClosePositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := positionID(c)
		if !ok {
			return
		}

		settlement, err := h.service.ClosePosition(id)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, types.SettlementResponse{
			PositionID: settlement.PositionID,
			Payout:     settlement.Payout,
			PnL:        settlement.PnL,
			Liquidated: settlement.Liquidated,
		})
	}
}

// LiquidatePositionHandler handles POST requests liquidating a position
// whose maintenance condition holds.
func (h *GinHandlers) LiquidatePositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := positionID(c)
		if !ok {
			return
		}

		settlement, err := h.service.LiquidatePosition(id)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, types.SettlementResponse{
			PositionID: settlement.PositionID,
			Payout:     settlement.Payout,
			PnL:        settlement.PnL,
			Liquidated: settlement.Liquidated,
		})
	}
}

// GetPositionHandler handles GET requests for a single position record.
func (h *GinHandlers) GetPositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := positionID(c)
		if !ok {
			return
		}
		p, err := h.service.GetPosition(id)
		if err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, p.ToResponse())
	}
}

// ListPositionsHandler handles GET requests for the caller's positions.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		owned, err := h.service.PositionsOfOwner(caller)
		if err != nil {
			respondError(c, err)
			return
		}
		views := make([]types.PositionResponse, 0, len(owned))
		for i := range owned {
			views = append(views, owned[i].ToResponse())
		}
		response.Success(c, views)
	}
}

// LiquidationPriceHandler handles GET requests for a position's
// liquidation price.
func (h *GinHandlers) LiquidationPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := positionID(c)
		if !ok {
			return
		}
		price, err := h.service.GetLiquidationPrice(id)
		if err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, gin.H{"liquidation_price": price})
	}
}

// LiquidatableHandler handles GET requests probing the liquidation
// condition.
func (h *GinHandlers) LiquidatableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := positionID(c)
		if !ok {
			return
		}
		liquidatable, err := h.service.IsLiquidatable(id)
		if err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, gin.H{"liquidatable": liquidatable})
	}
}

// UpdateConfigHandler handles owner-only POST requests replacing the
// whole scalp configuration record.
func (h *GinHandlers) UpdateConfigHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg ScalpConfig
		if err := c.ShouldBindJSON(&cfg); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		installed, err := h.service.UpdateConfig(cfg)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, installed)
	}
}

// EmergencyWithdrawHandler handles owner-only POST requests draining
// escrowed assets to the owner account.
func (h *GinHandlers) EmergencyWithdrawHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.EmergencyWithdrawRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.EmergencyWithdraw(req.Assets); err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"drained": req.Assets})
	}
}

// CheckMathHandler handles owner-only GET requests probing the
// accounting-closure invariant.
func (h *GinHandlers) CheckMathHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.service.CheckMath(); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"balanced": true})
	}
}

// FundAccountHandler handles owner-only POST requests crediting test
// funds to an account.
func (h *GinHandlers) FundAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Account string `json:"account" binding:"required"`
			Asset   string `json:"asset" binding:"required"`
			Amount  string `json:"amount" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		amount, err := parseAmount(req.Amount)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.FundAccount(req.Account, req.Asset, amount); err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"account": req.Account, "asset": req.Asset, "amount": amount})
	}
}
