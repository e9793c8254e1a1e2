package orders

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/auth"
	"github.com/ksred/scalp-api/internal/positions"
	"github.com/ksred/scalp-api/internal/types"
	"github.com/ksred/scalp-api/pkg/response"
)

// GinHandlers contains the HTTP handlers for the limit-order surface.
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidOrderID),
		errors.Is(err, positions.ErrInvalidPositionID):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotFilledAsExpected),
		errors.Is(err, ErrOrderExpired):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrNotOrderOwner):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrUnknownTarget),
		errors.Is(err, ErrInvalidTickRange),
		errors.Is(err, ErrInvalidExpiry),
		errors.Is(err, assets.ErrInsufficientBalance):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}

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

func orderID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "Invalid order ID")
		return 0, false
	}
	return uint(id), true
}

// CreateOpenOrderHandler handles POST requests placing conditional open
// orders.
func (h *GinHandlers) CreateOpenOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		var req types.CreateOpenOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOpenOrder(caller, req.Target, req.IsShort, req.Size, req.Timeframe, req.Margin, req.TickLow, req.TickHigh, time.Duration(req.TTL)*time.Second)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"order_id": order.ID, "order": order})
	}
}

// CreateCloseOrderHandler handles POST requests placing conditional
// close orders.
func (h *GinHandlers) CreateCloseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		var req types.CreateCloseOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateCloseOrder(caller, req.Target, req.PositionID, req.TickLow, req.TickHigh)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"order_id": order.ID, "order": order})
	}
}

// FillOpenOrderHandler handles keeper POST requests filling an open
// order.
func (h *GinHandlers) FillOpenOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderID(c)
		if !ok {
			return
		}

		positionID, err := h.service.FillOpenOrder(id)
		if err != nil {
			respondError(c, err)
			return
		}

		response.Success(c, gin.H{"position_id": positionID})
	}
}

// FillCloseOrderHandler handles keeper POST requests filling a close
// order.
func (h *GinHandlers) FillCloseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderID(c)
		if !ok {
			return
		}

		settlement, err := h.service.FillCloseOrder(id)
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

// OpenOrderFillableHandler handles GET dry-run probes on open orders.
func (h *GinHandlers) OpenOrderFillableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderID(c)
		if !ok {
			return
		}
		if err := h.service.WouldFillOpenOrder(id); err != nil {
			response.Success(c, gin.H{"fillable": false, "reason": err.Error()})
			return
		}
		response.Success(c, gin.H{"fillable": true})
	}
}

// CloseOrderFillableHandler handles GET dry-run probes on close orders.
func (h *GinHandlers) CloseOrderFillableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := orderID(c)
		if !ok {
			return
		}
		if err := h.service.WouldFillCloseOrder(id); err != nil {
			response.Success(c, gin.H{"fillable": false, "reason": err.Error()})
			return
		}
		response.Success(c, gin.H{"fillable": true})
	}
}

// CancelOpenOrderHandler handles POST requests withdrawing an open
// order.
func (h *GinHandlers) CancelOpenOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		id, ok := orderID(c)
		if !ok {
			return
		}

		if err := h.service.CancelOpenOrder(caller, id); err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, gin.H{"cancelled": id})
	}
}

// CancelCloseOrderHandler handles POST requests withdrawing a close
// order.
func (h *GinHandlers) CancelCloseOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		id, ok := orderID(c)
		if !ok {
			return
		}

		if err := h.service.CancelCloseOrder(caller, id); err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, gin.H{"cancelled": id})
	}
}

// RegisterEnginesHandler handles owner-only POST requests allowlisting
// routing targets.
func (h *GinHandlers) RegisterEnginesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.RegisterEnginesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		if err := h.service.RegisterTargets(req.Targets); err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, gin.H{"targets": req.Targets})
	}
}
