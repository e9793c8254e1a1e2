package oracle

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ksred/scalp-api/internal/types"
	"github.com/ksred/scalp-api/pkg/response"
)

// GinHandlers exposes the mock oracle controls used by development and
// simulation environments to drive price movement.
type GinHandlers struct {
	prices  *MockPriceOracle
	swapper *MockSwapper
}

func NewGinHandlers(prices *MockPriceOracle, swapper *MockSwapper) *GinHandlers {
	return &GinHandlers{prices: prices, swapper: swapper}
}

// SetMarkPriceHandler handles POST requests updating the mock mark price.
func (h *GinHandlers) SetMarkPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.SetMarkPriceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if !req.Price.IsPositive() {
			response.BadRequest(c, "price must be positive")
			return
		}

		h.prices.SetPrice(req.Price)
		log.Info().Str("price", req.Price.String()).Msg("mock mark price updated")

		response.Success(c, gin.H{"price": req.Price})
	}
}

// SetTickHandler handles POST requests updating the mock venue tick.
func (h *GinHandlers) SetTickHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Tick int32 `json:"tick"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		h.swapper.SetTick(req.Tick)
		log.Info().Int32("tick", req.Tick).Msg("mock venue tick updated")

		response.Success(c, gin.H{"tick": req.Tick})
	}
}
