package orders

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OpenOrder is a conditional position-open request: once the venue tick
// is inside [TickLow, TickHigh] any keeper may fill it. One-shot: filling
// or cancelling deactivates it permanently.
type OpenOrder struct {
	gorm.Model `json:"-"`
	OrderRef   string          `gorm:"uniqueIndex" json:"order_ref"`
	Trader     string          `gorm:"index" json:"trader"`
	Target     string          `json:"target"`
	IsShort    bool            `json:"is_short"`
	Size       decimal.Decimal `gorm:"type:text" json:"size"`
	Timeframe  int             `json:"timeframe"`
	Margin     decimal.Decimal `gorm:"type:text" json:"margin"`
	TickLow    int32           `json:"tick_low"`
	TickHigh   int32           `json:"tick_high"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Active     bool            `gorm:"index" json:"active"`
	PositionID uint64          `json:"position_id,omitempty"` // set on fill
}

// CloseOrder is a conditional close request on an open position.
type CloseOrder struct {
	gorm.Model `json:"-"`
	OrderRef   string `gorm:"uniqueIndex" json:"order_ref"`
	Trader     string `gorm:"index" json:"trader"`
	Target     string `json:"target"`
	PositionID uint64 `json:"position_id"`
	TickLow    int32  `json:"tick_low"`
	TickHigh   int32  `json:"tick_high"`
	Active     bool   `gorm:"index" json:"active"`
}

// ScalpEngine is an allowlisted lifecycle-engine target orders may route
// to. Registration is owner-only.
type ScalpEngine struct {
	gorm.Model `json:"-"`
	Target     string `gorm:"uniqueIndex" json:"target"`
	Active     bool   `json:"active"`
}

// tickInRange reports whether the venue tick satisfies the order's
// trigger condition.
func tickInRange(tick, low, high int32) bool {
	return tick >= low && tick <= high
}
