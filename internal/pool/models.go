package pool

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/types"
)

// Pool is one side's pooled liquidity. TotalDeposits moves with realized
// trader PnL, so the share price floats for every LP: that is the
// socialized-risk model, not an accounting bug.
type Pool struct {
	gorm.Model      `json:"-"`
	Side            types.Side      `gorm:"uniqueIndex" json:"side"`
	TotalDeposits   decimal.Decimal `gorm:"type:text" json:"total_deposits"`
	TotalShares     decimal.Decimal `gorm:"type:text" json:"total_shares"`
	LockedLiquidity decimal.Decimal `gorm:"type:text" json:"locked_liquidity"`
}

// Available is the liquidity not currently borrowed against.
func (p *Pool) Available() decimal.Decimal {
	return p.TotalDeposits.Sub(p.LockedLiquidity)
}

// ShareBalance is one depositor's LP share holding on one side, with the
// deposit timestamp the cooling-off rule is enforced against.
type ShareBalance struct {
	gorm.Model    `json:"-"`
	Side          types.Side      `gorm:"uniqueIndex:idx_side_depositor" json:"side"`
	Depositor     string          `gorm:"uniqueIndex:idx_side_depositor" json:"depositor"`
	Shares        decimal.Decimal `gorm:"type:text" json:"shares"`
	LastDepositAt time.Time       `json:"last_deposit_at"`
}
