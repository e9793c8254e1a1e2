// Package pool implements the two single-asset liquidity pools backing
// the scalp engine. The pool is pure share/lock accounting; moving the
// underlying tokens between accounts is the enclosing transaction's job.
package pool

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/fixedpoint"
	"github.com/ksred/scalp-api/internal/types"
)

var (
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrCoolingPeriod         = errors.New("cooling period not elapsed")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrInvalidSide           = errors.New("invalid pool side")
	ErrInvalidAmount         = errors.New("amount must be positive")
)

// Database wraps the pool tables. Mutating methods expect to run inside
// the caller's transaction.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// WithTx returns a view bound to an open transaction.
func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

// EnsurePools creates the two pool rows if they do not exist yet.
func EnsurePools(db *gorm.DB) error {
	for _, side := range []types.Side{types.SideBase, types.SideQuote} {
		var existing Pool
		err := db.Where("side = ?", side).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p := Pool{
				Side:            side,
				TotalDeposits:   decimal.Zero,
				TotalShares:     decimal.Zero,
				LockedLiquidity: decimal.Zero,
			}
			if err := db.Create(&p).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Get returns one side's pool.
func (d *Database) Get(side types.Side) (*Pool, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	var p Pool
	if err := d.db.Where("side = ?", side).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// SharesOf returns a depositor's share balance on one side, zero if none.
func (d *Database) SharesOf(depositor string, side types.Side) (*ShareBalance, error) {
	var sb ShareBalance
	err := d.db.Where("side = ? AND depositor = ?", side, depositor).First(&sb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ShareBalance{Side: side, Depositor: depositor, Shares: decimal.Zero}, nil
	}
	if err != nil {
		return nil, err
	}
	return &sb, nil
}

// Mint records a deposit: shares are minted pro rata against the current
// share price, 1:1 when the pool is empty. Returns the shares minted.
func (d *Database) Mint(depositor string, side types.Side, amount decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	p, err := d.Get(side)
	if err != nil {
		return decimal.Zero, err
	}

	shares := amount
	if p.TotalShares.IsPositive() {
		shares, err = fixedpoint.MulDiv(amount, p.TotalShares, p.TotalDeposits)
		if err != nil {
			return decimal.Zero, err
		}
	}

	p.TotalDeposits = p.TotalDeposits.Add(amount)
	p.TotalShares = p.TotalShares.Add(shares)
	if err := d.db.Save(p).Error; err != nil {
		return decimal.Zero, err
	}

	sb, err := d.SharesOf(depositor, side)
	if err != nil {
		return decimal.Zero, err
	}
	sb.Shares = sb.Shares.Add(shares)
	sb.LastDepositAt = now
	if err := d.db.Save(sb).Error; err != nil {
		return decimal.Zero, err
	}

	return shares, nil
}

// Burn redeems shareAmount of a depositor's shares and returns the payout
// owed. Fails while the depositor's cooling-off window is open, and
// whenever the payout would dip into locked liquidity.
func (d *Database) Burn(depositor string, side types.Side, shareAmount decimal.Decimal, coolingPeriod time.Duration, now time.Time) (decimal.Decimal, error) {
	if !shareAmount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	sb, err := d.SharesOf(depositor, side)
	if err != nil {
		return decimal.Zero, err
	}
	if sb.Shares.LessThan(shareAmount) {
		return decimal.Zero, ErrInsufficientShares
	}
	if coolingPeriod > 0 && now.Sub(sb.LastDepositAt) < coolingPeriod {
		return decimal.Zero, ErrCoolingPeriod
	}

	p, err := d.Get(side)
	if err != nil {
		return decimal.Zero, err
	}

	amountOut, err := fixedpoint.MulDiv(shareAmount, p.TotalDeposits, p.TotalShares)
	if err != nil {
		return decimal.Zero, err
	}
	if amountOut.GreaterThan(p.Available()) {
		return decimal.Zero, ErrInsufficientLiquidity
	}

	p.TotalDeposits = p.TotalDeposits.Sub(amountOut)
	p.TotalShares = p.TotalShares.Sub(shareAmount)
	if err := d.db.Save(p).Error; err != nil {
		return decimal.Zero, err
	}

	sb.Shares = sb.Shares.Sub(shareAmount)
	if err := d.db.Save(sb).Error; err != nil {
		return decimal.Zero, err
	}

	return amountOut, nil
}

// Lock marks amount of one side's liquidity as borrowed against.
func (d *Database) Lock(side types.Side, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	p, err := d.Get(side)
	if err != nil {
		return err
	}
	locked := p.LockedLiquidity.Add(amount)
	if locked.GreaterThan(p.TotalDeposits) {
		return ErrInsufficientLiquidity
	}
	p.LockedLiquidity = locked
	return d.db.Save(p).Error
}

// Unlock releases previously locked liquidity.
func (d *Database) Unlock(side types.Side, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	p, err := d.Get(side)
	if err != nil {
		return err
	}
	if p.LockedLiquidity.LessThan(amount) {
		return ErrInsufficientLiquidity
	}
	p.LockedLiquidity = p.LockedLiquidity.Sub(amount)
	return d.db.Save(p).Error
}

// CreditDeposits socializes a realized gain into the pool: every LP's
// share price rises.
func (d *Database) CreditDeposits(side types.Side, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	p, err := d.Get(side)
	if err != nil {
		return err
	}
	p.TotalDeposits = p.TotalDeposits.Add(amount)
	return d.db.Save(p).Error
}

// DebitDeposits socializes a realized loss out of the pool. The debit may
// never dip below the locked floor.
func (d *Database) DebitDeposits(side types.Side, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	p, err := d.Get(side)
	if err != nil {
		return err
	}
	remaining := p.TotalDeposits.Sub(amount)
	if remaining.LessThan(p.LockedLiquidity) {
		return ErrInsufficientLiquidity
	}
	p.TotalDeposits = remaining
	return d.db.Save(p).Error
}
