// Package positions is the authoritative book of scalp positions.
// Position IDs are assigned by the database in commit order, 1-based, and
// never reused; closed positions are tombstoned in place so historical
// lookups stay valid forever.
package positions

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/types"
)

// ErrInvalidPositionID is returned for a nonexistent or already-closed
// position by every entry point that requires an open one.
var ErrInvalidPositionID = errors.New("Invalid position ID")

// Position is a scalp position record. Size is quote-denominated
// notional; AmountBorrowed is in units of the side sourced from the pool
// (base for shorts, quote for longs); AmountOut is the swap proceeds held
// by the engine until close.
type Position struct {
	ID             uint64          `gorm:"primarykey" json:"id"`
	Owner          string          `gorm:"index" json:"owner"`
	IsOpen         bool            `gorm:"index" json:"is_open"`
	IsShort        bool            `json:"is_short"`
	Size           decimal.Decimal `gorm:"type:text" json:"size"`
	AmountBorrowed decimal.Decimal `gorm:"type:text" json:"amount_borrowed"`
	AmountOut      decimal.Decimal `gorm:"type:text" json:"amount_out"`
	EntryPrice     decimal.Decimal `gorm:"type:text" json:"entry_price"`
	Margin         decimal.Decimal `gorm:"type:text" json:"margin"`
	Premium        decimal.Decimal `gorm:"type:text" json:"premium"`
	Timeframe      int             `json:"timeframe"`
	OpenedAt       time.Time       `json:"opened_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	CreatedAt      time.Time       `json:"-"`
	UpdatedAt      time.Time       `json:"-"`
}

// BorrowedSide is the pool side this position's borrowed notional came
// from: shorts borrow base, longs borrow quote.
func (p *Position) BorrowedSide() types.Side {
	if p.IsShort {
		return types.SideBase
	}
	return types.SideQuote
}

// HeldSide is the asset the borrowed notional was swapped into at open.
func (p *Position) HeldSide() types.Side {
	return p.BorrowedSide().Opposite()
}

// ToResponse converts the record to its API view.
func (p *Position) ToResponse() types.PositionResponse {
	return types.PositionResponse{
		ID:             p.ID,
		Owner:          p.Owner,
		IsOpen:         p.IsOpen,
		IsShort:        p.IsShort,
		Size:           p.Size,
		AmountBorrowed: p.AmountBorrowed,
		AmountOut:      p.AmountOut,
		EntryPrice:     p.EntryPrice,
		Margin:         p.Margin,
		Premium:        p.Premium,
		Timeframe:      p.Timeframe,
		OpenedAt:       p.OpenedAt,
		ClosedAt:       p.ClosedAt,
	}
}

// Database wraps the position table. Mutating methods expect the caller's
// transaction.
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

// Create persists a new position and assigns its ID.
func (d *Database) Create(p *Position) error {
	return d.db.Create(p).Error
}

// Get returns the position with the given ID, open or closed.
func (d *Database) Get(id uint64) (*Position, error) {
	var p Position
	err := d.db.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidPositionID
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOpen returns the position only if it is still open.
func (d *Database) GetOpen(id uint64) (*Position, error) {
	p, err := d.Get(id)
	if err != nil {
		return nil, err
	}
	if !p.IsOpen {
		return nil, ErrInvalidPositionID
	}
	return p, nil
}

// Close tombstones the position: the one and only Open -> Closed
// transition.
func (d *Database) Close(p *Position, closedAt time.Time) error {
	if !p.IsOpen {
		return ErrInvalidPositionID
	}
	p.IsOpen = false
	p.ClosedAt = &closedAt
	return d.db.Save(p).Error
}

// OpenPositions returns every open position.
func (d *Database) OpenPositions() ([]Position, error) {
	var open []Position
	if err := d.db.Where("is_open = ?", true).Order("id").Find(&open).Error; err != nil {
		return nil, err
	}
	return open, nil
}

// PositionsOfOwner returns all of an account's positions, open and
// closed.
func (d *Database) PositionsOfOwner(owner string) ([]Position, error) {
	var owned []Position
	if err := d.db.Where("owner = ?", owner).Order("id").Find(&owned).Error; err != nil {
		return nil, err
	}
	return owned, nil
}

// OpenInterest sums the quote-denominated size of all open positions.
func (d *Database) OpenInterest() (decimal.Decimal, error) {
	open, err := d.OpenPositions()
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range open {
		total = total.Add(p.Size)
	}
	return total, nil
}
