// Package orders implements the limit-order router: conditional open and
// close orders that third-party keepers fill once a venue tick condition
// holds. Fills re-verify the condition against the venue itself, never
// trusting the caller.
package orders

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/engine"
	"github.com/ksred/scalp-api/internal/positions"
)

var (
	ErrNotFilledAsExpected = errors.New("Not filled as expected")
	ErrInvalidOrderID      = errors.New("invalid order ID")
	ErrOrderExpired        = errors.New("order expired")
	ErrUnknownTarget       = errors.New("unknown target engine")
	ErrNotOrderOwner       = errors.New("not the order owner")
	ErrInvalidTickRange    = errors.New("invalid tick range")
	ErrInvalidExpiry       = errors.New("expiry must be in the future")
)

// Service routes conditional orders into registered lifecycle engines.
type Service struct {
	db      *gorm.DB
	engines map[string]*engine.Service
}

// NewService wires the router over the shared database. engines maps the
// registrable target names to live engine instances; a target must also
// be allowlisted through RegisterTargets before orders route to it.
func NewService(db *gorm.DB, engines map[string]*engine.Service) *Service {
	return &Service{db: db, engines: engines}
}

// RegisterTargets allowlists engine targets for routing. Owner-only at
// the API layer.
func (s *Service) RegisterTargets(targets []string) error {
	for _, target := range targets {
		if _, ok := s.engines[target]; !ok {
			return ErrUnknownTarget
		}
		var existing ScalpEngine
		err := s.db.Where("target = ?", target).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if err := s.db.Create(&ScalpEngine{Target: target, Active: true}).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if !existing.Active {
			existing.Active = true
			if err := s.db.Save(&existing).Error; err != nil {
				return err
			}
		}
	}

	log.Info().Strs("targets", targets).Msg("scalp engines allowlisted")
	return nil
}

// target resolves an allowlisted, registered engine.
func (s *Service) target(name string) (*engine.Service, error) {
	eng, ok := s.engines[name]
	if !ok {
		return nil, ErrUnknownTarget
	}
	var allowed ScalpEngine
	err := s.db.Where("target = ? AND active = ?", name, true).First(&allowed).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownTarget
	}
	if err != nil {
		return nil, err
	}
	return eng, nil
}

// CreateOpenOrder records a conditional open order and returns its ID.
func (s *Service) CreateOpenOrder(trader, targetName string, isShort bool, size decimal.Decimal, timeframe int, margin decimal.Decimal, tickLow, tickHigh int32, ttl time.Duration) (*OpenOrder, error) {
	if _, err := s.target(targetName); err != nil {
		return nil, err
	}
	if tickLow >= tickHigh {
		return nil, ErrInvalidTickRange
	}
	if ttl <= 0 {
		return nil, ErrInvalidExpiry
	}

	order := &OpenOrder{
		OrderRef:  uuid.New().String(),
		Trader:    trader,
		Target:    targetName,
		IsShort:   isShort,
		Size:      size,
		Timeframe: timeframe,
		Margin:    margin,
		TickLow:   tickLow,
		TickHigh:  tickHigh,
		ExpiresAt: time.Now().Add(ttl),
		Active:    true,
	}
	if err := s.db.Create(order).Error; err != nil {
		return nil, err
	}

	log.Info().
		Uint("order_id", order.ID).
		Str("trader", trader).
		Str("target", targetName).
		Bool("is_short", isShort).
		Str("size", size.String()).
		Msg("open order created")

	return order, nil
}

// CreateCloseOrder records a conditional close order on one of the
// trader's open positions.
func (s *Service) CreateCloseOrder(trader, targetName string, positionID uint64, tickLow, tickHigh int32) (*CloseOrder, error) {
	eng, err := s.target(targetName)
	if err != nil {
		return nil, err
	}
	if tickLow >= tickHigh {
		return nil, ErrInvalidTickRange
	}

	position, err := eng.GetPosition(positionID)
	if err != nil {
		return nil, err
	}
	if !position.IsOpen {
		return nil, positions.ErrInvalidPositionID
	}
	if position.Owner != trader {
		return nil, ErrNotOrderOwner
	}

	order := &CloseOrder{
		OrderRef:   uuid.New().String(),
		Trader:     trader,
		Target:     targetName,
		PositionID: positionID,
		TickLow:    tickLow,
		TickHigh:   tickHigh,
		Active:     true,
	}
	if err := s.db.Create(order).Error; err != nil {
		return nil, err
	}

	log.Info().
		Uint("order_id", order.ID).
		Str("trader", trader).
		Uint64("position_id", positionID).
		Msg("close order created")

	return order, nil
}

// GetOpenOrder returns an open order by ID.
func (s *Service) GetOpenOrder(id uint) (*OpenOrder, error) {
	var order OpenOrder
	err := s.db.First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidOrderID
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetCloseOrder returns a close order by ID.
func (s *Service) GetCloseOrder(id uint) (*CloseOrder, error) {
	var order CloseOrder
	err := s.db.First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidOrderID
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// checkOpenOrder verifies an open order's trigger condition without
// mutating anything.
func (s *Service) checkOpenOrder(order *OpenOrder, now time.Time) (*engine.Service, error) {
	if !order.Active {
		return nil, ErrInvalidOrderID
	}
	if now.After(order.ExpiresAt) {
		return nil, ErrOrderExpired
	}
	eng, err := s.target(order.Target)
	if err != nil {
		return nil, err
	}
	tick, err := eng.CurrentTick()
	if err != nil {
		return nil, err
	}
	if !tickInRange(tick, order.TickLow, order.TickHigh) {
		return nil, ErrNotFilledAsExpected
	}
	return eng, nil
}

// checkCloseOrder verifies a close order's trigger condition without
// mutating anything.
func (s *Service) checkCloseOrder(order *CloseOrder) (*engine.Service, error) {
	if !order.Active {
		return nil, ErrInvalidOrderID
	}
	eng, err := s.target(order.Target)
	if err != nil {
		return nil, err
	}
	position, err := eng.GetPosition(order.PositionID)
	if err != nil {
		return nil, err
	}
	if !position.IsOpen {
		return nil, positions.ErrInvalidPositionID
	}
	tick, err := eng.CurrentTick()
	if err != nil {
		return nil, err
	}
	if !tickInRange(tick, order.TickLow, order.TickHigh) {
		return nil, ErrNotFilledAsExpected
	}
	return eng, nil
}

// WouldFillOpenOrder is the dry-run probe for keepers: nil means a fill
// attempted now is expected to succeed.
func (s *Service) WouldFillOpenOrder(id uint) error {
	order, err := s.GetOpenOrder(id)
	if err != nil {
		return err
	}
	_, err = s.checkOpenOrder(order, time.Now())
	return err
}

// WouldFillCloseOrder is the dry-run probe for close orders.
func (s *Service) WouldFillCloseOrder(id uint) error {
	order, err := s.GetCloseOrder(id)
	if err != nil {
		return err
	}
	_, err = s.checkCloseOrder(order)
	return err
}

// FillOpenOrder re-verifies the trigger condition and opens the position
// on behalf of the order's trader. The order is consumed exactly once;
// an unmet condition leaves it active for a later attempt.
func (s *Service) FillOpenOrder(id uint) (uint64, error) {
	order, err := s.GetOpenOrder(id)
	if err != nil {
		return 0, err
	}
	eng, err := s.checkOpenOrder(order, time.Now())
	if err != nil {
		if errors.Is(err, ErrOrderExpired) {
			s.deactivateOpenOrder(order)
		}
		return 0, err
	}

	var positionID uint64
	err = eng.Atomically(func(tx *gorm.DB) error {
		var err error
		positionID, err = eng.OpenPositionTx(tx, order.Trader, order.IsShort, order.Size, order.Timeframe, order.Margin, decimal.Zero)
		if err != nil {
			return err
		}
		order.Active = false
		order.PositionID = positionID
		return tx.Save(order).Error
	})
	if err != nil {
		return 0, err
	}

	log.Info().
		Uint("order_id", order.ID).
		Uint64("position_id", positionID).
		Msg("open order filled")

	return positionID, nil
}

// FillCloseOrder re-verifies the trigger condition and closes the
// order's position.
func (s *Service) FillCloseOrder(id uint) (*engine.Settlement, error) {
	order, err := s.GetCloseOrder(id)
	if err != nil {
		return nil, err
	}
	eng, err := s.checkCloseOrder(order)
	if err != nil {
		return nil, err
	}

	var settlement *engine.Settlement
	err = eng.Atomically(func(tx *gorm.DB) error {
		var err error
		settlement, err = eng.ClosePositionTx(tx, order.PositionID)
		if err != nil {
			return err
		}
		order.Active = false
		return tx.Save(order).Error
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint("order_id", order.ID).
		Uint64("position_id", order.PositionID).
		Msg("close order filled")

	return settlement, nil
}

// CancelOpenOrder withdraws an unfilled open order. Order owner only.
func (s *Service) CancelOpenOrder(trader string, id uint) error {
	order, err := s.GetOpenOrder(id)
	if err != nil {
		return err
	}
	if !order.Active {
		return ErrInvalidOrderID
	}
	if order.Trader != trader {
		return ErrNotOrderOwner
	}
	s.deactivateOpenOrder(order)
	log.Info().Uint("order_id", id).Msg("open order cancelled")
	return nil
}

// CancelCloseOrder withdraws an unfilled close order. Order owner only.
func (s *Service) CancelCloseOrder(trader string, id uint) error {
	order, err := s.GetCloseOrder(id)
	if err != nil {
		return err
	}
	if !order.Active {
		return ErrInvalidOrderID
	}
	if order.Trader != trader {
		return ErrNotOrderOwner
	}
	order.Active = false
	if err := s.db.Save(order).Error; err != nil {
		return err
	}
	log.Info().Uint("order_id", id).Msg("close order cancelled")
	return nil
}

func (s *Service) deactivateOpenOrder(order *OpenOrder) {
	order.Active = false
	if err := s.db.Save(order).Error; err != nil {
		log.Error().Err(err).Uint("order_id", order.ID).Msg("failed to deactivate open order")
	}
}

// ActiveOpenOrders lists open orders awaiting a fill.
func (s *Service) ActiveOpenOrders() ([]OpenOrder, error) {
	var active []OpenOrder
	if err := s.db.Where("active = ?", true).Order("id").Find(&active).Error; err != nil {
		return nil, err
	}
	return active, nil
}

// ActiveCloseOrders lists close orders awaiting a fill.
func (s *Service) ActiveCloseOrders() ([]CloseOrder, error) {
	var active []CloseOrder
	if err := s.db.Where("active = ?", true).Order("id").Find(&active).Error; err != nil {
		return nil, err
	}
	return active, nil
}
