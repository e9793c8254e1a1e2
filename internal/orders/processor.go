package orders

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Processor is the built-in keeper: a background loop that scans active
// orders and fills the ones whose trigger condition holds. External
// keepers can race it through the fill endpoints; fills are one-shot so
// whoever lands first wins and the loser gets a routine rejection.
type Processor struct {
	service  *Service
	interval time.Duration
}

func NewProcessor(service *Service, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Processor{service: service, interval: interval}
}

// Start runs the keeper loop until the context is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_keeper").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting order keeper")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down order keeper")
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep attempts every active order once. Routine rejections (condition
// not met, raced by another keeper) are expected and only logged at
// debug level.
func (p *Processor) sweep() {
	logger := log.With().Str("component", "order_keeper").Logger()

	openOrders, err := p.service.ActiveOpenOrders()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list open orders")
		return
	}
	for _, order := range openOrders {
		if err := p.service.WouldFillOpenOrder(order.ID); err != nil {
			if !routine(err) {
				logger.Error().Err(err).Uint("order_id", order.ID).Msg("open order probe failed")
			}
			continue
		}
		positionID, err := p.service.FillOpenOrder(order.ID)
		if err != nil {
			if !routine(err) {
				logger.Error().Err(err).Uint("order_id", order.ID).Msg("open order fill failed")
			}
			continue
		}
		logger.Info().Uint("order_id", order.ID).Uint64("position_id", positionID).Msg("keeper filled open order")
	}

	closeOrders, err := p.service.ActiveCloseOrders()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list close orders")
		return
	}
	for _, order := range closeOrders {
		if err := p.service.WouldFillCloseOrder(order.ID); err != nil {
			if !routine(err) {
				logger.Error().Err(err).Uint("order_id", order.ID).Msg("close order probe failed")
			}
			continue
		}
		if _, err := p.service.FillCloseOrder(order.ID); err != nil {
			if !routine(err) {
				logger.Error().Err(err).Uint("order_id", order.ID).Msg("close order fill failed")
			}
			continue
		}
		logger.Info().Uint("order_id", order.ID).Msg("keeper filled close order")
	}
}

// routine reports whether an error is an expected keeper rejection
// rather than a fault.
func routine(err error) bool {
	return errors.Is(err, ErrNotFilledAsExpected) ||
		errors.Is(err, ErrOrderExpired) ||
		errors.Is(err, ErrInvalidOrderID)
}
