// Package engine implements the position lifecycle: open, close,
// liquidate, and the pooled-liquidity entry points. Every state-changing
// operation runs serialized under one mutex and inside one database
// transaction, so a failed call leaves no partial state behind.
package engine

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/fixedpoint"
	"github.com/ksred/scalp-api/internal/oracle"
	"github.com/ksred/scalp-api/internal/pool"
	"github.com/ksred/scalp-api/internal/positions"
	"github.com/ksred/scalp-api/internal/types"
)

var (
	ErrPositionExposureTooHigh = errors.New("position exposure too high")
	ErrOpenInterestTooHigh     = errors.New("open interest too high")
	ErrMarginTooLow            = errors.New("margin below minimum")
	ErrSlippageExceeded        = errors.New("slippage exceeded")
	ErrNotLiquidatable         = errors.New("not liquidatable")
	ErrInvalidTimeframe        = errors.New("invalid timeframe")
	ErrInvalidSize             = errors.New("size must be positive")
)

// EscrowAccount holds every token the engine is responsible for: pool
// deposits, position margins, and swap proceeds held against open
// positions.
const EscrowAccount = "scalp-engine"

// timeframes are the admissible premium pricing windows, in seconds,
// selected by index at open.
var timeframes = []int64{60, 300, 900, 1800, 3600}

// Settlement reports the outcome of a close or liquidation.
type Settlement struct {
	PositionID uint64
	Payout     decimal.Decimal
	PnL        decimal.Decimal
	Liquidated bool
}

// Service is the lifecycle engine for one market.
type Service struct {
	mu      sync.Mutex
	db      *gorm.DB
	pair    types.AssetPair
	pools   *pool.Database
	book    *positions.Database
	ledger  *assets.Ledger
	gateway *oracle.Gateway
	swapper oracle.Swapper
	owner   string
}

// NewService wires a lifecycle engine over the shared database and its
// external collaborators. owner is the account emergency withdrawals
// drain to.
func NewService(db *gorm.DB, pair types.AssetPair, gateway *oracle.Gateway, swapper oracle.Swapper, owner string) *Service {
	return &Service{
		db:      db,
		pair:    pair,
		pools:   pool.NewDatabase(db),
		book:    positions.NewDatabase(db),
		ledger:  assets.NewLedger(db),
		gateway: gateway,
		swapper: swapper,
		owner:   owner,
	}
}

// Pair returns the market this engine trades.
func (s *Service) Pair() types.AssetPair { return s.pair }

// Name identifies the engine for order routing.
func (s *Service) Name() string { return s.pair.Name }

// CurrentTick reports the swap venue's current tick.
func (s *Service) CurrentTick() (int32, error) {
	return s.swapper.CurrentTick(s.pair)
}

// Atomically runs fn serialized against every other state-changing entry
// point, inside a single transaction. fn returning an error rolls the
// whole transaction back.
func (s *Service) Atomically(fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(fn)
}

// Deposit transfers amount of one side's asset from the funder and mints
// LP shares to the recipient. Returns the shares minted.
func (s *Service) Deposit(funder, recipient string, side types.Side, amount decimal.Decimal) (decimal.Decimal, error) {
	var shares decimal.Decimal
	err := s.Atomically(func(tx *gorm.DB) error {
		if !side.Valid() {
			return pool.ErrInvalidSide
		}
		symbol := s.pair.SymbolFor(side)
		if err := s.ledger.WithTx(tx).Transfer(funder, EscrowAccount, symbol, amount); err != nil {
			return err
		}
		var err error
		shares, err = s.pools.WithTx(tx).Mint(recipient, side, amount, time.Now())
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}

	log.Info().
		Str("funder", funder).
		Str("depositor", recipient).
		Str("side", string(side)).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Msg("pool deposit")

	return shares, nil
}

// Withdraw burns shareAmount of the depositor's LP shares and pays out
// the proportional slice of the pool. Fails inside the cooling-off
// window and whenever the payout would dip into locked liquidity.
func (s *Service) Withdraw(depositor string, side types.Side, shareAmount decimal.Decimal) (decimal.Decimal, error) {
	var amountOut decimal.Decimal
	err := s.Atomically(func(tx *gorm.DB) error {
		cfg, err := LoadConfig(tx)
		if err != nil {
			return err
		}
		amountOut, err = s.pools.WithTx(tx).Burn(depositor, side, shareAmount, cfg.CoolingPeriod(), time.Now())
		if err != nil {
			return err
		}
		return s.ledger.WithTx(tx).Transfer(EscrowAccount, depositor, s.pair.SymbolFor(side), amountOut)
	})
	if err != nil {
		return decimal.Zero, err
	}

	log.Info().
		Str("depositor", depositor).
		Str("side", string(side)).
		Str("shares", shareAmount.String()).
		Str("amount_out", amountOut.String()).
		Msg("pool withdrawal")

	return amountOut, nil
}

// OpenPosition opens a scalp position for the trader and returns its ID.
func (s *Service) OpenPosition(trader string, isShort bool, size decimal.Decimal, timeframe int, margin, limitPrice decimal.Decimal) (uint64, error) {
	var id uint64
	err := s.Atomically(func(tx *gorm.DB) error {
		var err error
		id, err = s.OpenPositionTx(tx, trader, isShort, size, timeframe, margin, limitPrice)
		return err
	})
	return id, err
}

// OpenPositionTx is the transactional body of OpenPosition, exposed so
// the limit-order router can fill orders atomically. Callers must hold
// the engine via Atomically.
func (s *Service) OpenPositionTx(tx *gorm.DB, trader string, isShort bool, size decimal.Decimal, timeframe int, margin, limitPrice decimal.Decimal) (uint64, error) {
	cfg, err := LoadConfig(tx)
	if err != nil {
		return 0, err
	}

	if !size.IsPositive() {
		return 0, ErrInvalidSize
	}
	if size.GreaterThan(cfg.MaxSize) {
		return 0, ErrPositionExposureTooHigh
	}
	if timeframe < 0 || timeframe >= len(timeframes) {
		return 0, ErrInvalidTimeframe
	}
	if margin.LessThan(cfg.MinimumMargin) {
		return 0, ErrMarginTooLow
	}

	book := s.book.WithTx(tx)
	openInterest, err := book.OpenInterest()
	if err != nil {
		return 0, err
	}
	if openInterest.Add(size).GreaterThan(cfg.MaxOpenInterest) {
		return 0, ErrOpenInterestTooHigh
	}

	mark, err := s.gateway.MarkPrice(s.pair)
	if err != nil {
		return 0, err
	}
	if limitPrice.IsPositive() {
		if isShort && mark.GreaterThan(limitPrice) {
			return 0, ErrSlippageExceeded
		}
		if !isShort && mark.LessThan(limitPrice) {
			return 0, ErrSlippageExceeded
		}
	}

	// Source the notional from the opposite-side pool and swap it into
	// the position's exposure asset.
	pools := s.pools.WithTx(tx)
	var borrowedSide types.Side
	var amountBorrowed decimal.Decimal
	if isShort {
		borrowedSide = types.SideBase
		amountBorrowed, err = fixedpoint.QuoteToBase(size, mark, s.pair.BaseDecimals, s.pair.QuoteDecimals)
		if err != nil {
			return 0, err
		}
	} else {
		borrowedSide = types.SideQuote
		amountBorrowed = size
	}
	if err := pools.Lock(borrowedSide, amountBorrowed); err != nil {
		return 0, err
	}

	heldSide := borrowedSide.Opposite()
	amountOut, err := s.swapper.SwapExactIn(tx,
		EscrowAccount,
		s.pair.SymbolFor(borrowedSide),
		s.pair.SymbolFor(heldSide),
		amountBorrowed, decimal.Zero)
	if err != nil {
		return 0, err
	}

	volatility, err := s.gateway.Volatility(s.pair)
	if err != nil {
		return 0, err
	}
	premium, err := s.gateway.Premium(decimal.Zero, decimal.NewFromInt(timeframes[timeframe]), volatility, size)
	if err != nil {
		return 0, err
	}
	fee, err := fixedpoint.MulDiv(size, cfg.FeeBps, fixedpoint.BpsDivisor)
	if err != nil {
		return 0, err
	}

	// Margin and premium are escrowed; the fee goes straight to the
	// insurance fund. The premium is credited to quote LPs immediately
	// and never refunded.
	ledger := s.ledger.WithTx(tx)
	quoteSymbol := s.pair.QuoteSymbol
	if err := ledger.Transfer(trader, EscrowAccount, quoteSymbol, margin.Add(premium)); err != nil {
		return 0, err
	}
	if err := ledger.Transfer(trader, cfg.InsuranceFund, quoteSymbol, fee); err != nil {
		return 0, err
	}
	if err := pools.CreditDeposits(types.SideQuote, premium); err != nil {
		return 0, err
	}

	position := &positions.Position{
		Owner:          trader,
		IsOpen:         true,
		IsShort:        isShort,
		Size:           size,
		AmountBorrowed: amountBorrowed,
		AmountOut:      amountOut,
		EntryPrice:     mark,
		Margin:         margin,
		Premium:        premium,
		Timeframe:      timeframe,
		OpenedAt:       time.Now(),
	}
	if err := book.Create(position); err != nil {
		return 0, err
	}

	log.Info().
		Uint64("position_id", position.ID).
		Str("trader", trader).
		Bool("is_short", isShort).
		Str("size", size.String()).
		Str("margin", margin.String()).
		Str("premium", premium.String()).
		Str("fee", fee.String()).
		Str("entry", mark.String()).
		Msg("position opened")

	return position.ID, nil
}

// ClosePosition settles an open position at the current mark price.
// Callable by anyone: permissionless close keeps keepers able to exit
// positions and traders never trapped in them.
func (s *Service) ClosePosition(id uint64) (*Settlement, error) {
	var settlement *Settlement
	err := s.Atomically(func(tx *gorm.DB) error {
		var err error
		settlement, err = s.ClosePositionTx(tx, id)
		return err
	})
	return settlement, err
}

// ClosePositionTx is the transactional body of ClosePosition.
func (s *Service) ClosePositionTx(tx *gorm.DB, id uint64) (*Settlement, error) {
	p, err := s.book.WithTx(tx).GetOpen(id)
	if err != nil {
		return nil, err
	}
	mark, err := s.gateway.MarkPrice(s.pair)
	if err != nil {
		return nil, err
	}
	settlement, err := s.settle(tx, p, mark, false)
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint64("position_id", id).
		Str("payout", settlement.Payout.String()).
		Str("pnl", settlement.PnL.String()).
		Msg("position closed")

	return settlement, nil
}

// LiquidatePosition settles a position exactly like a close, but only
// once the price-derived maintenance condition holds. Any account may
// call it; the condition cannot be constructed by the caller.
func (s *Service) LiquidatePosition(id uint64) (*Settlement, error) {
	var settlement *Settlement
	err := s.Atomically(func(tx *gorm.DB) error {
		var err error
		settlement, err = s.LiquidatePositionTx(tx, id)
		return err
	})
	return settlement, err
}

// LiquidatePositionTx is the transactional body of LiquidatePosition.
func (s *Service) LiquidatePositionTx(tx *gorm.DB, id uint64) (*Settlement, error) {
	p, err := s.book.WithTx(tx).GetOpen(id)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(tx)
	if err != nil {
		return nil, err
	}
	mark, err := s.gateway.MarkPrice(s.pair)
	if err != nil {
		return nil, err
	}

	liquidatable, err := s.liquidatableAt(p, cfg, mark)
	if err != nil {
		return nil, err
	}
	if !liquidatable {
		return nil, ErrNotLiquidatable
	}

	settlement, err := s.settle(tx, p, mark, true)
	if err != nil {
		return nil, err
	}

	log.Info().
		Uint64("position_id", id).
		Str("payout", settlement.Payout.String()).
		Str("pnl", settlement.PnL.String()).
		Msg("position liquidated")

	return settlement, nil
}

// settle unwinds the borrowed notional at the given mark price, repays
// the pool, and pays the trader margin plus PnL clamped at zero. Any
// shortfall beyond margin is socialized into the pool.
func (s *Service) settle(tx *gorm.DB, p *positions.Position, mark decimal.Decimal, liquidated bool) (*Settlement, error) {
	pools := s.pools.WithTx(tx)
	ledger := s.ledger.WithTx(tx)
	borrowedSide := p.BorrowedSide()
	borrowedSymbol := s.pair.SymbolFor(borrowedSide)
	heldSymbol := s.pair.SymbolFor(p.HeldSide())
	quoteSymbol := s.pair.QuoteSymbol

	pnl, err := s.unrealizedPnL(p, mark)
	if err != nil {
		return nil, err
	}

	// Unwind: sell everything the position holds back into the borrowed
	// asset and release the pool's lock on the repayment.
	got, err := s.swapper.SwapExactIn(tx, EscrowAccount, heldSymbol, borrowedSymbol, p.AmountOut, decimal.Zero)
	if err != nil {
		return nil, err
	}
	if err := pools.Unlock(borrowedSide, p.AmountBorrowed); err != nil {
		return nil, err
	}

	payout := p.Margin
	if got.GreaterThanOrEqual(p.AmountBorrowed) {
		// Profit leg: the surplus over the repayment is the trader's,
		// denominated in quote.
		surplus := got.Sub(p.AmountBorrowed)
		if surplus.IsPositive() {
			profit := surplus
			if borrowedSide == types.SideBase {
				profit, err = s.swapper.SwapExactIn(tx, EscrowAccount, borrowedSymbol, quoteSymbol, surplus, decimal.Zero)
				if err != nil {
					return nil, err
				}
			}
			payout = payout.Add(profit)
		}
	} else {
		// Loss leg: cover the repayment shortfall from margin first,
		// then socialize the remainder into the pool.
		shortfall := p.AmountBorrowed.Sub(got)
		covered := decimal.Zero
		if borrowedSide == types.SideBase {
			quoteNeeded, err := fixedpoint.BaseToQuote(shortfall, mark, s.pair.BaseDecimals, s.pair.QuoteDecimals)
			if err != nil {
				return nil, err
			}
			marginToSell := decimal.Min(p.Margin, quoteNeeded)
			if marginToSell.IsPositive() {
				covered, err = s.swapper.SwapExactIn(tx, EscrowAccount, quoteSymbol, borrowedSymbol, marginToSell, decimal.Zero)
				if err != nil {
					return nil, err
				}
			}
			payout = p.Margin.Sub(marginToSell)
		} else {
			covered = decimal.Min(p.Margin, shortfall)
			payout = p.Margin.Sub(covered)
		}
		if remaining := shortfall.Sub(covered); remaining.IsPositive() {
			if err := pools.DebitDeposits(borrowedSide, remaining); err != nil {
				return nil, err
			}
		}
	}

	if payout.IsPositive() {
		if err := ledger.Transfer(EscrowAccount, p.Owner, quoteSymbol, payout); err != nil {
			return nil, err
		}
	}
	if err := s.book.WithTx(tx).Close(p, time.Now()); err != nil {
		return nil, err
	}

	return &Settlement{
		PositionID: p.ID,
		Payout:     payout,
		PnL:        pnl,
		Liquidated: liquidated,
	}, nil
}

// unrealizedPnL is the signed mark-to-market PnL of a position in quote
// units.
func (s *Service) unrealizedPnL(p *positions.Position, mark decimal.Decimal) (decimal.Decimal, error) {
	if p.IsShort {
		repayValue, err := fixedpoint.BaseToQuote(p.AmountBorrowed, mark, s.pair.BaseDecimals, s.pair.QuoteDecimals)
		if err != nil {
			return decimal.Zero, err
		}
		return p.Size.Sub(repayValue), nil
	}
	heldValue, err := fixedpoint.BaseToQuote(p.AmountOut, mark, s.pair.BaseDecimals, s.pair.QuoteDecimals)
	if err != nil {
		return decimal.Zero, err
	}
	return heldValue.Sub(p.Size), nil
}

// maintenanceThreshold is the equity floor under which a position becomes
// liquidatable: the minimum fee-and-safety buffer scaled by size.
func maintenanceThreshold(cfg *ScalpConfig, size decimal.Decimal) (decimal.Decimal, error) {
	safety, err := fixedpoint.MulDiv(size, cfg.MinimumPremiumThreshold, fixedpoint.UsdDivisor)
	if err != nil {
		return decimal.Zero, err
	}
	feeBuffer, err := fixedpoint.MulDiv(size, cfg.FeeBps, fixedpoint.BpsDivisor)
	if err != nil {
		return decimal.Zero, err
	}
	return safety.Add(feeBuffer), nil
}

func (s *Service) liquidatableAt(p *positions.Position, cfg *ScalpConfig, mark decimal.Decimal) (bool, error) {
	pnl, err := s.unrealizedPnL(p, mark)
	if err != nil {
		return false, err
	}
	maintenance, err := maintenanceThreshold(cfg, p.Size)
	if err != nil {
		return false, err
	}
	return p.Margin.Add(pnl).LessThanOrEqual(maintenance), nil
}

// IsLiquidatable reports whether the position's equity has fallen to or
// below the maintenance threshold at the current mark price.
func (s *Service) IsLiquidatable(id uint64) (bool, error) {
	p, err := s.book.GetOpen(id)
	if err != nil {
		return false, err
	}
	cfg, err := LoadConfig(s.db)
	if err != nil {
		return false, err
	}
	mark, err := s.gateway.MarkPrice(s.pair)
	if err != nil {
		return false, err
	}
	return s.liquidatableAt(p, cfg, mark)
}

// GetLiquidationPrice solves the maintenance equation for the mark price
// at which IsLiquidatable flips true. Informational only; liquidation is
// always re-checked against a live oracle read.
func (s *Service) GetLiquidationPrice(id uint64) (decimal.Decimal, error) {
	p, err := s.book.GetOpen(id)
	if err != nil {
		return decimal.Zero, err
	}
	cfg, err := LoadConfig(s.db)
	if err != nil {
		return decimal.Zero, err
	}
	maintenance, err := maintenanceThreshold(cfg, p.Size)
	if err != nil {
		return decimal.Zero, err
	}

	// Short equity hits maintenance as price rises, long as it falls:
	//   short: entry * (size + margin - maintenance) / size
	//   long:  entry * (size - margin + maintenance) / size
	var numerator decimal.Decimal
	if p.IsShort {
		numerator = p.Size.Add(p.Margin).Sub(maintenance)
	} else {
		numerator = p.Size.Sub(p.Margin).Add(maintenance)
	}
	if numerator.IsNegative() {
		return decimal.Zero, nil
	}
	return fixedpoint.MulDiv(p.EntryPrice, numerator, p.Size)
}

// GetPosition returns a position record, open or closed.
func (s *Service) GetPosition(id uint64) (*positions.Position, error) {
	return s.book.Get(id)
}

// PositionsOfOwner lists an account's positions.
func (s *Service) PositionsOfOwner(owner string) ([]positions.Position, error) {
	return s.book.PositionsOfOwner(owner)
}

// UpdateConfig atomically replaces the whole configuration record. The
// next transaction sees the new version; open positions are unaffected.
func (s *Service) UpdateConfig(cfg ScalpConfig) (*ScalpConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var installed ScalpConfig
	err := s.Atomically(func(tx *gorm.DB) error {
		cfg.ID = 0
		cfg.CreatedAt = time.Time{}
		if err := tx.Create(&cfg).Error; err != nil {
			return err
		}
		installed = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Uint("version", installed.ID).Msg("scalp config replaced")
	return &installed, nil
}

// GetPool returns one side's pool state.
func (s *Service) GetPool(side types.Side) (*pool.Pool, error) {
	return s.pools.Get(side)
}

// EmergencyWithdraw drains the engine escrow's holdings of the named
// assets to the owner account. A circuit breaker, never part of normal
// operation.
func (s *Service) EmergencyWithdraw(assetSymbols []string) error {
	err := s.Atomically(func(tx *gorm.DB) error {
		ledger := s.ledger.WithTx(tx)
		for _, symbol := range assetSymbols {
			balance, err := ledger.BalanceOf(EscrowAccount, symbol)
			if err != nil {
				return err
			}
			if balance.IsPositive() {
				if err := ledger.Transfer(EscrowAccount, s.owner, symbol, balance); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Warn().Strs("assets", assetSymbols).Str("owner", s.owner).Msg("emergency withdrawal executed")
	return nil
}

// CheckMath asserts the accounting-closure invariant: the escrow's actual
// token balances equal pool deposits minus locked liquidity plus
// everything held against open positions. Test and debug probe, not a
// production code path.
func (s *Service) CheckMath() error {
	basePool, err := s.pools.Get(types.SideBase)
	if err != nil {
		return err
	}
	quotePool, err := s.pools.Get(types.SideQuote)
	if err != nil {
		return err
	}
	open, err := s.book.OpenPositions()
	if err != nil {
		return err
	}

	expectedBase := basePool.TotalDeposits.Sub(basePool.LockedLiquidity)
	expectedQuote := quotePool.TotalDeposits.Sub(quotePool.LockedLiquidity)
	for _, p := range open {
		expectedQuote = expectedQuote.Add(p.Margin)
		if p.IsShort {
			expectedQuote = expectedQuote.Add(p.AmountOut)
		} else {
			expectedBase = expectedBase.Add(p.AmountOut)
		}
	}

	actualBase, err := s.ledger.BalanceOf(EscrowAccount, s.pair.BaseSymbol)
	if err != nil {
		return err
	}
	actualQuote, err := s.ledger.BalanceOf(EscrowAccount, s.pair.QuoteSymbol)
	if err != nil {
		return err
	}

	if !expectedBase.Equal(actualBase) {
		return errors.New("base accounting mismatch: expected " + expectedBase.String() + " held " + actualBase.String())
	}
	if !expectedQuote.Equal(actualQuote) {
		return errors.New("quote accounting mismatch: expected " + expectedQuote.String() + " held " + actualQuote.String())
	}
	return nil
}

// FundAccount credits an account with tokens. Development and simulation
// faucet; gated behind owner auth at the API layer.
func (s *Service) FundAccount(account, asset string, amount decimal.Decimal) error {
	return s.Atomically(func(tx *gorm.DB) error {
		return s.ledger.WithTx(tx).Credit(account, asset, amount)
	})
}
