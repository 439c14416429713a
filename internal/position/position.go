// Package position maintains each user's volume-weighted average cost basis
// per market side (spec §4.3). Buying a side averages the new shares into the
// existing average price; selling reduces shares at the existing average and
// resets the average to zero once the side is fully closed.
package position

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predimarket/internal/errs"
	"predimarket/internal/money"
	"predimarket/pkg/db"
)

// Store mutates position rows against an Execer.
type Store struct {
	ex db.Execer
}

// New wraps an Execer for position writes.
func New(ex db.Execer) *Store {
	return &Store{ex: ex}
}

// ApplyBuy adds shares bought at price to a user's position on the given
// side, averaging the cost basis in.
func (s *Store) ApplyBuy(ctx context.Context, userID, marketID string, side db.TradeSide, shares, price decimal.Decimal) (*db.Position, error) {
	if money.IsNegativeOrZero(shares) {
		return nil, errs.New(errs.InvalidTrade, "bought shares must be positive")
	}

	p, err := s.loadOrInit(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}

	switch side {
	case db.SideYes:
		p.AvgYesPrice = weightedAverage(p.YesShares, p.AvgYesPrice, shares, price)
		p.YesShares = p.YesShares.Add(shares)
	case db.SideNo:
		p.AvgNoPrice = weightedAverage(p.NoShares, p.AvgNoPrice, shares, price)
		p.NoShares = p.NoShares.Add(shares)
	default:
		return nil, errs.New(errs.InvalidTrade, fmt.Sprintf("unknown side %q", side))
	}

	if err := db.UpsertPosition(ctx, s.ex, *p); err != nil {
		return nil, fmt.Errorf("upsert position: %w", err)
	}
	return p, nil
}

// ApplySell removes shares from a user's position on the given side. The
// average price is left unchanged unless the side's shares reach zero, at
// which point the average resets (spec §4.3).
func (s *Store) ApplySell(ctx context.Context, userID, marketID string, side db.TradeSide, shares decimal.Decimal) (*db.Position, error) {
	if money.IsNegativeOrZero(shares) {
		return nil, errs.New(errs.InvalidTrade, "sold shares must be positive")
	}

	p, err := s.loadOrInit(ctx, userID, marketID)
	if err != nil {
		return nil, err
	}

	switch side {
	case db.SideYes:
		if p.YesShares.LessThan(shares) {
			return nil, errs.New(errs.InsufficientShares, fmt.Sprintf("yes shares %s is less than requested %s", p.YesShares, shares))
		}
		p.YesShares = p.YesShares.Sub(shares)
		if p.YesShares.IsZero() {
			p.AvgYesPrice = money.Zero
		}
	case db.SideNo:
		if p.NoShares.LessThan(shares) {
			return nil, errs.New(errs.InsufficientShares, fmt.Sprintf("no shares %s is less than requested %s", p.NoShares, shares))
		}
		p.NoShares = p.NoShares.Sub(shares)
		if p.NoShares.IsZero() {
			p.AvgNoPrice = money.Zero
		}
	default:
		return nil, errs.New(errs.InvalidTrade, fmt.Sprintf("unknown side %q", side))
	}

	if err := db.UpsertPosition(ctx, s.ex, *p); err != nil {
		return nil, fmt.Errorf("upsert position: %w", err)
	}
	return p, nil
}

// Clear zeroes out a position entirely; used by settlement after a payout or
// by a cancellation refund (spec §4.6) so the position can't be re-settled.
func (s *Store) Clear(ctx context.Context, userID, marketID string) error {
	p, err := s.loadOrInit(ctx, userID, marketID)
	if err != nil {
		return err
	}
	p.YesShares = money.Zero
	p.NoShares = money.Zero
	p.AvgYesPrice = money.Zero
	p.AvgNoPrice = money.Zero
	return db.UpsertPosition(ctx, s.ex, *p)
}

func (s *Store) loadOrInit(ctx context.Context, userID, marketID string) (*db.Position, error) {
	p, err := db.GetPosition(ctx, s.ex, userID, marketID)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if p == nil {
		p = &db.Position{
			ID:          uuid.NewString(),
			UserID:      userID,
			MarketID:    marketID,
			YesShares:   money.Zero,
			NoShares:    money.Zero,
			AvgYesPrice: money.Zero,
			AvgNoPrice:  money.Zero,
		}
	}
	return p, nil
}

// weightedAverage folds addedShares at addedPrice into an existing
// (existingShares, existingAvg) pair.
func weightedAverage(existingShares, existingAvg, addedShares, addedPrice decimal.Decimal) decimal.Decimal {
	if existingShares.IsZero() {
		return money.Round(addedPrice)
	}
	existingCost := existingShares.Mul(existingAvg)
	addedCost := addedShares.Mul(addedPrice)
	total := existingShares.Add(addedShares)
	return money.Round(existingCost.Add(addedCost).Div(total))
}
