// Package settlement pays out positions once a market resolves or refunds
// them if a market cancels (spec §4.6). It walks positions in pages so a
// market with many holders settles without loading them all into memory at
// once, and is idempotent: a position is zeroed as soon as it is paid, so
// re-running settlement on an already-settled market is a no-op.
package settlement

import (
	"context"
	"fmt"

	"predimarket/internal/errs"
	"predimarket/internal/events"
	"predimarket/internal/money"
	"predimarket/internal/position"
	"predimarket/internal/uow"
	"predimarket/pkg/db"
)

const pageSize = 200

// Service settles and refunds markets against a database handle.
type Service struct {
	DB  *db.Database
	Bus Publisher
}

// Publisher is the subset of events.Bus the service needs.
type Publisher interface {
	Publish(e events.Event, payload any)
}

// New builds a settlement Service.
func New(database *db.Database, bus Publisher) *Service {
	return &Service{DB: database, Bus: bus}
}

// Settle pays out every outstanding position in a resolved market: winning
// shares redeem at 1.0 currency unit each, losing shares are worthless
// (spec §4.6). Safe to call more than once.
func (s *Service) Settle(ctx context.Context, marketID string) (int, error) {
	m, err := db.GetMarketByID(ctx, s.DB.DB, marketID)
	if err != nil {
		return 0, fmt.Errorf("load market: %w", err)
	}
	if m == nil {
		return 0, errs.New(errs.NotFound, "market not found")
	}
	if m.Status != db.MarketResolved || m.Outcome == nil {
		return 0, errs.New(errs.InvalidTransition, "market is not resolved")
	}

	s.publish(events.EventMarketResolved, events.MarketResolvedPayload{MarketID: m.ID, Outcome: string(*m.Outcome)})

	settled := 0
	for {
		positions, err := db.ListPositionsByMarket(ctx, s.DB.DB, marketID, pageSize, 0)
		if err != nil {
			return settled, fmt.Errorf("list positions: %w", err)
		}
		if len(positions) == 0 {
			return settled, nil
		}

		for _, p := range positions {
			paid, err := s.settleOne(ctx, p, *m.Outcome)
			if err != nil {
				return settled, err
			}
			if paid {
				settled++
			}
		}
	}
}

func (s *Service) settleOne(ctx context.Context, p db.Position, outcome db.Outcome) (bool, error) {
	winningShares := p.YesShares
	if outcome == db.OutcomeNo {
		winningShares = p.NoShares
	}
	if p.YesShares.IsZero() && p.NoShares.IsZero() {
		return false, nil
	}

	err := uow.Run(ctx, s.DB, func(u *uow.Uow) error {
		w, err := db.GetWalletByUserID(ctx, u.Tx, p.UserID)
		if err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		if w == nil {
			return errs.New(errs.NotFound, "wallet not found for position holder")
		}

		if money.IsPositive(winningShares) {
			if _, err := u.Ledger.CreditSettlement(ctx, w.ID, money.Round(winningShares), p.MarketID); err != nil {
				return err
			}
		}

		ps := position.New(u.Tx)
		if err := ps.Clear(ctx, p.UserID, p.MarketID); err != nil {
			return err
		}

		s.publish(events.EventPositionSettled, events.PositionSettledPayload{
			MarketID: p.MarketID, UserID: p.UserID, Payout: money.Round(winningShares).String(),
		})
		return nil
	})
	return true, err
}

// RefundCancelled returns each holder's cost basis for a cancelled market
// (spec §4.6 cancellation path): yes_shares*avg_yes_price +
// no_shares*avg_no_price, since no outcome was ever decided.
func (s *Service) RefundCancelled(ctx context.Context, marketID string) (int, error) {
	m, err := db.GetMarketByID(ctx, s.DB.DB, marketID)
	if err != nil {
		return 0, fmt.Errorf("load market: %w", err)
	}
	if m == nil {
		return 0, errs.New(errs.NotFound, "market not found")
	}
	if m.Status != db.MarketCancelled {
		return 0, errs.New(errs.InvalidTransition, "market is not cancelled")
	}

	refunded := 0
	for {
		positions, err := db.ListPositionsByMarket(ctx, s.DB.DB, marketID, pageSize, 0)
		if err != nil {
			return refunded, fmt.Errorf("list positions: %w", err)
		}
		if len(positions) == 0 {
			return refunded, nil
		}

		for _, p := range positions {
			refund := money.Round(p.YesShares.Mul(p.AvgYesPrice).Add(p.NoShares.Mul(p.AvgNoPrice)))
			err := uow.Run(ctx, s.DB, func(u *uow.Uow) error {
				w, err := db.GetWalletByUserID(ctx, u.Tx, p.UserID)
				if err != nil {
					return fmt.Errorf("load wallet: %w", err)
				}
				if w == nil {
					return errs.New(errs.NotFound, "wallet not found for position holder")
				}
				if money.IsPositive(refund) {
					if _, err := u.Ledger.RefundCancelledMarket(ctx, w.ID, refund, p.MarketID); err != nil {
						return err
					}
				}
				return position.New(u.Tx).Clear(ctx, p.UserID, p.MarketID)
			})
			if err != nil {
				return refunded, err
			}
			refunded++
		}
	}
}

func (s *Service) publish(ev events.Event, payload any) {
	if s.Bus != nil {
		s.Bus.Publish(ev, payload)
	}
}
