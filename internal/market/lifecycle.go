// Package market owns the lifecycle state machine and AMM state transitions
// for a binary prediction market (spec §4.5). Unlike the original
// exchange-feed package this replaces, prices here are never streamed from an
// outside venue: they are produced on demand by internal/pricing from the
// market's own (q_yes, q_no, b) state.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predimarket/internal/errs"
	"predimarket/internal/money"
	"predimarket/pkg/db"
)

// MinLiquidity is the smallest liquidity parameter b a market may launch
// with (spec §6.5); below this the LMSR curve is too steep for reasonable
// order sizes to move meaningfully.
const MinLiquidity = 100

// transitions enumerates the legal status -> status edges (spec §4.5).
var transitions = map[db.MarketStatus]map[db.MarketStatus]bool{
	db.MarketDraft:     {db.MarketActive: true, db.MarketCancelled: true},
	db.MarketActive:    {db.MarketSuspended: true, db.MarketResolved: true, db.MarketCancelled: true},
	db.MarketSuspended: {db.MarketActive: true, db.MarketResolved: true, db.MarketCancelled: true},
	db.MarketResolved:  {},
	db.MarketCancelled: {},
}

// CanTransition reports whether moving a market from `from` to `to` is a
// legal lifecycle edge.
func CanTransition(from, to db.MarketStatus) bool {
	edges, ok := transitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// Store drives market lifecycle and AMM-state transitions against an Execer.
type Store struct {
	ex db.Execer
}

// New wraps an Execer for market writes.
func New(ex db.Execer) *Store {
	return &Store{ex: ex}
}

// CreateParams describes a new market's static configuration.
type CreateParams struct {
	Title             string
	Description       string
	Category          string
	ImageURL          string
	ResolutionSource  string
	LiquidityB        decimal.Decimal
	StartTime         time.Time
	EndTime           time.Time
	CreatorID         string
}

// Create inserts a market in MarketDraft status with an empty AMM pool.
func (s *Store) Create(ctx context.Context, p CreateParams) (*db.Market, error) {
	if p.LiquidityB.LessThan(decimal.NewFromInt(MinLiquidity)) {
		return nil, errs.New(errs.InvalidTrade, fmt.Sprintf("liquidity_b must be at least %d", MinLiquidity))
	}
	if !p.EndTime.After(p.StartTime) {
		return nil, errs.New(errs.InvalidTrade, "end_time must be after start_time")
	}

	m := db.Market{
		ID:               uuid.NewString(),
		Title:            p.Title,
		Description:      p.Description,
		Category:         p.Category,
		ImageURL:         p.ImageURL,
		ResolutionSource: p.ResolutionSource,
		Status:           db.MarketDraft,
		QYes:             money.Zero,
		QNo:              money.Zero,
		LiquidityB:       money.Round(p.LiquidityB),
		Volume:           money.Zero,
		StartTime:        p.StartTime,
		EndTime:          p.EndTime,
		CreatorID:        p.CreatorID,
	}
	if err := db.CreateMarket(ctx, s.ex, m); err != nil {
		return nil, fmt.Errorf("create market: %w", err)
	}
	return &m, nil
}

// Transition moves a market to a new lifecycle status, rejecting illegal
// edges with InvalidTransition (spec §4.5, scenario S5).
func (s *Store) Transition(ctx context.Context, marketID string, to db.MarketStatus) (*db.Market, error) {
	m, err := db.GetMarketByID(ctx, s.ex, marketID)
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	if m == nil {
		return nil, errs.New(errs.NotFound, "market not found")
	}
	if !CanTransition(m.Status, to) {
		return nil, errs.New(errs.InvalidTransition, fmt.Sprintf("cannot move market from %s to %s", m.Status, to))
	}
	if err := db.UpdateMarketStatus(ctx, s.ex, marketID, to); err != nil {
		return nil, fmt.Errorf("update market status: %w", err)
	}
	m.Status = to
	return m, nil
}

// Resolve transitions a market to MarketResolved and records the winning
// outcome. Settlement (paying out positions) is a separate step owned by
// internal/settlement.
func (s *Store) Resolve(ctx context.Context, marketID string, outcome db.Outcome) (*db.Market, error) {
	m, err := db.GetMarketByID(ctx, s.ex, marketID)
	if err != nil {
		return nil, fmt.Errorf("load market: %w", err)
	}
	if m == nil {
		return nil, errs.New(errs.NotFound, "market not found")
	}
	if !CanTransition(m.Status, db.MarketResolved) {
		return nil, errs.New(errs.InvalidTransition, fmt.Sprintf("cannot resolve market in status %s", m.Status))
	}

	now := time.Now()
	if err := db.ResolveMarket(ctx, s.ex, marketID, outcome, now); err != nil {
		return nil, fmt.Errorf("resolve market: %w", err)
	}
	m.Status = db.MarketResolved
	m.Outcome = &outcome
	m.ResolvedAt = &now
	return m, nil
}

// ApplyTradeDelta writes the new AMM pool state after a trade and
// accumulates traded cost into volume. Returns Conflict if the pool changed
// underneath the caller since it was read (spec §5 compare-and-set).
func (s *Store) ApplyTradeDelta(ctx context.Context, m *db.Market, newQYes, newQNo, tradedCost decimal.Decimal) error {
	newVolume := money.Round(m.Volume.Add(tradedCost.Abs()))
	ok, err := db.UpdateMarketAMMState(ctx, s.ex, m.ID, m.QYes, m.QNo, newQYes, newQNo, newVolume)
	if err != nil {
		return fmt.Errorf("update amm state: %w", err)
	}
	if !ok {
		return errs.New(errs.Conflict, "market AMM state changed concurrently")
	}
	m.QYes, m.QNo, m.Volume = newQYes, newQNo, newVolume
	return nil
}

// RequireTradable returns an error unless a market is open for trading
// (spec §4.4 preconditions): must be active and within [start_time, end_time].
func RequireTradable(m *db.Market, now time.Time) error {
	if m.Status != db.MarketActive {
		return errs.New(errs.MarketClosed, fmt.Sprintf("market is %s, not active", m.Status))
	}
	if now.Before(m.StartTime) || now.After(m.EndTime) {
		return errs.New(errs.OutOfWindow, "market is outside its trading window")
	}
	return nil
}
