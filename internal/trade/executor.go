// Package trade orchestrates the full buy/sell path (spec §4.4): quote the
// LMSR pool, move money through the ledger, update the AMM state, update the
// trader's position and write the trade audit row, all inside one Uow so the
// trade commits or fails as a whole.
package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predimarket/internal/errs"
	"predimarket/internal/events"
	"predimarket/internal/market"
	"predimarket/internal/money"
	"predimarket/internal/pricing"
	"predimarket/internal/uow"
	"predimarket/pkg/db"
)

// FeeRate is the platform's default LMSR trading fee (spec §6.5), charged on
// top of a buy's raw cost and deducted from a sell's raw return.
const FeeRate = 0.02

// Executor wires a database handle and event bus into the trade path.
type Executor struct {
	DB  *db.Database
	Bus Publisher
}

// Publisher is the subset of events.Bus the executor needs; keeping it an
// interface lets tests run without a live bus.
type Publisher interface {
	Publish(e events.Event, payload any)
}

// New builds a trade Executor.
func New(database *db.Database, bus Publisher) *Executor {
	return &Executor{DB: database, Bus: bus}
}

// BuyRequest describes a buy by either exact share count or spend amount;
// exactly one of Shares or Amount must be set (the other left zero).
type BuyRequest struct {
	UserID string
	WalletID string
	MarketID string
	Side     db.TradeSide
	Shares   decimal.Decimal
	Amount   decimal.Decimal
}

// SellRequest describes a sell of an exact share count.
type SellRequest struct {
	UserID   string
	WalletID string
	MarketID string
	Side     db.TradeSide
	Shares   decimal.Decimal
}

// Buy executes a buy order end to end (spec §4.4 buy path).
func (e *Executor) Buy(ctx context.Context, req BuyRequest) (*db.Trade, error) {
	var trade *db.Trade
	err := uow.Run(ctx, e.DB, func(u *uow.Uow) error {
		m, err := db.GetMarketForUpdate(ctx, u.Tx, req.MarketID)
		if err != nil {
			return fmt.Errorf("load market: %w", err)
		}
		if m == nil {
			return errs.New(errs.NotFound, "market not found")
		}
		if err := market.RequireTradable(m, time.Now()); err != nil {
			return err
		}

		side := toPricingSide(req.Side)
		qYes, qNo, b := money.ToFloat(m.QYes), money.ToFloat(m.QNo), money.ToFloat(m.LiquidityB)

		var quote pricing.BuyQuote
		switch {
		case money.IsPositive(req.Shares) && money.IsPositive(req.Amount):
			return errs.New(errs.InvalidTrade, "exactly one of shares or amount must be set")
		case money.IsPositive(req.Shares):
			quote, err = pricing.QuoteBuyByShares(qYes, qNo, b, FeeRate, side, money.ToFloat(req.Shares))
		case money.IsPositive(req.Amount):
			quote, err = pricing.QuoteBuyByAmount(qYes, qNo, b, FeeRate, side, money.ToFloat(req.Amount))
		default:
			return errs.New(errs.InvalidTrade, "either shares or amount must be positive")
		}
		if err != nil {
			return err
		}

		totalCost := money.FromFloat(quote.TotalCost)
		shares := money.FromFloat(quote.Shares)
		tradeID := uuid.NewString()

		if _, err := u.Ledger.DeductForTrade(ctx, req.WalletID, totalCost, tradeID); err != nil {
			return err
		}

		oldQYes, oldQNo := m.QYes, m.QNo
		newQYes, newQNo := money.FromFloat(quote.NewQYes), money.FromFloat(quote.NewQNo)
		if err := u.Market.ApplyTradeDelta(ctx, m, newQYes, newQNo, totalCost); err != nil {
			return err
		}

		if _, err := u.Position.ApplyBuy(ctx, req.UserID, req.MarketID, req.Side, shares, money.FromFloat(quote.AvgPrice)); err != nil {
			return err
		}

		t := db.Trade{
			ID: tradeID, UserID: req.UserID, MarketID: req.MarketID,
			Type: db.TradeBuy, Side: req.Side,
			Shares: shares, Price: money.FromFloat(quote.AvgPrice),
			Cost: totalCost, Fee: money.FromFloat(quote.Fee),
			QYesBefore: oldQYes, QNoBefore: oldQNo, QYesAfter: newQYes, QNoAfter: newQNo,
		}
		if err := db.RecordTrade(ctx, u.Tx, t); err != nil {
			return fmt.Errorf("record trade: %w", err)
		}
		trade = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(events.EventTradeExecuted, events.TradeExecutedPayload{TradeID: trade.ID, UserID: trade.UserID, MarketID: trade.MarketID})
	return trade, nil
}

// Sell executes a sell order end to end (spec §4.4 sell path).
func (e *Executor) Sell(ctx context.Context, req SellRequest) (*db.Trade, error) {
	if money.IsNegativeOrZero(req.Shares) {
		return nil, errs.New(errs.InvalidTrade, "shares must be positive")
	}

	var trade *db.Trade
	err := uow.Run(ctx, e.DB, func(u *uow.Uow) error {
		m, err := db.GetMarketForUpdate(ctx, u.Tx, req.MarketID)
		if err != nil {
			return fmt.Errorf("load market: %w", err)
		}
		if m == nil {
			return errs.New(errs.NotFound, "market not found")
		}
		if err := market.RequireTradable(m, time.Now()); err != nil {
			return err
		}

		pos, err := db.GetPositionForUpdate(ctx, u.Tx, req.UserID, req.MarketID)
		if err != nil {
			return fmt.Errorf("load position: %w", err)
		}
		held := money.Zero
		if pos != nil {
			if req.Side == db.SideYes {
				held = pos.YesShares
			} else {
				held = pos.NoShares
			}
		}
		if held.LessThan(req.Shares) {
			return errs.New(errs.InsufficientShares, fmt.Sprintf("held %s, requested %s", held, req.Shares))
		}

		side := toPricingSide(req.Side)
		qYes, qNo, b := money.ToFloat(m.QYes), money.ToFloat(m.QNo), money.ToFloat(m.LiquidityB)
		quote, err := pricing.QuoteSellByShares(qYes, qNo, b, FeeRate, side, money.ToFloat(req.Shares))
		if err != nil {
			return err
		}

		netReturn := money.FromFloat(quote.NetReturn)
		tradeID := uuid.NewString()

		if _, err := u.Ledger.CreditForTrade(ctx, req.WalletID, netReturn, tradeID); err != nil {
			return err
		}

		oldQYes, oldQNo := m.QYes, m.QNo
		newQYes, newQNo := money.FromFloat(quote.NewQYes), money.FromFloat(quote.NewQNo)
		if err := u.Market.ApplyTradeDelta(ctx, m, newQYes, newQNo, netReturn); err != nil {
			return err
		}

		if _, err := u.Position.ApplySell(ctx, req.UserID, req.MarketID, req.Side, req.Shares); err != nil {
			return err
		}

		t := db.Trade{
			ID: tradeID, UserID: req.UserID, MarketID: req.MarketID,
			Type: db.TradeSell, Side: req.Side,
			Shares: money.Round(req.Shares), Price: money.FromFloat(quote.AvgPrice),
			Cost: netReturn, Fee: money.FromFloat(quote.Fee),
			QYesBefore: oldQYes, QNoBefore: oldQNo, QYesAfter: newQYes, QNoAfter: newQNo,
		}
		if err := db.RecordTrade(ctx, u.Tx, t); err != nil {
			return fmt.Errorf("record trade: %w", err)
		}
		trade = &t
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.publish(events.EventTradeExecuted, events.TradeExecutedPayload{TradeID: trade.ID, UserID: trade.UserID, MarketID: trade.MarketID})
	return trade, nil
}

func (e *Executor) publish(ev events.Event, payload any) {
	if e.Bus != nil {
		e.Bus.Publish(ev, payload)
	}
}

func toPricingSide(s db.TradeSide) pricing.Side {
	if s == db.SideNo {
		return pricing.No
	}
	return pricing.Yes
}
