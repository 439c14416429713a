package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// TradeType distinguishes a buy from a sell (spec §4.4).
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// TradeSide is the outcome side a trade acts on.
type TradeSide string

const (
	SideYes TradeSide = "yes"
	SideNo  TradeSide = "no"
)

// Trade is an executed buy or sell against a market's LMSR pool.
type Trade struct {
	ID          string
	UserID      string
	MarketID    string
	Type        TradeType
	Side        TradeSide
	Shares      decimal.Decimal
	Price       decimal.Decimal // average execution price
	Cost        decimal.Decimal // positive magnitude: buy outlay including fee, or sell net proceeds
	Fee         decimal.Decimal
	QYesBefore  decimal.Decimal
	QNoBefore   decimal.Decimal
	QYesAfter   decimal.Decimal
	QNoAfter    decimal.Decimal
	CreatedAt   time.Time
}

const tradeColumns = `
	id, user_id, market_id, type, side, shares, price, cost, fee,
	q_yes_before, q_no_before, q_yes_after, q_no_after, created_at
`

// RecordTrade inserts the executed-trade audit row.
func RecordTrade(ctx context.Context, ex Execer, t Trade) error {
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO trades (
			id, user_id, market_id, type, side, shares, price, cost, fee,
			q_yes_before, q_no_before, q_yes_after, q_no_after, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.UserID, t.MarketID, string(t.Type), string(t.Side),
		t.Shares.String(), t.Price.String(), t.Cost.String(), t.Fee.String(),
		t.QYesBefore.String(), t.QNoBefore.String(), t.QYesAfter.String(), t.QNoAfter.String(), createdAt)
	return err
}

func scanTradeRow(rows *sql.Rows) (*Trade, error) {
	var t Trade
	var typ, side, shares, price, cost, fee, qYesBefore, qNoBefore, qYesAfter, qNoAfter string
	if err := rows.Scan(
		&t.ID, &t.UserID, &t.MarketID, &typ, &side, &shares, &price, &cost, &fee,
		&qYesBefore, &qNoBefore, &qYesAfter, &qNoAfter, &t.CreatedAt,
	); err != nil {
		return nil, err
	}
	t.Type = TradeType(typ)
	t.Side = TradeSide(side)
	t.Shares = dec(shares)
	t.Price = dec(price)
	t.Cost = dec(cost)
	t.Fee = dec(fee)
	t.QYesBefore = dec(qYesBefore)
	t.QNoBefore = dec(qNoBefore)
	t.QYesAfter = dec(qYesAfter)
	t.QNoAfter = dec(qNoAfter)
	return &t, nil
}

// GetTradeByID returns a single trade, or nil if not found.
func GetTradeByID(ctx context.Context, ex Execer, id string) (*Trade, error) {
	rows, err := ex.QueryContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	t, err := scanTradeRow(rows)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTradesByUser returns a user's trades, newest-first, paginated.
func ListTradesByUser(ctx context.Context, ex Execer, userID string, limit, offset int) ([]Trade, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListTradesByMarket returns a market's trades, newest-first, paginated.
func ListTradesByMarket(ctx context.Context, ex Execer, marketID string, limit, offset int) ([]Trade, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades WHERE market_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?
	`, marketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

// ListTradesSince returns every trade created at or after since, used by the
// analytics fee-window computations (spec §4.7).
func ListTradesSince(ctx context.Context, ex Execer, since time.Time) ([]Trade, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+tradeColumns+` FROM trades WHERE created_at >= ? ORDER BY created_at ASC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]Trade, error) {
	var out []Trade
	for rows.Next() {
		t, err := scanTradeRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// SumFeesByUserSince aggregates fee/cost contribution per user since a time
// cutoff (spec §4.7 "fee contributors").
func SumFeesByUserSince(ctx context.Context, ex Execer, since time.Time) ([]FeeContributorRow, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT u.id, u.email, u.username,
			COALESCE(SUM(CAST(t.fee AS REAL)), 0),
			COALESCE(SUM(CAST(t.cost AS REAL)), 0),
			COUNT(t.id)
		FROM users u
		JOIN trades t ON t.user_id = u.id
		WHERE t.created_at >= ?
		GROUP BY u.id, u.email, u.username
		ORDER BY SUM(CAST(t.fee AS REAL)) DESC
	`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FeeContributorRow
	for rows.Next() {
		var r FeeContributorRow
		var fee, cost float64
		if err := rows.Scan(&r.UserID, &r.Email, &r.Username, &fee, &cost, &r.Trades); err != nil {
			return nil, err
		}
		r.TotalFee = decimal.NewFromFloat(fee)
		r.TotalCost = decimal.NewFromFloat(cost)
		out = append(out, r)
	}
	return out, rows.Err()
}
