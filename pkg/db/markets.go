package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus enumerates the lifecycle states of a market (spec §4.5).
type MarketStatus string

const (
	MarketDraft     MarketStatus = "draft"
	MarketActive    MarketStatus = "active"
	MarketSuspended MarketStatus = "suspended"
	MarketResolved  MarketStatus = "resolved"
	MarketCancelled MarketStatus = "cancelled"
)

// Outcome is the winning side recorded at resolution.
type Outcome string

const (
	OutcomeYes Outcome = "yes"
	OutcomeNo  Outcome = "no"
)

// Market is a binary LMSR-backed prediction market.
type Market struct {
	ID                string
	Title             string
	Description       string
	Category          string
	ImageURL          string
	ResolutionSource  string
	Status            MarketStatus
	Outcome           *Outcome
	QYes              decimal.Decimal
	QNo               decimal.Decimal
	LiquidityB        decimal.Decimal
	Volume            decimal.Decimal
	StartTime         time.Time
	EndTime           time.Time
	ResolvedAt        *time.Time
	CreatorID         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateMarket inserts a new market in MarketDraft status.
func CreateMarket(ctx context.Context, ex Execer, m Market) error {
	now := time.Now().UTC()
	createdAt, updatedAt := m.CreatedAt, m.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO markets (
			id, title, description, category, image_url, resolution_source, status,
			q_yes, q_no, liquidity_b, volume, start_time, end_time, creator_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, m.ID, m.Title, m.Description, m.Category, m.ImageURL, m.ResolutionSource, string(m.Status),
		m.QYes.String(), m.QNo.String(), m.LiquidityB.String(), m.Volume.String(),
		m.StartTime, m.EndTime, m.CreatorID, createdAt, updatedAt)
	return err
}

func scanMarket(row *sql.Row) (*Market, error) {
	var m Market
	var status, qYes, qNo, b, volume string
	var outcome, resolvedAt sql.NullString
	if err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.Category, &m.ImageURL, &m.ResolutionSource, &status, &outcome,
		&qYes, &qNo, &b, &volume, &m.StartTime, &m.EndTime, &resolvedAt, &m.CreatorID, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	m.Status = MarketStatus(status)
	if outcome.Valid {
		o := Outcome(outcome.String)
		m.Outcome = &o
	}
	m.QYes = dec(qYes)
	m.QNo = dec(qNo)
	m.LiquidityB = dec(b)
	m.Volume = dec(volume)
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err == nil {
			m.ResolvedAt = &t
		}
	}
	return &m, nil
}

const marketColumns = `
	id, title, description, category, image_url, resolution_source, status, outcome,
	q_yes, q_no, liquidity_b, volume, start_time, end_time, resolved_at, creator_id, created_at, updated_at
`

// GetMarketByID returns a market, or nil if not found.
func GetMarketByID(ctx context.Context, ex Execer, id string) (*Market, error) {
	row := ex.QueryRowContext(ctx, `SELECT `+marketColumns+` FROM markets WHERE id = ?`, id)
	return scanMarket(row)
}

// GetMarketForUpdate reads a market inside a transaction ahead of a
// compare-and-set AMM state write; see the note on GetWalletForUpdate.
func GetMarketForUpdate(ctx context.Context, tx *sql.Tx, id string) (*Market, error) {
	return GetMarketByID(ctx, tx, id)
}

// ListMarkets returns markets filtered by status and/or category (either may
// be empty to skip that filter), newest-first, paginated.
func ListMarkets(ctx context.Context, ex Execer, status MarketStatus, category string, limit, offset int) ([]Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func scanMarketRow(rows *sql.Rows) (*Market, error) {
	var m Market
	var status, qYes, qNo, b, volume string
	var outcome, resolvedAt sql.NullString
	if err := rows.Scan(
		&m.ID, &m.Title, &m.Description, &m.Category, &m.ImageURL, &m.ResolutionSource, &status, &outcome,
		&qYes, &qNo, &b, &volume, &m.StartTime, &m.EndTime, &resolvedAt, &m.CreatorID, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	m.Status = MarketStatus(status)
	if outcome.Valid {
		o := Outcome(outcome.String)
		m.Outcome = &o
	}
	m.QYes = dec(qYes)
	m.QNo = dec(qNo)
	m.LiquidityB = dec(b)
	m.Volume = dec(volume)
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err == nil {
			m.ResolvedAt = &t
		}
	}
	return &m, nil
}

// UpdateMarketStatus transitions a market's status. Validation of whether the
// transition is legal belongs to internal/market; this is the raw write.
func UpdateMarketStatus(ctx context.Context, ex Execer, id string, status MarketStatus) error {
	_, err := ex.ExecContext(ctx, `UPDATE markets SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, string(status), id)
	return err
}

// ResolveMarket marks a market resolved with its winning outcome.
func ResolveMarket(ctx context.Context, ex Execer, id string, outcome Outcome, resolvedAt time.Time) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE markets SET status = ?, outcome = ?, resolved_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`, string(MarketResolved), string(outcome), resolvedAt, id)
	return err
}

// UpdateMarketAMMState writes the new (qYes, qNo, volume) after a trade, using
// the pre-trade (qYes, qNo) as the optimistic compare-and-set guard.
func UpdateMarketAMMState(ctx context.Context, ex Execer, id string, expectedQYes, expectedQNo, newQYes, newQNo, newVolume decimal.Decimal) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE markets SET q_yes = ?, q_no = ?, volume = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND q_yes = ? AND q_no = ?
	`, newQYes.String(), newQNo.String(), newVolume.String(), id, expectedQYes.String(), expectedQNo.String())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListCategories returns the distinct, non-empty categories in use.
func ListCategories(ctx context.Context, ex Execer) ([]string, error) {
	rows, err := ex.QueryContext(ctx, `SELECT DISTINCT category FROM markets WHERE category != '' ORDER BY category ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListMarketsPastEndTime returns active/suspended markets whose end_time has
// passed, oldest end_time first (spec §4.5).
func ListMarketsPastEndTime(ctx context.Context, ex Execer, asOf time.Time) ([]Market, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+marketColumns+` FROM markets
		WHERE status IN (?, ?) AND end_time <= ?
		ORDER BY end_time ASC
	`, string(MarketActive), string(MarketSuspended), asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Market
	for rows.Next() {
		m, err := scanMarketRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
