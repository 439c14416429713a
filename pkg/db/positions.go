package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Position is a user's volume-weighted-average holding in one market
// (spec §4.3).
type Position struct {
	ID          string
	UserID      string
	MarketID    string
	YesShares   decimal.Decimal
	NoShares    decimal.Decimal
	AvgYesPrice decimal.Decimal
	AvgNoPrice  decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const positionColumns = `
	id, user_id, market_id, yes_shares, no_shares, avg_yes_price, avg_no_price, created_at, updated_at
`

func scanPosition(row *sql.Row) (*Position, error) {
	var p Position
	var yes, no, avgYes, avgNo string
	if err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &yes, &no, &avgYes, &avgNo, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.YesShares = dec(yes)
	p.NoShares = dec(no)
	p.AvgYesPrice = dec(avgYes)
	p.AvgNoPrice = dec(avgNo)
	return &p, nil
}

// GetPosition returns a user's position in a market, or nil if they have
// never traded it.
func GetPosition(ctx context.Context, ex Execer, userID, marketID string) (*Position, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT `+positionColumns+` FROM positions WHERE user_id = ? AND market_id = ?
	`, userID, marketID)
	return scanPosition(row)
}

// GetPositionForUpdate reads a position ahead of a compare-and-set write; see
// the note on GetWalletForUpdate.
func GetPositionForUpdate(ctx context.Context, tx *sql.Tx, userID, marketID string) (*Position, error) {
	return GetPosition(ctx, tx, userID, marketID)
}

// UpsertPosition inserts a fresh position row, or overwrites the existing one
// for (userID, marketID) if present. Callers compute the new share/average
// values (internal/position); this is the raw write.
func UpsertPosition(ctx context.Context, ex Execer, p Position) error {
	now := time.Now().UTC()
	createdAt, updatedAt := p.CreatedAt, p.UpdatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if updatedAt.IsZero() {
		updatedAt = now
	}
	_, err := ex.ExecContext(ctx, `
		INSERT INTO positions (id, user_id, market_id, yes_shares, no_shares, avg_yes_price, avg_no_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(user_id, market_id) DO UPDATE SET
			yes_shares = excluded.yes_shares,
			no_shares = excluded.no_shares,
			avg_yes_price = excluded.avg_yes_price,
			avg_no_price = excluded.avg_no_price,
			updated_at = CURRENT_TIMESTAMP
	`, p.ID, p.UserID, p.MarketID, p.YesShares.String(), p.NoShares.String(),
		p.AvgYesPrice.String(), p.AvgNoPrice.String(), createdAt, updatedAt)
	return err
}

// ListPositionsByUser returns all of a user's positions, newest-first.
func ListPositionsByUser(ctx context.Context, ex Execer, userID string, limit, offset int) ([]Position, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions WHERE user_id = ?
		ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

// ListPositionsByMarket returns every position held in a market, used by
// settlement to walk and pay out all holders (spec §4.6).
func ListPositionsByMarket(ctx context.Context, ex Execer, marketID string, limit, offset int) ([]Position, error) {
	rows, err := ex.QueryContext(ctx, `
		SELECT `+positionColumns+` FROM positions
		WHERE market_id = ? AND (yes_shares != '0' OR no_shares != '0')
		ORDER BY id ASC LIMIT ? OFFSET ?
	`, marketID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPositions(rows)
}

func scanPositions(rows *sql.Rows) ([]Position, error) {
	var out []Position
	for rows.Next() {
		var p Position
		var yes, no, avgYes, avgNo string
		if err := rows.Scan(&p.ID, &p.UserID, &p.MarketID, &yes, &no, &avgYes, &avgNo, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.YesShares = dec(yes)
		p.NoShares = dec(no)
		p.AvgYesPrice = dec(avgYes)
		p.AvgNoPrice = dec(avgNo)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarketExposure holds the shares outstanding on each side of one market, as
// summed by SumExposureByMarket (used by analytics to compute unsettled
// exposure, spec §4.7). SumExposureByMarket sums every position in the given
// market and applies no market-status filter.
type MarketExposure struct {
	MarketID    string
	TotalYes    decimal.Decimal
	TotalNo     decimal.Decimal
}

func SumExposureByMarket(ctx context.Context, ex Execer, marketID string) (MarketExposure, error) {
	row := ex.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CAST(yes_shares AS REAL)), 0), COALESCE(SUM(CAST(no_shares AS REAL)), 0)
		FROM positions WHERE market_id = ?
	`, marketID)
	var yes, no float64
	if err := row.Scan(&yes, &no); err != nil {
		return MarketExposure{}, err
	}
	return MarketExposure{
		MarketID: marketID,
		TotalYes: decimal.NewFromFloat(yes),
		TotalNo:  decimal.NewFromFloat(no),
	}, nil
}
