// Package analytics computes the platform reporting surface described in
// spec §4.7: fee revenue windows, per-market AMM profit/loss, unsettled
// exposure and the leaderboard of fee-contributing traders. It reads the
// same tables the trading path writes and never mutates them.
package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"predimarket/internal/money"
	"predimarket/pkg/cache"
	"predimarket/pkg/db"
)

// reportCacheTTL bounds how stale a cached aggregate report can be; it
// trades a few seconds of staleness on the admin dashboard for not re-
// scanning trades/wallet_transactions on every poll.
const reportCacheTTL = 5 * time.Second

// Service computes reporting aggregates against a database handle.
type Service struct {
	DB    *db.Database
	cache *cache.ShardedCache
}

// New builds an analytics Service.
func New(database *db.Database) *Service {
	return &Service{DB: database, cache: cache.NewShardedCache(reportCacheTTL)}
}

// FeeWindowReport summarizes platform fee revenue over a named window.
// Window boundaries are computed in UTC (spec §9 Open Question 4: a single
// global clock avoids ambiguity for a platform with no per-user locale).
type FeeWindowReport struct {
	Window    string
	Since     time.Time
	TotalFee  decimal.Decimal
	TotalCost decimal.Decimal
	Trades    int
}

// FeeWindows returns today/week/month fee totals as of now.
func (s *Service) FeeWindows(ctx context.Context, now time.Time) ([]FeeWindowReport, error) {
	const cacheKey = "fee_windows"
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.([]FeeWindowReport), nil
	}

	now = now.UTC()
	windows := []struct {
		name  string
		since time.Time
	}{
		{"today", time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)},
		{"week", now.AddDate(0, 0, -7)},
		{"month", now.AddDate(0, -1, 0)},
	}

	reports := make([]FeeWindowReport, 0, len(windows))
	for _, w := range windows {
		trades, err := db.ListTradesSince(ctx, s.DB.DB, w.since)
		if err != nil {
			return nil, fmt.Errorf("list trades since %s: %w", w.name, err)
		}
		totalFee, totalCost := money.Zero, money.Zero
		for _, t := range trades {
			totalFee = totalFee.Add(t.Fee)
			totalCost = totalCost.Add(t.Cost.Abs())
		}
		reports = append(reports, FeeWindowReport{
			Window: w.name, Since: w.since,
			TotalFee: money.Round(totalFee), TotalCost: money.Round(totalCost),
			Trades: len(trades),
		})
	}
	s.cache.Set(cacheKey, reports)
	return reports, nil
}

// MarketPnL reconciles a single market's AMM book (spec §4.7). cost is always
// stored as a positive magnitude on both buy and sell trades (money paid in
// on a buy, money paid out net of fee on a sell), so buy_volume and
// sell_volume net out directly from the trade log without sign juggling.
type MarketPnL struct {
	MarketID         string
	BuyVolume        decimal.Decimal // sum(cost - fee) over buy trades: net cash the AMM received
	SellVolume       decimal.Decimal // sum(cost) over sell trades: cash the AMM paid out
	TotalFees        decimal.Decimal
	SettlementPayout decimal.Decimal // sum of winning_shares paid out; meaningful only once resolved
	PnL              decimal.Decimal // buy_volume - sell_volume - settlement_payout
}

// ReconcileMarket computes MarketPnL for one market.
func (s *Service) ReconcileMarket(ctx context.Context, marketID string) (*MarketPnL, error) {
	trades, err := db.ListTradesByMarket(ctx, s.DB.DB, marketID, 100000, 0)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	buyVolume, sellVolume, totalFees := money.Zero, money.Zero, money.Zero
	for _, t := range trades {
		totalFees = totalFees.Add(t.Fee)
		switch t.Type {
		case db.TradeBuy:
			buyVolume = buyVolume.Add(t.Cost.Sub(t.Fee))
		case db.TradeSell:
			sellVolume = sellVolume.Add(t.Cost)
		}
	}

	settlementPayout, err := settlementOutflow(ctx, s.DB, marketID)
	if err != nil {
		return nil, err
	}

	pnl := money.Round(buyVolume.Sub(sellVolume).Sub(settlementPayout))

	return &MarketPnL{
		MarketID: marketID, BuyVolume: money.Round(buyVolume), SellVolume: money.Round(sellVolume),
		TotalFees: money.Round(totalFees), SettlementPayout: money.Round(settlementPayout),
		PnL: pnl,
	}, nil
}

func settlementOutflow(ctx context.Context, database *db.Database, marketID string) (decimal.Decimal, error) {
	rows, err := database.DB.QueryContext(ctx, `
		SELECT wt.amount FROM wallet_transactions wt
		WHERE wt.kind = ? AND wt.reference_id = ?
	`, string(db.TxSettlement), marketID)
	if err != nil {
		return money.Zero, fmt.Errorf("query settlement outflow: %w", err)
	}
	defer rows.Close()

	total := money.Zero
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return money.Zero, err
		}
		d, parseErr := decimal.NewFromString(amount)
		if parseErr != nil {
			continue
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// UnsettledExposure reports, per unresolved market, the platform's worst-case
// payout if that market resolves either way.
type UnsettledExposure struct {
	MarketID  string
	YesLiable decimal.Decimal
	NoLiable  decimal.Decimal
	WorstCase decimal.Decimal
}

// UnsettledExposureReport is the platform's aggregate worst-case payout
// obligation across every market that hasn't resolved yet (spec §4.7).
type UnsettledExposureReport struct {
	TotalExposure decimal.Decimal
	TopMarkets    []UnsettledExposure
}

// UnsettledExposures sums worst-case exposure across every draft, active or
// suspended market and returns the top-N by exposure, sorted descending.
func (s *Service) UnsettledExposures(ctx context.Context, topN int) (*UnsettledExposureReport, error) {
	markets, err := db.ListMarkets(ctx, s.DB.DB, "", "", 10000, 0)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	var all []UnsettledExposure
	total := money.Zero
	for _, m := range markets {
		if m.Status != db.MarketDraft && m.Status != db.MarketActive && m.Status != db.MarketSuspended {
			continue
		}
		exp, err := db.SumExposureByMarket(ctx, s.DB.DB, m.ID)
		if err != nil {
			return nil, fmt.Errorf("sum exposure for %s: %w", m.ID, err)
		}
		worst := exp.TotalYes
		if exp.TotalNo.GreaterThan(worst) {
			worst = exp.TotalNo
		}
		worst = money.Round(worst)
		total = total.Add(worst)
		all = append(all, UnsettledExposure{
			MarketID: m.ID, YesLiable: money.Round(exp.TotalYes), NoLiable: money.Round(exp.TotalNo),
			WorstCase: worst,
		})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].WorstCase.GreaterThan(all[j].WorstCase) })
	if topN > 0 && len(all) > topN {
		all = all[:topN]
	}

	return &UnsettledExposureReport{TotalExposure: money.Round(total), TopMarkets: all}, nil
}

// FeeContributors returns the top fee-paying traders since a time cutoff
// (spec §4.7 leaderboard).
func (s *Service) FeeContributors(ctx context.Context, since time.Time) ([]db.FeeContributorRow, error) {
	return db.SumFeesByUserSince(ctx, s.DB.DB, since)
}

// DashboardStats is the admin landing-page summary (spec §6.1 "Admin:
// dashboard stats"): headline counts a dashboard polls on every load.
type DashboardStats struct {
	TotalUsers      int
	TotalWallets    decimal.Decimal
	MarketsByStatus map[db.MarketStatus]int
	TradesToday     int
}

// Dashboard computes DashboardStats as of now.
func (s *Service) Dashboard(ctx context.Context, now time.Time) (*DashboardStats, error) {
	now = now.UTC()
	var totalUsers int
	if err := s.DB.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&totalUsers); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	totalWallets, err := sumWalletBalances(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM markets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count markets by status: %w", err)
	}
	defer rows.Close()
	byStatus := make(map[db.MarketStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		byStatus[db.MarketStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	todaysTrades, err := db.ListTradesSince(ctx, s.DB.DB, since)
	if err != nil {
		return nil, fmt.Errorf("list trades today: %w", err)
	}

	return &DashboardStats{
		TotalUsers: totalUsers, TotalWallets: money.Round(totalWallets),
		MarketsByStatus: byStatus, TradesToday: len(todaysTrades),
	}, nil
}

func sumWalletBalances(ctx context.Context, database *db.Database) (decimal.Decimal, error) {
	rows, err := database.DB.QueryContext(ctx, `SELECT balance FROM wallets`)
	if err != nil {
		return money.Zero, fmt.Errorf("query wallet balances: %w", err)
	}
	defer rows.Close()

	total := money.Zero
	for rows.Next() {
		var balance string
		if err := rows.Scan(&balance); err != nil {
			return money.Zero, err
		}
		d, parseErr := decimal.NewFromString(balance)
		if parseErr != nil {
			continue
		}
		total = total.Add(d)
	}
	return total, rows.Err()
}

// PlatformPnLSummary is the platform-wide profit reconciliation (spec §4.7):
// total_profit = total_fees + resolved_AMM_pnl. TotalCashFlow is a secondary
// exposure (buy_volume - sell_volume across every market, settlement
// ignored) useful for spotting AMM pools that are bleeding before they
// resolve.
type PlatformPnLSummary struct {
	TotalFees      decimal.Decimal
	ResolvedAMMPnL decimal.Decimal
	TotalCashFlow  decimal.Decimal
	TotalProfit    decimal.Decimal
}

// PlatformProfit computes total_fees + resolved_AMM_pnl across every market,
// logging the headline number the way the rest of the codebase logs periodic
// operational summaries.
func (s *Service) PlatformProfit(ctx context.Context) (*PlatformPnLSummary, error) {
	const cacheKey = "platform_profit"
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(*PlatformPnLSummary), nil
	}

	markets, err := db.ListMarkets(ctx, s.DB.DB, "", "", 10000, 0)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	totalFees, resolvedPnL, cashFlow := money.Zero, money.Zero, money.Zero
	for _, m := range markets {
		pnl, err := s.ReconcileMarket(ctx, m.ID)
		if err != nil {
			return nil, fmt.Errorf("reconcile market %s: %w", m.ID, err)
		}
		totalFees = totalFees.Add(pnl.TotalFees)
		cashFlow = cashFlow.Add(pnl.BuyVolume.Sub(pnl.SellVolume))
		if m.Status == db.MarketResolved {
			resolvedPnL = resolvedPnL.Add(pnl.PnL)
		}
	}

	result := &PlatformPnLSummary{
		TotalFees:      money.Round(totalFees),
		ResolvedAMMPnL: money.Round(resolvedPnL),
		TotalCashFlow:  money.Round(cashFlow),
		TotalProfit:    money.Round(totalFees.Add(resolvedPnL)),
	}
	log.Printf("📊 platform profit across %d markets: %s", len(markets), result.TotalProfit.String())
	s.cache.Set(cacheKey, result)
	return result, nil
}
