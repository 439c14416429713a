package pricing

import (
	"math"
	"testing"

	"predimarket/internal/errs"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestPriceFreshMarketIsHalf(t *testing.T) {
	pYes, pNo := Price(0, 0, 1000)
	if pYes != 0.5 || pNo != 0.5 {
		t.Fatalf("fresh market price = (%v, %v), want (0.5, 0.5)", pYes, pNo)
	}
}

func TestPriceSumsToOne(t *testing.T) {
	cases := [][2]float64{{0, 0}, {50, 10}, {1000, 1}, {5, 5000}}
	for _, c := range cases {
		pYes, pNo := Price(c[0], c[1], 1000)
		if !almostEqual(pYes+pNo, 1, 1e-9) {
			t.Fatalf("Price(%v,%v) sums to %v, want 1", c[0], c[1], pYes+pNo)
		}
	}
}

// S1: first buy on a fresh market, b=1000, buy yes amount=10.
//
// The spec's illustrative S1 figure (~19.8013 shares) is inconsistent with
// its own formula: spending 10 bounds raw cost at 10/1.02=9.8039, and since
// yes price only rises from 0.5 that bounds shares below 9.8039/0.5=19.61.
// The value below is what bisecting raw_cost(delta) to 9.8039 actually
// yields.
func TestQuoteBuyByAmountScenarioS1(t *testing.T) {
	q, err := QuoteBuyByAmount(0, 0, 1000, 0.02, Yes, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(q.Shares, 19.5127, 1e-2) {
		t.Fatalf("shares = %v, want ~19.5127", q.Shares)
	}
	if !almostEqual(q.AvgPrice, 0.5125, 1e-2) {
		t.Fatalf("avg price = %v, want ~0.5125", q.AvgPrice)
	}
	if !almostEqual(q.TotalCost, 10, 1e-2) {
		t.Fatalf("total cost = %v, want ~10", q.TotalCost)
	}
	wantFee := 10 * 0.02 / 1.02
	if !almostEqual(q.Fee, wantFee, 1e-3) {
		t.Fatalf("fee = %v, want ~%v", q.Fee, wantFee)
	}
}

// S2: round-trip sell returns the AMM to its initial state at fee_rate=0.
func TestBuyThenSellRoundTripZeroFee(t *testing.T) {
	buy, err := QuoteBuyByShares(0, 0, 1000, 0, Yes, 19.8013)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	sell, err := QuoteSellByShares(buy.NewQYes, buy.NewQNo, 1000, 0, Yes, 19.8013)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if !almostEqual(sell.NewQYes, 0, 1e-4) || !almostEqual(sell.NewQNo, 0, 1e-9) {
		t.Fatalf("round trip left state at (%v, %v), want (0, 0)", sell.NewQYes, sell.NewQNo)
	}
	if !almostEqual(sell.NetReturn, buy.RawCost, 1e-3) {
		t.Fatalf("net return = %v, want ~= raw cost %v", sell.NetReturn, buy.RawCost)
	}
}

func TestQuoteSellExceedingSideIsInvalidTrade(t *testing.T) {
	_, err := QuoteSellByShares(10, 0, 1000, 0.02, Yes, 20)
	if err == nil {
		t.Fatal("expected error for selling more shares than q on that side")
	}
	if !errs.Is(err, errs.InvalidTrade) {
		t.Fatalf("expected InvalidTrade, got %v", err)
	}
}

func TestQuoteBuyByAmountNonPositive(t *testing.T) {
	_, err := QuoteBuyByAmount(0, 0, 1000, 0.02, Yes, 0)
	if !errs.Is(err, errs.InvalidTrade) {
		t.Fatalf("expected InvalidTrade, got %v", err)
	}
}

func TestQuoteBuyBySharesMatchesAmountInversion(t *testing.T) {
	byAmount, err := QuoteBuyByAmount(0, 0, 1000, 0.02, Yes, 25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byShares, err := QuoteBuyByShares(0, 0, 1000, 0.02, Yes, byAmount.Shares)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(byShares.TotalCost, byAmount.TotalCost, 1e-2) {
		t.Fatalf("cost mismatch: by-amount=%v by-shares=%v", byAmount.TotalCost, byShares.TotalCost)
	}
}
