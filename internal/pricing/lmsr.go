// Package pricing implements the Hanson Logarithmic Market Scoring Rule
// (LMSR) cost function and the buy/sell quote operations described in
// spec §4.1. It is a pure, stateless value type: the liquidity parameter b
// and the fee rate are passed in on every call rather than held as global
// state (design note: "Singleton pricing utility").
package pricing

import (
	"math"

	"predimarket/internal/errs"
)

// Side identifies which outcome a quote or trade concerns.
type Side string

const (
	Yes Side = "yes"
	No  Side = "no"
)

// bisection tuning from spec §4.1 / Open Question 1.
const (
	bisectionIterations = 100
	bisectionTolerance  = 1e-4
	bisectionUpperMult  = 10
)

func round6(f float64) float64 {
	return math.Round(f*1e6) / 1e6
}

// Cost evaluates the LMSR cost function C(qYes, qNo; b) using the
// log-sum-exp trick for numerical stability near equal q's.
func Cost(qYes, qNo, b float64) float64 {
	maxQ := math.Max(qYes, qNo)
	return b*maxQ/b + b*math.Log(math.Exp((qYes-maxQ)/b)+math.Exp((qNo-maxQ)/b))
}

// Price returns the instantaneous (pYes, pNo) prices; pYes+pNo == 1 always.
func Price(qYes, qNo, b float64) (pYes, pNo float64) {
	maxQ := math.Max(qYes, qNo)
	expYes := math.Exp((qYes - maxQ) / b)
	expNo := math.Exp((qNo - maxQ) / b)
	pYes = expYes / (expYes + expNo)
	return pYes, 1 - pYes
}

func applyDelta(qYes, qNo float64, side Side, delta float64) (newQYes, newQNo float64) {
	if side == Yes {
		return qYes + delta, qNo
	}
	return qYes, qNo + delta
}

// BuyQuote is the result of quoting a buy, whether entered by shares or by
// amount of currency.
type BuyQuote struct {
	Shares      float64
	RawCost     float64
	Fee         float64
	TotalCost   float64
	AvgPrice    float64
	NewQYes     float64
	NewQNo      float64
	PriceImpact float64
}

// SellQuote is the result of quoting a sell of a known number of shares.
type SellQuote struct {
	Shares      float64
	RawReturn   float64
	Fee         float64
	NetReturn   float64
	AvgPrice    float64
	NewQYes     float64
	NewQNo      float64
	PriceImpact float64
}

// QuoteBuyByShares prices a buy of exactly `shares` units of `side`.
func QuoteBuyByShares(qYes, qNo, b, feeRate float64, side Side, shares float64) (BuyQuote, error) {
	if shares <= 0 {
		return BuyQuote{}, errs.New(errs.InvalidTrade, "shares must be positive")
	}

	oldPriceYes, oldPriceNo := Price(qYes, qNo, b)
	oldPrice := oldPriceYes
	if side == No {
		oldPrice = oldPriceNo
	}

	newQYes, newQNo := applyDelta(qYes, qNo, side, shares)
	rawCost := Cost(newQYes, newQNo, b) - Cost(qYes, qNo, b)
	totalCost := rawCost * (1 + feeRate)
	fee := rawCost * feeRate
	avgPrice := totalCost / shares

	newPriceYes, newPriceNo := Price(newQYes, newQNo, b)
	newPrice := newPriceYes
	if side == No {
		newPrice = newPriceNo
	}

	impact := 0.0
	if oldPrice != 0 {
		impact = math.Abs(newPrice-oldPrice) / oldPrice
	}

	return BuyQuote{
		Shares:      round6(shares),
		RawCost:     round6(rawCost),
		Fee:         round6(fee),
		TotalCost:   round6(totalCost),
		AvgPrice:    round6(avgPrice),
		NewQYes:     round6(newQYes),
		NewQNo:      round6(newQNo),
		PriceImpact: round6(impact),
	}, nil
}

// QuoteSellByShares prices a sell of exactly `shares` units of `side`.
// The shares sold must not exceed the current q on that side.
func QuoteSellByShares(qYes, qNo, b, feeRate float64, side Side, shares float64) (SellQuote, error) {
	if shares <= 0 {
		return SellQuote{}, errs.New(errs.InvalidTrade, "shares must be positive")
	}
	current := qYes
	if side == No {
		current = qNo
	}
	if shares > current {
		return SellQuote{}, errs.New(errs.InvalidTrade, "sell would take AMM side negative")
	}

	oldPriceYes, oldPriceNo := Price(qYes, qNo, b)
	oldPrice := oldPriceYes
	if side == No {
		oldPrice = oldPriceNo
	}

	newQYes, newQNo := applyDelta(qYes, qNo, side, -shares)
	rawReturn := Cost(qYes, qNo, b) - Cost(newQYes, newQNo, b)
	if rawReturn <= 0 {
		return SellQuote{}, errs.New(errs.InvalidTrade, "sell raw return must be positive")
	}
	netReturn := rawReturn * (1 - feeRate)
	fee := rawReturn * feeRate
	avgPrice := netReturn / shares

	newPriceYes, newPriceNo := Price(newQYes, newQNo, b)
	newPrice := newPriceYes
	if side == No {
		newPrice = newPriceNo
	}
	impact := 0.0
	if oldPrice != 0 {
		impact = math.Abs(newPrice-oldPrice) / oldPrice
	}

	return SellQuote{
		Shares:      round6(shares),
		RawReturn:   round6(rawReturn),
		Fee:         round6(fee),
		NetReturn:   round6(netReturn),
		AvgPrice:    round6(avgPrice),
		NewQYes:     round6(newQYes),
		NewQNo:      round6(newQNo),
		PriceImpact: round6(impact),
	}, nil
}

// QuoteBuyByAmount inverts QuoteBuyByShares: it finds, via bisection over
// [0, amount*10], the number of shares whose raw cost is within the bisection
// tolerance of amount/(1+feeRate). The quote charges exactly `amount`:
// TotalCost is amount, RawCost is amount/(1+feeRate) and Fee is the
// difference. Non-convergence after 100 iterations is
// surfaced as InvalidTrade rather than silently returning the midpoint
// (spec §9 Open Question 1).
func QuoteBuyByAmount(qYes, qNo, b, feeRate float64, side Side, amount float64) (BuyQuote, error) {
	if amount <= 0 {
		return BuyQuote{}, errs.New(errs.InvalidTrade, "amount must be positive")
	}

	target := amount / (1 + feeRate) // the raw_cost we're searching for
	low, high := 0.0, amount*bisectionUpperMult

	rawCostAt := func(shares float64) float64 {
		if shares <= 0 {
			return 0
		}
		newQYes, newQNo := applyDelta(qYes, qNo, side, shares)
		return Cost(newQYes, newQNo, b) - Cost(qYes, qNo, b)
	}

	var mid float64
	converged := false
	for i := 0; i < bisectionIterations; i++ {
		mid = (low + high) / 2
		c := rawCostAt(mid)
		if math.Abs(c-target) < bisectionTolerance {
			converged = true
			break
		}
		if c < target {
			low = mid
		} else {
			high = mid
		}
	}
	if !converged {
		c := rawCostAt(mid)
		if math.Abs(c-target) >= bisectionTolerance {
			return BuyQuote{}, errs.New(errs.InvalidTrade, "buy-by-amount quote did not converge")
		}
	}
	if mid <= 0 {
		return BuyQuote{}, errs.New(errs.InvalidTrade, "amount too small to buy any shares")
	}

	q, err := QuoteBuyByShares(qYes, qNo, b, feeRate, side, mid)
	if err != nil {
		return BuyQuote{}, err
	}
	q.RawCost = round6(target)
	q.Fee = round6(target * feeRate)
	q.TotalCost = round6(amount)
	q.AvgPrice = round6(amount / mid)
	return q, nil
}
