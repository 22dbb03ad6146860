package risk

import (
	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RULE EVALUATOR - Pure exit-condition and watch-threshold checks
// ═══════════════════════════════════════════════════════════════════════════════
//
// Priority order is canonical: take-profit before stop-loss before
// trailing-stop. When one sample satisfies several thresholds at once,
// take-profit wins (the most favorable outcome for the holder).
//
// ═══════════════════════════════════════════════════════════════════════════════

var oneHundred = decimal.NewFromInt(100)

// EvaluateExit checks a position against a price sample. The trailing
// branch raises pos.HighWaterMark on the way through, even when no
// trigger fires; the caller persists the new mark. A zero threshold
// means that rule kind is unset and its branch is skipped.
func EvaluateExit(pos *types.Position, sample types.PriceSample) types.Trigger {
	price := sample.Price

	if pos.TakeProfitPct.IsPositive() {
		threshold := pos.EntryPrice.Mul(one().Add(pos.TakeProfitPct.Div(oneHundred)))
		if price.GreaterThanOrEqual(threshold) {
			return types.Trigger{Decision: types.DecisionTakeProfit, Price: price, Threshold: threshold}
		}
	}

	if pos.StopLossPct.IsPositive() {
		threshold := pos.EntryPrice.Mul(one().Sub(pos.StopLossPct.Div(oneHundred)))
		if price.LessThanOrEqual(threshold) {
			return types.Trigger{Decision: types.DecisionStopLoss, Price: price, Threshold: threshold}
		}
	}

	if pos.TrailingPct.IsPositive() {
		if price.GreaterThan(pos.HighWaterMark) {
			pos.HighWaterMark = price
		}
		threshold := pos.HighWaterMark.Mul(one().Sub(pos.TrailingPct.Div(oneHundred)))
		if price.LessThanOrEqual(threshold) {
			return types.Trigger{Decision: types.DecisionTrailingStop, Price: price, Threshold: threshold}
		}
	}

	return types.Trigger{Decision: types.DecisionNone, Price: price}
}

// ExitThresholds reports the absolute trigger price for each exit kind
// configured on the position, the trailing stop measured from the
// current high-water mark. Unset kinds are omitted. Used to release
// dedup fingerprints when a rule is explicitly removed.
func ExitThresholds(pos *types.Position) map[types.Decision]decimal.Decimal {
	out := make(map[types.Decision]decimal.Decimal, 3)
	if pos.TakeProfitPct.IsPositive() {
		out[types.DecisionTakeProfit] = pos.EntryPrice.Mul(one().Add(pos.TakeProfitPct.Div(oneHundred)))
	}
	if pos.StopLossPct.IsPositive() {
		out[types.DecisionStopLoss] = pos.EntryPrice.Mul(one().Sub(pos.StopLossPct.Div(oneHundred)))
	}
	if pos.TrailingPct.IsPositive() {
		out[types.DecisionTrailingStop] = pos.HighWaterMark.Mul(one().Sub(pos.TrailingPct.Div(oneHundred)))
	}
	return out
}

// EvaluateWatch computes the percent move of a sample against the
// entry's baseline and reports whether it clears minMovePct. A zero
// baseline (first observed sample) seeds the baseline without firing.
// The caller resets entry.Baseline to the sample price after a fired
// alert, so small subsequent ticks do not re-fire (hysteresis).
func EvaluateWatch(entry *types.WatchEntry, sample types.PriceSample, minMovePct decimal.Decimal) (decimal.Decimal, bool) {
	if entry.Baseline.LessThanOrEqual(decimal.Zero) {
		entry.Baseline = sample.Price
		return decimal.Zero, false
	}

	movePct := sample.Price.Sub(entry.Baseline).Div(entry.Baseline).Mul(oneHundred)
	return movePct, movePct.Abs().GreaterThanOrEqual(minMovePct)
}

func one() decimal.Decimal { return decimal.NewFromInt(1) }
