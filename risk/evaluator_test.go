package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/morkfetch/fetchbot/types"
)

func position(entry float64, tp, sl, trail float64) *types.Position {
	p := &types.Position{
		RuleID:        "r1",
		ChatID:        1,
		Token:         "So11111111111111111111111111111111111111112",
		EntryPrice:    decimal.NewFromFloat(entry),
		Quantity:      decimal.NewFromInt(10),
		TakeProfitPct: decimal.NewFromFloat(tp),
		StopLossPct:   decimal.NewFromFloat(sl),
		TrailingPct:   decimal.NewFromFloat(trail),
		State:         types.StateActive,
	}
	p.HighWaterMark = p.EntryPrice
	return p
}

func sample(price float64) types.PriceSample {
	return types.PriceSample{Price: decimal.NewFromFloat(price), Source: "test"}
}

func TestEvaluateExit_TakeProfit(t *testing.T) {
	pos := position(100, 50, 0, 0)

	trig := EvaluateExit(pos, sample(155))
	require.Equal(t, types.DecisionTakeProfit, trig.Decision)
	require.True(t, trig.Threshold.Equal(decimal.NewFromInt(150)), "threshold %s", trig.Threshold)
	require.True(t, trig.Price.Equal(decimal.NewFromInt(155)))
}

func TestEvaluateExit_TakeProfitExactBoundary(t *testing.T) {
	pos := position(100, 50, 0, 0)

	trig := EvaluateExit(pos, sample(150))
	require.Equal(t, types.DecisionTakeProfit, trig.Decision)
}

func TestEvaluateExit_StopLoss(t *testing.T) {
	pos := position(100, 0, 20, 0)

	trig := EvaluateExit(pos, sample(79))
	require.Equal(t, types.DecisionStopLoss, trig.Decision)
	require.True(t, trig.Threshold.Equal(decimal.NewFromInt(80)))
}

func TestEvaluateExit_NoTrigger(t *testing.T) {
	pos := position(100, 50, 20, 0)

	trig := EvaluateExit(pos, sample(120))
	require.Equal(t, types.DecisionNone, trig.Decision)
}

func TestEvaluateExit_TrailingStop(t *testing.T) {
	pos := position(100, 0, 0, 10)

	// Ride up to 200; the mark follows.
	trig := EvaluateExit(pos, sample(200))
	require.Equal(t, types.DecisionNone, trig.Decision)
	require.True(t, pos.HighWaterMark.Equal(decimal.NewFromInt(200)))

	// 10% off the mark fires at 180; 179 is below it.
	trig = EvaluateExit(pos, sample(179))
	require.Equal(t, types.DecisionTrailingStop, trig.Decision)
	require.True(t, trig.Threshold.Equal(decimal.NewFromInt(180)))
}

func TestEvaluateExit_HighWaterMarkMonotonic(t *testing.T) {
	pos := position(100, 0, 0, 50)

	EvaluateExit(pos, sample(150))
	require.True(t, pos.HighWaterMark.Equal(decimal.NewFromInt(150)))

	// A dip must never lower the mark.
	EvaluateExit(pos, sample(120))
	require.True(t, pos.HighWaterMark.Equal(decimal.NewFromInt(150)))

	EvaluateExit(pos, sample(160))
	require.True(t, pos.HighWaterMark.Equal(decimal.NewFromInt(160)))
}

func TestEvaluateExit_TakeProfitWinsOverStopLoss(t *testing.T) {
	// Degenerate thresholds where one sample satisfies both.
	pos := position(100, 1, 1, 0)

	trig := EvaluateExit(pos, sample(101))
	require.Equal(t, types.DecisionTakeProfit, trig.Decision)
}

func TestEvaluateExit_ZeroThresholdSkipsBranch(t *testing.T) {
	pos := position(100, 0, 0, 10)

	// Would be a 99% drawdown but tp/sl are unset; only trailing runs.
	trig := EvaluateExit(pos, sample(1))
	require.Equal(t, types.DecisionTrailingStop, trig.Decision)
}

func TestExitThresholds_MatchTriggerThresholds(t *testing.T) {
	pos := position(100, 50, 20, 10)
	pos.HighWaterMark = decimal.NewFromInt(200)

	th := ExitThresholds(pos)
	require.Len(t, th, 3)
	require.True(t, th[types.DecisionTakeProfit].Equal(decimal.NewFromInt(150)))
	require.True(t, th[types.DecisionStopLoss].Equal(decimal.NewFromInt(80)))
	require.True(t, th[types.DecisionTrailingStop].Equal(decimal.NewFromInt(180)), "trailing measures from the mark")
}

func TestExitThresholds_OmitsUnsetKinds(t *testing.T) {
	th := ExitThresholds(position(100, 50, 0, 0))
	require.Len(t, th, 1)
	require.Contains(t, th, types.DecisionTakeProfit)
}

func TestEvaluateWatch_SeedsBaselineWithoutFiring(t *testing.T) {
	entry := &types.WatchEntry{ChatID: 1, Token: "tok"}

	move, fired := EvaluateWatch(entry, sample(100), decimal.NewFromInt(5))
	require.False(t, fired)
	require.True(t, move.IsZero())
	require.True(t, entry.Baseline.Equal(decimal.NewFromInt(100)))
}

func TestEvaluateWatch_FiresOnThreshold(t *testing.T) {
	minMove := decimal.NewFromInt(5)
	entry := &types.WatchEntry{ChatID: 1, Token: "tok", Baseline: decimal.NewFromInt(100)}

	move, fired := EvaluateWatch(entry, sample(104), minMove)
	require.False(t, fired)
	require.True(t, move.Equal(decimal.NewFromInt(4)), "move %s", move)

	move, fired = EvaluateWatch(entry, sample(106), minMove)
	require.True(t, fired)
	require.True(t, move.Equal(decimal.NewFromInt(6)))

	// Caller resets the baseline after an alert; a small follow-up
	// move measured from the new baseline stays quiet.
	entry.Baseline = decimal.NewFromInt(106)
	_, fired = EvaluateWatch(entry, sample(108), minMove)
	require.False(t, fired)
}

func TestEvaluateWatch_FiresOnDrop(t *testing.T) {
	entry := &types.WatchEntry{ChatID: 1, Token: "tok", Baseline: decimal.NewFromInt(100)}

	move, fired := EvaluateWatch(entry, sample(90), decimal.NewFromInt(5))
	require.True(t, fired)
	require.True(t, move.Equal(decimal.NewFromInt(-10)))
}
