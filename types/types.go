package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// PositionState is the lifecycle state of an AutoSell position.
type PositionState string

const (
	StateActive    PositionState = "ACTIVE"
	StateTriggered PositionState = "TRIGGERED"
	StateClosed    PositionState = "CLOSED"
)

// Decision is the outcome of evaluating a position against a price sample.
type Decision string

const (
	DecisionNone         Decision = "NONE"
	DecisionTakeProfit   Decision = "TAKE_PROFIT"
	DecisionStopLoss     Decision = "STOP_LOSS"
	DecisionTrailingStop Decision = "TRAILING_STOP"
)

// PriceSample is a best-effort price snapshot from one provider.
// Ephemeral; never persisted beyond the resolver cache TTL.
type PriceSample struct {
	Price     decimal.Decimal
	Source    string
	FetchedAt time.Time
	Cached    bool
}

// Position is an AutoSell exit rule on a token held by a chat.
// Thresholds are percents relative to entry (or to the high-water mark
// for the trailing stop); a zero percent means that rule kind is unset.
type Position struct {
	RuleID        string          `json:"rule_id"`
	ChatID        int64           `json:"chat_id"`
	Token         string          `json:"token"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Quantity      decimal.Decimal `json:"quantity"`
	TakeProfitPct decimal.Decimal `json:"take_profit_pct"`
	StopLossPct   decimal.Decimal `json:"stop_loss_pct"`
	TrailingPct   decimal.Decimal `json:"trailing_pct"`
	HighWaterMark decimal.Decimal `json:"high_water_mark"`
	State         PositionState   `json:"state"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// WatchEntry is a per-chat price-move watch on a token, independent of
// any position. Baseline is the price at the last fired alert (or the
// first observed sample) and resets after every alert.
type WatchEntry struct {
	ChatID      int64           `json:"chat_id"`
	Token       string          `json:"token"`
	LastPrice   decimal.Decimal `json:"last_price"`
	LastMovePct decimal.Decimal `json:"last_move_pct"`
	Baseline    decimal.Decimal `json:"baseline"`
	Source      string          `json:"source"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Trigger carries a non-NONE decision plus the price and threshold
// that produced it.
type Trigger struct {
	Decision  Decision
	Price     decimal.Decimal
	Threshold decimal.Decimal
}

// Fill is the result of a delegated sell execution.
type Fill struct {
	TxRef     string
	FilledQty decimal.Decimal
}

// ShortToken renders a mint address in the compact display form used
// in watchlist rows: first six chars, ellipsis, last six chars.
func ShortToken(token string) string {
	if len(token) <= 13 {
		return token
	}
	return token[:6] + "…" + token[len(token)-6:]
}
