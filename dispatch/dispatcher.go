package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/risk"
	"github.com/morkfetch/fetchbot/types"
)

// KindWatchMove is the event kind for watch threshold alerts; position
// events carry their decision kind instead.
const KindWatchMove = "WATCH_MOVE"

// ═══════════════════════════════════════════════════════════════════════════════
// DISPATCHER - One outward effect per triggered event
// ═══════════════════════════════════════════════════════════════════════════════

// Notifier delivers a plain-text message to a chat. Implemented by the
// Telegram transport; failures are the transport's problem, the core
// only logs them.
type Notifier interface {
	Notify(chatID int64, text string) error
}

// SellExecutor performs the delegated trade. The core never talks to a
// chain or DEX directly.
type SellExecutor interface {
	ExecuteSell(ctx context.Context, pos *types.Position, fraction decimal.Decimal) (types.Fill, error)
}

// NameResolver enriches a token id into a display name. Failure must
// degrade to the raw token id.
type NameResolver interface {
	DisplayName(token string) string
}

// RuleCloser is the slice of the rule store the dispatcher needs to
// settle triggered positions.
type RuleCloser interface {
	ClosePosition(ruleID string)
	Reactivate(ruleID string)
}

// Journal records dispatched events for history commands. Optional.
type Journal interface {
	LogTrigger(ruleID string, chatID int64, token, kind string, price, threshold decimal.Decimal, txRef string)
	LogAlert(chatID int64, token string, movePct, price decimal.Decimal)
}

// Event is a triggered condition awaiting dispatch.
type Event struct {
	ChatID    int64
	SubjectID string // token for watch alerts, rule id for positions
	Kind      string // decision kind or KindWatchMove
	Price     decimal.Decimal
	Threshold decimal.Decimal

	// Set for position triggers.
	Position *types.Position
	// Set for watch alerts.
	MovePct decimal.Decimal
	Source  string
}

// Dispatcher pushes triggered events through the dedup gate and out to
// the notifier / sell executor.
type Dispatcher struct {
	gate     *Gate
	notifier Notifier
	executor SellExecutor
	names    NameResolver
	rules    RuleCloser
	journal  Journal
	dryRun   bool

	// Per-minute alert budget; sells are never rate limited.
	rateMu      sync.Mutex
	ratePerMin  int
	sentThisMin int
	minBucket   int64
	now         func() time.Time
}

// NewDispatcher wires the dispatcher. names and journal may be nil.
func NewDispatcher(gate *Gate, notifier Notifier, executor SellExecutor, rules RuleCloser, ratePerMin int, dryRun bool) *Dispatcher {
	return &Dispatcher{
		gate:       gate,
		notifier:   notifier,
		executor:   executor,
		rules:      rules,
		ratePerMin: ratePerMin,
		dryRun:     dryRun,
		now:        time.Now,
	}
}

// SetNotifier attaches the outbound transport. Wired after
// construction because the bot itself needs the dispatcher's store.
func (d *Dispatcher) SetNotifier(notifier Notifier) { d.notifier = notifier }

// SetNameResolver enables display-name enrichment.
func (d *Dispatcher) SetNameResolver(names NameResolver) { d.names = names }

// SetJournal enables event journaling.
func (d *Dispatcher) SetJournal(journal Journal) { d.journal = journal }

// Dispatch produces at most one outward effect for the event. Returns
// true when the effect was performed, false when deduplicated or
// rate limited.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) bool {
	fp := Fingerprint(ev.ChatID, ev.SubjectID, ev.Kind, ev.Threshold)
	if !d.gate.MarkFirst(fp) {
		log.Debug().Str("fingerprint", fp).Msg("Duplicate event dropped")
		if ev.Position != nil {
			// Keep the rule live so the condition re-fires once the
			// dedup window lapses.
			d.rules.Reactivate(ev.Position.RuleID)
		}
		return false
	}

	if ev.Position != nil {
		return d.dispatchSell(ctx, ev)
	}
	return d.dispatchAlert(ev)
}

// Forget releases the dedup window for a rule, used when the rule is
// explicitly removed and re-added.
func (d *Dispatcher) Forget(chatID int64, subjectID, kind string, threshold decimal.Decimal) {
	d.gate.Forget(Fingerprint(chatID, subjectID, kind, threshold))
}

// ForgetRule releases every fingerprint a removed position rule may
// still hold, so re-arming the same thresholds is not silenced by a
// prior trigger's dedup window.
func (d *Dispatcher) ForgetRule(pos *types.Position) {
	for kind, threshold := range risk.ExitThresholds(pos) {
		d.gate.Forget(Fingerprint(pos.ChatID, pos.RuleID, string(kind), threshold))
	}
}

// ──────────────────────────────── sells ────────────────────────────────

func (d *Dispatcher) dispatchSell(ctx context.Context, ev Event) bool {
	pos := ev.Position

	if d.dryRun {
		log.Info().
			Str("rule_id", pos.RuleID).
			Str("kind", ev.Kind).
			Str("price", ev.Price.String()).
			Msg("[DRY] Sell treated as filled")
		d.rules.ClosePosition(pos.RuleID)
		d.notify(ev.ChatID, d.formatTrigger(ev, "dry-run"))
		if d.journal != nil {
			d.journal.LogTrigger(pos.RuleID, ev.ChatID, pos.Token, ev.Kind, ev.Price, ev.Threshold, "dry-run")
		}
		return true
	}

	fill, err := d.executor.ExecuteSell(ctx, pos, decimal.NewFromInt(1))
	if err != nil {
		// Leave the rule ACTIVE and retry next tick; nothing went out,
		// but the fingerprint stays recorded so the failure cannot
		// spam the chat within the dedup window.
		log.Error().
			Err(err).
			Str("rule_id", pos.RuleID).
			Str("token", types.ShortToken(pos.Token)).
			Msg("🛑 Sell execution failed, will retry")
		d.rules.Reactivate(pos.RuleID)
		return false
	}

	d.rules.ClosePosition(pos.RuleID)
	d.notify(ev.ChatID, d.formatTrigger(ev, fill.TxRef))
	if d.journal != nil {
		d.journal.LogTrigger(pos.RuleID, ev.ChatID, pos.Token, ev.Kind, ev.Price, ev.Threshold, fill.TxRef)
	}

	log.Info().
		Str("rule_id", pos.RuleID).
		Str("kind", ev.Kind).
		Str("tx_ref", fill.TxRef).
		Str("filled", fill.FilledQty.String()).
		Msg("💰 Sell executed")

	return true
}

// ──────────────────────────────── alerts ────────────────────────────────

func (d *Dispatcher) dispatchAlert(ev Event) bool {
	if d.rateLimited() {
		log.Warn().Int64("chat_id", ev.ChatID).Msg("Alert rate limit hit, dropping")
		return false
	}

	text := d.formatAlert(ev)
	if !d.notify(ev.ChatID, text) {
		return false
	}
	if d.journal != nil {
		d.journal.LogAlert(ev.ChatID, ev.SubjectID, ev.MovePct, ev.Price)
	}
	return true
}

// rateLimited enforces the per-minute alert budget.
func (d *Dispatcher) rateLimited() bool {
	d.rateMu.Lock()
	defer d.rateMu.Unlock()

	minute := d.now().Unix() / 60
	if minute != d.minBucket {
		d.minBucket = minute
		d.sentThisMin = 0
	}
	if d.sentThisMin >= d.ratePerMin {
		return true
	}
	d.sentThisMin++
	return false
}

func (d *Dispatcher) notify(chatID int64, text string) bool {
	if d.notifier == nil {
		return false
	}
	if err := d.notifier.Notify(chatID, text); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Notify failed")
		return false
	}
	return true
}

// ──────────────────────────────── formatting ────────────────────────────────

func (d *Dispatcher) displayName(token string) string {
	if d.names != nil {
		if name := d.names.DisplayName(token); name != "" {
			return name
		}
	}
	return types.ShortToken(token)
}

func (d *Dispatcher) formatTrigger(ev Event, txRef string) string {
	pos := ev.Position
	return fmt.Sprintf("%s %s %s\nprice=%s threshold=%s qty=%s tx=%s",
		triggerEmoji(ev.Kind), ev.Kind, d.displayName(pos.Token),
		formatPrice(ev.Price), formatPrice(ev.Threshold), pos.Quantity.String(), txRef)
}

func (d *Dispatcher) formatAlert(ev Event) string {
	direction, move := "▲", "+"+ev.MovePct.StringFixed(2)
	if ev.MovePct.IsNegative() {
		direction, move = "▼", ev.MovePct.StringFixed(2)
	}
	return fmt.Sprintf("[ALERT] %s %s%s%% price=%s src=%s",
		d.displayName(ev.SubjectID), direction, move,
		formatPrice(ev.Price), ev.Source)
}

// formatPrice tiers precision by magnitude: micro-caps need six
// decimals, larger prices read better with fewer.
func formatPrice(p decimal.Decimal) string {
	switch {
	case p.LessThan(decimal.NewFromInt(1)):
		return "$" + p.StringFixed(6)
	case p.LessThan(decimal.NewFromInt(10)):
		return "$" + p.StringFixed(4)
	default:
		return "$" + p.StringFixed(2)
	}
}

func triggerEmoji(kind string) string {
	switch kind {
	case string(types.DecisionTakeProfit):
		return "💰"
	case string(types.DecisionStopLoss):
		return "🛑"
	case string(types.DecisionTrailingStop):
		return "📉"
	default:
		return "📌"
	}
}
