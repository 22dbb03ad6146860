package bot

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/core"
	"github.com/morkfetch/fetchbot/dispatch"
	"github.com/morkfetch/fetchbot/internal/config"
	"github.com/morkfetch/fetchbot/storage"
	"github.com/morkfetch/fetchbot/store"
	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Watch and AutoSell control surface
// ═══════════════════════════════════════════════════════════════════════════════
//
// Commands:
//   👀 /watch, /unwatch, /watch_clear, /watchlist
//   🎯 /autosell, /autosell_remove, /positions, /autosell_logs
//   🎛️ /interval, /status, /ping, /help
//
// Every command operates on the issuing chat's own rules; chats never
// see each other's watches or positions.
//
// ═══════════════════════════════════════════════════════════════════════════════

// DedupReleaser frees at-most-once fingerprints when a rule is
// explicitly removed, so a re-added rule can alert again without
// waiting out the old dedup window.
type DedupReleaser interface {
	Forget(chatID int64, subjectID, kind string, threshold decimal.Decimal)
	ForgetRule(pos *types.Position)
}

// TokenTracker subscribes newly ruled tokens to a push price feed.
// Optional; the HTTP provider chain covers untracked tokens.
type TokenTracker interface {
	Track(token string)
}

// TelegramBot manages the Telegram interface.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	running bool
	stopCh  chan struct{}

	store     *store.Store
	scheduler *core.Scheduler
	journal   *storage.Journal
	dedup     DedupReleaser
	tracker   TokenTracker
	cfg       *config.Config
}

// NewTelegramBot creates the bot from the configured token.
func NewTelegramBot(cfg *config.Config, st *store.Store, sched *core.Scheduler, journal *storage.Journal) (*TelegramBot, error) {
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN not set")
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:       api,
		stopCh:    make(chan struct{}),
		store:     st,
		scheduler: sched,
		journal:   journal,
		cfg:       cfg,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return bot, nil
}

// SetDedupReleaser attaches the dispatcher's fingerprint release hook.
// Wired after construction because the notifier and the bot reference
// each other.
func (b *TelegramBot) SetDedupReleaser(dedup DedupReleaser) { b.dedup = dedup }

// SetTokenTracker enables push-feed subscription for tokens ruled at
// runtime.
func (b *TelegramBot) SetTokenTracker(tracker TokenTracker) { b.tracker = tracker }

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// Notify delivers a dispatcher message to a chat.
func (b *TelegramBot) Notify(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	cmd := strings.ToLower(msg.Command())
	args := strings.Fields(msg.CommandArguments())

	switch cmd {
	case "start", "help":
		b.cmdHelp(chatID)
	case "watch":
		b.cmdWatch(chatID, args)
	case "unwatch":
		b.cmdUnwatch(chatID, args)
	case "watch_clear":
		b.cmdWatchClear(chatID)
	case "watchlist":
		b.cmdWatchlist(chatID)
	case "autosell":
		b.cmdAutoSell(chatID, args)
	case "autosell_remove":
		b.cmdAutoSellRemove(chatID, args)
	case "positions":
		b.cmdPositions(chatID)
	case "autosell_logs":
		b.cmdLogs(chatID)
	case "interval":
		b.cmdInterval(chatID, args)
	case "status":
		b.cmdStatus(chatID)
	case "ping":
		b.send(chatID, "🏓 Pong!")
	default:
		b.send(chatID, "❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp(chatID int64) {
	msg := `🤖 *FETCHBOT COMMANDS*
━━━━━━━━━━━━━━━━━━━━

👀 /watch <mint> — Alert on price moves
🚫 /unwatch <mint> — Stop watching
🧹 /watch\_clear — Drop all watches
📋 /watchlist — Current watches

🎯 /autosell <mint> entry=<p> qty=<q> tp=<%> sl=<%> trail=<%>
🗑️ /autosell\_remove <rule\_id> — Remove a rule
💼 /positions — Active rules
📜 /autosell\_logs — Recent events

⏱️ /interval <seconds> — Monitoring cadence
📊 /status — Bot status
🏓 /ping — Test connection`

	b.sendMarkdown(chatID, msg)
}

// ──────────────────────────────── watches ────────────────────────────────

func (b *TelegramBot) cmdWatch(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Usage: /watch <mint>")
		return
	}

	entry, err := b.store.AddWatch(chatID, args[0])
	if err != nil {
		b.send(chatID, "❌ "+err.Error())
		return
	}
	if b.tracker != nil {
		b.tracker.Track(entry.Token)
	}
	b.send(chatID, fmt.Sprintf("👀 Watching %s (alerts on moves ≥ %s%%)",
		types.ShortToken(entry.Token), b.cfg.MinMovePct.String()))
}

func (b *TelegramBot) cmdUnwatch(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Usage: /unwatch <mint>")
		return
	}

	if b.store.RemoveWatch(chatID, args[0]) {
		// Release the dedup window so re-watching the token can alert
		// right away.
		if b.dedup != nil {
			b.dedup.Forget(chatID, args[0], dispatch.KindWatchMove, b.cfg.MinMovePct)
		}
		b.send(chatID, "🚫 No longer watching "+types.ShortToken(args[0]))
	} else {
		b.send(chatID, "Not watching that token")
	}
}

func (b *TelegramBot) cmdWatchClear(chatID int64) {
	if b.dedup != nil {
		for _, w := range b.store.ListWatches(chatID) {
			b.dedup.Forget(chatID, w.Token, dispatch.KindWatchMove, b.cfg.MinMovePct)
		}
	}
	n := b.store.ClearWatches(chatID)
	b.send(chatID, fmt.Sprintf("🧹 Cleared %d watch(es)", n))
}

func (b *TelegramBot) cmdWatchlist(chatID int64) {
	watches := b.store.ListWatches(chatID)
	if len(watches) == 0 {
		b.send(chatID, "No active watches. Use /watch <mint>")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 *WATCHLIST*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, w := range watches {
		price := "–"
		if w.LastPrice.IsPositive() {
			price = "$" + w.LastPrice.String()
		}
		sb.WriteString(fmt.Sprintf("`%s` %s (%s%%) %s\n",
			types.ShortToken(w.Token), price, w.LastMovePct.StringFixed(2), w.Source))
	}
	b.sendMarkdown(chatID, sb.String())
}

// ──────────────────────────────── autosell ────────────────────────────────

// cmdAutoSell parses "/autosell <mint> entry=<p> qty=<q> tp=<%> sl=<%> trail=<%>".
// entry and qty are required; at least one of tp/sl/trail must be set.
func (b *TelegramBot) cmdAutoSell(chatID int64, args []string) {
	if len(args) < 2 {
		b.send(chatID, "Usage: /autosell <mint> entry=<price> qty=<amount> tp=<pct> sl=<pct> trail=<pct>")
		return
	}

	token := args[0]
	var entry, qty, tp, sl, trail decimal.Decimal

	for _, arg := range args[1:] {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			b.send(chatID, "❌ Bad argument: "+arg)
			return
		}
		d, err := decimal.NewFromString(val)
		if err != nil {
			b.send(chatID, fmt.Sprintf("❌ Invalid number for %s: %s", key, val))
			return
		}
		switch strings.ToLower(key) {
		case "entry":
			entry = d
		case "qty":
			qty = d
		case "tp":
			tp = d
		case "sl":
			sl = d
		case "trail":
			trail = d
		default:
			b.send(chatID, "❌ Unknown argument: "+key)
			return
		}
	}

	pos, err := b.store.AddPosition(chatID, token, entry, qty, tp, sl, trail)
	if err != nil {
		b.send(chatID, "❌ "+err.Error())
		return
	}
	if b.tracker != nil {
		b.tracker.Track(pos.Token)
	}

	b.sendMarkdown(chatID, fmt.Sprintf(`🎯 *AUTOSELL ARMED*

📊 %s
💵 Entry: $%s × %s
%s
🆔 `+"`%s`",
		types.ShortToken(pos.Token),
		pos.EntryPrice.String(), pos.Quantity.String(),
		formatThresholds(pos),
		pos.RuleID,
	))
}

func (b *TelegramBot) cmdAutoSellRemove(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, "Usage: /autosell_remove <rule_id>")
		return
	}

	pos, ok := b.store.GetPosition(args[0])
	if !ok || pos.ChatID != chatID {
		b.send(chatID, "No such rule")
		return
	}

	b.store.RemovePosition(args[0])
	if b.dedup != nil {
		b.dedup.ForgetRule(&pos)
	}
	b.send(chatID, "🗑️ Rule removed: "+args[0])
}

func (b *TelegramBot) cmdPositions(chatID int64) {
	positions := b.store.ListPositions(chatID)
	if len(positions) == 0 {
		b.send(chatID, "No active rules. Use /autosell")
		return
	}

	var sb strings.Builder
	sb.WriteString("💼 *ACTIVE RULES*\n━━━━━━━━━━━━━━━━━━━━\n")
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf("`%s`\n%s entry=$%s hwm=$%s %s [%s]\n\n",
			p.RuleID,
			types.ShortToken(p.Token), p.EntryPrice.String(), p.HighWaterMark.String(),
			formatThresholds(&p), p.State))
	}
	b.sendMarkdown(chatID, sb.String())
}

func (b *TelegramBot) cmdLogs(chatID int64) {
	lines := b.scheduler.Events(20)

	var sb strings.Builder
	sb.WriteString("📜 *RECENT EVENTS*\n━━━━━━━━━━━━━━━━━━━━\n")
	if len(lines) == 0 {
		sb.WriteString("(no events yet)\n")
	}
	for _, line := range lines {
		sb.WriteString("`" + line + "`\n")
	}

	if b.journal != nil && b.journal.Enabled() {
		if recs, err := b.journal.RecentTriggers(chatID, 5); err == nil && len(recs) > 0 {
			sb.WriteString("\n*Fills:*\n")
			for _, r := range recs {
				sb.WriteString(fmt.Sprintf("%s %s $%s tx=%s\n",
					r.CreatedAt.Format("01-02 15:04"), r.Kind, r.Price.String(), r.TxRef))
			}
		}
	}

	b.sendMarkdown(chatID, sb.String())
}

// ──────────────────────────────── control ────────────────────────────────

func (b *TelegramBot) cmdInterval(chatID int64, args []string) {
	if len(args) != 1 {
		b.send(chatID, fmt.Sprintf("Current interval: %s. Usage: /interval <seconds>", b.scheduler.Status().Interval))
		return
	}

	secs, err := strconv.Atoi(args[0])
	if err != nil || secs <= 0 {
		b.send(chatID, "❌ Interval must be a positive number of seconds")
		return
	}

	applied := b.scheduler.SetInterval(time.Duration(secs) * time.Second)
	b.send(chatID, fmt.Sprintf("⏱️ Interval set to %s", applied))
}

func (b *TelegramBot) cmdStatus(chatID int64) {
	st := b.scheduler.Status()

	mode := "LIVE"
	if b.cfg.DryRun {
		mode = "DRY RUN"
	}

	state := "🟢 RUNNING"
	if !st.Running {
		state = "🔴 STOPPED"
	}

	lastTick := "never"
	if !st.LastTick.IsZero() {
		lastTick = st.LastTick.Format("15:04:05")
	}

	msg := fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━

%s
📊 Mode: *%s*
⏱️ Interval: *%s*
🕐 Last tick: *%s* (took %s)
🔢 Passes: *%d* | Tokens: *%d* | Errors: *%d*`,
		state, mode, st.Interval,
		lastTick, st.LastPassTook.Round(time.Millisecond),
		st.PassCount, st.TokenCount, st.ErrorCount)

	if b.journal != nil && b.journal.Enabled() {
		if js, err := b.journal.JournalStats(); err == nil {
			msg += fmt.Sprintf("\n📜 Journal: *%d* fills, *%d* alerts", js.Triggers, js.Alerts)
		}
	}

	b.sendMarkdown(chatID, msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func formatThresholds(p *types.Position) string {
	parts := make([]string, 0, 3)
	if p.TakeProfitPct.IsPositive() {
		parts = append(parts, "tp=+"+p.TakeProfitPct.String()+"%")
	}
	if p.StopLossPct.IsPositive() {
		parts = append(parts, "sl=-"+p.StopLossPct.String()+"%")
	}
	if p.TrailingPct.IsPositive() {
		parts = append(parts, "trail="+p.TrailingPct.String()+"%")
	}
	return strings.Join(parts, " ")
}

func (b *TelegramBot) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("Failed to send Telegram message")
	}
}
