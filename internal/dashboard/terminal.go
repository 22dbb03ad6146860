package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════
// TERMINAL DASHBOARD - Live monitoring view
// ═══════════════════════════════════════════════════════════════════════════
//
// Optional operator console (DASHBOARD_ENABLED=true). Redraws the
// watch/rule state in place; logs go to stderr so the two streams do
// not fight over the terminal.

const (
	clearScreen = "\033[2J"
	moveCursor  = "\033[%d;%dH"
	hideCursor  = "\033[?25l"
	showCursor  = "\033[?25h"

	reset    = "\033[0m"
	bold     = "\033[1m"
	fgGreen  = "\033[32m"
	fgRed    = "\033[31m"
	fgYellow = "\033[33m"
	fgCyan   = "\033[36m"

	termWidth = 100
)

// StateSource provides the data the dashboard renders each frame.
type StateSource interface {
	ListWatches(chatID int64) []types.WatchEntry
	ActivePositions() []types.Position
}

// StatusSource reports the scheduler's health line.
type StatusSource interface {
	LastTickInfo() (last time.Time, took time.Duration, passes int64, errors int64)
}

type Dashboard struct {
	mu      sync.Mutex
	state   StateSource
	status  StatusSource
	running bool
	stopCh  chan struct{}
	started time.Time
}

func New(state StateSource, status StatusSource) *Dashboard {
	return &Dashboard{
		state:  state,
		status: status,
		stopCh: make(chan struct{}),
	}
}

// Start begins redrawing once per second.
func (d *Dashboard) Start() {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.started = time.Now()
	d.mu.Unlock()

	fmt.Print(hideCursor, clearScreen)
	go d.loop()
}

// Stop restores the cursor and halts redraws.
func (d *Dashboard) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.running = false
	close(d.stopCh)
	fmt.Print(showCursor)
}

func (d *Dashboard) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.render()
		}
	}
}

func (d *Dashboard) render() {
	var sb strings.Builder

	last, took, passes, errs := d.status.LastTickInfo()
	lastStr := "never"
	if !last.IsZero() {
		lastStr = last.Format("15:04:05")
	}

	sb.WriteString(fmt.Sprintf(moveCursor, 1, 1))
	sb.WriteString(rule("FETCHBOT MONITOR"))
	sb.WriteString(fmt.Sprintf(" %suptime%s %-12s %slast tick%s %s (%s)  %spasses%s %d  %serrors%s %d\n",
		bold, reset, time.Since(d.started).Round(time.Second),
		bold, reset, lastStr, took.Round(time.Millisecond),
		bold, reset, passes,
		bold, reset, errs))

	sb.WriteString(rule("ACTIVE RULES"))
	positions := d.state.ActivePositions()
	if len(positions) == 0 {
		sb.WriteString(" (none)\n")
	}
	for _, p := range positions {
		sb.WriteString(fmt.Sprintf(" %s%-14s%s entry=%-12s hwm=%-12s tp=%-6s sl=%-6s trail=%-6s\n",
			fgCyan, types.ShortToken(p.Token), reset,
			"$"+p.EntryPrice.String(), "$"+p.HighWaterMark.String(),
			pct(p.TakeProfitPct), pct(p.StopLossPct), pct(p.TrailingPct)))
	}

	sb.WriteString(rule("WATCHES"))
	watches := d.state.ListWatches(0)
	if len(watches) == 0 {
		sb.WriteString(" (none)\n")
	}
	for _, w := range watches {
		color := fgGreen
		if w.LastMovePct.IsNegative() {
			color = fgRed
		}
		sb.WriteString(fmt.Sprintf(" %s%-14s%s $%-14s %s%7s%%%s  %s\n",
			fgYellow, types.ShortToken(w.Token), reset,
			w.LastPrice.String(),
			color, w.LastMovePct.StringFixed(2), reset,
			w.Source))
	}

	sb.WriteString(rule(""))

	fmt.Print(sb.String())
}

func rule(title string) string {
	if title == "" {
		return strings.Repeat("═", termWidth) + "\n"
	}
	head := "══ " + title + " "
	return head + strings.Repeat("═", termWidth-len([]rune(head))) + "\n"
}

func pct(d decimal.Decimal) string {
	if !d.IsPositive() {
		return "-"
	}
	return d.String() + "%"
}
