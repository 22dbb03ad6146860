package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/morkfetch/fetchbot/dispatch"
	"github.com/morkfetch/fetchbot/internal/config"
	"github.com/morkfetch/fetchbot/prices"
	"github.com/morkfetch/fetchbot/risk"
	"github.com/morkfetch/fetchbot/store"
	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCHEDULER - Central monitoring orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Tick → Token snapshot → Price resolve (worker pool) → Evaluate → Dispatch
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	// MinTickInterval is the floor for the monitoring cadence; faster
	// loops only hammer the price providers.
	MinTickInterval = 3 * time.Second

	eventLogSize = 200
)

// Status is a point-in-time snapshot of the scheduler for /status.
type Status struct {
	Running      bool
	Interval     time.Duration
	LastTick     time.Time
	LastPassTook time.Duration
	PassCount    int64
	TokenCount   int
	ErrorCount   int64
}

type Scheduler struct {
	mu sync.RWMutex

	store      *store.Store
	resolver   *prices.Resolver
	dispatcher *dispatch.Dispatcher
	cfg        *config.Config

	// State
	running  bool
	stopCh   chan struct{}
	resetCh  chan time.Duration
	loopDone chan struct{}
	interval time.Duration

	// Stats
	lastTick     time.Time
	lastPassTook time.Duration
	passCount    int64
	errorCount   int64
	lastTokens   int

	// Ring buffer of recent event lines for /autosell_logs.
	events    []string
	eventHead int
}

// NewScheduler creates the monitoring scheduler.
func NewScheduler(st *store.Store, resolver *prices.Resolver, dispatcher *dispatch.Dispatcher, cfg *config.Config) *Scheduler {
	interval := cfg.TickInterval
	if interval < MinTickInterval {
		interval = MinTickInterval
	}
	return &Scheduler{
		store:      st,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		interval:   interval,
		stopCh:     make(chan struct{}),
		resetCh:    make(chan time.Duration, 1),
		loopDone:   make(chan struct{}),
		events:     make([]string, 0, eventLogSize),
	}
}

// Start begins the tick loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	interval := s.interval
	s.mu.Unlock()

	go s.tickLoop(interval)

	log.Info().Dur("interval", interval).Msg("⚡ Scheduler started")
}

// Stop halts the loop and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.loopDone
	log.Info().Msg("Scheduler stopped")
}

// SetInterval changes the monitoring cadence at runtime, clamped to
// MinTickInterval. Returns the applied value.
func (s *Scheduler) SetInterval(d time.Duration) time.Duration {
	if d < MinTickInterval {
		d = MinTickInterval
	}

	s.mu.Lock()
	s.interval = d
	running := s.running
	s.mu.Unlock()

	if running {
		select {
		case s.resetCh <- d:
		default:
		}
	}

	s.recordEvent(fmt.Sprintf("[cfg] interval=%s", d))
	log.Info().Dur("interval", d).Msg("Tick interval updated")
	return d
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Running:      s.running,
		Interval:     s.interval,
		LastTick:     s.lastTick,
		LastPassTook: s.lastPassTook,
		PassCount:    s.passCount,
		TokenCount:   s.lastTokens,
		ErrorCount:   s.errorCount,
	}
}

// LastTickInfo reports pass health for the terminal dashboard.
func (s *Scheduler) LastTickInfo() (time.Time, time.Duration, int64, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick, s.lastPassTook, s.passCount, s.errorCount
}

// Events returns the most recent event lines, newest last.
func (s *Scheduler) Events(limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.events)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]string, 0, limit)
	// The ring starts at eventHead once the buffer has wrapped.
	for i := n - limit; i < n; i++ {
		out = append(out, s.events[(s.eventHead+i)%n])
	}
	return out
}

func (s *Scheduler) tickLoop(interval time.Duration) {
	defer close(s.loopDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case d := <-s.resetCh:
			ticker.Reset(d)
		case <-ticker.C:
			s.runPass()
		}
	}
}

// runPass resolves every monitored token once and evaluates all rules
// against the fresh samples. A pass is bounded by cfg.PassTimeout so a
// hung provider cannot silently freeze the loop.
func (s *Scheduler) runPass() {
	started := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PassTimeout)
	defer cancel()

	tokens := s.store.Tokens()

	var (
		wg    sync.WaitGroup
		sem   = make(chan struct{}, s.cfg.MaxWorkers)
		errMu sync.Mutex
		errs  int64
	)

	for _, token := range tokens {
		wg.Add(1)
		sem <- struct{}{}
		go func(token string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.evaluateToken(ctx, token); err != nil {
				errMu.Lock()
				errs++
				errMu.Unlock()
			}
		}(token)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Workers respect ctx through the resolver; log and move on so
		// the next tick gets a clean slate.
		log.Warn().
			Dur("timeout", s.cfg.PassTimeout).
			Int("tokens", len(tokens)).
			Msg("⏱️ Pass deadline exceeded, abandoning stragglers")
		s.recordEvent("[tick] timeout")
		<-done
	}

	took := time.Since(started)

	s.mu.Lock()
	s.lastTick = started
	s.lastPassTook = took
	s.passCount++
	s.errorCount += errs
	s.lastTokens = len(tokens)
	s.mu.Unlock()

	if errs == 0 {
		s.recordEvent(fmt.Sprintf("[tick] ok tokens=%d took=%s", len(tokens), took.Round(time.Millisecond)))
	} else {
		s.recordEvent(fmt.Sprintf("[tick] errors=%d tokens=%d took=%s", errs, len(tokens), took.Round(time.Millisecond)))
	}

	log.Debug().
		Int("tokens", len(tokens)).
		Int64("errors", errs).
		Dur("took", took).
		Msg("Pass complete")
}

// evaluateToken resolves one token's price and walks every rule bound
// to it. A resolve failure skips this token only; other tokens in the
// same pass are unaffected.
func (s *Scheduler) evaluateToken(ctx context.Context, token string) error {
	sample, err := s.resolver.Resolve(ctx, token, "")
	if err != nil {
		log.Warn().
			Err(err).
			Str("token", types.ShortToken(token)).
			Msg("Price resolve failed, skipping token this pass")
		s.recordEvent(fmt.Sprintf("[err] %s price unavailable", types.ShortToken(token)))
		return err
	}

	s.evaluatePositions(ctx, token, sample)
	s.evaluateWatches(ctx, token, sample)
	return nil
}

func (s *Scheduler) evaluatePositions(ctx context.Context, token string, sample types.PriceSample) {
	for _, pos := range s.store.ActivePositions() {
		if pos.Token != token {
			continue
		}

		pos := pos
		trig := risk.EvaluateExit(&pos, sample)

		// Persist the high-water mark even when nothing fired; the
		// trailing threshold must survive a restart.
		s.store.UpdateHighWaterMark(pos.RuleID, pos.HighWaterMark)

		if trig.Decision == types.DecisionNone {
			continue
		}

		s.store.MarkTriggered(pos.RuleID)
		s.recordEvent(fmt.Sprintf("[fire] %s %s price=%s", trig.Decision, types.ShortToken(token), trig.Price.String()))

		sent := s.dispatcher.Dispatch(ctx, dispatch.Event{
			ChatID:    pos.ChatID,
			SubjectID: pos.RuleID,
			Kind:      string(trig.Decision),
			Price:     trig.Price,
			Threshold: trig.Threshold,
			Position:  &pos,
		})
		if s.cfg.DryRun && sent {
			s.recordEvent(fmt.Sprintf("[DRY] sell %s qty=%s", types.ShortToken(token), pos.Quantity.String()))
		}
	}
}

func (s *Scheduler) evaluateWatches(ctx context.Context, token string, sample types.PriceSample) {
	for _, entry := range s.store.ListWatches(0) {
		if entry.Token != token {
			continue
		}

		entry := entry
		movePct, fired := risk.EvaluateWatch(&entry, sample, s.cfg.MinMovePct)

		entry.LastPrice = sample.Price
		entry.LastMovePct = movePct
		entry.Source = sample.Source
		entry.UpdatedAt = time.Now()

		if fired {
			sent := s.dispatcher.Dispatch(ctx, dispatch.Event{
				ChatID:    entry.ChatID,
				SubjectID: entry.Token,
				Kind:      dispatch.KindWatchMove,
				Price:     sample.Price,
				Threshold: s.cfg.MinMovePct,
				MovePct:   movePct,
				Source:    sample.Source,
			})
			if sent {
				// Hysteresis: re-arm from the alerted price so small
				// follow-up ticks stay quiet.
				entry.Baseline = sample.Price
				s.recordEvent(fmt.Sprintf("[alert] %s %s%% price=%s",
					types.ShortToken(token), movePct.StringFixed(2), sample.Price.String()))
			}
		}

		s.store.UpdateWatch(entry)
	}
}

// recordEvent appends a timestamped line to the bounded event log.
func (s *Scheduler) recordEvent(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line = time.Now().Format("15:04:05") + " " + line
	if len(s.events) < eventLogSize {
		s.events = append(s.events, line)
		return
	}
	s.events[s.eventHead] = line
	s.eventHead = (s.eventHead + 1) % eventLogSize
}
