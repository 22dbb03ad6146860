package store

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RULE STORE - Source of truth for watch entries and AutoSell positions
// ═══════════════════════════════════════════════════════════════════════════════
//
// One mutex guards every read-modify-write; every mutation is mirrored
// to the backend (watches.json / positions.json). Load failures fall
// back to an empty store with a loud log line; save failures retry
// once, then the in-memory state stays authoritative until the next
// successful write.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	watchesDoc   = "watches"
	positionsDoc = "positions"
)

// Store owns the lifecycles of WatchEntry and Position records.
type Store struct {
	mu      sync.Mutex
	backend Backend

	watches   map[string][]*types.WatchEntry // chat id -> entries
	positions map[string]*types.Position     // rule id -> position
}

// New loads existing state through the backend. Corrupt or unreadable
// documents degrade to an empty store rather than failing startup.
func New(backend Backend) *Store {
	s := &Store{
		backend:   backend,
		watches:   make(map[string][]*types.WatchEntry),
		positions: make(map[string]*types.Position),
	}

	if err := backend.Load(watchesDoc, &s.watches); err != nil {
		log.Error().Err(err).Msg("🚨 Watch store unreadable, starting empty")
		s.watches = make(map[string][]*types.WatchEntry)
	}
	if err := backend.Load(positionsDoc, &s.positions); err != nil {
		log.Error().Err(err).Msg("🚨 Position store unreadable, starting empty")
		s.positions = make(map[string]*types.Position)
	}

	log.Info().
		Int("watches", s.watchCountLocked()).
		Int("positions", len(s.positions)).
		Msg("💾 Rule store loaded")

	return s
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// ──────────────────────────────── watches ────────────────────────────────

// AddWatch registers a watch on a token for a chat. Watches are unique
// per (chat, token); adding an existing one returns the existing entry.
func (s *Store) AddWatch(chatID int64, token string) (*types.WatchEntry, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := chatKey(chatID)
	for _, e := range s.watches[key] {
		if e.Token == token {
			return e, nil
		}
	}

	now := time.Now()
	entry := &types.WatchEntry{
		ChatID:    chatID,
		Token:     token,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.watches[key] = append(s.watches[key], entry)
	s.saveWatchesLocked()

	return entry, nil
}

// RemoveWatch deletes the (chat, token) watch. Returns false when no
// such watch exists.
func (s *Store) RemoveWatch(chatID int64, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chatKey(chatID)
	entries := s.watches[key]
	for i, e := range entries {
		if e.Token == token {
			s.watches[key] = append(entries[:i], entries[i+1:]...)
			if len(s.watches[key]) == 0 {
				delete(s.watches, key)
			}
			s.saveWatchesLocked()
			return true
		}
	}
	return false
}

// ClearWatches removes every watch for a chat and returns the count.
func (s *Store) ClearWatches(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := chatKey(chatID)
	n := len(s.watches[key])
	if n > 0 {
		delete(s.watches, key)
		s.saveWatchesLocked()
	}
	return n
}

// ListWatches returns a chat's watches, or every chat's when chatID is
// zero (scheduler use). Returned values are copies.
func (s *Store) ListWatches(chatID int64) []types.WatchEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.WatchEntry
	if chatID != 0 {
		for _, e := range s.watches[chatKey(chatID)] {
			out = append(out, *e)
		}
	} else {
		for _, entries := range s.watches {
			for _, e := range entries {
				out = append(out, *e)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].Token < out[j].Token
	})
	return out
}

// UpdateWatch writes back a tick's observation: last price, move
// percent, source, and (after an alert fired) the reset baseline.
func (s *Store) UpdateWatch(entry types.WatchEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.watches[chatKey(entry.ChatID)] {
		if e.Token == entry.Token {
			e.LastPrice = entry.LastPrice
			e.LastMovePct = entry.LastMovePct
			e.Baseline = entry.Baseline
			e.Source = entry.Source
			e.UpdatedAt = time.Now()
			s.saveWatchesLocked()
			return
		}
	}
}

// ──────────────────────────────── positions ────────────────────────────────

// AddPosition creates an AutoSell rule. Thresholds are validated here,
// at the boundary: negative percents and non-positive entry prices are
// rejected synchronously and never stored.
func (s *Store) AddPosition(chatID int64, token string, entry, qty, tpPct, slPct, trailPct decimal.Decimal) (*types.Position, error) {
	if token == "" {
		return nil, fmt.Errorf("empty token id")
	}
	if entry.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("entry price must be positive")
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("quantity must be positive")
	}
	if tpPct.IsNegative() || slPct.IsNegative() || trailPct.IsNegative() {
		return nil, fmt.Errorf("thresholds must not be negative")
	}
	if tpPct.IsZero() && slPct.IsZero() && trailPct.IsZero() {
		return nil, fmt.Errorf("at least one of tp, sl, trail must be set")
	}

	now := time.Now()
	pos := &types.Position{
		RuleID:        uuid.NewString(),
		ChatID:        chatID,
		Token:         token,
		EntryPrice:    entry,
		Quantity:      qty,
		TakeProfitPct: tpPct,
		StopLossPct:   slPct,
		TrailingPct:   trailPct,
		HighWaterMark: entry,
		State:         types.StateActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	s.mu.Lock()
	s.positions[pos.RuleID] = pos
	s.savePositionsLocked()
	s.mu.Unlock()

	log.Info().
		Str("rule_id", pos.RuleID).
		Str("token", types.ShortToken(token)).
		Int64("chat_id", chatID).
		Msg("✅ AutoSell rule added")

	return pos, nil
}

// RemovePosition deletes a rule by id.
func (s *Store) RemovePosition(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[ruleID]; !ok {
		return false
	}
	delete(s.positions, ruleID)
	s.savePositionsLocked()
	return true
}

// GetPosition returns a copy of the position, if present.
func (s *Store) GetPosition(ruleID string) (types.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[ruleID]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// ListPositions returns a chat's positions (all states), or every
// chat's when chatID is zero. Returned values are copies.
func (s *Store) ListPositions(chatID int64) []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Position
	for _, p := range s.positions {
		if chatID == 0 || p.ChatID == chatID {
			out = append(out, *p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActivePositions returns copies of every ACTIVE position across all
// chats, for the scheduler pass.
func (s *Store) ActivePositions() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []types.Position
	for _, p := range s.positions {
		if p.State == types.StateActive {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// UpdateHighWaterMark raises a position's high-water mark. Lower
// prices are a no-op: the mark is monotonically non-decreasing while
// the position is ACTIVE.
func (s *Store) UpdateHighWaterMark(ruleID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[ruleID]
	if !ok || pos.State != types.StateActive {
		return
	}
	if price.LessThanOrEqual(pos.HighWaterMark) {
		return
	}
	pos.HighWaterMark = price
	pos.UpdatedAt = time.Now()
	s.savePositionsLocked()
}

// MarkTriggered transitions ACTIVE -> TRIGGERED.
func (s *Store) MarkTriggered(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[ruleID]
	if !ok || pos.State != types.StateActive {
		return
	}
	pos.State = types.StateTriggered
	pos.UpdatedAt = time.Now()
	s.savePositionsLocked()
}

// Reactivate returns a TRIGGERED position to ACTIVE after a failed
// sell, so the condition is re-evaluated next tick.
func (s *Store) Reactivate(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[ruleID]
	if !ok || pos.State != types.StateTriggered {
		return
	}
	pos.State = types.StateActive
	pos.UpdatedAt = time.Now()
	s.savePositionsLocked()
}

// ClosePosition transitions to CLOSED and removes the rule. Called
// after the executor confirms the sell (or immediately in dry-run).
func (s *Store) ClosePosition(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[ruleID]
	if !ok {
		return
	}
	pos.State = types.StateClosed
	delete(s.positions, ruleID)
	s.savePositionsLocked()

	log.Info().Str("rule_id", ruleID).Str("token", types.ShortToken(pos.Token)).Msg("📊 Position closed")
}

// Tokens returns the distinct token ids referenced by any watch or
// position, for provider subscription management.
func (s *Store) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for _, entries := range s.watches {
		for _, e := range entries {
			seen[e.Token] = true
		}
	}
	for _, p := range s.positions {
		seen[p.Token] = true
	}

	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ──────────────────────────────── persistence ────────────────────────────────

func (s *Store) watchCountLocked() int {
	n := 0
	for _, entries := range s.watches {
		n += len(entries)
	}
	return n
}

func (s *Store) saveWatchesLocked() {
	s.saveLocked(watchesDoc, s.watches)
}

func (s *Store) savePositionsLocked() {
	s.saveLocked(positionsDoc, s.positions)
}

// saveLocked writes through the backend, retrying once. On repeated
// failure the in-memory state stays authoritative until the next
// successful write.
func (s *Store) saveLocked(name string, v any) {
	err := s.backend.Save(name, v)
	if err == nil {
		return
	}
	if err = s.backend.Save(name, v); err == nil {
		return
	}
	log.Error().Err(err).Str("doc", name).Msg("🚨 State write failed, memory authoritative")
}
