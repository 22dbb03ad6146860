package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/buntdb"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DEDUP GATE - At-most-once dispatch per event fingerprint
// ═══════════════════════════════════════════════════════════════════════════════
//
// In-memory table for the fast path, mirrored to a buntdb file with
// per-key TTL so a process restarted mid-pass still suppresses recent
// fingerprints. Overlapping ticks, concurrent workers, and restarts
// all funnel through MarkFirst's single critical section.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Fingerprint derives the dedup key for a triggered event. The
// threshold is bucketed to six decimal places so price jitter between
// retries cannot mint a fresh fingerprint.
func Fingerprint(chatID int64, subjectID, kind string, threshold decimal.Decimal) string {
	return fmt.Sprintf("%d|%s|%s|%s", chatID, subjectID, kind, threshold.Round(6).String())
}

// Gate is the dedup table.
type Gate struct {
	mu  sync.Mutex
	ttl time.Duration
	mem map[string]time.Time
	db  *buntdb.DB // nil when no on-disk mirror is configured
	now func() time.Time
}

// NewGate opens the gate with an on-disk mirror at path. An empty path
// (or ":memory:") keeps the table purely in-process.
func NewGate(path string, ttl time.Duration) (*Gate, error) {
	g := &Gate{
		ttl: ttl,
		mem: make(map[string]time.Time),
		now: time.Now,
	}
	if path == "" {
		return g, nil
	}

	db, err := buntdb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dedup db: %w", err)
	}
	g.db = db
	return g, nil
}

// Close releases the on-disk mirror.
func (g *Gate) Close() error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

// MarkFirst records the fingerprint and reports whether this is its
// first appearance within the TTL window. Returns false for a
// duplicate: the caller must drop the event.
func (g *Gate) MarkFirst(fp string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.mem[fp]; ok && now.Sub(at) < g.ttl {
		return false
	}
	if g.db != nil && g.onDisk(fp) {
		g.mem[fp] = now // rehydrate so the fast path catches the next one
		return false
	}

	g.mem[fp] = now
	g.sweepLocked(now)

	if g.db != nil {
		err := g.db.Update(func(tx *buntdb.Tx) error {
			_, _, err := tx.Set(fp, now.Format(time.RFC3339Nano), &buntdb.SetOptions{
				Expires: true,
				TTL:     g.ttl,
			})
			return err
		})
		if err != nil {
			log.Error().Err(err).Str("fingerprint", fp).Msg("Dedup mirror write failed")
		}
	}

	return true
}

// Forget drops a fingerprint immediately, used on explicit rule
// removal so re-adding the rule can fire again.
func (g *Gate) Forget(fp string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.mem, fp)
	if g.db != nil {
		g.db.Update(func(tx *buntdb.Tx) error {
			_, err := tx.Delete(fp)
			if err == buntdb.ErrNotFound {
				return nil
			}
			return err
		})
	}
}

func (g *Gate) onDisk(fp string) bool {
	found := false
	g.db.View(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(fp); err == nil {
			found = true
		}
		return nil
	})
	return found
}

// sweepLocked evicts expired in-memory fingerprints. buntdb expires
// its own keys.
func (g *Gate) sweepLocked(now time.Time) {
	for fp, at := range g.mem {
		if now.Sub(at) >= g.ttl {
			delete(g.mem, fp)
		}
	}
}
