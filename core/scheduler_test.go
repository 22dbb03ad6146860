package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/morkfetch/fetchbot/dispatch"
	"github.com/morkfetch/fetchbot/internal/config"
	"github.com/morkfetch/fetchbot/prices"
	"github.com/morkfetch/fetchbot/store"
	"github.com/morkfetch/fetchbot/types"
)

// flakyProvider prices every token except the ones in broken.
type flakyProvider struct {
	mu     sync.Mutex
	broken map[string]bool
	prices map[string]decimal.Decimal
}

func (f *flakyProvider) Name() string { return "flaky" }

func (f *flakyProvider) Fetch(_ context.Context, token string) (types.PriceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[token] {
		return types.PriceSample{}, errors.New("provider down for this token")
	}
	price, ok := f.prices[token]
	if !ok {
		return types.PriceSample{}, prices.ErrUnavailable
	}
	return types.PriceSample{Price: price, Source: f.Name(), FetchedAt: time.Now()}, nil
}

type collectingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *collectingNotifier) Notify(_ int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

func (n *collectingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type noopExecutor struct{}

func (noopExecutor) ExecuteSell(_ context.Context, pos *types.Position, fraction decimal.Decimal) (types.Fill, error) {
	return types.Fill{TxRef: "tx", FilledQty: pos.Quantity.Mul(fraction)}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		DryRun:           false,
		SchedulerEnabled: true,
		PriceCacheTTL:    time.Second,
		PriceTimeout:     time.Second,
		TickInterval:     3 * time.Second,
		PassTimeout:      5 * time.Second,
		MaxWorkers:       4,
		MinMovePct:       decimal.NewFromInt(5),
		DedupTTL:         time.Minute,
		AlertsPerMin:     100,
	}
}

func newTestScheduler(t *testing.T, provider prices.Provider, notifier dispatch.Notifier) (*Scheduler, *store.Store) {
	t.Helper()

	st := store.New(store.NewMemoryBackend())
	// Zero TTL disables caching so every pass observes the latest price.
	resolver := prices.NewResolver([]prices.Provider{provider}, 0)

	gate, err := dispatch.NewGate("", time.Minute)
	require.NoError(t, err)

	cfg := testConfig()
	dispatcher := dispatch.NewDispatcher(gate, notifier, noopExecutor{}, st, cfg.AlertsPerMin, cfg.DryRun)

	return NewScheduler(st, resolver, dispatcher, cfg), st
}

func TestRunPass_FailingTokenDoesNotBlockOthers(t *testing.T) {
	provider := &flakyProvider{
		broken: map[string]bool{"badTok": true},
		prices: map[string]decimal.Decimal{"goodTok": decimal.NewFromInt(160)},
	}
	notifier := &collectingNotifier{}
	sched, st := newTestScheduler(t, provider, notifier)

	_, err := st.AddWatch(1, "badTok")
	require.NoError(t, err)
	pos, err := st.AddPosition(1, "goodTok",
		decimal.NewFromInt(100), decimal.NewFromInt(1),
		decimal.NewFromInt(50), decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	sched.runPass()

	// goodTok triggered take-profit despite badTok's provider failure.
	require.Equal(t, 1, notifier.count())
	_, ok := st.GetPosition(pos.RuleID)
	require.False(t, ok, "filled rule is removed")
}

func TestRunPass_WatchAlertBaselineHysteresis(t *testing.T) {
	provider := &flakyProvider{prices: map[string]decimal.Decimal{"tok": decimal.NewFromInt(100)}}
	notifier := &collectingNotifier{}
	sched, st := newTestScheduler(t, provider, notifier)

	_, err := st.AddWatch(1, "tok")
	require.NoError(t, err)

	// First pass seeds the baseline without firing.
	sched.runPass()
	require.Equal(t, 0, notifier.count())

	// +4% stays under the 5% threshold.
	provider.mu.Lock()
	provider.prices["tok"] = decimal.NewFromInt(104)
	provider.mu.Unlock()
	sched.runPass()
	require.Equal(t, 0, notifier.count())

	// +6% fires and resets the baseline to 106.
	provider.mu.Lock()
	provider.prices["tok"] = decimal.NewFromInt(106)
	provider.mu.Unlock()
	sched.runPass()
	require.Equal(t, 1, notifier.count())

	// +2% from the new baseline stays quiet.
	provider.mu.Lock()
	provider.prices["tok"] = decimal.NewFromInt(108)
	provider.mu.Unlock()
	sched.runPass()
	require.Equal(t, 1, notifier.count())

	watches := st.ListWatches(1)
	require.Len(t, watches, 1)
	require.True(t, watches[0].Baseline.Equal(decimal.NewFromInt(106)), "baseline %s", watches[0].Baseline)
}

func TestRunPass_TrailingMarkPersistsWithoutTrigger(t *testing.T) {
	provider := &flakyProvider{prices: map[string]decimal.Decimal{"tok": decimal.NewFromInt(100)}}
	sched, st := newTestScheduler(t, provider, &collectingNotifier{})

	pos, err := st.AddPosition(1, "tok",
		decimal.NewFromInt(100), decimal.NewFromInt(1),
		decimal.Zero, decimal.Zero, decimal.NewFromInt(50))
	require.NoError(t, err)

	provider.mu.Lock()
	provider.prices["tok"] = decimal.NewFromInt(140)
	provider.mu.Unlock()
	sched.runPass()

	got, ok := st.GetPosition(pos.RuleID)
	require.True(t, ok, "no trigger at 140 with a 50%% trail")
	require.True(t, got.HighWaterMark.Equal(decimal.NewFromInt(140)))
}

func TestScheduler_StartStop(t *testing.T) {
	provider := &flakyProvider{prices: map[string]decimal.Decimal{}}
	sched, _ := newTestScheduler(t, provider, &collectingNotifier{})

	sched.Start()
	require.True(t, sched.Status().Running)

	done := make(chan struct{})
	go func() {
		sched.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	require.False(t, sched.Status().Running)
}

func TestScheduler_SetIntervalClamped(t *testing.T) {
	provider := &flakyProvider{prices: map[string]decimal.Decimal{}}
	sched, _ := newTestScheduler(t, provider, &collectingNotifier{})

	applied := sched.SetInterval(time.Second)
	require.Equal(t, MinTickInterval, applied)

	applied = sched.SetInterval(10 * time.Second)
	require.Equal(t, 10*time.Second, applied)
	require.Equal(t, 10*time.Second, sched.Status().Interval)
}

func TestScheduler_EventLogBounded(t *testing.T) {
	provider := &flakyProvider{prices: map[string]decimal.Decimal{}}
	sched, _ := newTestScheduler(t, provider, &collectingNotifier{})

	for i := 0; i < 2*eventLogSize; i++ {
		sched.recordEvent("[tick] ok")
	}

	require.Len(t, sched.Events(0), eventLogSize)
	require.Len(t, sched.Events(10), 10)
}
