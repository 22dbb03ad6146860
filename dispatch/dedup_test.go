package dispatch

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_BucketsThreshold(t *testing.T) {
	a := Fingerprint(1, "rule-1", "TAKE_PROFIT", decimal.RequireFromString("150.0000001"))
	b := Fingerprint(1, "rule-1", "TAKE_PROFIT", decimal.RequireFromString("150.0000002"))
	require.Equal(t, a, b, "jitter beyond six decimals must not mint a new fingerprint")

	c := Fingerprint(1, "rule-1", "TAKE_PROFIT", decimal.RequireFromString("150.1"))
	require.NotEqual(t, a, c)

	d := Fingerprint(2, "rule-1", "TAKE_PROFIT", decimal.RequireFromString("150.0000001"))
	require.NotEqual(t, a, d, "chat id is part of the key")
}

func TestGate_MarkFirstWithinWindow(t *testing.T) {
	g, err := NewGate("", time.Minute)
	require.NoError(t, err)

	require.True(t, g.MarkFirst("fp1"))
	require.False(t, g.MarkFirst("fp1"))
	require.True(t, g.MarkFirst("fp2"))
}

func TestGate_WindowExpires(t *testing.T) {
	g, err := NewGate("", time.Minute)
	require.NoError(t, err)

	current := time.Now()
	g.now = func() time.Time { return current }

	require.True(t, g.MarkFirst("fp"))
	current = current.Add(30 * time.Second)
	require.False(t, g.MarkFirst("fp"))

	current = current.Add(31 * time.Second)
	require.True(t, g.MarkFirst("fp"), "fingerprint outside the TTL window fires again")
}

func TestGate_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.db")

	g1, err := NewGate(path, time.Minute)
	require.NoError(t, err)
	require.True(t, g1.MarkFirst("fp"))
	require.NoError(t, g1.Close())

	g2, err := NewGate(path, time.Minute)
	require.NoError(t, err)
	defer g2.Close()
	require.False(t, g2.MarkFirst("fp"), "on-disk mirror must suppress recent fingerprints across restarts")
}

func TestGate_Forget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.db")
	g, err := NewGate(path, time.Minute)
	require.NoError(t, err)
	defer g.Close()

	require.True(t, g.MarkFirst("fp"))
	g.Forget("fp")
	require.True(t, g.MarkFirst("fp"))
}
