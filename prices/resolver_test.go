package prices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/morkfetch/fetchbot/types"
)

type fakeProvider struct {
	name  string
	price decimal.Decimal
	err   error
	calls int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Fetch(_ context.Context, _ string) (types.PriceSample, error) {
	f.calls++
	if f.err != nil {
		return types.PriceSample{}, f.err
	}
	return types.PriceSample{Price: f.price, Source: f.name, FetchedAt: time.Now()}, nil
}

func TestResolver_FallsThroughToNextProvider(t *testing.T) {
	broken := &fakeProvider{name: "broken", err: errors.New("boom")}
	good := &fakeProvider{name: "good", price: decimal.NewFromFloat(1.23)}
	r := NewResolver([]Provider{broken, good}, time.Minute)

	sample, err := r.Resolve(context.Background(), "tok", "")
	require.NoError(t, err)
	require.Equal(t, "good", sample.Source)
	require.Equal(t, 1, broken.calls)
	require.Equal(t, 1, good.calls)
}

func TestResolver_AllProvidersFail(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("down")}
	b := &fakeProvider{name: "b", err: errors.New("down")}
	r := NewResolver([]Provider{a, b}, time.Minute)

	_, err := r.Resolve(context.Background(), "tok", "")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolver_CacheHitSkipsFetch(t *testing.T) {
	p := &fakeProvider{name: "p", price: decimal.NewFromFloat(0.5)}
	r := NewResolver([]Provider{p}, time.Minute)

	first, err := r.Resolve(context.Background(), "tok", "")
	require.NoError(t, err)
	require.False(t, first.Cached)

	second, err := r.Resolve(context.Background(), "tok", "")
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.Equal(t, 1, p.calls)
}

func TestResolver_CacheExpires(t *testing.T) {
	p := &fakeProvider{name: "p", price: decimal.NewFromFloat(0.5)}
	r := NewResolver([]Provider{p}, time.Minute)

	current := time.Now()
	r.now = func() time.Time { return current }

	_, err := r.Resolve(context.Background(), "tok", "")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	sample, err := r.Resolve(context.Background(), "tok", "")
	require.NoError(t, err)
	require.False(t, sample.Cached)
	require.Equal(t, 2, p.calls)
}

func TestResolver_PreferredProviderFirst(t *testing.T) {
	a := &fakeProvider{name: "a", price: decimal.NewFromInt(1)}
	b := &fakeProvider{name: "b", price: decimal.NewFromInt(2)}
	r := NewResolver([]Provider{a, b}, time.Minute)

	sample, err := r.Resolve(context.Background(), "tok", "b")
	require.NoError(t, err)
	require.Equal(t, "b", sample.Source)
	require.Equal(t, 0, a.calls)
}

func TestResolver_CatalogRejectsUnknownToken(t *testing.T) {
	p := &fakeProvider{name: "p", price: decimal.NewFromInt(1)}
	r := NewResolver([]Provider{p}, time.Minute)
	r.SetCatalog([]string{"known"})

	_, err := r.Resolve(context.Background(), "unknown", "")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, 0, p.calls, "unknown token must not reach any provider")

	_, err = r.Resolve(context.Background(), "known", "")
	require.NoError(t, err)

	// nil catalog accepts everything again
	r.SetCatalog(nil)
	_, err = r.Resolve(context.Background(), "unknown", "")
	require.NoError(t, err)
}

func TestResolver_MarketCap(t *testing.T) {
	p := &fakeProvider{name: "p", price: decimal.NewFromFloat(0.25)}
	r := NewResolver([]Provider{p}, time.Minute)

	mc, err := r.MarketCap(context.Background(), "tok", decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.True(t, mc.Equal(decimal.NewFromInt(250)))
}

func TestSim_DeterministicAndAlwaysAvailable(t *testing.T) {
	s := NewSim()

	a, err := s.Fetch(context.Background(), "AnyMintAtAll")
	require.NoError(t, err)
	require.True(t, a.Price.IsPositive())

	b, err := s.Fetch(context.Background(), "AnyMintAtAll")
	require.NoError(t, err)

	// Same token at (nearly) the same instant resolves to the same
	// neighborhood; different tokens anchor differently.
	require.InDelta(t, a.Price.InexactFloat64(), b.Price.InexactFloat64(), a.Price.InexactFloat64()*0.05)

	c, err := s.Fetch(context.Background(), "ADifferentMint")
	require.NoError(t, err)
	require.False(t, c.Price.Equal(a.Price))
}
