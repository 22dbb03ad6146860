package prices

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE RESOLVER - Ordered provider chain with short-lived caching
// ═══════════════════════════════════════════════════════════════════════════════
//
// Resolution order: preferred provider (if named) first, then the
// configured order. A provider failure falls through to the next;
// only when every provider fails does the caller see ErrUnavailable.
// Configuring Sim at the tail makes that impossible in practice.
//
// ═══════════════════════════════════════════════════════════════════════════════

type cacheEntry struct {
	sample types.PriceSample
	at     time.Time
}

// Resolver resolves token prices through an ordered provider chain.
type Resolver struct {
	mu        sync.RWMutex
	providers []Provider
	cache     map[string]cacheEntry // "token|provider" -> sample
	catalog   map[string]bool       // nil = accept any token
	ttl       time.Duration
	now       func() time.Time
}

// NewResolver creates a resolver over the given providers, tried in
// order. ttl bounds how long a fetched sample is reused.
func NewResolver(providers []Provider, ttl time.Duration) *Resolver {
	return &Resolver{
		providers: providers,
		cache:     make(map[string]cacheEntry),
		ttl:       ttl,
		now:       time.Now,
	}
}

// SetCatalog restricts resolution to a known-token set. Unknown tokens
// fail immediately with ErrUnavailable, before any network call; this
// bounds worst-case latency for garbage input. A nil catalog accepts
// every token.
func (r *Resolver) SetCatalog(tokens []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tokens == nil {
		r.catalog = nil
		return
	}
	r.catalog = make(map[string]bool, len(tokens))
	for _, t := range tokens {
		r.catalog[t] = true
	}
}

// Resolve returns a price sample for the token. The preferred provider
// (by name, may be empty) is consulted first, then the remaining chain
// in configured order.
func (r *Resolver) Resolve(ctx context.Context, token, preferred string) (types.PriceSample, error) {
	r.mu.RLock()
	known := r.catalog == nil || r.catalog[token]
	r.mu.RUnlock()

	if !known {
		return types.PriceSample{}, ErrUnavailable
	}

	for _, p := range r.ordered(preferred) {
		if sample, ok := r.cached(token, p.Name()); ok {
			return sample, nil
		}

		sample, err := p.Fetch(ctx, token)
		if err != nil {
			log.Debug().
				Err(err).
				Str("provider", p.Name()).
				Str("token", types.ShortToken(token)).
				Msg("Provider failed, falling through")
			continue
		}

		r.store(token, p.Name(), sample)
		return sample, nil
	}

	return types.PriceSample{}, ErrUnavailable
}

// MarketCap derives a market cap from the token's current price and
// circulating supply, reusing the cached sample within the TTL window
// rather than issuing a second fetch.
func (r *Resolver) MarketCap(ctx context.Context, token string, supply decimal.Decimal) (decimal.Decimal, error) {
	sample, err := r.Resolve(ctx, token, "")
	if err != nil {
		return decimal.Zero, err
	}
	return sample.Price.Mul(supply), nil
}

// ordered returns the provider chain with the preferred provider moved
// to the front.
func (r *Resolver) ordered(preferred string) []Provider {
	if preferred == "" {
		return r.providers
	}

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		if p.Name() == preferred {
			out = append(out, p)
		}
	}
	for _, p := range r.providers {
		if p.Name() != preferred {
			out = append(out, p)
		}
	}
	return out
}

func (r *Resolver) cached(token, provider string) (types.PriceSample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.cache[token+"|"+provider]
	if !ok || r.now().Sub(entry.at) >= r.ttl {
		return types.PriceSample{}, false
	}
	sample := entry.sample
	sample.Cached = true
	return sample, true
}

func (r *Resolver) store(token, provider string, sample types.PriceSample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[token+"|"+provider] = cacheEntry{sample: sample, at: r.now()}
}
