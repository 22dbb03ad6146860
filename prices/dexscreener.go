package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/types"
)

const dexscreenerAPIURL = "https://api.dexscreener.com/latest/dex/tokens"

// Dexscreener resolves token prices from the public DEX Screener API.
// No API key required.
type Dexscreener struct {
	baseURL string
	client  *http.Client
}

// NewDexscreener creates a DEX Screener provider with the given
// per-call timeout.
func NewDexscreener(timeout time.Duration) *Dexscreener {
	return &Dexscreener{
		baseURL: dexscreenerAPIURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (d *Dexscreener) Name() string { return "dexscreener" }

func (d *Dexscreener) Fetch(ctx context.Context, token string) (types.PriceSample, error) {
	url := fmt.Sprintf("%s/%s", d.baseURL, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.PriceSample{}, err
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return types.PriceSample{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PriceSample{}, fmt.Errorf("dexscreener: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.PriceSample{}, err
	}

	var result struct {
		Pairs []struct {
			PriceUsd string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return types.PriceSample{}, fmt.Errorf("dexscreener: decode: %w", err)
	}
	if len(result.Pairs) == 0 || result.Pairs[0].PriceUsd == "" {
		return types.PriceSample{}, fmt.Errorf("dexscreener: no pairs for %s", types.ShortToken(token))
	}

	price, err := decimal.NewFromString(result.Pairs[0].PriceUsd)
	if err != nil {
		return types.PriceSample{}, fmt.Errorf("dexscreener: bad price %q: %w", result.Pairs[0].PriceUsd, err)
	}

	return types.PriceSample{
		Price:     price,
		Source:    d.Name(),
		FetchedAt: time.Now(),
	}, nil
}
