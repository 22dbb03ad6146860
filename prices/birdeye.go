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

const birdeyeAPIURL = "https://public-api.birdeye.so/defi/price"

// Birdeye resolves token prices from the Birdeye public API.
// Requires an API key sent in the X-API-KEY header.
type Birdeye struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBirdeye creates a Birdeye provider.
func NewBirdeye(apiKey string, timeout time.Duration) *Birdeye {
	return &Birdeye{
		baseURL: birdeyeAPIURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (b *Birdeye) Name() string { return "birdeye" }

func (b *Birdeye) Fetch(ctx context.Context, token string) (types.PriceSample, error) {
	if b.apiKey == "" {
		return types.PriceSample{}, fmt.Errorf("birdeye: no API key")
	}

	url := fmt.Sprintf("%s?address=%s", b.baseURL, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.PriceSample{}, err
	}
	req.Header.Set("X-API-KEY", b.apiKey)
	req.Header.Set("accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return types.PriceSample{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PriceSample{}, fmt.Errorf("birdeye: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.PriceSample{}, err
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Value float64 `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return types.PriceSample{}, fmt.Errorf("birdeye: decode: %w", err)
	}
	if !result.Success || result.Data.Value <= 0 {
		return types.PriceSample{}, fmt.Errorf("birdeye: no price for %s", types.ShortToken(token))
	}

	return types.PriceSample{
		Price:     decimal.NewFromFloat(result.Data.Value),
		Source:    b.Name(),
		FetchedAt: time.Now(),
	}, nil
}
