package prices

import (
	"context"
	"errors"

	"github.com/morkfetch/fetchbot/types"
)

// ErrUnavailable is returned when no provider can produce a price for
// a token. Callers treat it as "skip this tick", never as fatal.
var ErrUnavailable = errors.New("price unavailable")

// Provider fetches a current price for a token from one source.
// Implementations must time-box their own network calls and return an
// error on timeout, non-2xx responses, or unparseable payloads.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, token string) (types.PriceSample, error)
}
