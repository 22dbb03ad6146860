package exec

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION - Delegated sell handoff
// ═══════════════════════════════════════════════════════════════════════════════
//
// The monitoring core never talks to a chain or DEX. This client is
// the seam where a real swap backend plugs in; until one does, fills
// are simulated so the rest of the pipeline (close, notify, journal)
// behaves exactly as it will in production.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Client struct{}

// NewClient creates the execution client.
func NewClient() *Client {
	log.Warn().Msg("⚠️  Execution backend not configured, sells will be simulated")
	return &Client{}
}

// ExecuteSell hands the sell off to the swap backend. fraction is the
// share of the position to liquidate (1 = full position).
func (c *Client) ExecuteSell(ctx context.Context, pos *types.Position, fraction decimal.Decimal) (types.Fill, error) {
	if err := ctx.Err(); err != nil {
		return types.Fill{}, err
	}

	fill := types.Fill{
		TxRef:     "sim-" + uuid.NewString()[:8],
		FilledQty: pos.Quantity.Mul(fraction),
	}

	log.Info().
		Str("rule_id", pos.RuleID).
		Str("token", types.ShortToken(pos.Token)).
		Str("qty", fill.FilledQty.String()).
		Str("tx_ref", fill.TxRef).
		Msg("Simulated sell handoff")

	return fill, nil
}
