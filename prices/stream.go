package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/morkfetch/fetchbot/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BIRDEYE WEBSOCKET STREAM - Push-based price updates
// ═══════════════════════════════════════════════════════════════════════════════
//
// Maintains a live price map for subscribed tokens. Plugs into the
// resolver chain as a zero-latency provider: Fetch is a map lookup and
// fails for tokens that are not currently streamed, letting the chain
// fall through to the HTTP providers.
//
// ═══════════════════════════════════════════════════════════════════════════════

const streamPingInterval = 30 * time.Second

// BirdeyeStream subscribes to Birdeye price pushes over a websocket.
type BirdeyeStream struct {
	mu sync.RWMutex

	wsURL    string
	apiKey   string
	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}

	conn   *websocket.Conn
	tokens map[string]bool              // subscribed token ids
	prices map[string]types.PriceSample // token -> latest sample
}

// NewBirdeyeStream creates a stream client for the given endpoint.
func NewBirdeyeStream(wsURL, apiKey string) *BirdeyeStream {
	return &BirdeyeStream{
		wsURL:  wsURL,
		apiKey: apiKey,
		stopCh: make(chan struct{}),
		tokens: make(map[string]bool),
		prices: make(map[string]types.PriceSample),
	}
}

func (s *BirdeyeStream) Name() string { return "birdeye_ws" }

// Fetch returns the latest streamed sample for the token, or an error
// when the token is not streamed (stale samples count as missing).
func (s *BirdeyeStream) Fetch(_ context.Context, token string) (types.PriceSample, error) {
	s.mu.RLock()
	sample, ok := s.prices[token]
	s.mu.RUnlock()

	if !ok {
		return types.PriceSample{}, fmt.Errorf("birdeye_ws: %s not streamed", types.ShortToken(token))
	}
	if time.Since(sample.FetchedAt) > time.Minute {
		return types.PriceSample{}, fmt.Errorf("birdeye_ws: %s stale", types.ShortToken(token))
	}
	return sample, nil
}

// Track subscribes a token to the stream.
func (s *BirdeyeStream) Track(token string) {
	s.mu.Lock()
	already := s.tokens[token]
	s.tokens[token] = true
	conn := s.conn
	s.mu.Unlock()

	if already || conn == nil {
		return
	}
	if err := s.sendSubscribe(conn, token); err != nil {
		log.Debug().Err(err).Str("token", types.ShortToken(token)).Msg("Stream subscribe failed")
	}
}

// Untrack drops a token from the stream and its cached sample.
func (s *BirdeyeStream) Untrack(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	delete(s.prices, token)
	s.mu.Unlock()
}

// Start connects and begins processing
func (s *BirdeyeStream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	go s.connectionLoop()
	log.Info().Msg("📡 Birdeye stream started")
}

// Stop closes the connection and waits for the loop to exit, so a
// later Start gets a fresh loop instead of a stale channel.
func (s *BirdeyeStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	<-s.loopDone
	log.Info().Msg("Birdeye stream stopped")
}

// connectionLoop reconnects with exponential backoff until stopped.
func (s *BirdeyeStream) connectionLoop() {
	defer close(s.loopDone)

	retry := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Jitter: true,
	}

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		if err := s.connect(); err != nil {
			d := retry.Duration()
			log.Warn().Err(err).Dur("retry_in", d).Msg("Stream connect failed")
			select {
			case <-s.stopCh:
				return
			case <-time.After(d):
			}
			continue
		}
		retry.Reset()

		s.readLoop()
	}
}

func (s *BirdeyeStream) connect() error {
	header := map[string][]string{}
	if s.apiKey != "" {
		header["X-API-KEY"] = []string{s.apiKey}
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	tokens := make([]string, 0, len(s.tokens))
	for t := range s.tokens {
		tokens = append(tokens, t)
	}
	s.mu.Unlock()

	for _, t := range tokens {
		if err := s.sendSubscribe(conn, t); err != nil {
			conn.Close()
			return err
		}
	}

	log.Info().Int("tokens", len(tokens)).Msg("📡 Stream connected")
	return nil
}

func (s *BirdeyeStream) sendSubscribe(conn *websocket.Conn, token string) error {
	msg := map[string]any{
		"type": "SUBSCRIBE_PRICE",
		"data": map[string]string{"address": token, "currency": "usd"},
	}
	return conn.WriteJSON(msg)
}

// readLoop consumes messages until the connection dies or stop is
// requested. Ping keepalives run alongside.
func (s *BirdeyeStream) readLoop() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	done := make(chan struct{})
	defer close(done)

	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("Stream read error, reconnecting")
			return
		}
		s.handleMessage(raw)
	}
}

func (s *BirdeyeStream) handleMessage(raw []byte) {
	var msg struct {
		Type string `json:"type"`
		Data struct {
			Address string  `json:"address"`
			Value   float64 `json:"value"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "PRICE_DATA" || msg.Data.Address == "" || msg.Data.Value <= 0 {
		return
	}

	s.mu.Lock()
	s.prices[msg.Data.Address] = types.PriceSample{
		Price:     decimal.NewFromFloat(msg.Data.Value),
		Source:    s.Name(),
		FetchedAt: time.Now(),
	}
	s.mu.Unlock()
}
