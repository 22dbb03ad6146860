package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Telegram
	TelegramToken string

	// Mode
	DryRun           bool
	Debug            bool
	SchedulerEnabled bool // exactly one deployed instance should run the scheduler
	Dashboard        bool // in-terminal monitoring view

	// State files
	StateDir    string
	DedupPath   string
	JournalPath string // sqlite path or postgres:// URL; empty disables the journal

	// Price resolution
	PriceProviders []string // preference order; "sim" is always appended
	BirdeyeAPIKey  string
	BirdeyeWSURL   string
	StreamEnabled  bool
	PriceCacheTTL  time.Duration
	PriceTimeout   time.Duration

	// Scheduler
	TickInterval time.Duration
	PassTimeout  time.Duration
	MaxWorkers   int

	// Alerting
	MinMovePct   decimal.Decimal
	DedupTTL     time.Duration
	AlertsPerMin int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DryRun:           getEnvBool("DRY_RUN", true),
		Debug:            getEnvBool("DEBUG", false),
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
		Dashboard:        getEnvBool("DASHBOARD_ENABLED", false),

		StateDir:    getEnv("STATE_DIR", "data"),
		DedupPath:   getEnv("DEDUP_PATH", "data/dedup.db"),
		JournalPath: os.Getenv("JOURNAL_PATH"),

		PriceProviders: splitList(getEnv("PRICE_PROVIDERS", "dexscreener,birdeye,sim")),
		BirdeyeAPIKey:  os.Getenv("BIRDEYE_API_KEY"),
		BirdeyeWSURL:   getEnv("BIRDEYE_WS_URL", "wss://public-api.birdeye.so/socket"),
		StreamEnabled:  getEnvBool("BIRDEYE_WS_ENABLED", false),
		PriceCacheTTL:  getEnvDuration("PRICE_CACHE_TTL", 30*time.Second),
		PriceTimeout:   getEnvDuration("PRICE_TIMEOUT", 8*time.Second),

		TickInterval: getEnvDuration("TICK_INTERVAL", 30*time.Second),
		PassTimeout:  getEnvDuration("PASS_TIMEOUT", 45*time.Second),
		MaxWorkers:   getEnvInt("MAX_WORKERS", 4),

		MinMovePct:   getEnvDecimal("MIN_MOVE_PCT", decimal.NewFromFloat(1.0)),
		DedupTTL:     getEnvDuration("DEDUP_TTL", 90*time.Second),
		AlertsPerMin: getEnvInt("ALERTS_PER_MIN", 5),
	}

	// Interval floor matches the smallest useful polling cadence; the
	// live providers rate-limit well above this.
	if cfg.TickInterval < 3*time.Second {
		cfg.TickInterval = 3 * time.Second
	}

	if cfg.PriceCacheTTL <= 0 {
		return nil, fmt.Errorf("PRICE_CACHE_TTL must be positive")
	}
	if cfg.PriceTimeout <= 0 {
		return nil, fmt.Errorf("PRICE_TIMEOUT must be positive")
	}
	if cfg.PassTimeout <= 0 {
		return nil, fmt.Errorf("PASS_TIMEOUT must be positive")
	}
	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("MAX_WORKERS must be at least 1")
	}
	if cfg.MinMovePct.IsNegative() {
		return nil, fmt.Errorf("MIN_MOVE_PCT must not be negative")
	}
	if cfg.AlertsPerMin < 1 {
		return nil, fmt.Errorf("ALERTS_PER_MIN must be at least 1")
	}
	if len(cfg.PriceProviders) == 0 {
		return nil, fmt.Errorf("PRICE_PROVIDERS must name at least one provider")
	}

	return cfg, nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
