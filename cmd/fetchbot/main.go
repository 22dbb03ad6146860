package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/morkfetch/fetchbot/bot"
	"github.com/morkfetch/fetchbot/core"
	"github.com/morkfetch/fetchbot/dispatch"
	"github.com/morkfetch/fetchbot/exec"
	"github.com/morkfetch/fetchbot/internal/config"
	"github.com/morkfetch/fetchbot/internal/dashboard"
	"github.com/morkfetch/fetchbot/prices"
	"github.com/morkfetch/fetchbot/storage"
	"github.com/morkfetch/fetchbot/store"
)

func main() {
	// ═══════════════════════════════════════════════════════════════════════════════
	// BOOTSTRAP
	// ═══════════════════════════════════════════════════════════════════════════════

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found")
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("═══════════════════════════════════════════════════════════════")
	log.Info().Msg("              FETCHBOT - WATCH & AUTOSELL MONITOR")
	log.Info().Msg("═══════════════════════════════════════════════════════════════")

	// ═══════════════════════════════════════════════════════════════════════════════
	// INITIALIZE COMPONENTS
	// ═══════════════════════════════════════════════════════════════════════════════

	// 1. State files (watches + positions)
	backend, err := store.NewFileBackend(cfg.StateDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.StateDir).Msg("Failed to open state directory")
	}
	st := store.New(backend)
	log.Info().Str("dir", cfg.StateDir).Msg("✅ Rule store initialized")

	// 2. Journal (optional trigger/alert history)
	journal, err := storage.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Warn().Err(err).Msg("Journal unavailable, continuing without history")
		journal, _ = storage.NewJournal("")
	}

	// 3. Price providers in configured preference order; Sim is always
	// last so the chain can never be empty.
	var providers []prices.Provider
	var stream *prices.BirdeyeStream
	for _, name := range cfg.PriceProviders {
		switch name {
		case "dexscreener":
			providers = append(providers, prices.NewDexscreener(cfg.PriceTimeout))
		case "birdeye":
			if cfg.StreamEnabled {
				stream = prices.NewBirdeyeStream(cfg.BirdeyeWSURL, cfg.BirdeyeAPIKey)
				providers = append(providers, stream)
			} else {
				providers = append(providers, prices.NewBirdeye(cfg.BirdeyeAPIKey, cfg.PriceTimeout))
			}
		case "sim":
			// appended below
		default:
			log.Warn().Str("provider", name).Msg("Unknown price provider, skipping")
		}
	}
	providers = append(providers, prices.NewSim())
	resolver := prices.NewResolver(providers, cfg.PriceCacheTTL)
	log.Info().Int("providers", len(providers)).Msg("✅ Price resolver initialized")

	// 4. Dedup gate
	gate, err := dispatch.NewGate(cfg.DedupPath, cfg.DedupTTL)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DedupPath).Msg("Failed to open dedup store")
	}
	log.Info().Dur("ttl", cfg.DedupTTL).Msg("✅ Dedup gate initialized")

	// 5. Execution client
	executor := exec.NewClient()

	// 6. Dispatcher (notifier attached once the bot exists)
	dispatcher := dispatch.NewDispatcher(gate, nil, executor, st, cfg.AlertsPerMin, cfg.DryRun)
	dispatcher.SetJournal(journal)

	// 7. Scheduler
	scheduler := core.NewScheduler(st, resolver, dispatcher, cfg)

	// 8. Telegram bot
	tg, err := bot.NewTelegramBot(cfg, st, scheduler, journal)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
	}
	dispatcher.SetNotifier(tg)
	tg.SetDedupReleaser(dispatcher)
	if stream != nil {
		tg.SetTokenTracker(stream)
	}

	// ═══════════════════════════════════════════════════════════════════════════════
	// START
	// ═══════════════════════════════════════════════════════════════════════════════

	if stream != nil {
		stream.Start()
		for _, token := range st.Tokens() {
			stream.Track(token)
		}
	}

	tg.Start()

	if cfg.SchedulerEnabled {
		scheduler.Start()
	} else {
		log.Warn().Msg("Scheduler disabled (SCHEDULER_ENABLED=false), commands only")
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard {
		dash = dashboard.New(st, scheduler)
		dash.Start()
	}

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Dur("interval", cfg.TickInterval).
		Int("workers", cfg.MaxWorkers).
		Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")

	if dash != nil {
		dash.Stop()
	}
	scheduler.Stop()
	tg.Stop()
	if stream != nil {
		stream.Stop()
	}
	if err := gate.Close(); err != nil {
		log.Error().Err(err).Msg("Dedup store close failed")
	}

	// Give in-flight sends a moment to drain.
	time.Sleep(200 * time.Millisecond)

	log.Info().Msg("👋 Goodbye!")
}
