package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/eggfarm/tvl/internal/config"
	"github.com/eggfarm/tvl/internal/datafetcher"
	"github.com/eggfarm/tvl/internal/engine"
	"github.com/eggfarm/tvl/internal/logger"
	"github.com/eggfarm/tvl/internal/notify"
	"github.com/eggfarm/tvl/internal/observability"
	"github.com/eggfarm/tvl/internal/state"
	"github.com/eggfarm/tvl/internal/web"
)

const shutdownTimeout = 15 * time.Second

// main is the entry point of the TVL aggregator.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log.Info().Msg("TVL aggregator starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	universe, err := config.LoadUniverse(config.UniverseFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load farm and pool universe")
	}
	store, err := state.NewEntryStore(universe)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid farm and pool universe")
	}
	log.Info().
		Int("primaryFarms", len(universe.PrimaryFarms)).
		Int("secondaryFarms", len(universe.SecondaryFarms)).
		Int("pools", len(universe.Pools)).
		Msg("Universe loaded")

	valuation := config.ValuationConfigs()

	// --- 2. Optional sinks: Postgres history and Redis notifications ---
	var (
		recorder  engine.Recorder
		overrides state.PriceOverrides
	)
	if dbCfg, ok := config.DatabaseConfig(); ok {
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}

		overrides, err = state.LoadPriceOverrides(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load price overrides")
		}
		recorder = state.HistoryRecorder{}
		log.Info().Int("overriddenDeployments", len(overrides)).Msg("Valuation history enabled")
	} else {
		log.Info().Msg("DB_NAME not set, valuation history disabled")
	}

	var notifier engine.Notifier
	if config.RedisAddr != "" {
		redisNotifier, err := notify.NewRedisNotifier(ctx, config.RedisAddr, config.RedisPassword, config.RedisChannel)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisNotifier.Close()
		notifier = redisNotifier
	}

	// --- 3. Engine and refresh clock ---
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics("tvl", registry)

	fetcher, err := datafetcher.NewClient(datafetcher.ClientConfig{
		FarmAPI:       config.FarmAPI,
		PriceAPI:      config.PriceAPI,
		Timeout:       config.FetchTimeout,
		PriceCacheTTL: config.PriceCacheTTL,
		RetryDelay:    time.Second,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create API client")
	}

	eng, err := engine.NewEngine(engine.Config{
		Fetcher:      fetcher,
		Store:        store,
		Valuation:    valuation,
		StaleAfter:   config.StaleAfter,
		FetchTimeout: config.FetchTimeout,
		Workers:      config.GetEnvAsInt("FETCH_WORKERS", engine.DefaultWorkers),

		PriceOverrides: overrides,
		Metrics:        metrics,
		Recorder:       recorder,
		Notifier:       notifier,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}
	defer eng.Close()

	clock, err := engine.NewClock(eng, config.SlowRefreshInterval, config.FastRefreshInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create refresh clock")
	}
	clock.SetAccount(config.WalletAccount)
	if err := clock.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start refresh clock")
	}

	// --- 4. Read API ---
	webServer := web.NewWebServer(config.WebPort, eng, clock, registry)
	go func() {
		log.Info().Str("port", config.WebPort).Str("url", "http://localhost:"+config.WebPort).Msg("Starting read API")
		if err := webServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Web server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Web server shutdown error")
	}
	clock.Stop()
	log.Info().Msg("TVL aggregator stopped")
}
