package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"codegen-pipeline/internal/api"
	"codegen-pipeline/internal/cache"
	"codegen-pipeline/internal/config"
	"codegen-pipeline/internal/generator"
	"codegen-pipeline/internal/monitor"
	"codegen-pipeline/internal/pipeline"
	"codegen-pipeline/internal/runtime"
	"codegen-pipeline/internal/sandbox"
	"codegen-pipeline/internal/security"
	"codegen-pipeline/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	metrics := monitor.NewMetrics()

	// Initialize sandbox backend (auto-detects containerd vs Docker vs process)
	runner, err := sandbox.NewBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("no sandbox backend available")
	}

	// Result cache: redis when configured, in-memory otherwise. The resilient
	// wrapper keeps the pipeline running through cache outages.
	var store cache.Store
	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			redisStore, err := cache.NewRedisStore(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisDB, cfg.Cache.RedisTimeout)
			if err != nil {
				log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory cache")
				store = cache.NewMemoryStore()
			} else {
				store = redisStore
			}
		} else {
			store = cache.NewMemoryStore()
		}
		store = cache.NewResilient(store)
	}

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, run history disabled")
		} else {
			defer db.Close()
		}
	}

	// Initialize run writer (buffered, reliable history logging)
	var runWriter *storage.RunWriter
	if db != nil {
		runWriter = storage.NewRunWriter(db, 10000)
		runWriter.Start()
		defer runWriter.Flush(10 * time.Second)
	}

	validator := security.NewValidator(security.DenyList{
		Modules:    cfg.Security.DenyList.Modules,
		Calls:      cfg.Security.DenyList.Calls,
		Attributes: cfg.Security.DenyList.Attributes,
	})
	runtimes := runtime.NewRegistry(cfg.Sandbox.PythonBin, cfg.Sandbox.Image)
	gen := generator.NewHTTPGenerator(cfg.Generator)

	orch := pipeline.New(cfg, gen, validator, runner, store, runtimes)
	orch.Metrics = metrics
	if cfg.Tracing.Enabled {
		// Spans go to whatever TracerProvider the deployment registers
		// globally; without one they are no-ops.
		orch.Tracer = monitor.NewTracer()
		log.Info().Str("endpoint", cfg.Tracing.Endpoint).Msg("pipeline tracing enabled")
	}
	if runWriter != nil {
		orch.Auditor = runWriter
	}

	// Create and start HTTP server
	server := api.NewServer(cfg, orch, store, db, metrics)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		if err := runner.Close(); err != nil {
			log.Error().Err(err).Msg("sandbox close error")
		}

		if store != nil {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("cache close error")
			}
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("cache_enabled", store != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
