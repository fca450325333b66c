package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"driftwatch/internal/config"
	"driftwatch/internal/executor"
	"driftwatch/internal/monitor"
	"driftwatch/internal/schedule"
	"driftwatch/internal/sink"
	"driftwatch/internal/store"
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

	// Open the persisted query store
	db, err := store.Open(ctx, cfg.Store.Backend, storeTarget(cfg))
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Store.Backend).Msg("failed to open store")
	}
	defer db.Close()

	// Open the telemetry database queries run against
	exec, err := executor.OpenSQL(cfg.Executor.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Executor.DatabasePath).Msg("failed to open telemetry database")
	}
	defer exec.Close()

	// Build the result sink, optionally buffered
	out, err := buildSink(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Sink.Type).Msg("failed to open sink")
	}
	defer out.Close()

	var buffered *sink.BufferedSink
	if cfg.Sink.Buffer > 0 {
		buffered = sink.NewBuffered(out, cfg.Sink.Buffer)
		buffered.Start()
		defer buffered.Flush(10 * time.Second)
		out = buffered
	}

	// Start the schedule
	sched := schedule.New(cfg, db, exec, out, metrics)
	sched.Start(ctx)

	// Metrics endpoint
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics listening")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	log.Info().
		Int("queries", len(cfg.Schedule)).
		Str("store", cfg.Store.Backend).
		Str("sink", cfg.Sink.Type).
		Msg("agent started")

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	log.Info().Str("signal", sig.String()).Msg("shutting down")

	sched.Stop()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	log.Info().Msg("agent stopped")
}

func storeTarget(cfg *config.Config) string {
	if cfg.Store.Backend == "postgres" {
		return cfg.Store.DSN
	}
	return cfg.Store.Path
}

func buildSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	switch cfg.Sink.Type {
	case "stdout":
		return sink.NewStdout(), nil
	case "postgres":
		return sink.NewPostgres(ctx, cfg.Sink.DSN)
	default:
		return sink.NewFile(cfg.Sink.Path)
	}
}
