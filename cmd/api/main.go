package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/physio-voice-intake/internal/api/router"
	"github.com/wolfman30/physio-voice-intake/internal/app/bootstrap"
	appconfig "github.com/wolfman30/physio-voice-intake/internal/config"
	"github.com/wolfman30/physio-voice-intake/internal/desk"
	httpmiddleware "github.com/wolfman30/physio-voice-intake/internal/http/middleware"
	"github.com/wolfman30/physio-voice-intake/internal/intake"
	"github.com/wolfman30/physio-voice-intake/internal/observability/metrics"
	"github.com/wolfman30/physio-voice-intake/internal/operator"
	"github.com/wolfman30/physio-voice-intake/internal/transport"
	"github.com/wolfman30/physio-voice-intake/pkg/logging"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting physio-voice-intake API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Storage
	redisClient := bootstrap.BuildRedisClient(rootCtx, cfg, logger, true)
	pool, err := bootstrap.BuildPostgresPool(rootCtx, cfg)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
	}

	metricsHandler, intakeMetrics := setupIntakeMetrics()

	confirmer := bootstrap.BuildConfirmer(rootCtx, cfg, logger)
	go confirmer.Run(rootCtx)

	archive := bootstrap.BuildArchive(pool)
	registry := desk.NewRegistry(buildRegistryOptions(cfg, redisClient, archive, confirmer, intakeMetrics, logger))

	opCfg := operator.Config{
		Registry:      registry,
		Bot:           transport.NewBotClient(logger),
		DefaultBotURL: cfg.BotWSURL,
		Logger:        logger,
		BaseContext:   rootCtx,
	}
	if archive != nil {
		opCfg.Archive = archive
	}
	opHandler := operator.NewHandler(opCfg)

	// Setup router
	r := router.New(&router.Config{
		Logger:             logger,
		Operator:           opHandler,
		OperatorJWTSecret:  cfg.OperatorJWTSecret,
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		StartLimiter:       httpmiddleware.NewRateLimiter(cfg.SessionStartRate, cfg.SessionStartBurst, nil),
	})

	// Create HTTP server. No write timeout: the console stream is long lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	registry.Shutdown(ctx)
	stop()
	opHandler.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupIntakeMetrics registers the intake collectors on a private registry
// and returns its scrape handler.
func setupIntakeMetrics() (http.Handler, *metrics.IntakeMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewIntakeMetrics(reg)
}

func buildRegistryOptions(
	cfg *appconfig.Config,
	redisClient *redis.Client,
	archive *intake.ArchiveRepository,
	confirmer intake.Observer,
	intakeMetrics *metrics.IntakeMetrics,
	logger *logging.Logger,
) desk.Options {
	opts := desk.Options{
		NewLedger:           bootstrap.BuildLedgerFactory(cfg, redisClient, logger),
		Appointments:        bootstrap.BuildAppointmentExtractor(cfg, logger),
		WelcomeMessage:      cfg.WelcomeMessage,
		ClearRecordsOnReset: cfg.ClearRecordsOnReset,
		Snapshots:           bootstrap.BuildSnapshotStore(redisClient, cfg, logger),
		Observers:           []intake.Observer{confirmer},
		Metrics:             intakeMetrics,
		Logger:              logger,
	}
	// A nil repository must stay a nil interface.
	if archive != nil {
		opts.Archive = archive
	}
	return opts
}
