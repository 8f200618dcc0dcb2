package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olundqvist/mexc-ingest/internal/api"
	"github.com/olundqvist/mexc-ingest/internal/config"
	"github.com/olundqvist/mexc-ingest/internal/database"
	"github.com/olundqvist/mexc-ingest/internal/dialect"
	"github.com/olundqvist/mexc-ingest/internal/ledger"
	"github.com/olundqvist/mexc-ingest/internal/pipeline"
	"github.com/olundqvist/mexc-ingest/internal/poller"
	"github.com/olundqvist/mexc-ingest/internal/sign"
	"github.com/olundqvist/mexc-ingest/internal/sink"
	"github.com/olundqvist/mexc-ingest/internal/stream"
	"github.com/olundqvist/mexc-ingest/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/ingestor.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting ingestor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"symbol", cfg.Exchange.Symbol,
		"dialect", cfg.Exchange.Dialect,
		"rest_url", cfg.Exchange.RestURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	logger.Info("connecting to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"database", cfg.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger.Info("database connected")

	// Credentials are validated at startup; a bad key shows up on the
	// first signed poll, not here.
	creds, err := sign.NewCredentials(cfg.Exchange.APIKey, cfg.Exchange.SecretKey)
	if err != nil {
		logger.Error("invalid credentials", "error", err)
		os.Exit(1)
	}

	apiClient := api.NewClient(
		cfg.Exchange.RestURL,
		creds,
		api.WithLogger(logger),
		api.WithTimeout(cfg.Exchange.Timeout),
		api.WithRetries(cfg.Exchange.MaxRetries, time.Second),
		api.WithRecvWindow(cfg.Exchange.RecvWindow),
	)

	normalizer, err := dialect.New(dialect.Dialect(cfg.Exchange.Dialect), cfg.Exchange.Symbol, logger)
	if err != nil {
		logger.Error("failed to create normalizer", "error", err)
		os.Exit(1)
	}

	dedup := ledger.New(ledger.Config{
		Retention:     cfg.Ledger.Retention,
		EvictInterval: cfg.Ledger.EvictInterval,
	}, logger)

	store := sink.NewPostgresStore(pool, logger)
	writer := sink.NewWriter(sink.WriterConfig{
		Bucket:        cfg.Sink.Bucket,
		BatchSize:     cfg.Sink.BatchSize,
		FlushInterval: cfg.Sink.FlushInterval,
		BufferSize:    cfg.Sink.BufferSize,
	}, store, logger)

	pipe := pipeline.New(normalizer, dedup, writer, logger)

	manager := stream.NewManager(stream.ManagerConfig{
		URL:              cfg.Exchange.WSURL,
		Symbol:           cfg.Exchange.Symbol,
		Channels:         []string{stream.DealsChannel(cfg.Exchange.Symbol)},
		PingInterval:     cfg.Stream.PingInterval,
		SilenceThreshold: cfg.Stream.SilenceThreshold,
		BackoffBase:      cfg.Stream.BackoffBase,
		BackoffMax:       cfg.Stream.BackoffMax,
		BufferSize:       cfg.Stream.ReadBufferSize,
	}, pipe, logger)

	scheduler := poller.New(poller.Config{
		Symbol:          cfg.Exchange.Symbol,
		TradeInterval:   cfg.Poller.TradeInterval,
		BalanceInterval: cfg.Poller.BalanceInterval,
		CandleInterval:  cfg.Poller.CandleInterval,
		TradeLookback:   cfg.Poller.TradeLookback,
		TradeLimit:      cfg.Poller.TradeLimit,
		CandleWidth:     cfg.Poller.Width(),
		CandleBars:      cfg.Poller.CandleBars,
		Assets:          cfg.Poller.Assets,
		Timeout:         cfg.Exchange.Timeout,
	}, apiClient, normalizer, pipe, logger)

	// Start health server early so startup progress is observable
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(pool, manager, dedup, writer, pipe, scheduler),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	// Start components: sink first so nothing upstream writes into a
	// closed queue, then the ledger, then both ingestion paths.
	if err := writer.Start(ctx); err != nil {
		logger.Error("failed to start sink writer", "error", err)
		os.Exit(1)
	}
	if err := dedup.Start(ctx); err != nil {
		logger.Error("failed to start dedup ledger", "error", err)
		os.Exit(1)
	}
	if err := manager.Start(ctx); err != nil {
		logger.Error("failed to start stream manager", "error", err)
		os.Exit(1)
	}
	if err := scheduler.Start(ctx); err != nil {
		logger.Error("failed to start polling scheduler", "error", err)
		os.Exit(1)
	}

	logger.Info("ingestor running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	// Stop in reverse: ingestion paths first, then the ledger, then the
	// sink so queued points get a final flush.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	scheduler.Stop(shutdownCtx)
	manager.Stop(shutdownCtx)
	dedup.Stop(shutdownCtx)
	writer.Stop(shutdownCtx)
	healthServer.Shutdown(shutdownCtx)

	logger.Info("ingestor stopped")
}

// createHealthHandler creates the HTTP handler for health checks.
func createHealthHandler(
	pool *pgxpool.Pool,
	manager *stream.Manager,
	dedup *ledger.Ledger,
	writer *sink.Writer,
	pipe *pipeline.Pipeline,
	scheduler *poller.Scheduler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string                 `json:"status"`
			Components map[string]interface{} `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]interface{}),
		}

		// Check database
		if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["timescaledb"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["timescaledb"] = "connected"
		}

		// Check stream subscriptions
		states := manager.States()
		active := 0
		for _, s := range states {
			if s.Status == stream.StatusActive {
				active++
			}
		}
		health.Components["stream"] = map[string]interface{}{
			"subscriptions": len(states),
			"active":        active,
			"stats":         manager.Stats(),
		}
		if active == 0 {
			health.Status = "degraded"
		}

		health.Components["ledger"] = map[string]interface{}{
			"entries": dedup.Len(),
		}
		health.Components["sink"] = writer.Stats()
		health.Components["pipeline"] = pipe.Stats()
		health.Components["poller"] = scheduler.Stats()

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.HandleFunc("/debug/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(manager.States())
	})

	return mux
}
