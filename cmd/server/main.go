package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/resource-economy/internal/config"
	"github.com/resource-economy/internal/handler"
	"github.com/resource-economy/internal/kafka"
	"github.com/resource-economy/internal/observability"
	"github.com/resource-economy/internal/persistence"
	"github.com/resource-economy/internal/postgres"
	"github.com/resource-economy/internal/redis"
	"github.com/resource-economy/internal/service"
	"github.com/resource-economy/internal/websocket"
	"github.com/resource-economy/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Local persistence is the system of record
	guard, err := persistence.NewGuard(&cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open data directory", "dir", cfg.Storage.DataDir, "error", err)
		os.Exit(1)
	}
	journal, err := persistence.NewJournal(&cfg.Storage, logger)
	if err != nil {
		logger.Error("failed to open journal", "dir", cfg.Storage.JournalDir(), "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	var mirrors service.Mirrors

	var balanceStore *redis.BalanceStore
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		balanceStore, err = redis.NewBalanceStore(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer balanceStore.Close()
		mirrors.Cache = balanceStore
		logger.Info("connected to Redis")
	}

	var postgresRepo *postgres.Repository
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		postgresRepo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer postgresRepo.Close()

		if err := postgresRepo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		mirrors.Archive = postgresRepo
		logger.Info("connected to PostgreSQL")
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	mirrors.Notifier = wsHub

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
		mirrors.Recorder = metrics
	}

	economyService, err := service.NewEconomyService(cfg, guard, journal, mirrors, logger)
	if err != nil {
		logger.Error("failed to initialize economy", "error", err)
		os.Exit(1)
	}

	// Sync worker mirrors balances into Redis and PostgreSQL
	var syncWorker *worker.SyncWorker
	if balanceStore != nil || postgresRepo != nil {
		var cache worker.WalletCache
		if balanceStore != nil {
			cache = balanceStore
		}
		var archive worker.WalletArchive
		if postgresRepo != nil {
			archive = postgresRepo
		}
		syncWorker = worker.NewSyncWorker(economyService, cache, archive, &cfg.Sync, logger)

		// The ledger is authoritative; rebuild the cache from it on startup
		if err := syncWorker.RebuildCache(ctx); err != nil {
			logger.Warn("failed to rebuild balance cache on startup", "error", err)
		}

		if cfg.Sync.Enabled {
			if err := syncWorker.Start(ctx); err != nil {
				logger.Error("failed to start sync worker", "error", err)
				os.Exit(1)
			}
		}
	}

	// Weekly analysis schedule
	var analysisWorker *worker.AnalysisWorker
	if cfg.Analysis.Enabled {
		analysisWorker, err = worker.NewAnalysisWorker(economyService, &cfg.Analysis, logger)
		if err != nil {
			logger.Error("failed to create analysis worker", "error", err)
			os.Exit(1)
		}
		analysisWorker.Start()
	}

	// Kafka consumer for high-load transaction ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, economyService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(economyService, wsHub, metrics, cfg.Metrics.Path, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "data_dir", cfg.Storage.DataDir)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}
	if analysisWorker != nil {
		analysisWorker.Stop()
	}
	if syncWorker != nil {
		if err := syncWorker.Stop(); err != nil {
			logger.Error("failed to stop sync worker", "error", err)
		}
		// Final mirror of the settled balances
		syncWorker.RunOnce(shutdownCtx)
	}

	wsHub.Stop()

	if result := economyService.SaveGame(shutdownCtx, ""); !result.Saved {
		logger.Error("failed to save economy on shutdown", "error", result.Error)
	}

	logger.Info("server stopped")
}
