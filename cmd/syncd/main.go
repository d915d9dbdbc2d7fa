package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/broker"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/config"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/db"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/notify"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/processor"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/schema"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/service"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/sync"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/infra"
	_ "github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "syncd")
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	baseID, err := cfg.NormalizedBaseID()
	if err != nil {
		logger.Error("CRITICAL: Invalid remote base configuration", "error", err)
		os.Exit(1)
	}
	if cfg.AirtableAPIKey == "" {
		logger.Error("CRITICAL: AIRTABLE_API_KEY environment variable is missing")
		os.Exit(1)
	}

	// Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Sync worker initializing...",
		"base_id", baseID,
		"version", "1.0.0",
	)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	jobs := db.NewSyncJobRepo(pool)
	if err := jobs.InitSchema(ctx); err != nil {
		logger.Error("CRITICAL: Failed to prepare sync_jobs schema", "error", err)
		os.Exit(1)
	}

	// Initialize Core Logic
	remote := airtable.NewClient(cfg.AirtableAPIKey, baseID, logger)
	retrier := retry.NewController(cfg.SyncMaxRetries, cfg.SyncBackoffBase, logger)
	schemas := schema.NewCache(remote, retrier, cfg.SchemaTTL, logger)
	syncer := sync.NewSyncer(schemas, remote, retrier, cfg.SyncBatchSize, logger)
	handler := processor.NewSyncHandler(syncer, logger)

	notifier := notify.NewNotifier(cfg.OpsWebhooks, cfg.ErrorWebhooks, logger)
	feedback := service.NewFeedbackService(jobs, notifier, logger)

	// Start Observability Server (Port 9091)
	go startObservabilityServer("9091", logger)

	dlqDone := make(chan struct{})
	go runDeadLetterLoop(ctx, cfg, feedback, logger, dlqDone)

	runConsumeLoop(ctx, cfg, handler, logger)

	<-dlqDone
	logger.Info("✅ Shutdown complete")
}

func runConsumeLoop(ctx context.Context, cfg *config.Config, handler broker.Handler, logger *slog.Logger) {
	connBackoff := retry.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Shutdown signal received")
			return
		default:
			consumer, err := broker.NewSyncConsumer(cfg.RabbitMQURL, handler, logger)
			if err != nil {
				wait := connBackoff.Next()
				logger.Error("RabbitMQ connection failed, retrying...",
					"wait_duration", wait,
					"error", err,
				)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
					continue
				}
			}

			connBackoff.Reset()
			logger.Info("✅ Connected to Broker. Listening for events...")

			if err := consumer.Listen(ctx); err != nil {
				logger.Error("⚠️ Consumer connection lost", "error", err)
			}

			consumer.Close()
		}
	}
}

// runDeadLetterLoop keeps a second consumer on the dead queue so poison jobs
// get marked failed in Postgres and surfaced on the error webhook.
func runDeadLetterLoop(ctx context.Context, cfg *config.Config, handler broker.DeadLetterHandler, logger *slog.Logger, done chan struct{}) {
	defer close(done)
	connBackoff := retry.NewBackoff(1*time.Second, 60*time.Second, 2.0)

	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 Dead-letter watcher stopping")
			return
		default:
			consumer, err := broker.NewDeadLetterConsumer(cfg.RabbitMQURL, handler, logger)
			if err != nil {
				wait := connBackoff.Next()
				logger.Error("Dead-letter connection failed, retrying...",
					"wait_duration", wait,
					"error", err,
				)

				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
					continue
				}
			}

			connBackoff.Reset()

			if err := consumer.Listen(ctx); err != nil {
				logger.Error("⚠️ Dead-letter watcher connection lost", "error", err)
			}

			consumer.Close()
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("SYNCD ALIVE"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	logger.Info("📊 Observability server online", "url", "http://localhost:"+port+"/metrics")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Observability server failed", "error", err)
	}
}
