package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/broker"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/config"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/db"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/service"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/infra"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// staleClaimAge is how long a job may sit in publishing before the janitor
// assumes its relay died mid-batch and returns it to pending.
const staleClaimAge = 10 * time.Minute

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "relay")
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Fatal error connecting to Postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	jobs := db.NewSyncJobRepo(pool)
	if err := jobs.InitSchema(ctx); err != nil {
		slog.Error("Fatal error preparing sync_jobs schema", "error", err)
		os.Exit(1)
	}

	go startObservabilityServer("9094", logger)

	janitorDone := make(chan struct{})
	go runMaintenance(ctx, jobs, cfg, janitorDone)

	slog.Info("🚀 Relay Service started", "pid", os.Getpid())

	runMainLoop(ctx, jobs, cfg, janitorDone)
}

func runMainLoop(ctx context.Context, repo *db.SyncJobRepo, cfg *config.Config, janitorDone chan struct{}) {
	backoff := retry.NewBackoff(1*time.Second, 60*time.Second, 2.0)
	var rabbitmq *broker.RabbitMQClient
	var relay *service.RelayService

	for {
		select {
		case <-ctx.Done():
			slog.Info("👋 Shutting down main loop...")
			if rabbitmq != nil {
				rabbitmq.Close()
			}
			<-janitorDone
			slog.Info("✅ Shutdown complete")
			return
		default:
			// Lifecycle: make sure the broker link is operational
			if rabbitmq == nil || !rabbitmq.IsHealthy() {
				if rabbitmq != nil {
					rabbitmq.Close()
					metrics.RelayReconnections.Inc()
				}

				newRabbit, err := broker.NewRabbitMQClient(cfg.RabbitMQURL, slog.Default())
				if err != nil {
					wait := backoff.Next()
					slog.Error("RabbitMQ link failure, retrying", "wait", wait, "error", err)

					select {
					case <-time.After(wait):
						continue
					case <-ctx.Done():
						continue
					}
				}

				slog.Info("RabbitMQ link established 🚀")
				rabbitmq = newRabbit
				backoff.Reset()
				// Recreate the service so it holds the fresh healthy client
				relay = service.NewRelayService(repo, rabbitmq, slog.Default())
			}

			// Execution: claim and publish the next batch
			if err := relay.ProcessNextBatch(ctx, cfg.ClaimBatchSize); err != nil {
				wait := backoff.Next()
				slog.Error("Batch processing error", "retry_in", wait, "error", err)

				select {
				case <-time.After(wait):
					continue
				case <-ctx.Done():
					continue
				}
			}

			// Success: reset backoff and wait for the next poll cycle
			backoff.Reset()

			select {
			case <-time.After(cfg.PollInterval):
				continue
			case <-ctx.Done():
				continue
			}
		}
	}
}

func runMaintenance(ctx context.Context, repo *db.SyncJobRepo, cfg *config.Config, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("🧹 Janitor: Starting structural health checks")

			rescued, err := repo.ResetStale(ctx, staleClaimAge)
			if err != nil {
				slog.Error("Janitor: Failed to reset stale claims", "error", err)
			} else if rescued > 0 {
				slog.Warn("Janitor: Rescued stuck jobs", "count", rescued)
			}

			requeued, err := repo.RequeueFailed(ctx, cfg.SyncMaxRetries)
			if err != nil {
				slog.Error("Janitor: Failed to requeue failed jobs", "error", err)
			} else if requeued > 0 {
				slog.Info("Janitor: Returned failed jobs for another pass", "count", requeued)
			}

			parked, err := repo.MoveToDead(ctx, cfg.SyncMaxRetries)
			if err != nil {
				slog.Error("Janitor: Dead queue maintenance failure", "error", err)
			} else if parked > 0 {
				slog.Warn("Janitor: Parked poison jobs", "count", parked)
			}

			pending, dead, err := repo.Backlog(ctx)
			if err != nil {
				slog.Error("Janitor: Backlog census failed", "error", err)
			} else {
				metrics.JobBacklog.Set(float64(pending))
				metrics.DeadJobs.Set(float64(dead))
			}

		case <-ctx.Done():
			slog.Info("🛑 Janitor: Stopping maintenance goroutine")
			return
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("RELAY ALIVE"))
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
