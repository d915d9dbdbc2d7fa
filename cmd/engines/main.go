package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/config"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/db"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/engines"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/feed"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/notify"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/infra"
	_ "github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "engines")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Engines initializing...",
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
	dispatches := db.NewDispatchRepo(pool)
	if err := dispatches.InitSchema(ctx); err != nil {
		logger.Error("CRITICAL: Failed to prepare dispatch schema", "error", err)
		os.Exit(1)
	}
	kpis := db.NewKPIRepo(pool)
	if err := kpis.InitSchema(ctx); err != nil {
		logger.Error("CRITICAL: Failed to prepare kpi schema", "error", err)
		os.Exit(1)
	}

	// Shared plumbing for all three pipelines
	remote := airtable.NewClient(cfg.AirtableAPIKey, baseID, logger)
	retrier := retry.NewController(cfg.SyncMaxRetries, cfg.SyncBackoffBase, logger)
	notifier := notify.NewNotifier(cfg.OpsWebhooks, cfg.ErrorWebhooks, logger)
	samFeed := feed.NewClient(cfg.SAMSearchAPI, cfg.SAMAPIKey, cfg.FeedLimit, retrier, logger)

	rei := engines.NewREIPipeline(remote, jobs, dispatches, notifier, cfg.TableLeads, cfg.TableBuyers, logger)
	govcon := engines.NewGovConPipeline(remote, samFeed, jobs, dispatches, notifier, cfg.TableGovCon, cfg.NAICSWhitelist, logger)
	intake := engines.NewIntakePipeline(remote, jobs, notifier, cfg.TableStaging, cfg.TableLeads, logger)

	runners := []*engines.Runner{
		engines.NewRunner(rei, cfg.REIInterval, kpis, jobs, cfg.TableKPI, notifier, logger),
		engines.NewRunner(govcon, cfg.GovConInterval, kpis, jobs, cfg.TableKPI, notifier, logger),
		engines.NewRunner(intake, cfg.IntakeInterval, kpis, jobs, cfg.TableKPI, notifier, logger),
	}

	// Start Observability Server (Port 9092)
	go startObservabilityServer("9092", logger)

	slog.Info("🚀 Engines supervisor started", "pid", os.Getpid(), "engines", len(runners))

	var wg sync.WaitGroup
	for _, r := range runners {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}

	wg.Wait()
	logger.Info("✅ All engines stopped. Shutdown complete")
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ENGINES ALIVE"))
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
