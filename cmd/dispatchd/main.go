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

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/config"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/db"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/dispatch"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/messaging"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/notify"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/quota"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/infra"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// staleLeaseAge is how long a dispatch may sit in sending before the startup
// sweep assumes the previous process died mid-send and requeues it.
const staleLeaseAge = 15 * time.Minute

func main() {
	cfg := config.Load()
	logger := infra.SetupLogger(cfg, "dispatchd")
	slog.SetDefault(logger)
	defer infra.CloseLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("🔥 Dispatcher initializing...",
		"version", "1.0.0",
	)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("CRITICAL: Postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dispatches := db.NewDispatchRepo(pool)
	if err := dispatches.InitSchema(ctx); err != nil {
		logger.Error("CRITICAL: Failed to prepare dispatch schema", "error", err)
		os.Exit(1)
	}
	budget := db.NewBudgetRepo(pool)
	if err := budget.InitSchema(ctx); err != nil {
		logger.Error("CRITICAL: Failed to prepare budget schema", "error", err)
		os.Exit(1)
	}

	policy := loadPolicy(cfg, logger)
	gate := quota.NewEngine(policy, budget, dispatches, logger)

	provider := messaging.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioMessagingService, logger)
	safeMode := cfg.SafeMode
	if !provider.Configured() {
		logger.Warn("Messaging provider not configured. Forcing safe mode")
		safeMode = true
	}
	if safeMode {
		logger.Warn("⚠️ SAFE MODE active: no real messages will leave this process")
	}

	notifier := notify.NewNotifier(cfg.OpsWebhooks, cfg.ErrorWebhooks, logger)
	retrier := retry.NewController(cfg.SyncMaxRetries, cfg.SyncBackoffBase, logger)
	dispatcher := dispatch.NewDispatcher(dispatches, gate, provider, notifier, retrier, safeMode, logger)

	// Startup sweep: reclaim leases orphaned by a previous crash
	if n, err := dispatches.RequeueStale(ctx, staleLeaseAge); err != nil {
		logger.Error("Failed to recover stale dispatch claims", "error", err)
	} else if n > 0 {
		logger.Warn("Recovered stale dispatch claims", "count", n)
	}

	// Start Observability Server (Port 9093)
	go startObservabilityServer("9093", logger)

	logger.Info("🚀 Dispatch Service started", "pid", os.Getpid(), "buckets", policy.BucketNames())

	var wg sync.WaitGroup
	for _, bucket := range policy.BucketNames() {
		bucket := bucket
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBucketLoop(ctx, dispatcher, bucket, cfg, logger)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		watchQuota(ctx, gate, cfg.DispatchInterval, logger)
	}()

	wg.Wait()
	logger.Info("✅ All bucket workers stopped. Shutdown complete")
}

// loadPolicy builds the active quota policy. The file owns the bucket
// allocation; the cadence knobs always come from env because they are marked
// yaml:"-" on the struct.
func loadPolicy(cfg *config.Config, logger *slog.Logger) quota.Policy {
	policy, err := quota.LoadPolicyFile(cfg.QuotaPolicyPath)
	switch {
	case err == nil:
		logger.Info("Loaded quota policy file", "path", cfg.QuotaPolicyPath, "buckets", len(policy.Buckets))
	case os.IsNotExist(err):
		logger.Info("No quota policy file found. Using built-in allocation", "path", cfg.QuotaPolicyPath)
		policy = quota.DefaultPolicy()
		policy.GlobalDailyLimit = cfg.DailyLimit
	default:
		logger.Error("CRITICAL: Unreadable quota policy file", "path", cfg.QuotaPolicyPath, "error", err)
		os.Exit(1)
	}

	if policy.GlobalDailyLimit == 0 {
		policy.GlobalDailyLimit = cfg.DailyLimit
	}
	policy.MinCooldown = time.Duration(cfg.CooldownDays) * 24 * time.Hour
	policy.Lookback = time.Duration(cfg.LookbackDays) * 24 * time.Hour
	policy.TouchCeiling = cfg.TouchCeiling

	if err := policy.Validate(); err != nil {
		logger.Error("CRITICAL: Invalid quota policy", "error", err)
		os.Exit(1)
	}
	return policy
}

func runBucketLoop(ctx context.Context, d *dispatch.Dispatcher, bucket string, cfg *config.Config, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		stats, err := d.RunBucket(ctx, bucket, cfg.DispatchBatch)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("🛑 Bucket worker stopping", "bucket", bucket)
				return
			}
			logger.Error("Dispatch cycle failed", "bucket", bucket, "error", err)
		} else if stats.Claimed > 0 {
			logger.Info("Dispatch cycle complete",
				"bucket", bucket,
				"sent", stats.Sent,
				"failed", stats.Failed,
				"quota_rejected", stats.QuotaRejected,
			)
		}

		select {
		case <-ctx.Done():
			logger.Info("🛑 Bucket worker stopping", "bucket", bucket)
			return
		case <-ticker.C:
		}
	}
}

// watchQuota refreshes the remaining-budget gauges so the dashboards show the
// day's allowance draining in near real time.
func watchQuota(ctx context.Context, gate *quota.Engine, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		remaining, err := gate.Remaining(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to read remaining quota", "error", err)
		} else {
			for bucket, n := range remaining {
				metrics.QuotaRemaining.WithLabelValues(bucket).Set(float64(n))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func startObservabilityServer(port string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("DISPATCHD ALIVE"))
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
