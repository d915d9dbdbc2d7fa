package engines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/airtable"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/dispatch"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// Stats is the KPI payload recorded after every cycle.
type Stats map[string]any

// String renders the stats as compact JSON for the remote log's text column.
func (s Stats) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(s))
	}
	return string(b)
}

// Pipeline is one recurring scan-score-act cycle.
type Pipeline interface {
	Name() string
	RunCycle(ctx context.Context, runID string) (Stats, error)
}

// RecordSource reads records from the remote base. Reads go straight to the
// store; only writes travel through the sync queue.
type RecordSource interface {
	ListRecords(ctx context.Context, table string, q airtable.Query) ([]airtable.Record, error)
}

// JobQueue enqueues remote writes for the relay to ship.
type JobQueue interface {
	Enqueue(ctx context.Context, job models.SyncJob) error
}

// DispatchQueue enqueues outbound messages for the dispatcher.
type DispatchQueue interface {
	Enqueue(ctx context.Context, d models.Dispatch) (dispatch.EnqueueResult, error)
}

// KPIStore persists per-cycle stats locally.
type KPIStore interface {
	Insert(ctx context.Context, engine string, stats any) error
}

// Notifier pushes operator-facing messages.
type Notifier interface {
	Ops(ctx context.Context, text string)
	Error(ctx context.Context, text string)
}

// Runner drives one pipeline on a fixed interval and owns the ambient work
// around each cycle: run ids, metrics, KPI persistence, failure alerts.
type Runner struct {
	pipeline Pipeline
	interval time.Duration
	kpi      KPIStore
	jobs     JobQueue
	kpiTable string
	notifier Notifier
	logger   *slog.Logger
}

func NewRunner(pipeline Pipeline, interval time.Duration, kpi KPIStore, jobs JobQueue, kpiTable string, notifier Notifier, logger *slog.Logger) *Runner {
	return &Runner{
		pipeline: pipeline,
		interval: interval,
		kpi:      kpi,
		jobs:     jobs,
		kpiTable: kpiTable,
		notifier: notifier,
		logger:   logger,
	}
}

// Run blocks until the context is canceled. The first cycle fires immediately,
// the ticker drives the rest.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("🔥 Engine started", "engine", r.pipeline.Name(), "interval", r.interval.String())

	r.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Engine shutting down...", "engine", r.pipeline.Name())
			return
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	name := r.pipeline.Name()
	runID := uuid.NewString()
	start := time.Now()
	l := r.logger.With("engine", name, "run_id", runID)

	stats, err := r.pipeline.RunCycle(ctx, runID)
	metrics.EngineCycleDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.EngineCycles.WithLabelValues(name, "error").Inc()
		l.Error("Engine cycle failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		r.notifier.Error(ctx, fmt.Sprintf("🚨 %s engine cycle failed: %v", name, err))
		return
	}
	metrics.EngineCycles.WithLabelValues(name, "success").Inc()

	if stats == nil {
		stats = Stats{}
	}
	if err := r.kpi.Insert(ctx, name, stats); err != nil {
		l.Error("Failed to record KPI event", "error", err)
	}
	r.mirrorKPI(ctx, l, name, runID, stats)

	l.Info("Engine cycle complete", "duration_ms", time.Since(start).Milliseconds())
}

// mirrorKPI ships the cycle stats to the remote KPI log through the sync
// queue, same as every other remote write.
func (r *Runner) mirrorKPI(ctx context.Context, l *slog.Logger, name, runID string, stats Stats) {
	records, err := models.MarshalRecords([]models.RecordPayload{{
		ExternalKey: runID,
		Fields: map[string]any{
			"Engine":    name,
			"Timestamp": time.Now().UTC().Format(time.RFC3339),
			"Stats":     stats.String(),
		},
	}})
	if err != nil {
		l.Error("Failed to encode KPI payload", "error", err)
		return
	}

	job := models.SyncJob{
		CorrelationID: "kpi-" + runID,
		TableName:     r.kpiTable,
		Operation:     models.OpCreate,
		Records:       records,
	}
	if err := r.jobs.Enqueue(ctx, job); err != nil {
		l.Error("Failed to enqueue KPI sync job", "error", err)
		return
	}
	metrics.JobsEnqueued.WithLabelValues(r.kpiTable, models.OpCreate).Inc()
}
