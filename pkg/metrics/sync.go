package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncJobDuration tracks the end-to-end latency of applying a job to the
	// remote store. Buckets are wide because rate-limit waits land in here too
	SyncJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "syncd_job_duration_seconds",
		Help:    "Time taken to apply a sync job from reception to remote write",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"status", "table", "operation"}) // status: success, fatal_error, transient_error

	// SyncRecords tracks per-record outcomes of remote writes
	SyncRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_records_total",
		Help: "Total records written to the remote store by outcome",
	}, []string{"table", "action"}) // action: created, updated, skipped, failed

	// SchemaRefreshes counts Meta API round trips, split by whether the refresh
	// was forced by a schema mismatch or just a TTL expiry
	SchemaRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "syncd_schema_refreshes_total",
		Help: "Total schema snapshot refreshes against the Meta API",
	}, []string{"table", "forced"})

	// SyncdReconnections counts broker link restorations on the consumer side
	SyncdReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "syncd_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts by syncd",
	})
)
