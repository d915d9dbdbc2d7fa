package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayPublished tracks the total throughput of the relay
	// Labels allow filtering by outcome (published/error) and destination table
	RelayPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_jobs_published_total",
		Help: "Total number of sync jobs processed by the relay service",
	}, []string{"status", "table"})

	// RelayBatchDuration measures how long it takes to process an entire batch
	// Use this to identify performance degradation in Postgres or RabbitMQ
	RelayBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_duration_seconds",
		Help:    "Duration of relay batch processing in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// RelayBatchSize tracks the number of jobs actually claimed in each batch
	RelayBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_batch_size",
		Help:    "Number of sync jobs claimed per relay batch",
		Buckets: []float64{1, 10, 50, 100, 500, 1000},
	})

	// RelayReconnections counts how many times the relay had to restore its link
	// Frequent increments indicate broker or network instability
	RelayReconnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_rabbitmq_reconnections_total",
		Help: "Total number of RabbitMQ reconnection attempts by the relay",
	})

	// HealthStatus provides a binary 0/1 signal for the service's health
	// 1 = Healthy, 0 = Unhealthy (connection to RabbitMQ is down)
	HealthStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_healthy",
		Help: "Current health status of the relay (1 for healthy, 0 for unhealthy)",
	})

	// JobBacklog tracks the total number of pending sync jobs in Postgres
	// This is the primary indicator of system lag
	JobBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sync_job_backlog",
		Help: "Current number of pending/publishing jobs in the sync_jobs table",
	})

	// DeadJobs tracks the number of poison jobs that reached maximum attempts
	// If this number grows, manual intervention in the database is required
	DeadJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_dead_jobs",
		Help: "Current number of sync jobs parked in the dead state",
	})

	// RetryAttempts counts non-fatal remote failures by handling class
	// A spike in rate_limited means the daily API allowance is under pressure
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Total retried remote operation failures by classification",
	}, []string{"class"})
)
