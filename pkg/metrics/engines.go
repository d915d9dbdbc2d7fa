package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EngineCycles counts pipeline runs by outcome
	EngineCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_cycles_total",
		Help: "Total pipeline cycles by engine and outcome",
	}, []string{"engine", "status"}) // status: ok, error

	// EngineCycleDuration measures one full pipeline pass
	EngineCycleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_cycle_duration_seconds",
		Help:    "Duration of a full pipeline cycle in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"engine"})

	// JobsEnqueued counts sync jobs handed to the relay by the engines
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_sync_jobs_enqueued_total",
		Help: "Total sync jobs enqueued by the engines",
	}, []string{"table", "operation"})

	// FeedOpportunities counts rows pulled from the opportunity feed
	FeedOpportunities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_opportunities_total",
		Help: "Total opportunities fetched from upstream feeds",
	}, []string{"source"})
)
