package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DispatchTotal tracks outbound dispatch outcomes per bucket
	// quota_rejected dispatches are requeued, not lost
	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_total",
		Help: "Total outbound dispatch attempts by bucket and outcome",
	}, []string{"bucket", "status"}) // status: sent, failed, quota_rejected, duplicate

	// QuotaRemaining exposes unspent daily budget per bucket plus GLOBAL
	// Watch this approach zero to know when the day's allowance is gone
	QuotaRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quota_remaining",
		Help: "Remaining daily send budget per bucket",
	}, []string{"bucket"})

	// ProviderSendDuration measures the full provider round trip including
	// internal retries
	ProviderSendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "provider_send_duration_seconds",
		Help:    "Duration of provider send calls in seconds",
		Buckets: prometheus.DefBuckets,
	})
)
