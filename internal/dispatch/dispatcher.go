package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/quota"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// Store is the dispatch-log contract the dispatcher drives. ClaimQueued flips
// rows queued -> sending so a crash leaves a visible lease instead of a lost
// record; Requeue flips sending -> queued for slots we decided not to burn.
type Store interface {
	ClaimQueued(ctx context.Context, bucket string, limit int) ([]models.Dispatch, error)
	MarkSent(ctx context.Context, key, providerID string) error
	MarkFailed(ctx context.Context, key, errMsg string) error
	Requeue(ctx context.Context, keys []string, note string) error
}

// Provider sends one message and returns the provider's message id.
type Provider interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// Gate is the slice of the quota engine the dispatcher consults.
type Gate interface {
	Check(ctx context.Context, bucket, destination string) error
	Release(ctx context.Context, bucket string) error
}

// Notifier mirrors cycle outcomes to the ops channels. Implementations never
// return errors.
type Notifier interface {
	Ops(ctx context.Context, msg string)
	Error(ctx context.Context, msg string)
}

// contentRejectedError is implemented by provider errors whose code means the
// message body itself was refused (opt-out, filtering). Those get one shot
// with the fallback body before failing for good.
type contentRejectedError interface {
	error
	ContentRejected() bool
}

// Dispatcher drains one bucket's queued dispatches through the quota gate and
// the messaging provider. At most one send is ever attempted per claim; a
// failed send releases its budget slot.
type Dispatcher struct {
	store    Store
	gate     Gate
	provider Provider
	notifier Notifier
	retrier  *retry.Controller
	safeMode bool
	logger   *slog.Logger
}

func NewDispatcher(store Store, gate Gate, provider Provider, notifier Notifier, retrier *retry.Controller, safeMode bool, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    store,
		gate:     gate,
		provider: provider,
		notifier: notifier,
		retrier:  retrier,
		safeMode: safeMode,
		logger:   logger,
	}
}

// CycleStats summarizes one RunBucket pass.
type CycleStats struct {
	Claimed       int
	Sent          int
	Failed        int
	QuotaRejected int
}

// RunBucket processes up to batch queued dispatches for one bucket. Quota
// rejections are requeued, not failed: tomorrow's budget may take them. A
// shutdown mid-batch reverts the unprocessed remainder to queued.
func (d *Dispatcher) RunBucket(ctx context.Context, bucket string, batch int) (CycleStats, error) {
	var stats CycleStats

	claims, err := d.store.ClaimQueued(ctx, bucket, batch)
	if err != nil {
		return stats, fmt.Errorf("claim failure: %w", err)
	}
	stats.Claimed = len(claims)
	if len(claims) == 0 {
		return stats, nil
	}

	start := time.Now()
	defer func() {
		d.logger.Info("Dispatch cycle telemetry",
			"bucket", bucket,
			"claimed", stats.Claimed,
			"sent", stats.Sent,
			"failed", stats.Failed,
			"quota_rejected", stats.QuotaRejected,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	var quotaRejected []string

	for i, dsp := range claims {
		select {
		case <-ctx.Done():
			d.logger.Warn("Shutdown signal received. Reverting remaining dispatches.")
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			remaining := extractRemainingKeys(claims, i)
			remaining = append(remaining, quotaRejected...)
			if err := d.store.Requeue(cleanupCtx, remaining, "graceful_shutdown"); err != nil {
				d.logger.Error("CRITICAL: Failed to revert dispatches during shutdown", "error", err, "count", len(remaining))
			}
			cancel()
			return stats, ctx.Err()
		default:
		}

		l := d.logger.With("key", dsp.Key, "bucket", bucket, "campaign", dsp.Campaign)

		// Quota Gate: reserve one slot or step aside
		if err := d.gate.Check(ctx, bucket, dsp.Destination); err != nil {
			if quota.IsLimit(err) {
				l.Info("Quota rejected dispatch, leaving queued", "reason", err)
				quotaRejected = append(quotaRejected, dsp.Key)
				stats.QuotaRejected++
				metrics.DispatchTotal.WithLabelValues(bucket, "quota_rejected").Inc()
				continue
			}
			// Infrastructure failure: put everything back and surface it
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			remaining := extractRemainingKeys(claims, i)
			remaining = append(remaining, quotaRejected...)
			if reqErr := d.store.Requeue(cleanupCtx, remaining, "quota_infra_failure"); reqErr != nil {
				d.logger.Error("CRITICAL: Failed to revert dispatches after quota failure", "error", reqErr)
			}
			cancel()
			return stats, fmt.Errorf("quota check failure: %w", err)
		}

		// Provider Send: the slot is ours, burn it or give it back
		providerID, sendErr := d.send(ctx, dsp)
		if sendErr != nil {
			stats.Failed++
			l.Error("Dispatch send failed", "error", sendErr)
			metrics.DispatchTotal.WithLabelValues(bucket, "failed").Inc()

			if err := d.gate.Release(ctx, bucket); err != nil {
				l.Error("CRITICAL: Failed to release budget slot after send failure", "error", err)
			}
			if err := d.store.MarkFailed(ctx, dsp.Key, sendErr.Error()); err != nil {
				l.Error("Failed to mark dispatch failed", "error", err)
			}
			continue
		}

		if err := d.store.MarkSent(ctx, dsp.Key, providerID); err != nil {
			// The message is out; the log must say so even if this write has
			// to be retried by hand. Never resend.
			l.Error("CRITICAL: Message sent but failed to update dispatch log", "error", err, "provider_id", providerID)
			d.notifier.Error(ctx, fmt.Sprintf("🚨 Dispatch %s sent (provider id %s) but the log write failed. Mark the row sent by hand before the next cycle.", dsp.Key, providerID))
		}
		stats.Sent++
		metrics.DispatchTotal.WithLabelValues(bucket, "sent").Inc()
	}

	if len(quotaRejected) > 0 {
		if err := d.store.Requeue(ctx, quotaRejected, "quota_exceeded"); err != nil {
			d.logger.Error("Failed to requeue quota-rejected dispatches", "error", err, "count", len(quotaRejected))
		}
	}

	return stats, nil
}

// send runs the provider call through the retry controller. A content
// rejection burns no retry budget: it swaps in the fallback body exactly once,
// then fails for good.
func (d *Dispatcher) send(ctx context.Context, dsp models.Dispatch) (string, error) {
	if d.safeMode {
		d.logger.Info("SAFE MODE: suppressing real send", "key", dsp.Key, "to", dsp.Destination)
		return "SAFE_MODE", nil
	}

	body := dsp.Body
	usedFallback := false

	for {
		var providerID string
		start := time.Now()
		err := d.retrier.Do(ctx, "dispatch.send", func(ctx context.Context) error {
			var err error
			providerID, err = d.provider.Send(ctx, dsp.Destination, body)
			return err
		}, nil)
		metrics.ProviderSendDuration.Observe(time.Since(start).Seconds())

		if err == nil {
			return providerID, nil
		}

		var rejected contentRejectedError
		if errors.As(err, &rejected) && rejected.ContentRejected() && !usedFallback && dsp.FallbackBody != "" {
			d.logger.Warn("Provider rejected content, retrying once with fallback body",
				"key", dsp.Key, "error", err)
			body = dsp.FallbackBody
			usedFallback = true
			continue
		}
		return "", err
	}
}

func extractRemainingKeys(claims []models.Dispatch, start int) []string {
	keys := make([]string, 0, len(claims)-start)
	for i := start; i < len(claims); i++ {
		keys = append(keys, claims[i].Key)
	}
	return keys
}
