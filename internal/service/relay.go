package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

const MaxBatchMemoryThresholdMB = 20

// Repository defines the contract for sync job persistence
type Repository interface {
	FetchAndClaim(ctx context.Context, batchSize int) ([]models.SyncJob, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errLog string) error
	MarkManyAsPending(ctx context.Context, ids []int64, note string) error
}

// BrokerClient defines the contract for message publishing
type BrokerClient interface {
	Publish(ctx context.Context, routingKey string, msg models.SyncJobMessage) error
}

// RelayService orchestrates the movement of jobs between the Database and the Message Broker
type RelayService struct {
	repo   Repository
	broker BrokerClient
	logger *slog.Logger
}

func NewRelayService(r Repository, b BrokerClient, l *slog.Logger) *RelayService {
	return &RelayService{
		repo:   r,
		broker: b,
		logger: l,
	}
}

// ProcessNextBatch captures and sends a batch of jobs to the broker.
// It features instant responsiveness to shutdown signals and atomic batch recovery
func (s *RelayService) ProcessNextBatch(ctx context.Context, batchSize int) error {
	start := time.Now()

	jobs, err := s.repo.FetchAndClaim(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("fetch failure: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	// Observe actual batch size
	metrics.RelayBatchSize.Observe(float64(len(jobs)))

	defer func() {
		// Observe total batch processing duration
		metrics.RelayBatchDuration.Observe(time.Since(start).Seconds())

		if len(jobs) > 0 {
			s.logger.Info("Batch cycle telemetry",
				"count", len(jobs),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}()

	var batchBytes int
	for _, j := range jobs {
		batchBytes += j.EstimateBytes()
	}
	if batchMB := batchBytes / (1024 * 1024); batchMB > MaxBatchMemoryThresholdMB {
		s.logger.Warn("Heavy batch detected: memory pressure risk",
			"size_mb", batchMB,
			"threshold_mb", MaxBatchMemoryThresholdMB,
			"count", len(jobs),
		)
	}

	for i, job := range jobs {
		select {
		case <-ctx.Done():
			s.logger.Warn("Shutdown signal received. Reverting remaining jobs.")
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			remainingIDs := s.extractRemainingIDs(jobs, i)

			if err := s.repo.MarkManyAsPending(cleanupCtx, remainingIDs, "graceful_shutdown"); err != nil {
				s.logger.Error("CRITICAL: Failed to revert jobs during shutdown", "error", err, "count", len(remainingIDs))
			}
			cancel()
			return ctx.Err()
		default:
		}

		l := s.logger.With("correlation_id", job.CorrelationID)
		cleanTable := strings.ToLower(strings.TrimSpace(job.TableName))

		// Metadata Validation: a job with no destination or a bogus operation
		// can never publish, so it fails straight away
		if cleanTable == "" || !models.IsValidOperation(job.Operation) {
			l.Error("Invalid job metadata", "table", job.TableName, "operation", job.Operation)
			_ = s.repo.MarkFailed(ctx, job.ID, "invalid_metadata")

			metrics.RelayPublished.WithLabelValues("error", cleanTable).Inc()
			continue
		}

		routingKey := fmt.Sprintf("sync.%s.%s", cleanTable, job.Operation)

		// Transport: Publish to Broker
		if err := s.broker.Publish(ctx, routingKey, job.Message()); err != nil {
			l.Error("Broker publish failed, aborting batch", "error", err)
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			remainingIDs := s.extractRemainingIDs(jobs, i)

			if err := s.repo.MarkManyAsPending(cleanupCtx, remainingIDs, "broker_offline"); err != nil {
				s.logger.Error("CRITICAL: Failed to revert jobs after broker failure", "error", err)
			}
			cancel()

			// Record infra error
			metrics.RelayPublished.WithLabelValues("error", cleanTable).Inc()
			return fmt.Errorf("broker failure: %w", err)
		}

		// Final DB Checkpoint
		if err := s.repo.MarkPublished(ctx, job.ID); err != nil {
			l.Error("Job published but failed to update status in DB", "error", err)
			if i+1 < len(jobs) {
				cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				remainingIDs := s.extractRemainingIDs(jobs, i+1)
				_ = s.repo.MarkManyAsPending(cleanupCtx, remainingIDs, "db_checkpoint_failure")
				cancel()
			}

			metrics.RelayPublished.WithLabelValues("error", cleanTable).Inc()
			return fmt.Errorf("db checkpoint failure: %w", err)
		}

		metrics.RelayPublished.WithLabelValues("published", cleanTable).Inc()
	}

	return nil
}

func (s *RelayService) extractRemainingIDs(jobs []models.SyncJob, start int) []int64 {
	ids := make([]int64, 0, len(jobs)-start)
	for i := start; i < len(jobs); i++ {
		ids = append(ids, jobs[i].ID)
	}
	return ids
}
