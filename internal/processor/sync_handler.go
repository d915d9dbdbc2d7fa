package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/retry"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/sync"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/pkg/metrics"
)

// RecordSyncer applies decoded jobs to the remote base.
type RecordSyncer interface {
	Upsert(ctx context.Context, table string, records []sync.OutgoingRecord, mergeCandidates []string) ([]sync.Outcome, error)
	Update(ctx context.Context, table string, updates []sync.RecordUpdate) ([]sync.Outcome, error)
}

// SyncHandler orchestrates the consumption and persistence of synchronization messages
type SyncHandler struct {
	syncer RecordSyncer
	logger *slog.Logger
}

// NewSyncHandler creates a new instance of the synchronization orchestrator
func NewSyncHandler(syncer RecordSyncer, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		syncer: syncer,
		logger: logger,
	}
}

// ProcessMessage executes the complete synchronization cycle for one message
func (h *SyncHandler) ProcessMessage(ctx context.Context, msg models.SyncJobMessage) (err error) {
	start := time.Now()

	defer func() {
		duration := time.Since(start).Seconds()
		status := "success"

		if err != nil {
			if retry.Classify(err) == retry.ClassFatal || retry.IsExhausted(err) {
				status = "fatal_error"
			} else {
				status = "transient_error"
			}
		}

		metrics.SyncJobDuration.WithLabelValues(
			status,
			msg.TableName,
			msg.Operation,
		).Observe(duration)
	}()

	l := h.logger.With(
		"correlation_id", msg.CorrelationID,
		"table", msg.TableName,
		"operation", msg.Operation,
	)

	// Metadata Validation
	if msg.TableName == "" {
		l.Error("Fatal: message carries no table name")
		return fmt.Errorf("message %s has no table name", msg.CorrelationID)
	}
	if !models.IsValidOperation(msg.Operation) {
		l.Error("Fatal: unsupported operation")
		return fmt.Errorf("unsupported operation: %s", msg.Operation)
	}

	// Parse Payload
	var payloads []models.RecordPayload
	if err := json.Unmarshal(msg.Records, &payloads); err != nil {
		l.Error("Fatal: failed to parse records payload", "error", err)
		return fmt.Errorf("records unmarshal error: %v", err)
	}
	if len(payloads) == 0 {
		l.Warn("Message carries no records, acknowledging as no-op")
		return nil
	}

	// Route to the remote write path
	var outcomes []sync.Outcome
	switch msg.Operation {
	case models.OpUpdate:
		updates := make([]sync.RecordUpdate, 0, len(payloads))
		for _, p := range payloads {
			updates = append(updates, sync.RecordUpdate{RemoteID: p.ExternalKey, Fields: p.Fields})
		}
		outcomes, err = h.syncer.Update(ctx, msg.TableName, updates)
	case models.OpCreate:
		outcomes, err = h.syncer.Upsert(ctx, msg.TableName, toOutgoing(payloads), nil)
	default:
		outcomes, err = h.syncer.Upsert(ctx, msg.TableName, toOutgoing(payloads), msg.MergeFields)
	}
	if err != nil {
		l.Error("Sync call failed before any record landed", "error", err)
		return err
	}

	// Per-record accounting. Guarded-empty records are acknowledged with a
	// warning; anything else failing fails the whole message so the broker
	// redelivers it. Replays are safe because writes merge on stable keys.
	var firstErr error
	failed := 0
	for _, out := range outcomes {
		action := out.Action
		if action == "" {
			action = sync.ActionSkipped
		}
		metrics.SyncRecords.WithLabelValues(msg.TableName, action).Inc()

		if out.Err == nil {
			continue
		}
		if errors.Is(out.Err, sync.ErrEmptyRecord) {
			l.Warn("Record dropped by schema guard", "external_key", out.ExternalKey)
			continue
		}
		failed++
		if firstErr == nil {
			firstErr = out.Err
		}
	}

	if firstErr != nil {
		l.Error("Sync finished with failed records", "failed", failed, "total", len(outcomes), "error", firstErr)
		return fmt.Errorf("%d of %d records failed: %w", failed, len(outcomes), firstErr)
	}

	l.Info("Successfully synchronized to remote base", "records", len(outcomes))
	return nil
}

func toOutgoing(payloads []models.RecordPayload) []sync.OutgoingRecord {
	records := make([]sync.OutgoingRecord, 0, len(payloads))
	for _, p := range payloads {
		records = append(records, sync.OutgoingRecord{ExternalKey: p.ExternalKey, Fields: p.Fields})
	}
	return records
}
