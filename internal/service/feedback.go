package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

type FeedbackRepository interface {
	MarkFailedByCorrelationID(ctx context.Context, correlationID string, errLog string) error
}

// ErrorNotifier pushes operator-facing alerts about dead jobs.
type ErrorNotifier interface {
	Error(ctx context.Context, text string)
}

type FeedbackService struct {
	repo     FeedbackRepository
	notifier ErrorNotifier
	logger   *slog.Logger
}

func NewFeedbackService(r FeedbackRepository, n ErrorNotifier, l *slog.Logger) *FeedbackService {
	return &FeedbackService{repo: r, notifier: n, logger: l}
}

// HandleDeadLetter reflects a dead-lettered job back into the jobs table so
// the relay side knows the remote write never landed.
func (s *FeedbackService) HandleDeadLetter(ctx context.Context, msg models.SyncJobMessage, reason string) error {
	s.logger.Warn("Feedback: caught dead letter, updating database",
		"correlation_id", msg.CorrelationID,
		"table", msg.TableName,
		"reason", reason)

	err := s.repo.MarkFailedByCorrelationID(ctx, msg.CorrelationID, "dead-lettered: "+reason)
	if err != nil {
		s.logger.Error("Feedback: failed to update postgres", "correlation_id", msg.CorrelationID, "error", err)
		return err
	}

	s.notifier.Error(ctx, fmt.Sprintf(
		"Sync job dead-lettered\nTable: %s | Operation: %s\nCorrelation: %s\nReason: %s",
		msg.TableName, msg.Operation, msg.CorrelationID, reason,
	))
	return nil
}
