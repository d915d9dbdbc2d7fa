package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

// SyncJobRepo persists the durable write-queue feeding the relay.
type SyncJobRepo struct {
	pool *pgxpool.Pool
}

func NewSyncJobRepo(pool *pgxpool.Pool) *SyncJobRepo {
	return &SyncJobRepo{pool: pool}
}

// InitSchema creates the sync_jobs table when it does not exist yet.
func (r *SyncJobRepo) InitSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sync_jobs (
			id BIGSERIAL PRIMARY KEY,
			correlation_id TEXT NOT NULL UNIQUE,
			table_name TEXT NOT NULL,
			operation TEXT NOT NULL CHECK (operation IN ('upsert','create','update')),
			merge_fields TEXT[] NOT NULL DEFAULT '{}',
			records JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','publishing','published','failed','dead')),
			attempts INT NOT NULL DEFAULT 0,
			error_log TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_sync_jobs_claim ON sync_jobs (status, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to init sync_jobs schema: %w", err)
	}
	return nil
}

// Enqueue inserts a new job. A correlation id collision is silently ignored so
// engine retries never double-queue the same cycle output.
func (r *SyncJobRepo) Enqueue(ctx context.Context, job models.SyncJob) error {
	query := `
		INSERT INTO sync_jobs (correlation_id, table_name, operation, merge_fields, records)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query, job.CorrelationID, job.TableName, job.Operation, job.MergeFields, job.Records)
	if err != nil {
		return fmt.Errorf("failed to enqueue sync job: %w", err)
	}
	return nil
}

// FetchAndClaim atomically claims up to batchSize pending jobs by flipping
// them to publishing. SKIP LOCKED keeps concurrent relays from fighting over
// rows; a crash leaves the claim visible for the janitor to rescue.
func (r *SyncJobRepo) FetchAndClaim(ctx context.Context, batchSize int) ([]models.SyncJob, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, correlation_id, table_name, operation, merge_fields, records, attempts
		FROM sync_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending jobs: %w", err)
	}

	var jobs []models.SyncJob
	ids := make([]int64, 0, batchSize)
	for rows.Next() {
		var job models.SyncJob
		err := rows.Scan(
			&job.ID,
			&job.CorrelationID,
			&job.TableName,
			&job.Operation,
			&job.MergeFields,
			&job.Records,
			&job.Attempts,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan sync job: %w", err)
		}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job row iteration failed: %w", err)
	}

	if len(ids) > 0 {
		claim := `
			UPDATE sync_jobs
			SET status = 'publishing', updated_at = CURRENT_TIMESTAMP
			WHERE id = ANY($1)
		`
		if _, err := tx.Exec(ctx, claim, ids); err != nil {
			return nil, fmt.Errorf("failed to claim jobs: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}

	return jobs, nil
}

// MarkPublished is the final checkpoint after a confirmed broker publish.
func (r *SyncJobRepo) MarkPublished(ctx context.Context, id int64) error {
	query := `
		UPDATE sync_jobs
		SET status = 'published', updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// MarkManyAsPending reverts claimed jobs, recording why in error_log. Used on
// shutdown and broker failure so no claimed job is orphaned in publishing.
func (r *SyncJobRepo) MarkManyAsPending(ctx context.Context, ids []int64, note string) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE sync_jobs
		SET status = 'pending', error_log = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = ANY($1) AND status = 'publishing'
	`
	_, err := r.pool.Exec(ctx, query, ids, note)
	return err
}

// MarkFailed records a job-level failure detected before publish and burns
// one attempt. Invalid jobs cycle failed -> pending -> failed until the
// janitor parks them in dead.
func (r *SyncJobRepo) MarkFailed(ctx context.Context, id int64, errLog string) error {
	query := `
		UPDATE sync_jobs
		SET status = 'failed', attempts = attempts + 1, error_log = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.pool.Exec(ctx, query, id, errLog)
	return err
}

// MarkFailedByCorrelationID records a remote rejection reported through the
// dead-letter feedback path and burns one attempt.
func (r *SyncJobRepo) MarkFailedByCorrelationID(ctx context.Context, correlationID, errLog string) error {
	query := `
		UPDATE sync_jobs
		SET status = 'failed', attempts = attempts + 1, error_log = $2, updated_at = CURRENT_TIMESTAMP
		WHERE correlation_id = $1
	`
	_, err := r.pool.Exec(ctx, query, correlationID, errLog)
	return err
}

// RequeueFailed returns failed jobs to pending so the relay ships them again.
func (r *SyncJobRepo) RequeueFailed(ctx context.Context, maxAttempts int) (int64, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'pending', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'failed' AND attempts < $1
	`
	tag, err := r.pool.Exec(ctx, query, maxAttempts)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetStale rescues jobs stuck in publishing longer than olderThan, which
// means a relay died between claim and checkpoint.
func (r *SyncJobRepo) ResetStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'pending', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE status = 'publishing' AND updated_at < CURRENT_TIMESTAMP - $1::interval
	`
	tag, err := r.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MoveToDead parks jobs that consumed their attempt budget. Dead jobs need a
// human before they move again.
func (r *SyncJobRepo) MoveToDead(ctx context.Context, maxAttempts int) (int64, error) {
	query := `
		UPDATE sync_jobs
		SET status = 'dead', updated_at = CURRENT_TIMESTAMP
		WHERE status IN ('pending', 'failed') AND attempts >= $1
	`
	tag, err := r.pool.Exec(ctx, query, maxAttempts)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Backlog reports queue depth for the relay gauges.
func (r *SyncJobRepo) Backlog(ctx context.Context) (pending int64, dead int64, err error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'publishing')),
			COUNT(*) FILTER (WHERE status = 'dead')
		FROM sync_jobs
	`
	if err := r.pool.QueryRow(ctx, query).Scan(&pending, &dead); err != nil {
		return 0, 0, fmt.Errorf("failed to read backlog: %w", err)
	}
	return pending, dead, nil
}
