package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/dispatch"
	"github.com/KJZOFFERS/krizzy-ops-launch-sub000/internal/models"
)

// DispatchRepo persists the outbound dispatch log. The same table answers two
// questions: what is queued to send, and when was this destination last
// touched. Rows never leave sent or failed once they land there.
type DispatchRepo struct {
	pool *pgxpool.Pool
}

func NewDispatchRepo(pool *pgxpool.Pool) *DispatchRepo {
	return &DispatchRepo{pool: pool}
}

func (r *DispatchRepo) InitSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outbound_dispatches (
			key TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			campaign TEXT NOT NULL,
			bucket TEXT NOT NULL,
			destination TEXT NOT NULL,
			body TEXT NOT NULL,
			fallback_body TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'queued' CHECK (status IN ('queued','sending','sent','failed')),
			provider_id TEXT,
			error_log TEXT,
			attempts INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			sent_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_dispatches_claim ON outbound_dispatches (bucket, status, created_at);
		CREATE INDEX IF NOT EXISTS idx_dispatches_touch ON outbound_dispatches (destination, status, sent_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to init outbound_dispatches schema: %w", err)
	}
	return nil
}

// Enqueue inserts a dispatch keyed by its idempotency key. A key collision
// means the contact already got this campaign and the row is left untouched.
func (r *DispatchRepo) Enqueue(ctx context.Context, d models.Dispatch) (dispatch.EnqueueResult, error) {
	query := `
		INSERT INTO outbound_dispatches (key, run_id, campaign, bucket, destination, body, fallback_body)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO NOTHING
	`
	tag, err := r.pool.Exec(ctx, query, d.Key, d.RunID, d.Campaign, d.Bucket, d.Destination, d.Body, d.FallbackBody)
	if err != nil {
		return dispatch.Duplicate, fmt.Errorf("failed to enqueue dispatch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dispatch.Duplicate, nil
	}
	return dispatch.Accepted, nil
}

// ClaimQueued flips up to limit queued rows in one bucket to sending and
// returns them oldest first. SKIP LOCKED keeps parallel bucket workers from
// claiming the same rows.
func (r *DispatchRepo) ClaimQueued(ctx context.Context, bucket string, limit int) ([]models.Dispatch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT key, run_id, campaign, bucket, destination, body, fallback_body, status, attempts, created_at
		FROM outbound_dispatches
		WHERE bucket = $1 AND status = 'queued'
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, bucket, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch queued dispatches: %w", err)
	}

	var claimed []models.Dispatch
	keys := make([]string, 0, limit)
	for rows.Next() {
		var d models.Dispatch
		err := rows.Scan(
			&d.Key,
			&d.RunID,
			&d.Campaign,
			&d.Bucket,
			&d.Destination,
			&d.Body,
			&d.FallbackBody,
			&d.Status,
			&d.Attempts,
			&d.CreatedAt,
		)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan dispatch: %w", err)
		}
		claimed = append(claimed, d)
		keys = append(keys, d.Key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispatch row iteration failed: %w", err)
	}

	if len(keys) > 0 {
		claim := `
			UPDATE outbound_dispatches
			SET status = 'sending', attempts = attempts + 1, updated_at = CURRENT_TIMESTAMP
			WHERE key = ANY($1)
		`
		if _, err := tx.Exec(ctx, claim, keys); err != nil {
			return nil, fmt.Errorf("failed to claim dispatches: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit dispatch claim: %w", err)
	}

	return claimed, nil
}

// MarkSent settles a sending row as sent. The status guard makes the terminal
// transition one-way even if a stale worker reports late.
func (r *DispatchRepo) MarkSent(ctx context.Context, key, providerID string) error {
	query := `
		UPDATE outbound_dispatches
		SET status = 'sent', provider_id = $2, sent_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE key = $1 AND status = 'sending'
	`
	tag, err := r.pool.Exec(ctx, query, key, providerID)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispatch %s was not in sending state", key)
	}
	return nil
}

// MarkFailed settles a sending row as failed with the provider's complaint.
func (r *DispatchRepo) MarkFailed(ctx context.Context, key, errMsg string) error {
	query := `
		UPDATE outbound_dispatches
		SET status = 'failed', error_log = $2, updated_at = CURRENT_TIMESTAMP
		WHERE key = $1 AND status = 'sending'
	`
	tag, err := r.pool.Exec(ctx, query, key, errMsg)
	if err != nil {
		return fmt.Errorf("failed to mark dispatch failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("dispatch %s was not in sending state", key)
	}
	return nil
}

// Requeue returns claimed rows to queued without burning the claim as a
// failure. Used when the quota gate rejects or the worker shuts down.
func (r *DispatchRepo) Requeue(ctx context.Context, keys []string, note string) error {
	if len(keys) == 0 {
		return nil
	}
	query := `
		UPDATE outbound_dispatches
		SET status = 'queued', attempts = attempts - 1, error_log = $2, updated_at = CURRENT_TIMESTAMP
		WHERE key = ANY($1) AND status = 'sending'
	`
	_, err := r.pool.Exec(ctx, query, keys, note)
	if err != nil {
		return fmt.Errorf("failed to requeue dispatches: %w", err)
	}
	return nil
}

// RequeueStale rescues rows stuck in sending past olderThan, which means a
// dispatcher died mid-cycle. Attempts stay burned so a crash loop cannot spin
// forever on a poisonous row.
func (r *DispatchRepo) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE outbound_dispatches
		SET status = 'queued', error_log = 'stale_claim_recovered', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'sending' AND updated_at < CURRENT_TIMESTAMP - $1::interval
	`
	tag, err := r.pool.Exec(ctx, query, olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// LastContact reports the most recent confirmed delivery to a destination.
// Only sent rows count: a failed attempt did not reach anyone.
func (r *DispatchRepo) LastContact(ctx context.Context, destination string) (time.Time, bool, error) {
	query := `
		SELECT MAX(sent_at)
		FROM outbound_dispatches
		WHERE destination = $1 AND status = 'sent'
	`
	var last *time.Time
	err := r.pool.QueryRow(ctx, query, destination).Scan(&last)
	if err != nil && err != pgx.ErrNoRows {
		return time.Time{}, false, fmt.Errorf("failed to read last contact: %w", err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

// CountSince counts attempts against a destination in the lookback window.
// Failed sends count too: the phone may still have rung.
func (r *DispatchRepo) CountSince(ctx context.Context, destination string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM outbound_dispatches
		WHERE destination = $1 AND status IN ('sent', 'failed') AND updated_at >= $2
	`
	var count int
	if err := r.pool.QueryRow(ctx, query, destination, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent touches: %w", err)
	}
	return count, nil
}
