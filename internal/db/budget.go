package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BudgetRepo keeps the daily send counters. Reserve is the only writer that
// increments, and it does so inside one transaction that locks the whole day,
// so concurrent dispatch workers can never oversell a cap.
type BudgetRepo struct {
	pool *pgxpool.Pool
}

func NewBudgetRepo(pool *pgxpool.Pool) *BudgetRepo {
	return &BudgetRepo{pool: pool}
}

func (r *BudgetRepo) InitSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS outbound_budget (
			day TEXT NOT NULL,
			bucket TEXT NOT NULL,
			sent INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (day, bucket)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to init outbound_budget schema: %w", err)
	}
	return nil
}

// Reserve claims one send against both the bucket cap and the global cap, or
// neither. Locking every row of the day serializes claimers across buckets,
// which is what makes the global cap enforceable without a second counter.
func (r *BudgetRepo) Reserve(ctx context.Context, day, bucket string, bucketLimit, globalLimit int) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	seed := `
		INSERT INTO outbound_budget (day, bucket, sent)
		VALUES ($1, $2, 0)
		ON CONFLICT (day, bucket) DO NOTHING
	`
	if _, err := tx.Exec(ctx, seed, day, bucket); err != nil {
		return false, fmt.Errorf("failed to seed budget row: %w", err)
	}

	lock := `
		SELECT bucket, sent
		FROM outbound_budget
		WHERE day = $1
		ORDER BY bucket
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, lock, day)
	if err != nil {
		return false, fmt.Errorf("failed to lock budget day: %w", err)
	}

	var bucketSent, total int
	for rows.Next() {
		var name string
		var sent int
		if err := rows.Scan(&name, &sent); err != nil {
			rows.Close()
			return false, fmt.Errorf("failed to scan budget row: %w", err)
		}
		total += sent
		if name == bucket {
			bucketSent = sent
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("budget row iteration failed: %w", err)
	}

	if bucketSent >= bucketLimit || total >= globalLimit {
		return false, nil
	}

	claim := `
		UPDATE outbound_budget
		SET sent = sent + 1, updated_at = CURRENT_TIMESTAMP
		WHERE day = $1 AND bucket = $2
	`
	if _, err := tx.Exec(ctx, claim, day, bucket); err != nil {
		return false, fmt.Errorf("failed to claim budget slot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit budget claim: %w", err)
	}

	return true, nil
}

// Release hands back a reserved slot after a failed send. Floored at zero so
// a double release cannot mint budget.
func (r *BudgetRepo) Release(ctx context.Context, day, bucket string) error {
	query := `
		UPDATE outbound_budget
		SET sent = GREATEST(sent - 1, 0), updated_at = CURRENT_TIMESTAMP
		WHERE day = $1 AND bucket = $2
	`
	_, err := r.pool.Exec(ctx, query, day, bucket)
	if err != nil {
		return fmt.Errorf("failed to release budget slot: %w", err)
	}
	return nil
}

// Usage reports per-bucket counters for one day.
func (r *BudgetRepo) Usage(ctx context.Context, day string) (map[string]int, error) {
	query := `
		SELECT bucket, sent
		FROM outbound_budget
		WHERE day = $1
	`
	rows, err := r.pool.Query(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}
	defer rows.Close()

	usage := make(map[string]int)
	for rows.Next() {
		var bucket string
		var sent int
		if err := rows.Scan(&bucket, &sent); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		usage[bucket] = sent
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage row iteration failed: %w", err)
	}
	return usage, nil
}
