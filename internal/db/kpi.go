package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// KPIRepo appends per-cycle engine stats. Append-only, queried by humans.
type KPIRepo struct {
	pool *pgxpool.Pool
}

func NewKPIRepo(pool *pgxpool.Pool) *KPIRepo {
	return &KPIRepo{pool: pool}
}

func (r *KPIRepo) InitSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kpi_events (
			id BIGSERIAL PRIMARY KEY,
			engine TEXT NOT NULL,
			stats JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_kpi_events_engine ON kpi_events (engine, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to init kpi_events schema: %w", err)
	}
	return nil
}

// Insert serializes the stats payload and appends one event row.
func (r *KPIRepo) Insert(ctx context.Context, engine string, stats any) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal kpi stats: %w", err)
	}
	query := `INSERT INTO kpi_events (engine, stats) VALUES ($1, $2)`
	if _, err := r.pool.Exec(ctx, query, engine, payload); err != nil {
		return fmt.Errorf("failed to insert kpi event: %w", err)
	}
	return nil
}
