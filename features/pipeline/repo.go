package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
)

type Repository interface {
	Save(ctx context.Context, run *Run) error
	List(ctx context.Context, limit int) ([]Run, error)
	CountFailed(ctx context.Context) (int, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, run *Run) error {
	skipped := string(run.Skipped)
	if skipped == "" || skipped == "null" {
		skipped = "[]"
	}
	query := `INSERT INTO ingest_runs (id, root, loaded, documents, chunks, records, failed_batches, skipped, error, duration_ms, started_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING created_at`
	return r.db.QueryRowContext(ctx, query, run.ID, run.Root, run.Loaded, run.Documents, run.Chunks, run.Records,
		run.FailedBatches, skipped, run.Error, run.DurationMs, run.StartedAt).Scan(&run.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, root, loaded, documents, chunks, records, failed_batches, skipped, error, duration_ms, started_at, created_at FROM ingest_runs ORDER BY started_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var skipped []byte
		if err := rows.Scan(&run.ID, &run.Root, &run.Loaded, &run.Documents, &run.Chunks, &run.Records,
			&run.FailedBatches, &skipped, &run.Error, &run.DurationMs, &run.StartedAt, &run.CreatedAt); err != nil {
			return nil, err
		}
		run.Skipped = json.RawMessage(skipped)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *PostgresRepo) CountFailed(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM ingest_runs WHERE error <> ''`
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}
