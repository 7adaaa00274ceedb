package exchange

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

type Repository interface {
	Save(ctx context.Context, e *Exchange) error
	List(ctx context.Context, limit, offset int) ([]Exchange, error)
	SetFeedback(ctx context.Context, id string, helpful bool) error
	Stats(ctx context.Context) (*FeedbackStats, error)
}

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, e *Exchange) error {
	query := `INSERT INTO exchanges (question, lang, answer, sources, cached, correlation_id, latency_ms) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at`
	return r.db.QueryRowContext(ctx, query, e.Question, e.Lang, e.Answer, pq.Array(e.Sources), e.Cached, e.CorrelationID, e.LatencyMs).
		Scan(&e.ID, &e.CreatedAt)
}

func (r *PostgresRepo) List(ctx context.Context, limit, offset int) ([]Exchange, error) {
	query := `SELECT id, question, lang, answer, sources, cached, correlation_id, latency_ms, helpful, feedback_at, created_at FROM exchanges ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var (
			e          Exchange
			helpful    sql.NullBool
			feedbackAt sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Question, &e.Lang, &e.Answer, pq.Array(&e.Sources), &e.Cached,
			&e.CorrelationID, &e.LatencyMs, &helpful, &feedbackAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		if helpful.Valid {
			e.Helpful = &helpful.Bool
		}
		if feedbackAt.Valid {
			e.FeedbackAt = &feedbackAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SetFeedback returns sql.ErrNoRows when no exchange has the id.
func (r *PostgresRepo) SetFeedback(ctx context.Context, id string, helpful bool) error {
	query := `UPDATE exchanges SET helpful = $1, feedback_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, helpful, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *PostgresRepo) Stats(ctx context.Context) (*FeedbackStats, error) {
	s := &FeedbackStats{}
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE helpful), COUNT(*) FILTER (WHERE NOT helpful) FROM exchanges`
	if err := r.db.QueryRowContext(ctx, query).Scan(&s.Total, &s.Helpful, &s.NotHelpful); err != nil {
		return nil, err
	}
	return s, nil
}
