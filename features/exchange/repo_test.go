package exchange_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bhoomi/features/exchange"
)

func TestPostgresRepo_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := exchange.NewPostgresRepo(db)
	e := &exchange.Exchange{
		Question:      "When to sow rice?",
		Lang:          "hi",
		Answer:        "- In June.",
		Sources:       []string{"data/rice.pdf"},
		CorrelationID: "corr-1",
		LatencyMs:     120,
	}
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO exchanges (question, lang, answer, sources, cached, correlation_id, latency_ms) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at")).
		WithArgs(e.Question, e.Lang, e.Answer, pq.Array(e.Sources), false, "corr-1", int64(120)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("6f1c0c44-5e0b-4a83-9f3c-0d1f2f0d9a11", now))

	require.NoError(t, repo.Save(context.Background(), e))
	assert.Equal(t, "6f1c0c44-5e0b-4a83-9f3c-0d1f2f0d9a11", e.ID)
	assert.Equal(t, now, e.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := exchange.NewPostgresRepo(db)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "question", "lang", "answer", "sources", "cached", "correlation_id", "latency_ms", "helpful", "feedback_at", "created_at"}).
		AddRow("1", "q1", "", "a1", "{data/rice.pdf,data/soil.txt}", false, "c1", int64(10), true, now, now).
		AddRow("2", "q2", "mr", "a2", "{}", true, "c2", int64(5), nil, nil, now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, question, lang, answer, sources, cached, correlation_id, latency_ms, helpful, feedback_at, created_at FROM exchanges ORDER BY created_at DESC LIMIT $1 OFFSET $2")).
		WithArgs(20, 0).
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), 20, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"data/rice.pdf", "data/soil.txt"}, list[0].Sources)
	if assert.NotNil(t, list[0].Helpful) {
		assert.True(t, *list[0].Helpful)
	}
	assert.NotNil(t, list[0].FeedbackAt)
	assert.Nil(t, list[1].Helpful)
	assert.Nil(t, list[1].FeedbackAt)
	assert.True(t, list[1].Cached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRepo_SetFeedback(t *testing.T) {
	query := regexp.QuoteMeta("UPDATE exchanges SET helpful = $1, feedback_at = NOW() WHERE id = $2")

	t.Run("Updated", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(query).WithArgs(true, "1").WillReturnResult(sqlmock.NewResult(0, 1))
		assert.NoError(t, exchange.NewPostgresRepo(db).SetFeedback(context.Background(), "1", true))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Missing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec(query).WithArgs(false, "2").WillReturnResult(sqlmock.NewResult(0, 0))
		err = exchange.NewPostgresRepo(db).SetFeedback(context.Background(), "2", false)
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestPostgresRepo_Stats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*), COUNT(*) FILTER (WHERE helpful), COUNT(*) FILTER (WHERE NOT helpful) FROM exchanges")).
		WillReturnRows(sqlmock.NewRows([]string{"count", "helpful", "not_helpful"}).AddRow(10, 6, 2))

	s, err := exchange.NewPostgresRepo(db).Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &exchange.FeedbackStats{Total: 10, Helpful: 6, NotHelpful: 2}, s)
}
