package exchange

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"bhoomi/internal/apperr"
	"bhoomi/internal/rag"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record persists an answered question and returns its id.
func (s *Service) Record(ctx context.Context, r rag.ExchangeRecord) (string, error) {
	sources := r.Sources
	if sources == nil {
		sources = []string{}
	}
	e := &Exchange{
		Question:      r.Question,
		Lang:          r.Lang,
		Answer:        r.Answer,
		Sources:       sources,
		Cached:        r.Cached,
		CorrelationID: r.CorrelationID,
		LatencyMs:     r.Latency.Milliseconds(),
	}
	if err := s.repo.Save(ctx, e); err != nil {
		return "", fmt.Errorf("save exchange: %w", err)
	}
	return e.ID, nil
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]Exchange, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) Feedback(ctx context.Context, id string, helpful bool) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperr.Validation("invalid exchange id")
	}
	if err := s.repo.SetFeedback(ctx, id, helpful); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("Exchange not found")
		}
		return err
	}
	return nil
}

func (s *Service) Stats(ctx context.Context) (*FeedbackStats, error) {
	return s.repo.Stats(ctx)
}
