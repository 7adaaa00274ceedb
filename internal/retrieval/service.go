package retrieval

import (
	"context"
	"time"

	"bhoomi/internal/apperr"
	"bhoomi/internal/index"
	"bhoomi/internal/middleware"
)

// DefaultTopK is used when neither the caller nor config picks k.
const DefaultTopK = 4

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexSource hands out the index queries should run against. It may
// return nil while no index is ready.
type IndexSource interface {
	Current() *index.Index
}

type Service struct {
	embedder Embedder
	source   IndexSource
	topK     int
	logger   *QueryLogger
}

func NewService(e Embedder, src IndexSource, topK int, l *QueryLogger) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{embedder: e, source: src, topK: topK, logger: l}
}

// Retrieve returns the k chunks most similar to question, best first.
// k <= 0 uses the configured default. An empty or missing index yields an
// empty result.
func (s *Service) Retrieve(ctx context.Context, question string, k int) ([]index.Match, error) {
	return s.RetrieveFrom(ctx, s.source.Current(), question, k)
}

// RetrieveFrom is Retrieve against a specific index snapshot.
func (s *Service) RetrieveFrom(ctx context.Context, idx *index.Index, question string, k int) ([]index.Match, error) {
	start := time.Now()
	if k <= 0 {
		k = s.topK
	}

	if idx == nil || idx.Len() == 0 {
		s.log(ctx, question, nil, start)
		return []index.Match{}, nil
	}

	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindEmbeddingProvider {
			err = apperr.EmbeddingProvider("retrieval.Embed", err)
		}
		return nil, err
	}

	matches, err := idx.Search(vec, k)
	if err != nil {
		return nil, err
	}

	s.log(ctx, question, matches, start)
	return matches, nil
}

func (s *Service) log(ctx context.Context, question string, matches []index.Match, start time.Time) {
	if s.logger == nil {
		return
	}
	entry := QueryLogEntry{
		Query:         question,
		NumResults:    len(matches),
		Duration:      time.Since(start),
		CorrelationID: middleware.GetCorrelationID(ctx),
	}
	if len(matches) > 0 {
		entry.TopScore = matches[0].Score
		entry.Sources = make([]string, 0, len(matches))
		for _, m := range matches {
			entry.Sources = append(entry.Sources, m.Record.Chunk.Source)
		}
	}
	s.logger.Log(entry)
}
