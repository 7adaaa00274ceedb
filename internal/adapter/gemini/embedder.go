package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"

	"bhoomi/internal/apperr"
)

// maxBatch is the most contents a single batchEmbedContents call accepts.
const maxBatch = 100

type Embedder struct {
	client    *genai.Client
	model     string
	dimension int
	timeout   time.Duration
}

func NewEmbedder(client *genai.Client, model string, dimension int, timeout time.Duration) *Embedder {
	return &Embedder{client: client, model: model, dimension: dimension, timeout: timeout}
}

// Dimension is the configured vector size, 0 when unknown.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed embeds a question.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	slog.DebugContext(ctx, "embedding query", "model", e.model, "length", len(text))
	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalQuery

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, apperr.EmbeddingProvider("gemini.Embed", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, apperr.EmbeddingProvider("gemini.Embed", fmt.Errorf("empty embedding received"))
	}
	if err := e.checkDimension(res.Embedding.Values); err != nil {
		return nil, err
	}
	return res.Embedding.Values, nil
}

// EmbedBatch embeds document chunks, one vector per text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	em := e.client.EmbeddingModel(e.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatch {
		end := min(start+maxBatch, len(texts))

		batch := em.NewBatch()
		for _, t := range texts[start:end] {
			batch.AddContent(genai.Text(t))
		}

		slog.DebugContext(ctx, "embedding batch", "model", e.model, "size", end-start)
		res, err := em.BatchEmbedContents(ctx, batch)
		if err != nil {
			slog.ErrorContext(ctx, "batch embedding failed", "error", err, "size", end-start)
			return nil, apperr.EmbeddingProvider("gemini.EmbedBatch", err)
		}
		if len(res.Embeddings) != end-start {
			return nil, apperr.EmbeddingProvider("gemini.EmbedBatch",
				fmt.Errorf("expected %d embeddings, got %d", end-start, len(res.Embeddings)))
		}
		for _, emb := range res.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, apperr.EmbeddingProvider("gemini.EmbedBatch", fmt.Errorf("empty embedding received"))
			}
			if err := e.checkDimension(emb.Values); err != nil {
				return nil, err
			}
			vectors = append(vectors, emb.Values)
		}
	}
	return vectors, nil
}

func (e *Embedder) checkDimension(vec []float32) error {
	if e.dimension > 0 && len(vec) != e.dimension {
		return apperr.EmbeddingProvider("gemini", apperr.DimensionMismatch(e.dimension, len(vec)))
	}
	return nil
}

func (e *Embedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.timeout)
}
