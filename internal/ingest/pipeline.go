package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"bhoomi/internal/apperr"
	"bhoomi/internal/index"
	"bhoomi/internal/middleware"
	"bhoomi/internal/text"
)

const (
	DefaultBatchSize              = 10
	DefaultBatchInterval          = 1500 * time.Millisecond
	DefaultMaxConsecutiveFailures = 3
)

type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

type Extractor interface {
	Supports(path string) bool
	Extract(ctx context.Context, path string) ([]text.Document, error)
}

// Mirror holds a copy of the records of the index that is serving.
type Mirror interface {
	Reset(ctx context.Context) error
	Upsert(ctx context.Context, records []index.Record) error
	Count(ctx context.Context) (int, error)
}

type Options struct {
	IndexDir               string
	BatchSize              int
	BatchInterval          time.Duration
	MaxConsecutiveFailures int
	Metric                 index.Metric
}

type Pipeline struct {
	embedder  Embedder
	extractor Extractor
	splitter  *text.Splitter
	mirror    Mirror
	opts      Options
}

func New(e Embedder, x Extractor, s *text.Splitter, opts Options) *Pipeline {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchInterval < 0 {
		opts.BatchInterval = 0
	}
	if opts.MaxConsecutiveFailures < 0 {
		opts.MaxConsecutiveFailures = 0
	}
	if opts.Metric == "" {
		opts.Metric = index.Cosine
	}
	return &Pipeline{embedder: e, extractor: x, splitter: s, opts: opts}
}

func (p *Pipeline) WithMirror(m Mirror) *Pipeline {
	p.mirror = m
	return p
}

// Run produces a ready index for the documents under root. Unless rebuild
// is set, a persisted index is loaded instead of re-embedding.
func (p *Pipeline) Run(ctx context.Context, root string, rebuild bool) (*index.Index, *Report, error) {
	runID := uuid.New().String()
	ctx = middleware.WithIngestRun(ctx, runID)
	start := time.Now()
	report := &Report{RunID: runID, Root: root, StartedAt: start, Skipped: []SkippedDocument{}}
	defer func() { report.DurationMs = time.Since(start).Milliseconds() }()

	if !rebuild && p.opts.IndexDir != "" && index.Exists(p.opts.IndexDir) {
		idx, err := index.Load(ctx, p.opts.IndexDir, p.embedder.Dimension())
		switch {
		case err == nil && idx.Metric() != p.opts.Metric:
			slog.WarnContext(ctx, "persisted index uses a different metric, rebuilding",
				"stored", idx.Metric(), "configured", p.opts.Metric)
		case err == nil:
			slog.InfoContext(ctx, "loaded persisted index", "dir", p.opts.IndexDir, "records", idx.Len())
			report.Loaded = true
			report.Records = idx.Len()
			p.syncMirror(ctx, idx, false)
			return idx, report, nil
		default:
			slog.WarnContext(ctx, "failed to load persisted index, rebuilding", "dir", p.opts.IndexDir, "error", err)
		}
	}

	idx, err := p.build(ctx, root, report)
	if err != nil {
		return nil, report, err
	}
	report.Records = idx.Len()
	p.syncMirror(ctx, idx, true)

	if p.opts.IndexDir != "" {
		if err := idx.Persist(ctx, p.opts.IndexDir); err != nil {
			slog.ErrorContext(ctx, "failed to persist index", "dir", p.opts.IndexDir, "error", err)
			report.PersistError = err.Error()
		}
	}

	slog.InfoContext(ctx, "ingestion completed",
		"documents", report.Documents,
		"skipped", len(report.Skipped),
		"chunks", report.Chunks,
		"records", report.Records,
		"failed_batches", report.FailedBatches,
		"duration", time.Since(start))
	return idx, report, nil
}

func (p *Pipeline) build(ctx context.Context, root string, report *Report) (*index.Index, error) {
	paths, err := discover(root, p.opts.IndexDir, p.extractor.Supports)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, apperr.NoDocumentsFound(root)
	}

	chunks, err := p.chunk(ctx, paths, report)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, apperr.NoContentExtracted(root)
	}

	return p.embed(ctx, chunks, report)
}

func (p *Pipeline) chunk(ctx context.Context, paths []string, report *Report) ([]text.Chunk, error) {
	var chunks []text.Chunk
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		docs, err := p.extractor.Extract(ctx, path)
		if err != nil {
			slog.WarnContext(ctx, "skipping document", "path", path, "error", err)
			report.Skipped = append(report.Skipped, SkippedDocument{Path: path, Reason: err.Error()})
			continue
		}

		docChunks := p.splitter.Split(docs)
		if len(docChunks) == 0 {
			slog.WarnContext(ctx, "document has no text", "path", path)
			report.Skipped = append(report.Skipped, SkippedDocument{Path: path, Reason: "no text extracted"})
			continue
		}

		slog.DebugContext(ctx, "document chunked", "path", path, "pages", len(docs), "chunks", len(docChunks))
		report.Documents++
		chunks = append(chunks, docChunks...)
	}
	report.Chunks = len(chunks)
	return chunks, nil
}

func (p *Pipeline) embed(ctx context.Context, chunks []text.Chunk, report *Report) (*index.Index, error) {
	var limiter *rate.Limiter
	if p.opts.BatchInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(p.opts.BatchInterval), 1)
	}

	var (
		acc         *index.Index
		lastErr     error
		consecutive int
	)

	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(chunks))
		batch := chunks[start:end]
		report.Batches++

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		batchIdx, err := p.embedBatch(ctx, batch)
		if err == nil {
			if acc == nil {
				acc = batchIdx
			} else {
				err = acc.Merge(batchIdx)
			}
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			report.FailedBatches++
			consecutive++
			lastErr = err
			slog.WarnContext(ctx, "embedding batch failed",
				"batch", report.Batches, "size", len(batch), "consecutive", consecutive, "error", err)

			if p.opts.MaxConsecutiveFailures > 0 && consecutive >= p.opts.MaxConsecutiveFailures {
				return nil, apperr.EmbeddingProvider("ingest.embed",
					fmt.Errorf("%d consecutive batches failed: %w", consecutive, err))
			}
			continue
		}

		consecutive = 0
	}

	if acc == nil {
		if lastErr == nil {
			lastErr = errors.New("no batches embedded")
		}
		if apperr.KindOf(lastErr) != apperr.KindEmbeddingProvider {
			lastErr = apperr.EmbeddingProvider("ingest.embed", lastErr)
		}
		return nil, lastErr
	}
	return acc, nil
}

func (p *Pipeline) embedBatch(ctx context.Context, batch []text.Chunk) (*index.Index, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(batch) {
		return nil, apperr.EmbeddingProvider("ingest.embed",
			fmt.Errorf("expected %d vectors, got %d", len(batch), len(vectors)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, apperr.EmbeddingProvider("ingest.embed",
				fmt.Errorf("empty vector for chunk %d of %d", i, len(batch)))
		}
	}

	idx, err := index.New(len(vectors[0]), p.opts.Metric)
	if err != nil {
		return nil, err
	}
	records := make([]index.Record, len(batch))
	for i, c := range batch {
		records[i] = index.Record{Chunk: c, Vector: vectors[i]}
	}
	if _, err := idx.InsertBatch(records); err != nil {
		return nil, err
	}
	return idx, nil
}

// syncMirror replaces the mirror contents with the records of idx. A loaded
// index is only pushed when the mirror holds a different number of records.
// Mirror failures are logged and never fail the run.
func (p *Pipeline) syncMirror(ctx context.Context, idx *index.Index, force bool) {
	if p.mirror == nil {
		return
	}
	if !force {
		n, err := p.mirror.Count(ctx)
		if err == nil && n == idx.Len() {
			return
		}
		if err != nil {
			slog.WarnContext(ctx, "failed to count mirror records", "error", err)
		}
	}

	if err := p.mirror.Reset(ctx); err != nil {
		slog.WarnContext(ctx, "failed to reset mirror", "error", err)
		return
	}
	records := idx.Records()
	for start := 0; start < len(records); start += p.opts.BatchSize {
		end := min(start+p.opts.BatchSize, len(records))
		if err := p.mirror.Upsert(ctx, records[start:end]); err != nil {
			slog.WarnContext(ctx, "failed to mirror records", "offset", start, "error", err)
			return
		}
	}
	slog.InfoContext(ctx, "mirror synced", "records", len(records))
}
