// Package rag answers farmer questions from the ingested knowledge base.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bhoomi/internal/apperr"
	"bhoomi/internal/index"
	"bhoomi/internal/ingest"
	"bhoomi/internal/middleware"
)

const DefaultHistoryWindow = 6

type Pipeline interface {
	Run(ctx context.Context, root string, rebuild bool) (*index.Index, *ingest.Report, error)
}

type Retriever interface {
	RetrieveFrom(ctx context.Context, idx *index.Index, question string, k int) ([]index.Match, error)
}

type Generator interface {
	Complete(ctx context.Context, p Prompt) (*GenerationResult, error)
}

// AnswerCache stores generated answers by prompt key. A miss is ("", false, nil).
// It is cleared whenever a new index is published.
type AnswerCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, answer string) error
	Clear(ctx context.Context) error
}

// ExchangeRecord is what the recorder persists for each answer.
type ExchangeRecord struct {
	Question      string
	Lang          string
	Answer        string
	Sources       []string
	Cached        bool
	CorrelationID string
	Latency       time.Duration
}

type Recorder interface {
	Record(ctx context.Context, r ExchangeRecord) (string, error)
}

// RunSink keeps a history of pipeline runs.
type RunSink interface {
	SaveRun(ctx context.Context, report *ingest.Report, runErr error) error
}

// Query is one question. History, when set, is the caller's own
// conversation and replaces the shared window for this answer.
type Query struct {
	Question string
	Lang     string
	History  []Exchange
}

type Source struct {
	Source string
	Page   int
	Offset int
	Score  float64
	Text   string
}

type Answer struct {
	Text       string
	ExchangeID string
	Sources    []Source
	Cached     bool
}

type Status struct {
	Ready      bool           `json:"ready"`
	Rebuilding bool           `json:"rebuilding"`
	Records    int            `json:"records"`
	Generation uint64         `json:"generation"`
	LastError  string         `json:"lastError,omitempty"`
	Report     *ingest.Report `json:"report,omitempty"`
}

type Options struct {
	Root          string
	Rebuild       bool
	TopK          int
	HistoryWindow int
	Instructions  string
}

type snapshot struct {
	idx        *index.Index
	generation uint64
}

type Orchestrator struct {
	pipeline  Pipeline
	retriever Retriever
	generator Generator
	cache     AnswerCache
	recorder  Recorder
	runs      RunSink
	opts      Options

	current    atomic.Pointer[snapshot]
	generation atomic.Uint64
	rebuildMu  sync.Mutex
	rebuilding atomic.Bool
	background sync.WaitGroup
	history    *history

	mu      sync.Mutex
	lastErr error
	report  *ingest.Report
}

func New(p Pipeline, r Retriever, g Generator, opts Options) *Orchestrator {
	if opts.Instructions == "" {
		opts.Instructions = DefaultInstructions
	}
	return &Orchestrator{
		pipeline:  p,
		retriever: r,
		generator: g,
		opts:      opts,
		history:   newHistory(opts.HistoryWindow),
	}
}

func (o *Orchestrator) WithCache(c AnswerCache) *Orchestrator {
	o.cache = c
	return o
}

func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	o.recorder = r
	return o
}

func (o *Orchestrator) WithRunSink(s RunSink) *Orchestrator {
	o.runs = s
	return o
}

// Initialize runs the pipeline once. A failure leaves the orchestrator
// unavailable and is reported through Status.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.rebuildMu.Lock()
	defer o.rebuildMu.Unlock()

	slog.InfoContext(ctx, "building pipeline", "root", o.opts.Root, "rebuild", o.opts.Rebuild)
	if err := o.run(ctx, o.opts.Rebuild); err != nil {
		slog.ErrorContext(ctx, "pipeline failed to initialize", "error", err)
		return err
	}
	slog.InfoContext(ctx, "pipeline is ready", "records", o.Current().Len())
	return nil
}

// Rebuild re-ingests every document and swaps the new index in. Queries
// already running keep the index they started with.
func (o *Orchestrator) Rebuild(ctx context.Context) error {
	if !o.rebuildMu.TryLock() {
		return apperr.Conflict("an index rebuild is already running")
	}
	defer o.rebuildMu.Unlock()
	return o.rebuild(ctx)
}

// StartRebuild runs Rebuild in the background. Only the Conflict check is
// synchronous; the outcome is reported through Status.
func (o *Orchestrator) StartRebuild(ctx context.Context) error {
	if !o.rebuildMu.TryLock() {
		return apperr.Conflict("an index rebuild is already running")
	}
	o.rebuilding.Store(true)
	o.background.Add(1)
	go func() {
		defer o.background.Done()
		defer o.rebuildMu.Unlock()
		_ = o.rebuild(ctx)
	}()
	return nil
}

// Wait blocks until rebuilds started by StartRebuild have finished, or ctx
// is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) rebuild(ctx context.Context) error {
	slog.InfoContext(ctx, "rebuilding index", "root", o.opts.Root)
	if err := o.run(ctx, true); err != nil {
		slog.ErrorContext(ctx, "index rebuild failed", "error", err)
		return err
	}
	slog.InfoContext(ctx, "index rebuilt", "records", o.Current().Len(), "generation", o.generation.Load())
	return nil
}

func (o *Orchestrator) run(ctx context.Context, rebuild bool) error {
	o.rebuilding.Store(true)
	defer o.rebuilding.Store(false)

	idx, report, err := o.pipeline.Run(ctx, o.opts.Root, rebuild)

	if o.runs != nil && report != nil {
		if serr := o.runs.SaveRun(ctx, report, err); serr != nil {
			slog.WarnContext(ctx, "failed to save ingest run", "error", serr)
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if report != nil {
		o.report = report
	}
	o.lastErr = err
	if err != nil {
		return err
	}
	o.current.Store(&snapshot{idx: idx, generation: o.generation.Add(1)})

	if o.cache != nil {
		if err := o.cache.Clear(ctx); err != nil {
			slog.WarnContext(ctx, "failed to clear answer cache", "error", err)
		}
	}
	return nil
}

// Current is the index queries run against, nil until the pipeline is ready.
func (o *Orchestrator) Current() *index.Index {
	if s := o.current.Load(); s != nil {
		return s.idx
	}
	return nil
}

func (o *Orchestrator) Ready() bool { return o.current.Load() != nil }

func (o *Orchestrator) Status() Status {
	s := Status{Rebuilding: o.rebuilding.Load()}
	if snap := o.current.Load(); snap != nil {
		s.Ready = true
		s.Records = snap.idx.Len()
		s.Generation = snap.generation
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastErr != nil {
		s.LastError = o.lastErr.Error()
	}
	s.Report = o.report
	return s
}

// History returns the exchanges currently kept as conversation context,
// oldest first.
func (o *Orchestrator) History() []Exchange {
	return o.history.snapshot()
}

func (o *Orchestrator) conversation(q Query) []Exchange {
	if len(q.History) == 0 {
		return o.history.snapshot()
	}
	return recent(q.History, o.opts.HistoryWindow)
}

func (o *Orchestrator) Answer(ctx context.Context, q Query) (*Answer, error) {
	start := time.Now()
	question := strings.TrimSpace(q.Question)
	if question == "" {
		return nil, apperr.Validation(apperr.MsgEmptyQuestion)
	}

	snap := o.current.Load()
	if snap == nil {
		o.mu.Lock()
		cause := o.lastErr
		o.mu.Unlock()
		return nil, apperr.E(apperr.KindUnavailable, "rag.Answer", cause, "pipeline not loaded")
	}

	matches, err := o.retriever.RetrieveFrom(ctx, snap.idx, question, o.opts.TopK)
	if err != nil {
		return nil, err
	}

	prompt := Prompt{
		Instructions: o.opts.Instructions,
		Context:      buildContext(matches),
		Question:     buildQuestion(o.conversation(q), question, q.Lang),
	}
	answer := &Answer{Sources: toSources(matches)}

	key := cacheKey(prompt, snap.generation)
	if o.cache != nil {
		text, ok, err := o.cache.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "answer cache lookup failed", "error", err)
		} else if ok {
			answer.Text = text
			answer.Cached = true
		}
	}

	if !answer.Cached {
		res, err := o.generator.Complete(ctx, prompt)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindGenerationProvider {
				err = apperr.GenerationProvider("rag.Answer", err)
			}
			return nil, err
		}
		answer.Text = res.Text

		if o.cache != nil {
			if err := o.cache.Set(ctx, key, res.Text); err != nil {
				slog.WarnContext(ctx, "failed to cache answer", "error", err)
			}
		}
	}

	if len(q.History) == 0 {
		o.history.add(Exchange{Question: question, Answer: answer.Text})
	}

	if o.recorder != nil {
		id, err := o.recorder.Record(ctx, ExchangeRecord{
			Question:      question,
			Lang:          q.Lang,
			Answer:        answer.Text,
			Sources:       sourceNames(answer.Sources),
			Cached:        answer.Cached,
			CorrelationID: middleware.GetCorrelationID(ctx),
			Latency:       time.Since(start),
		})
		if err != nil {
			slog.WarnContext(ctx, "failed to record exchange", "error", err)
		} else {
			answer.ExchangeID = id
		}
	}

	slog.InfoContext(ctx, "question answered",
		"sources", len(matches), "cached", answer.Cached, "duration", time.Since(start))
	return answer, nil
}

func buildContext(matches []index.Match) string {
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if t := strings.TrimSpace(m.Record.Chunk.Text); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return NoContext
	}
	return strings.Join(parts, "\n\n")
}

func toSources(matches []index.Match) []Source {
	out := make([]Source, len(matches))
	for i, m := range matches {
		c := m.Record.Chunk
		out[i] = Source{Source: c.Source, Page: c.Page, Offset: c.Offset, Score: m.Score, Text: c.Text}
	}
	return out
}

func sourceNames(sources []Source) []string {
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = s.Source
	}
	return names
}

func cacheKey(p Prompt, generation uint64) string {
	sum := sha256.Sum256([]byte(p.Render() + "\x00" + strconv.FormatUint(generation, 10)))
	return hex.EncodeToString(sum[:])
}
