package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"

	"bhoomi/features/ask"
	"bhoomi/features/exchange"
	"bhoomi/features/pipeline"
	"bhoomi/features/stats"
	"bhoomi/internal/adapter/gemini"
	"bhoomi/internal/apperr"
	"bhoomi/internal/cache"
	"bhoomi/internal/config"
	"bhoomi/internal/extract"
	"bhoomi/internal/index"
	"bhoomi/internal/ingest"
	"bhoomi/internal/middleware"
	"bhoomi/internal/rag"
	"bhoomi/internal/retrieval"
	"bhoomi/internal/text"
	"bhoomi/internal/worker"
)

// rebuildMsgTimeout is the longest nsqd lets a message stay in flight by
// default. A rebuild that outlives it is redelivered and dropped as a conflict.
const rebuildMsgTimeout = 15 * time.Minute

const shutdownTimeout = 10 * time.Second

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Options overrides the providers, mostly for tests. Nil fields fall back to
// Gemini.
type Options struct {
	Embedder  Embedder
	Generator rag.Generator
}

type App struct {
	Handler         http.Handler
	Orchestrator    *rag.Orchestrator
	RebuildConsumer *worker.RebuildConsumer

	cfg     *config.Config
	deps    *Dependencies
	closers []io.Closer
}

func New(ctx context.Context, cfg *config.Config, deps *Dependencies, opts *Options) (*App, error) {
	if deps == nil {
		deps = &Dependencies{}
	}
	if opts == nil {
		opts = &Options{}
	}
	a := &App{cfg: cfg, deps: deps}

	// Providers
	embedder, generator := opts.Embedder, opts.Generator
	if embedder == nil || generator == nil {
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, apperr.Configuration("app.New", err)
		}
		a.closers = append(a.closers, client)
		if embedder == nil {
			embedder = gemini.NewEmbedder(client, cfg.EmbedModel, cfg.EmbedDimension, cfg.ProviderTimeout)
		}
		if generator == nil {
			generator = gemini.NewGenerator(client, cfg.ChatModel, cfg.Temperature, cfg.ProviderTimeout)
		}
	}

	// Ingestion
	extractor, err := extract.Default(cfg.DocumentExtensions)
	if err != nil {
		return nil, err
	}
	splitter, err := text.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	metric, err := index.ParseMetric(cfg.DistanceMetric)
	if err != nil {
		return nil, err
	}
	ingestion := ingest.New(embedder, extractor, splitter, ingest.Options{
		IndexDir:               cfg.IndexLocation(),
		BatchSize:              cfg.BatchSize,
		BatchInterval:          cfg.BatchInterval,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
		Metric:                 metric,
	})
	if deps.Mirror != nil {
		ingestion.WithMirror(deps.Mirror)
	}

	// Retrieval
	var queryLogger *retrieval.QueryLogger
	if cfg.QueryLogPath != "" {
		l, closer, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
		if err != nil {
			slog.Warn("failed to create query logger, falling back to stdout", "error", err)
			l = retrieval.NewQueryLogger(os.Stdout)
		} else {
			a.closers = append(a.closers, closer)
		}
		queryLogger = l
	}

	instructions, err := rag.LoadInstructions(cfg.PromptPath)
	if err != nil {
		return nil, apperr.Configuration("app.New", err)
	}

	var orch *rag.Orchestrator
	retriever := retrieval.NewService(embedder, indexSourceFunc(func() *index.Index { return orch.Current() }), cfg.TopK, queryLogger)
	orch = rag.New(ingestion, retriever, generator, rag.Options{
		Root:          cfg.DataRoot,
		Rebuild:       cfg.RebuildIndex,
		TopK:          cfg.TopK,
		HistoryWindow: cfg.HistoryWindow,
		Instructions:  instructions,
	})
	a.Orchestrator = orch

	statsHandler := stats.NewHandler(orch)

	// Feature: Exchange
	var exchangeHandler *exchange.Handler
	var runRepo pipeline.Repository
	if deps.DB != nil {
		exchangeService := exchange.NewService(exchange.NewPostgresRepo(deps.DB))
		exchangeHandler = exchange.NewHandler(exchangeService, cfg.DevMode)
		orch.WithRecorder(exchangeService)
		statsHandler.WithFeedback(exchangeService)
		runRepo = pipeline.NewPostgresRepo(deps.DB)
	}

	// Answer cache
	if deps.Redis != nil {
		answerCache := cache.NewAnswerCache(deps.Redis, cfg.CacheTTL)
		orch.WithCache(answerCache)
		statsHandler.WithCache(answerCache)
	}
	if deps.Mirror != nil {
		statsHandler.WithMirror(deps.Mirror)
	}

	// Feature: Pipeline
	var requester pipeline.RebuildRequester
	if deps.NSQProducer != nil {
		requester = worker.NewRebuildPublisher(deps.NSQProducer)
	}
	pipelineService := pipeline.NewService(orch, requester, runRepo)
	orch.WithRunSink(pipelineService)
	if runRepo != nil {
		statsHandler.WithRuns(pipelineService)
	}
	pipelineHandler := pipeline.NewHandler(pipelineService, cfg.DevMode)

	a.RebuildConsumer = worker.NewRebuildConsumer(orch, 0)

	// Feature: Ask
	askHandler := ask.NewHandler(orch, cfg.DevMode)

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /ask", middleware.CorrelationID(middleware.CORS(askHandler.Ask)))
	mux.Handle("OPTIONS /ask", middleware.CorrelationID(middleware.CORS(askHandler.Ask)))

	mux.Handle("GET /pipeline/status", middleware.CorrelationID(middleware.CORS(pipelineHandler.Status)))
	mux.Handle("POST /pipeline/rebuild", middleware.CorrelationID(middleware.CORS(pipelineHandler.Rebuild)))
	mux.Handle("GET /pipeline/runs", middleware.CorrelationID(middleware.CORS(pipelineHandler.Runs)))

	if exchangeHandler != nil {
		mux.Handle("GET /exchanges", middleware.CorrelationID(middleware.CORS(exchangeHandler.List)))
		mux.Handle("POST /exchanges/{id}/feedback", middleware.CorrelationID(middleware.CORS(exchangeHandler.Feedback)))
	}

	mux.Handle("GET /stats", middleware.CorrelationID(middleware.CORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "ready": orch.Ready()}); err != nil {
			slog.Error("failed to encode health response", "error", err)
		}
	})

	a.Handler = mux
	return a, nil
}

// Run listens on the configured port and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.ServerPort))
	if err != nil {
		a.close()
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve loads or builds the index in the background, starts the rebuild
// consumer when NSQ is configured, and serves HTTP on ln until ctx is done.
// Shared clients are closed only after in-flight requests and background
// rebuilds have finished or shutdownTimeout has passed.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.close()

	// Failures are logged and surfaced through /pipeline/status.
	initialized := make(chan struct{})
	go func() {
		defer close(initialized)
		_ = a.Orchestrator.Initialize(ctx)
	}()

	if a.deps.NSQProducer != nil && a.cfg.NSQLookupd != "" {
		consumer, err := a.startConsumer()
		if err != nil {
			slog.Error("failed to start NSQ rebuild consumer", "error", err)
		} else {
			defer consumer.Stop()
		}
	}

	srv := &http.Server{
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		select {
		case <-initialized:
		case <-shutdownCtx.Done():
		}
		if err := a.Orchestrator.Wait(shutdownCtx); err != nil {
			slog.Warn("index rebuild still running at shutdown", "error", err)
		}
	}()

	slog.Info("server starting", "addr", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-stopped
	return nil
}

func (a *App) startConsumer() (*nsq.Consumer, error) {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MsgTimeout = rebuildMsgTimeout
	nsqCfg.MaxAttempts = 3

	consumer, err := nsq.NewConsumer(config.TopicIndexRebuild, config.ChannelRebuild, nsqCfg)
	if err != nil {
		return nil, err
	}
	consumer.AddHandler(a.RebuildConsumer)
	if err := consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		consumer.Stop()
		return nil, err
	}
	slog.Info("NSQ rebuild consumer connected", "topic", config.TopicIndexRebuild)
	return consumer, nil
}

func (a *App) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
	a.deps.Close()
}

type indexSourceFunc func() *index.Index

func (f indexSourceFunc) Current() *index.Index { return f() }
