package rag_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bhoomi/internal/apperr"
	"bhoomi/internal/extract"
	"bhoomi/internal/index"
	"bhoomi/internal/ingest"
	"bhoomi/internal/rag"
	"bhoomi/internal/retrieval"
	"bhoomi/internal/testutils"
	"bhoomi/internal/text"
)

var vocabulary = []string{"rice", "wheat", "neem", "temperature", "germinat", "sow", "aphid"}

// vocabEmbedder counts vocabulary terms; the last dimension is a constant
// so no vector is zero.
type vocabEmbedder struct{}

func (vocabEmbedder) Dimension() int { return len(vocabulary) + 1 }

func (e vocabEmbedder) Embed(ctx context.Context, s string) ([]float32, error) {
	v := make([]float32, e.Dimension())
	lower := strings.ToLower(s)
	for i, term := range vocabulary {
		v[i] = float32(strings.Count(lower, term))
	}
	v[len(vocabulary)] = 1
	return v, nil
}

func (e vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type MockGenerator struct{ mock.Mock }

func (m *MockGenerator) Complete(ctx context.Context, p rag.Prompt) (*rag.GenerationResult, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rag.GenerationResult), args.Error(1)
}

// echoGenerator answers with the first context paragraph and keeps every
// prompt it saw.
type echoGenerator struct {
	mu      sync.Mutex
	prompts []rag.Prompt
}

func (g *echoGenerator) Complete(ctx context.Context, p rag.Prompt) (*rag.GenerationResult, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()
	first, _, _ := strings.Cut(p.Context, "\n\n")
	return &rag.GenerationResult{Text: "- " + first}, nil
}

func (g *echoGenerator) last() rag.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[len(g.prompts)-1]
}

// stubPipeline returns a fixed index, or err.
type stubPipeline struct {
	mu    sync.Mutex
	runs  int
	idx   *index.Index
	err   error
	block chan struct{}
}

func (p *stubPipeline) Run(ctx context.Context, root string, rebuild bool) (*index.Index, *ingest.Report, error) {
	p.mu.Lock()
	p.runs++
	p.mu.Unlock()
	if p.block != nil {
		<-p.block
	}
	if p.err != nil {
		return nil, &ingest.Report{Root: root}, p.err
	}
	return p.idx, &ingest.Report{Root: root, Records: p.idx.Len()}, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]string
	gets    int
}

func (c *memCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key, answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = map[string]string{}
	}
	c.entries[key] = answer
	return nil
}

func (c *memCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}

type recorderFunc func(ctx context.Context, r rag.ExchangeRecord) (string, error)

func (f recorderFunc) Record(ctx context.Context, r rag.ExchangeRecord) (string, error) {
	return f(ctx, r)
}

func knowledgeIndex(t *testing.T) *index.Index {
	t.Helper()
	e := vocabEmbedder{}
	idx, err := index.New(e.Dimension(), index.Cosine)
	require.NoError(t, err)
	for _, body := range []string{
		"Rice needs 20-25°C for germination.",
		"Wheat is sown in November.",
		"Neem oil repels aphids.",
	} {
		v, _ := e.Embed(context.Background(), body)
		_, err := idx.InsertBatch([]index.Record{{Chunk: text.Chunk{Source: "kb.txt", Text: body}, Vector: v}})
		require.NoError(t, err)
	}
	return idx
}

func newOrchestrator(t *testing.T, p rag.Pipeline, g rag.Generator, window int) *rag.Orchestrator {
	t.Helper()
	r := retrieval.NewService(vocabEmbedder{}, nil, 2, nil)
	return rag.New(p, r, g, rag.Options{Root: "data", TopK: 2, HistoryWindow: window})
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	root := t.TempDir()
	testutils.WritePDF(t, filepath.Join(root, "rice.pdf"), "Rice needs 20-25°C for germination.")
	files := map[string]string{
		"wheat.txt": "Wheat is sown in November after the monsoon retreats.",
		"pests.md":  "Neem oil repels aphids on vegetables.",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(body), 0o600))
	}

	reg, err := extract.Default([]string{".pdf", ".txt", ".md"})
	require.NoError(t, err)
	splitter, err := text.NewSplitter(text.DefaultChunkSize, text.DefaultChunkOverlap)
	require.NoError(t, err)
	pipeline := ingest.New(vocabEmbedder{}, reg, splitter, ingest.Options{IndexDir: filepath.Join(root, "vector_db")})

	gen := &echoGenerator{}
	o := rag.New(pipeline, retrieval.NewService(vocabEmbedder{}, nil, 4, nil), gen, rag.Options{Root: root, TopK: 2, HistoryWindow: 6})
	require.NoError(t, o.Initialize(context.Background()))
	assert.True(t, o.Status().Ready)
	assert.Equal(t, 3, o.Status().Records)

	ans, err := o.Answer(context.Background(), rag.Query{Question: "What temperature does rice need to germinate?"})
	require.NoError(t, err)
	assert.Contains(t, ans.Text, "20-25°C")
	require.NotEmpty(t, ans.Sources)
	assert.Contains(t, ans.Sources[0].Text, "Rice needs 20-25°C for germination.")
	assert.Equal(t, filepath.Join(root, "rice.pdf"), ans.Sources[0].Source)
	assert.Equal(t, 1, ans.Sources[0].Page)

	p := gen.last()
	assert.Equal(t, rag.DefaultInstructions, p.Instructions)
	assert.True(t, strings.HasPrefix(p.Context, "Rice needs 20-25°C"))
	assert.Contains(t, p.Question, rag.FarmerInstruction)
	assert.True(t, strings.HasSuffix(p.Question, "What temperature does rice need to germinate?"))
}

func TestOrchestrator_NoDocuments(t *testing.T) {
	root := t.TempDir()
	reg, err := extract.Default([]string{".pdf"})
	require.NoError(t, err)
	splitter, err := text.NewSplitter(100, 10)
	require.NoError(t, err)
	pipeline := ingest.New(vocabEmbedder{}, reg, splitter, ingest.Options{})

	gen := new(MockGenerator)
	o := rag.New(pipeline, retrieval.NewService(vocabEmbedder{}, nil, 4, nil), gen, rag.Options{Root: root})

	err = o.Initialize(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNoDocumentsFound)

	status := o.Status()
	assert.False(t, status.Ready)
	assert.Contains(t, status.LastError, "no documents found")

	ans, err := o.Answer(context.Background(), rag.Query{Question: "When should I sow rice?"})
	assert.Nil(t, ans)
	assert.ErrorIs(t, err, apperr.ErrUnavailable)

	resp := apperr.HTTP(err, false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, apperr.MsgUnavailable, resp.Message)
	gen.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
}

func TestOrchestrator_Answer(t *testing.T) {
	ctx := context.Background()

	t.Run("Blank Question", func(t *testing.T) {
		o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, &echoGenerator{}, 6)
		require.NoError(t, o.Initialize(ctx))

		for _, q := range []string{"", "   ", "\n\t"} {
			_, err := o.Answer(ctx, rag.Query{Question: q})
			assert.ErrorIs(t, err, apperr.ErrValidation)
			assert.Equal(t, apperr.MsgEmptyQuestion, apperr.HTTP(err, false).Message)
		}
		assert.Empty(t, o.History())
	})

	t.Run("Language Directive", func(t *testing.T) {
		gen := &echoGenerator{}
		o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, gen, 6)
		require.NoError(t, o.Initialize(ctx))

		_, err := o.Answer(ctx, rag.Query{Question: "When to sow wheat?", Lang: "Hindi"})
		require.NoError(t, err)
		assert.Contains(t, gen.last().Question, "Respond in Hindi.\nWhen to sow wheat?")
	})

	t.Run("Empty Context", func(t *testing.T) {
		empty, err := index.New(vocabEmbedder{}.Dimension(), index.Cosine)
		require.NoError(t, err)
		gen := &echoGenerator{}
		o := newOrchestrator(t, &stubPipeline{idx: empty}, gen, 6)
		require.NoError(t, o.Initialize(ctx))

		ans, err := o.Answer(ctx, rag.Query{Question: "How much urea per acre?"})
		require.NoError(t, err)
		assert.Empty(t, ans.Sources)
		assert.Equal(t, rag.NoContext, gen.last().Context)
	})

	t.Run("Provider Error Leaves History Untouched", func(t *testing.T) {
		gen := new(MockGenerator)
		gen.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("503 from upstream")).Once()
		o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, gen, 6)
		require.NoError(t, o.Initialize(ctx))

		ans, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?"})
		assert.Nil(t, ans)
		assert.ErrorIs(t, err, apperr.ErrGenerationProvider)
		assert.Equal(t, http.StatusBadGateway, apperr.HTTP(err, false).Status)
		assert.Empty(t, o.History())
		gen.AssertExpectations(t)
	})

	t.Run("Text Returned Verbatim", func(t *testing.T) {
		gen := new(MockGenerator)
		raw := "  * Sow in June\n* Keep 5 cm water  \n"
		gen.On("Complete", mock.Anything, mock.Anything).Return(&rag.GenerationResult{Text: raw}, nil)
		o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, gen, 6)
		require.NoError(t, o.Initialize(ctx))

		ans, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?"})
		require.NoError(t, err)
		assert.Equal(t, raw, ans.Text)
		assert.Equal(t, []rag.Exchange{{Question: "When to sow rice?", Answer: raw}}, o.History())
	})
}

func TestOrchestrator_HistoryWindow(t *testing.T) {
	ctx := context.Background()
	gen := &echoGenerator{}
	o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, gen, 6)
	require.NoError(t, o.Initialize(ctx))

	for i := 1; i <= 7; i++ {
		_, err := o.Answer(ctx, rag.Query{Question: fmt.Sprintf("question #%d about rice?", i)})
		require.NoError(t, err)
	}
	require.Len(t, o.History(), 6)
	assert.Equal(t, "question #2 about rice?", o.History()[0].Question)

	_, err := o.Answer(ctx, rag.Query{Question: "question #8 about rice?"})
	require.NoError(t, err)

	q := gen.last().Question
	assert.NotContains(t, q, "question #1 about rice?")
	for i := 2; i <= 7; i++ {
		assert.Contains(t, q, fmt.Sprintf("Farmer: question #%d about rice?", i))
	}
	assert.Equal(t, 6, strings.Count(q, "Farmer: "))
	assert.Equal(t, 6, strings.Count(q, "Bhoomi: "))
	assert.True(t, strings.HasSuffix(q, "question #8 about rice?"))
}

func TestOrchestrator_Wait(t *testing.T) {
	pipeline := &stubPipeline{idx: knowledgeIndex(t)}
	o := newOrchestrator(t, pipeline, &echoGenerator{}, 0)
	require.NoError(t, o.Initialize(context.Background()))

	require.NoError(t, o.Wait(context.Background()))

	pipeline.block = make(chan struct{})
	require.NoError(t, o.StartRebuild(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, o.Wait(ctx), context.DeadlineExceeded)

	close(pipeline.block)
	require.NoError(t, o.Wait(context.Background()))
	assert.False(t, o.Status().Rebuilding)
	assert.Equal(t, uint64(2), o.Status().Generation)
}

func TestOrchestrator_CallerHistory(t *testing.T) {
	ctx := context.Background()

	supplied := make([]rag.Exchange, 7)
	for i := range supplied {
		supplied[i] = rag.Exchange{
			Question: fmt.Sprintf("earlier question #%d about wheat?", i+1),
			Answer:   fmt.Sprintf("earlier answer #%d", i+1),
		}
	}

	tests := []struct {
		name      string
		window    int
		history   []rag.Exchange
		wantTurns []int
	}{
		{name: "Trimmed To Window", window: 6, history: supplied, wantTurns: []int{2, 3, 4, 5, 6, 7}},
		{name: "Shorter Than Window", window: 6, history: supplied[:2], wantTurns: []int{1, 2}},
		{name: "Disabled Window", window: 0, history: supplied, wantTurns: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &echoGenerator{}
			o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, gen, tt.window)
			require.NoError(t, o.Initialize(ctx))

			_, err := o.Answer(ctx, rag.Query{Question: "Shared question about rice?"})
			require.NoError(t, err)

			_, err = o.Answer(ctx, rag.Query{Question: "When is wheat sown?", History: tt.history})
			require.NoError(t, err)

			q := gen.last().Question
			assert.NotContains(t, q, "Shared question about rice?")
			assert.Equal(t, len(tt.wantTurns), strings.Count(q, "Farmer: "))
			for _, n := range tt.wantTurns {
				assert.Contains(t, q, fmt.Sprintf("Farmer: earlier question #%d about wheat?\nBhoomi: earlier answer #%d\n", n, n))
			}
			if len(tt.wantTurns) < len(tt.history) {
				assert.NotContains(t, q, "earlier question #1 about wheat?")
			}
			assert.True(t, strings.HasSuffix(q, "When is wheat sown?"))

			// The caller's exchange stays out of the shared window.
			for _, e := range o.History() {
				assert.NotEqual(t, "When is wheat sown?", e.Question)
			}
		})
	}
}

func TestOrchestrator_Cache(t *testing.T) {
	ctx := context.Background()
	pipeline := &stubPipeline{idx: knowledgeIndex(t)}
	gen := new(MockGenerator)
	gen.On("Complete", mock.Anything, mock.Anything).Return(&rag.GenerationResult{Text: "Sow in June."}, nil)
	cache := &memCache{}

	// Window 0 keeps the prompt identical between questions.
	o := newOrchestrator(t, pipeline, gen, 0).WithCache(cache)
	require.NoError(t, o.Initialize(ctx))

	first, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "Sow in June.", second.Text)
	gen.AssertNumberOfCalls(t, "Complete", 1)

	// A new index generation invalidates cached answers.
	require.NoError(t, o.Rebuild(ctx))
	third, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?"})
	require.NoError(t, err)
	assert.False(t, third.Cached)
	gen.AssertNumberOfCalls(t, "Complete", 2)
}

func TestOrchestrator_Recorder(t *testing.T) {
	ctx := context.Background()

	t.Run("Exchange Id Returned", func(t *testing.T) {
		var got rag.ExchangeRecord
		o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, &echoGenerator{}, 6).
			WithRecorder(recorderFunc(func(ctx context.Context, r rag.ExchangeRecord) (string, error) {
				got = r
				return "ex-1", nil
			}))
		require.NoError(t, o.Initialize(ctx))

		ans, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?", Lang: "Marathi"})
		require.NoError(t, err)
		assert.Equal(t, "ex-1", ans.ExchangeID)
		assert.Equal(t, "When to sow rice?", got.Question)
		assert.Equal(t, "Marathi", got.Lang)
		assert.Equal(t, ans.Text, got.Answer)
		assert.Equal(t, []string{"kb.txt", "kb.txt"}, got.Sources)
	})

	t.Run("Failure Is Not Fatal", func(t *testing.T) {
		o := newOrchestrator(t, &stubPipeline{idx: knowledgeIndex(t)}, &echoGenerator{}, 6).
			WithRecorder(recorderFunc(func(ctx context.Context, r rag.ExchangeRecord) (string, error) {
				return "", errors.New("db down")
			}))
		require.NoError(t, o.Initialize(ctx))

		ans, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?"})
		require.NoError(t, err)
		assert.Empty(t, ans.ExchangeID)
	})
}

type runSinkFunc func(ctx context.Context, report *ingest.Report, runErr error) error

func (f runSinkFunc) SaveRun(ctx context.Context, report *ingest.Report, runErr error) error {
	return f(ctx, report, runErr)
}

func TestOrchestrator_RunSink(t *testing.T) {
	ctx := context.Background()
	pipeline := &stubPipeline{idx: knowledgeIndex(t)}
	var errs []error
	o := newOrchestrator(t, pipeline, &echoGenerator{}, 6).
		WithRunSink(runSinkFunc(func(ctx context.Context, report *ingest.Report, runErr error) error {
			errs = append(errs, runErr)
			return errors.New("sink unavailable")
		}))

	require.NoError(t, o.Initialize(ctx))
	pipeline.err = apperr.NoDocumentsFound("data")
	assert.Error(t, o.Rebuild(ctx))

	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], apperr.ErrNoDocumentsFound)
}

func TestOrchestrator_Rebuild(t *testing.T) {
	ctx := context.Background()

	t.Run("Swaps Index", func(t *testing.T) {
		pipeline := &stubPipeline{idx: knowledgeIndex(t)}
		o := newOrchestrator(t, pipeline, &echoGenerator{}, 6)
		require.NoError(t, o.Initialize(ctx))
		before := o.Current()
		assert.Equal(t, uint64(1), o.Status().Generation)

		next, err := index.New(vocabEmbedder{}.Dimension(), index.Cosine)
		require.NoError(t, err)
		pipeline.idx = next
		require.NoError(t, o.Rebuild(ctx))

		assert.NotSame(t, before, o.Current())
		assert.Same(t, next, o.Current())
		assert.Equal(t, uint64(2), o.Status().Generation)
	})

	t.Run("Failed Rebuild Keeps Serving", func(t *testing.T) {
		pipeline := &stubPipeline{idx: knowledgeIndex(t)}
		o := newOrchestrator(t, pipeline, &echoGenerator{}, 6)
		require.NoError(t, o.Initialize(ctx))
		before := o.Current()

		pipeline.err = apperr.NoDocumentsFound("data")
		assert.ErrorIs(t, o.Rebuild(ctx), apperr.ErrNoDocumentsFound)
		assert.Same(t, before, o.Current())

		status := o.Status()
		assert.True(t, status.Ready)
		assert.NotEmpty(t, status.LastError)

		_, err := o.Answer(ctx, rag.Query{Question: "When to sow rice?"})
		assert.NoError(t, err)
	})

	t.Run("Concurrent Rebuild Conflicts", func(t *testing.T) {
		pipeline := &stubPipeline{idx: knowledgeIndex(t)}
		o := newOrchestrator(t, pipeline, &echoGenerator{}, 6)
		require.NoError(t, o.Initialize(ctx))

		pipeline.block = make(chan struct{})
		done := make(chan error, 1)
		go func() { done <- o.Rebuild(ctx) }()

		require.Eventually(t, func() bool { return o.Status().Rebuilding }, testTimeout, testTick)
		err := o.Rebuild(ctx)
		assert.ErrorIs(t, err, apperr.ErrConflict)

		close(pipeline.block)
		assert.NoError(t, <-done)
		assert.False(t, o.Status().Rebuilding)
	})

	t.Run("Background Rebuild", func(t *testing.T) {
		pipeline := &stubPipeline{idx: knowledgeIndex(t)}
		o := newOrchestrator(t, pipeline, &echoGenerator{}, 6)
		require.NoError(t, o.Initialize(ctx))

		pipeline.block = make(chan struct{})
		require.NoError(t, o.StartRebuild(ctx))
		assert.True(t, o.Status().Rebuilding)
		assert.ErrorIs(t, o.StartRebuild(ctx), apperr.ErrConflict)
		assert.ErrorIs(t, o.Rebuild(ctx), apperr.ErrConflict)

		close(pipeline.block)
		require.Eventually(t, func() bool {
			s := o.Status()
			return !s.Rebuilding && s.Generation == 2
		}, testTimeout, testTick)
	})
}
