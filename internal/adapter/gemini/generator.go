package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"

	"bhoomi/internal/apperr"
	"bhoomi/internal/rag"
)

type Generator struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
}

func NewGenerator(client *genai.Client, model string, temperature float32, timeout time.Duration) *Generator {
	return &Generator{client: client, model: model, temperature: temperature, timeout: timeout}
}

// Complete sends the prompt instructions as the system instruction and the
// context and question as the user turn. The text is returned as produced.
func (g *Generator) Complete(ctx context.Context, p rag.Prompt) (*rag.GenerationResult, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(g.temperature)
	if p.Instructions != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(p.Instructions))
	}

	start := time.Now()
	resp, err := model.GenerateContent(ctx, genai.Text(p.UserText()))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "model", g.model, "error", err)
		return nil, apperr.GenerationProvider("gemini.Complete", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, apperr.GenerationProvider("gemini.Complete", err)
	}

	slog.DebugContext(ctx, "generation completed", "model", g.model, "duration", time.Since(start), "length", len(text))
	return &rag.GenerationResult{Text: text}, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty response text")
	}
	return b.String(), nil
}
