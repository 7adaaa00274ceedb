package ask

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"bhoomi/internal/apperr"
	"bhoomi/internal/middleware"
	"bhoomi/internal/rag"
)

type Answerer interface {
	Answer(ctx context.Context, q rag.Query) (*rag.Answer, error)
}

type Handler struct {
	answerer Answerer
	dev      bool
}

func NewHandler(a Answerer, dev bool) *Handler {
	return &Handler{answerer: a, dev: dev}
}

// Request accepts the question under either "question" or "query".
// History carries the client's own earlier exchanges, oldest first.
type Request struct {
	Question string         `json:"question"`
	Query    string         `json:"query"`
	Lang     string         `json:"lang"`
	History  []rag.Exchange `json:"history"`
}

type Source struct {
	Source string  `json:"source"`
	Page   int     `json:"page"`
	Offset int     `json:"offset"`
	Score  float64 `json:"score"`
}

type Response struct {
	Answer     string   `json:"answer"`
	ExchangeID string   `json:"exchangeId,omitempty"`
	Sources    []Source `json:"sources"`
	Cached     bool     `json:"cached"`
}

func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(ctx, w, apperr.CodeValidation, "invalid request body", http.StatusBadRequest)
		return
	}
	question := req.Question
	if strings.TrimSpace(question) == "" {
		question = req.Query
	}

	slog.InfoContext(ctx, "question received", "lang", req.Lang, "history", len(req.History), "correlationId", correlationID)

	answer, err := h.answerer.Answer(ctx, rag.Query{Question: question, Lang: req.Lang, History: req.History})
	if err != nil {
		h.writeAnswerError(ctx, w, err)
		return
	}

	resp := Response{
		Answer:     answer.Text,
		ExchangeID: answer.ExchangeID,
		Sources:    make([]Source, 0, len(answer.Sources)),
		Cached:     answer.Cached,
	}
	for _, s := range answer.Sources {
		resp.Sources = append(resp.Sources, Source{Source: s.Source, Page: s.Page, Offset: s.Offset, Score: s.Score})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeAnswerError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := apperr.HTTP(err, h.dev)
	if resp.Status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "failed to answer question", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
	} else {
		slog.WarnContext(ctx, "question rejected", "error", err, "correlationId", middleware.GetCorrelationID(ctx))
	}

	// Clients written against the old API only read "answer".
	if errors.Is(err, apperr.ErrUnavailable) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.Status)
		body := map[string]interface{}{
			"answer": apperr.MsgUnavailable,
			"error": map[string]string{
				"code":    resp.Code,
				"message": resp.Message,
			},
			"correlationId": middleware.GetCorrelationID(ctx),
		}
		if err := json.NewEncoder(w).Encode(body); err != nil {
			slog.Error("failed to encode error response", "error", err)
		}
		return
	}

	h.writeError(ctx, w, resp.Code, resp.Message, resp.Status)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
