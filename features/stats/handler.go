package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"bhoomi/features/exchange"
	"bhoomi/internal/apperr"
	"bhoomi/internal/middleware"
	"bhoomi/internal/rag"
)

type Pipeline interface {
	Status() rag.Status
}

// Counter is satisfied by the answer cache and the vector mirror.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type FeedbackSource interface {
	Stats(ctx context.Context) (*exchange.FeedbackStats, error)
}

type RunSource interface {
	CountFailed(ctx context.Context) (int, error)
}

type Handler struct {
	pipeline Pipeline
	cache    Counter
	mirror   Counter
	feedback FeedbackSource
	runs     RunSource
}

// NewHandler builds the stats handler. Optional sources are attached with
// the With methods.
func NewHandler(p Pipeline) *Handler {
	return &Handler{pipeline: p}
}

func (h *Handler) WithCache(c Counter) *Handler {
	h.cache = c
	return h
}

func (h *Handler) WithMirror(m Counter) *Handler {
	h.mirror = m
	return h
}

func (h *Handler) WithFeedback(f FeedbackSource) *Handler {
	h.feedback = f
	return h
}

func (h *Handler) WithRuns(r RunSource) *Handler {
	h.runs = r
	return h
}

type StatsResponse struct {
	Ready         bool                    `json:"ready"`
	Records       int                     `json:"records"`
	Documents     int                     `json:"documents"`
	Skipped       int                     `json:"skipped"`
	Generation    uint64                  `json:"generation"`
	CachedAnswers *int                    `json:"cached_answers,omitempty"`
	MirrorRecords *int                    `json:"mirror_records,omitempty"`
	FailedRuns    *int                    `json:"failed_runs,omitempty"`
	Feedback      *exchange.FeedbackStats `json:"feedback,omitempty"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	status := h.pipeline.Status()
	resp := StatsResponse{
		Ready:      status.Ready,
		Records:    status.Records,
		Generation: status.Generation,
	}
	if status.Report != nil {
		resp.Documents = status.Report.Documents
		resp.Skipped = len(status.Report.Skipped)
	}

	if h.cache != nil {
		n, err := h.cache.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count cached answers", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, apperr.CodeInternal, "failed to count cached answers", http.StatusInternalServerError)
			return
		}
		resp.CachedAnswers = &n
	}

	if h.mirror != nil {
		n, err := h.mirror.Count(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count mirror records", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, apperr.CodeInternal, "failed to count mirror records", http.StatusInternalServerError)
			return
		}
		resp.MirrorRecords = &n
	}

	if h.runs != nil {
		n, err := h.runs.CountFailed(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count failed runs", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, apperr.CodeInternal, "failed to count failed runs", http.StatusInternalServerError)
			return
		}
		resp.FailedRuns = &n
	}

	if h.feedback != nil {
		fs, err := h.feedback.Stats(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to load feedback stats", "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, apperr.CodeInternal, "failed to load feedback stats", http.StatusInternalServerError)
			return
		}
		resp.Feedback = fs
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
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
