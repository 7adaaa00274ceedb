package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"bhoomi/internal/apperr"
	"bhoomi/internal/middleware"
)

type Handler struct {
	service *Service
	dev     bool
}

func NewHandler(s *Service, dev bool) *Handler {
	return &Handler{service: s, dev: dev}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	limit, err := intParam(r, "limit")
	if err != nil {
		h.writeError(ctx, w, apperr.CodeValidation, "limit must be a number", http.StatusBadRequest)
		return
	}
	offset, err := intParam(r, "offset")
	if err != nil {
		h.writeError(ctx, w, apperr.CodeValidation, "offset must be a number", http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "listing exchanges", "limit", limit, "offset", offset, "correlationId", correlationID)

	exchanges, err := h.service.List(ctx, limit, offset)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list exchanges", "error", err, "correlationId", correlationID)
		h.writeAppError(ctx, w, err)
		return
	}
	if exchanges == nil {
		exchanges = []Exchange{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": exchanges,
		"meta": map[string]int{"count": len(exchanges)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

type feedbackRequest struct {
	Helpful *bool `json:"helpful"`
}

func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Helpful == nil {
		h.writeError(ctx, w, apperr.CodeValidation, `body must be {"helpful": true|false}`, http.StatusBadRequest)
		return
	}

	slog.InfoContext(ctx, "recording feedback", "id", id, "helpful", *req.Helpful, "correlationId", correlationID)

	if err := h.service.Feedback(ctx, id, *req.Helpful); err != nil {
		slog.ErrorContext(ctx, "failed to record feedback", "id", id, "error", err, "correlationId", correlationID)
		h.writeAppError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": "feedback recorded"}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func (h *Handler) writeAppError(ctx context.Context, w http.ResponseWriter, err error) {
	resp := apperr.HTTP(err, h.dev)
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
