package pipeline

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

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": h.service.Status()}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

type rebuildRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	var req rebuildRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(ctx, w, apperr.CodeValidation, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "api"
	}

	slog.InfoContext(ctx, "index rebuild requested", "reason", req.Reason, "correlationId", correlationID)

	queued, err := h.service.Rebuild(ctx, req.Reason)
	if err != nil {
		slog.ErrorContext(ctx, "failed to start rebuild", "error", err, "correlationId", correlationID)
		if apperr.KindOf(err) == apperr.KindInternal {
			h.writeError(ctx, w, apperr.CodeInternal, "failed to queue rebuild", http.StatusInternalServerError)
			return
		}
		resp := apperr.HTTP(err, h.dev)
		h.writeError(ctx, w, resp.Code, resp.Message, resp.Status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	resp := map[string]interface{}{"data": map[string]interface{}{"queued": queued, "started": !queued}}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.writeError(ctx, w, apperr.CodeValidation, "limit must be a number", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.service.Runs(ctx, limit)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list runs", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, apperr.CodeInternal, "failed to list runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []Run{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": runs,
		"meta": map[string]int{"count": len(runs)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
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
