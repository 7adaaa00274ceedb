package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nsqio/go-nsq"

	"bhoomi/internal/apperr"
	"bhoomi/internal/middleware"
)

// RebuildConsumer rebuilds the index for every message on the rebuild topic.
type RebuildConsumer struct {
	rebuilder Rebuilder
	timeout   time.Duration
}

func NewRebuildConsumer(r Rebuilder, timeout time.Duration) *RebuildConsumer {
	return &RebuildConsumer{rebuilder: r, timeout: timeout}
}

func (h *RebuildConsumer) HandleMessage(m *nsq.Message) error {
	var req RebuildRequest
	if len(m.Body) > 0 {
		if err := json.Unmarshal(m.Body, &req); err != nil {
			// Poison Pill: Invalid JSON, don't retry
			slog.Error("poison pill: invalid json", "error", err)
			return nil
		}
	}

	ctx := context.Background()
	if req.CorrelationID != "" {
		ctx = middleware.WithCorrelationID(ctx, req.CorrelationID)
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	slog.InfoContext(ctx, "rebuild requested", "reason", req.Reason, "attempt", m.Attempts)
	err := h.rebuilder.Rebuild(ctx)
	if err == nil {
		return nil
	}

	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		slog.InfoContext(ctx, "rebuild already running, dropping request")
		return nil
	case apperr.KindNoDocuments, apperr.KindNoContent, apperr.KindConfiguration:
		// Retrying cannot fix the data folder.
		slog.ErrorContext(ctx, "rebuild failed", "error", err)
		return nil
	default:
		slog.ErrorContext(ctx, "rebuild failed", "error", err)
		return err // Retry
	}
}
