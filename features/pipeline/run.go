package pipeline

import (
	"encoding/json"
	"time"
)

// Run is a persisted ingestion run.
type Run struct {
	ID            string          `json:"id"`
	Root          string          `json:"root"`
	Loaded        bool            `json:"loaded"`
	Documents     int             `json:"documents"`
	Chunks        int             `json:"chunks"`
	Records       int             `json:"records"`
	FailedBatches int             `json:"failed_batches"`
	Skipped       json.RawMessage `json:"skipped"`
	Error         string          `json:"error,omitempty"`
	DurationMs    int64           `json:"duration_ms"`
	StartedAt     time.Time       `json:"started_at"`
	CreatedAt     time.Time       `json:"created_at"`
}
