package ingest

import "time"

type SkippedDocument struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Report describes one pipeline run.
type Report struct {
	RunID         string            `json:"runId"`
	Root          string            `json:"root"`
	Loaded        bool              `json:"loaded"`
	Documents     int               `json:"documents"`
	Skipped       []SkippedDocument `json:"skipped"`
	Chunks        int               `json:"chunks"`
	Records       int               `json:"records"`
	Batches       int               `json:"batches"`
	FailedBatches int               `json:"failedBatches"`
	PersistError  string            `json:"persistError,omitempty"`
	StartedAt     time.Time         `json:"startedAt"`
	DurationMs    int64             `json:"durationMs"`
}
