package worker

import "time"

// RebuildRequest is the body of a message on the index rebuild topic.
type RebuildRequest struct {
	Reason        string    `json:"reason"`
	RequestedAt   time.Time `json:"requested_at"`
	CorrelationID string    `json:"correlation_id"`
}
