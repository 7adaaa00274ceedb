package exchange

import "time"

// Exchange is a persisted question and answer.
type Exchange struct {
	ID            string     `json:"id"`
	Question      string     `json:"question"`
	Lang          string     `json:"lang,omitempty"`
	Answer        string     `json:"answer"`
	Sources       []string   `json:"sources"`
	Cached        bool       `json:"cached"`
	CorrelationID string     `json:"correlation_id"`
	LatencyMs     int64      `json:"latency_ms"`
	Helpful       *bool      `json:"helpful,omitempty"`
	FeedbackAt    *time.Time `json:"feedback_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type FeedbackStats struct {
	Total      int `json:"total"`
	Helpful    int `json:"helpful"`
	NotHelpful int `json:"not_helpful"`
}
