package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bhoomi/internal/config"
	"bhoomi/internal/middleware"
)

type RebuildPublisher struct {
	publisher Publisher
}

func NewRebuildPublisher(p Publisher) *RebuildPublisher {
	return &RebuildPublisher{publisher: p}
}

// RequestRebuild queues an index rebuild.
func (p *RebuildPublisher) RequestRebuild(ctx context.Context, reason string) error {
	body, err := json.Marshal(RebuildRequest{
		Reason:        reason,
		RequestedAt:   time.Now().UTC(),
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := p.publisher.Publish(config.TopicIndexRebuild, body); err != nil {
		return fmt.Errorf("publish rebuild request: %w", err)
	}
	return nil
}
