package worker

import (
	"context"
)

type Rebuilder interface {
	Rebuild(ctx context.Context) error
}

// Publisher is satisfied by *nsq.Producer.
type Publisher interface {
	Publish(topic string, body []byte) error
}
