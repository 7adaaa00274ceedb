package worker_test

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockRebuilder struct{ mock.Mock }

func (m *MockRebuilder) Rebuild(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}
