package pipeline_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"bhoomi/features/pipeline"
	"bhoomi/internal/rag"
)

type MockOrchestrator struct{ mock.Mock }

func (m *MockOrchestrator) Status() rag.Status {
	return m.Called().Get(0).(rag.Status)
}

func (m *MockOrchestrator) StartRebuild(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockRequester struct{ mock.Mock }

func (m *MockRequester) RequestRebuild(ctx context.Context, reason string) error {
	return m.Called(ctx, reason).Error(0)
}

type MockRepo struct{ mock.Mock }

func (m *MockRepo) Save(ctx context.Context, run *pipeline.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockRepo) List(ctx context.Context, limit int) ([]pipeline.Run, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]pipeline.Run), args.Error(1)
}

func (m *MockRepo) CountFailed(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
