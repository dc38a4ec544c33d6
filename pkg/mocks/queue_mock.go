package mocks

import (
	"context"

	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockJobQueue is a mock implementation of protocol.JobQueue.
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) Enqueue(ctx context.Context, job protocol.RunJob) error {
	args := m.Called(ctx, job)

	return args.Error(0)
}

func (m *MockJobQueue) Subscribe(ctx context.Context, handler protocol.RunJobHandler) error {
	args := m.Called(ctx, handler)

	return args.Error(0)
}

func (m *MockJobQueue) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
