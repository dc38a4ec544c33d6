// Package mocks provides testify mocks for the repository and queue
// contracts, shared across test packages.
package mocks

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockWorkflowRepository is a mock implementation of persistence.WorkflowRepository.
type MockWorkflowRepository struct {
	mock.Mock
}

func (m *MockWorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	args := m.Called(ctx, id)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) PublishedWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	args := m.Called(ctx)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.Workflow), args.Error(1)
}

func (m *MockWorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	args := m.Called(ctx, workflow)

	return args.Error(0)
}

func (m *MockWorkflowRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

// MockRunRepository is a mock implementation of persistence.RunRepository.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	args := m.Called(ctx, id)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowRun, error) {
	args := m.Called(ctx, workflowID)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) ReserveRun(ctx context.Context, params persistence.ReserveRunParams) (*models.WorkflowRun, error) {
	args := m.Called(ctx, params)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowRun), args.Error(1)
}

func (m *MockRunRepository) RollbackReservation(ctx context.Context, runID, userID string, at time.Time) error {
	args := m.Called(ctx, runID, userID, at)

	return args.Error(0)
}

func (m *MockRunRepository) UpdateStatus(ctx context.Context, id string, status models.RunStatus, at time.Time) error {
	args := m.Called(ctx, id, status, at)

	return args.Error(0)
}

func (m *MockRunRepository) TryLock(ctx context.Context, runID, owner string, ttl time.Duration, now time.Time) (bool, error) {
	args := m.Called(ctx, runID, owner, ttl, now)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) RenewLock(ctx context.Context, runID, owner string, now time.Time) (bool, error) {
	args := m.Called(ctx, runID, owner, now)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) Unlock(ctx context.Context, runID, owner string) (bool, error) {
	args := m.Called(ctx, runID, owner)

	return args.Bool(0), args.Error(1)
}

func (m *MockRunRepository) IsLocked(ctx context.Context, runID string, ttl time.Duration, now time.Time) (bool, error) {
	args := m.Called(ctx, runID, ttl, now)

	return args.Bool(0), args.Error(1)
}

// MockNodeRunRepository is a mock implementation of persistence.NodeRunRepository.
type MockNodeRunRepository struct {
	mock.Mock
}

func (m *MockNodeRunRepository) GetByNode(ctx context.Context, runID, nodeID string) (*models.NodeRun, error) {
	args := m.Called(ctx, runID, nodeID)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.NodeRun), args.Error(1)
}

func (m *MockNodeRunRepository) ListByRun(ctx context.Context, runID string) ([]*models.NodeRun, error) {
	args := m.Called(ctx, runID)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.NodeRun), args.Error(1)
}

func (m *MockNodeRunRepository) Save(ctx context.Context, nodeRun *models.NodeRun) error {
	args := m.Called(ctx, nodeRun)

	return args.Error(0)
}

// MockUsageRepository is a mock implementation of persistence.UsageRepository.
type MockUsageRepository struct {
	mock.Mock
}

func (m *MockUsageRepository) GetForPeriod(ctx context.Context, userID, period string) (*models.UsageRecord, error) {
	args := m.Called(ctx, userID, period)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.UsageRecord), args.Error(1)
}
