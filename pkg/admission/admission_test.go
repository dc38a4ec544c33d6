package admission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/mocks"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// passthroughReservation runs fn directly, as the real lock does once
// acquired.
type passthroughReservation struct {
	calls int
}

func (r *passthroughReservation) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	r.calls++

	return fn(ctx)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func testRequest() Request {
	return Request{
		WorkflowID:  "wf-1",
		UserID:      "user-1",
		TriggerType: "cron",
		TriggerData: map[string]any{"bucket": "2025-11-14"},
	}
}

func validWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:     "wf-1",
		Name:   "test",
		Owner:  "user-1",
		Status: models.WorkflowStatusPublished,
		Nodes: []*models.WorkflowNode{
			{ID: "start", Type: models.NodeTypeTriggerCron, Name: "start", Enabled: true},
			{ID: "notify", Type: models.NodeTypeLog, Name: "notify", Enabled: true},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "start", Target: "notify"},
		},
	}
}

func validWorkflows() *mocks.MockWorkflowRepository {
	workflows := &mocks.MockWorkflowRepository{}
	workflows.On("GetByID", mock.Anything, "wf-1").Return(validWorkflow(), nil)

	return workflows
}

func TestReserveRunsInsideReservationLock(t *testing.T) {
	t.Parallel()

	runs := &mocks.MockRunRepository{}
	queue := &mocks.MockJobQueue{}
	reservation := &passthroughReservation{}

	run := &models.WorkflowRun{ID: "run-1", WorkflowID: "wf-1", UserID: "user-1", Status: models.RunStatusPending}
	runs.On("ReserveRun", mock.Anything, mock.MatchedBy(func(params persistence.ReserveRunParams) bool {
		return params.WorkflowID == "wf-1" &&
			params.UserID == "user-1" &&
			params.MaxConcurrentRuns == models.DefaultPlan.MaxConcurrentRuns &&
			params.MonthlyRunQuota == models.DefaultPlan.MonthlyRunQuota
	})).Return(run, nil)

	service := NewService(reservation, validWorkflows(), runs, StaticPlanResolver{Plan: models.DefaultPlan}, queue, testLogger())

	reserved, err := service.Reserve(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "run-1", reserved.ID)
	assert.Equal(t, 1, reservation.calls)
	runs.AssertExpectations(t)
}

func TestReservePropagatesQuotaErrors(t *testing.T) {
	t.Parallel()

	for _, quotaErr := range []error{persistence.ErrConcurrentLimit, persistence.ErrMonthlyLimit} {
		runs := &mocks.MockRunRepository{}
		runs.On("ReserveRun", mock.Anything, mock.Anything).Return(nil, quotaErr)

		service := NewService(&passthroughReservation{}, validWorkflows(), runs, StaticPlanResolver{Plan: models.DefaultPlan}, &mocks.MockJobQueue{}, testLogger())

		_, err := service.Reserve(context.Background(), testRequest())
		require.Error(t, err)
		assert.ErrorIs(t, err, quotaErr)
		assert.True(t, persistence.IsQuotaError(err))
	}
}

func TestReserveAndEnqueuePublishesJob(t *testing.T) {
	t.Parallel()

	runs := &mocks.MockRunRepository{}
	queue := &mocks.MockJobQueue{}

	run := &models.WorkflowRun{ID: "run-1", WorkflowID: "wf-1", UserID: "user-1", Status: models.RunStatusPending}
	runs.On("ReserveRun", mock.Anything, mock.Anything).Return(run, nil)
	queue.On("Enqueue", mock.Anything, protocol.RunJob{RunID: "run-1", WorkflowID: "wf-1"}).Return(nil)

	service := NewService(&passthroughReservation{}, validWorkflows(), runs, StaticPlanResolver{Plan: models.DefaultPlan}, queue, testLogger())

	reserved, err := service.ReserveAndEnqueue(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, "run-1", reserved.ID)
	queue.AssertExpectations(t)
	runs.AssertNotCalled(t, "RollbackReservation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReserveAndEnqueueRollsBackOnPublishFailure(t *testing.T) {
	t.Parallel()

	runs := &mocks.MockRunRepository{}
	queue := &mocks.MockJobQueue{}

	run := &models.WorkflowRun{ID: "run-1", WorkflowID: "wf-1", UserID: "user-1", Status: models.RunStatusPending}
	runs.On("ReserveRun", mock.Anything, mock.Anything).Return(run, nil)
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("broker unreachable"))
	runs.On("RollbackReservation", mock.Anything, "run-1", "user-1", mock.Anything).Return(nil)

	service := NewService(&passthroughReservation{}, validWorkflows(), runs, StaticPlanResolver{Plan: models.DefaultPlan}, queue, testLogger())

	_, err := service.ReserveAndEnqueue(context.Background(), testRequest())
	require.Error(t, err)
	runs.AssertExpectations(t)
}

func TestReserveRejectsInvalidGraphBeforeQuota(t *testing.T) {
	t.Parallel()

	broken := validWorkflow()
	broken.Edges = append(broken.Edges, &models.Edge{ID: "e2", Source: "notify", Target: "start"})

	tests := []struct {
		name     string
		workflow *models.Workflow
		want     error
	}{
		{"cycle", broken, graph.ErrCycleDetected},
		{
			"duplicate node id",
			&models.Workflow{
				ID: "wf-1", Status: models.WorkflowStatusPublished,
				Nodes: []*models.WorkflowNode{
					{ID: "start", Type: models.NodeTypeTriggerCron, Name: "start", Enabled: true},
					{ID: "start", Type: models.NodeTypeLog, Name: "clash", Enabled: true},
				},
			},
			graph.ErrDuplicateNodeID,
		},
		{
			"dangling edge",
			&models.Workflow{
				ID: "wf-1", Status: models.WorkflowStatusPublished,
				Nodes: []*models.WorkflowNode{
					{ID: "start", Type: models.NodeTypeTriggerCron, Name: "start", Enabled: true},
				},
				Edges: []*models.Edge{{ID: "e1", Source: "start", Target: "ghost"}},
			},
			graph.ErrUnknownEdgeEndpoint,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			workflows := &mocks.MockWorkflowRepository{}
			workflows.On("GetByID", mock.Anything, "wf-1").Return(tc.workflow, nil)

			runs := &mocks.MockRunRepository{}
			reservation := &passthroughReservation{}

			service := NewService(reservation, workflows, runs, StaticPlanResolver{Plan: models.DefaultPlan}, &mocks.MockJobQueue{}, testLogger())

			_, err := service.Reserve(context.Background(), testRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, graph.IsValidationError(err))

			// The rejection happened before any quota was touched.
			assert.Equal(t, 0, reservation.calls)
			runs.AssertNotCalled(t, "ReserveRun", mock.Anything, mock.Anything)
		})
	}
}
