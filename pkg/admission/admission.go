// Package admission decides whether a new run may start. It serializes
// quota checks per user through the reservation lock, creates the run
// inside the quota transaction and hands it to the job queue, undoing
// the reservation when the handoff fails.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/google/uuid"
)

// Reservation serializes reservation transactions per user.
type Reservation interface {
	WithLock(ctx context.Context, userID string, fn func(ctx context.Context) error) error
}

// PlanResolver maps a user to the plan whose quotas gate admission.
type PlanResolver interface {
	PlanFor(ctx context.Context, userID string) (models.Plan, error)
}

// StaticPlanResolver answers every lookup with one fixed plan. Used when
// no billing integration is configured.
type StaticPlanResolver struct {
	Plan models.Plan
}

func (r StaticPlanResolver) PlanFor(_ context.Context, _ string) (models.Plan, error) {
	return r.Plan, nil
}

// Request describes the run a trigger wants admitted.
type Request struct {
	WorkflowID  string
	UserID      string
	TriggerType string
	TriggerData map[string]any
}

// Service admits runs for all three trigger origins.
type Service struct {
	reservation Reservation
	workflows   persistence.WorkflowRepository
	runs        persistence.RunRepository
	plans       PlanResolver
	queue       protocol.JobQueue
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates the admission service.
func NewService(
	reservation Reservation,
	workflows persistence.WorkflowRepository,
	runs persistence.RunRepository,
	plans PlanResolver,
	queue protocol.JobQueue,
	logger *slog.Logger,
) *Service {
	return &Service{
		reservation: reservation,
		workflows:   workflows,
		runs:        runs,
		plans:       plans,
		queue:       queue,
		logger:      logger.With("module", "admission"),
		now:         time.Now,
	}
}

// Reserve checks the workflow's graph and the user's quotas, then
// creates the pending run inside the per-user reservation lock. Graph
// rejections surface as graph validation errors before any quota is
// touched; quota violations surface as persistence.ErrConcurrentLimit
// or persistence.ErrMonthlyLimit.
func (s *Service) Reserve(ctx context.Context, req Request) (*models.WorkflowRun, error) {
	workflow, err := s.workflows.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", req.WorkflowID, err)
	}

	err = graph.Validate(workflow.Nodes, workflow.Edges)
	if err != nil {
		return nil, fmt.Errorf("workflow %s rejected: %w", req.WorkflowID, err)
	}

	plan, err := s.plans.PlanFor(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan for user %s: %w", req.UserID, err)
	}

	var run *models.WorkflowRun

	err = s.reservation.WithLock(ctx, req.UserID, func(ctx context.Context) error {
		var reserveErr error

		run, reserveErr = s.runs.ReserveRun(ctx, persistence.ReserveRunParams{
			RunID:             uuid.New().String(),
			WorkflowID:        req.WorkflowID,
			UserID:            req.UserID,
			TriggerType:       req.TriggerType,
			TriggerData:       req.TriggerData,
			MaxConcurrentRuns: plan.MaxConcurrentRuns,
			MonthlyRunQuota:   plan.MonthlyRunQuota,
			Now:               s.now(),
		})

		return reserveErr
	})
	if err != nil {
		return nil, err
	}

	return run, nil
}

// ReserveAndEnqueue reserves a run and publishes its job. A failed
// publish rolls the reservation back so the user's quota is not consumed
// by a run that will never execute.
func (s *Service) ReserveAndEnqueue(ctx context.Context, req Request) (*models.WorkflowRun, error) {
	run, err := s.Reserve(ctx, req)
	if err != nil {
		return nil, err
	}

	err = s.queue.Enqueue(ctx, protocol.RunJob{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Enqueue failed after reservation, rolling back",
			"run_id", run.ID, "workflow_id", run.WorkflowID, "error", err)

		rollbackErr := s.runs.RollbackReservation(ctx, run.ID, run.UserID, s.now())
		if rollbackErr != nil {
			s.logger.ErrorContext(ctx, "Failed to roll back reservation",
				"run_id", run.ID, "error", rollbackErr)
		}

		return nil, fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}

	return run, nil
}
