// Package persistence provides the durable-store abstraction for
// workflows, runs, node runs and usage counters. The durable store is the
// single source of truth; anything touching more than one row at a time
// happens inside a transaction behind these interfaces.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	NodeRunRepository() NodeRunRepository
	UsageRepository() UsageRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions.
type WorkflowRepository interface {
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	PublishedWorkflows(ctx context.Context) ([]*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ReserveRunParams carries one quota-checked run reservation: the usage
// upsert, the concurrent-pending check, the monthly counter increment and
// the run row creation execute in a single transaction, all-or-nothing.
type ReserveRunParams struct {
	RunID             string
	WorkflowID        string
	UserID            string
	TriggerType       string
	TriggerData       map[string]any
	MaxConcurrentRuns int
	MonthlyRunQuota   int
	Now               time.Time
}

// RunRepository stores workflow runs. TryLock/Unlock/RenewLock implement
// the durable-store lock fallback over the run's locked_at/locked_by
// columns using conditional updates (affected-rows semantics).
type RunRepository interface {
	GetByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.WorkflowRun, error)

	// ReserveRun returns ErrConcurrentLimit or ErrMonthlyLimit when the
	// plan caps reject the reservation.
	ReserveRun(ctx context.Context, params ReserveRunParams) (*models.WorkflowRun, error)

	// RollbackReservation marks the run Failure and decrements the usage
	// counter in one transaction. Used when enqueueing the reserved run
	// fails.
	RollbackReservation(ctx context.Context, runID, userID string, at time.Time) error

	UpdateStatus(ctx context.Context, id string, status models.RunStatus, at time.Time) error

	// TryLock acquires the run's durable lock for owner. Succeeds when the
	// run is unlocked, the existing lock is older than ttl, or owner
	// already holds it.
	TryLock(ctx context.Context, runID, owner string, ttl time.Duration, now time.Time) (bool, error)
	RenewLock(ctx context.Context, runID, owner string, now time.Time) (bool, error)
	Unlock(ctx context.Context, runID, owner string) (bool, error)
	IsLocked(ctx context.Context, runID string, ttl time.Duration, now time.Time) (bool, error)
}

// NodeRunRepository stores node attempt records. Saves are upserts keyed
// by (run_id, node_id): retries update the record in place.
type NodeRunRepository interface {
	GetByNode(ctx context.Context, runID, nodeID string) (*models.NodeRun, error)
	ListByRun(ctx context.Context, runID string) ([]*models.NodeRun, error)
	Save(ctx context.Context, nodeRun *models.NodeRun) error
}

// UsageRepository reads per-user-per-month run counters. Writes happen
// only inside RunRepository.ReserveRun / RollbackReservation transactions.
type UsageRepository interface {
	GetForPeriod(ctx context.Context, userID, period string) (*models.UsageRecord, error)
}
