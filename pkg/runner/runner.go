// Package runner advances one run from a dequeued job to a terminal
// status: it takes the run's distributed lock, computes the
// trigger-reachable subgraph and its execution batches, fans out within
// a batch and drives every node through the execution driver.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/flowrun/pkg/execution"
	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/livestatus"
	"github.com/dukex/flowrun/pkg/lock"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// errRetryPending signals that at least one node failed with attempt
// budget remaining. The job is nacked so the broker redelivers it and
// the driver resumes the failed nodes with an incremented retry count.
var errRetryPending = errors.New("node failures have attempt budget remaining")

// Runner executes run jobs on a worker.
type Runner struct {
	workflows   persistence.WorkflowRepository
	runs        persistence.RunRepository
	nodeRuns    persistence.NodeRunRepository
	driver      *execution.Driver
	runLock     lock.RunLock
	broadcaster execution.Broadcaster
	tracer      trace.Tracer
	logger      *slog.Logger

	workerID string
	lockTTL  time.Duration
	now      func() time.Time
}

// NewRunner creates a run job runner identified as workerID in locks.
func NewRunner(
	workflows persistence.WorkflowRepository,
	runs persistence.RunRepository,
	nodeRuns persistence.NodeRunRepository,
	driver *execution.Driver,
	runLock lock.RunLock,
	broadcaster execution.Broadcaster,
	workerID string,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		workflows:   workflows,
		runs:        runs,
		nodeRuns:    nodeRuns,
		driver:      driver,
		runLock:     runLock,
		broadcaster: broadcaster,
		tracer:      otel.Tracer("flowrun-runner"),
		workerID:    workerID,
		lockTTL:     lock.DefaultTTL,
		logger:      logger.With("module", "runner", "worker_id", workerID),
		now:         time.Now,
	}
}

// ExecuteRun processes one dequeued job. A job whose run is already
// locked elsewhere or already terminal is dropped silently: at-least-once
// delivery makes duplicates normal.
func (r *Runner) ExecuteRun(ctx context.Context, job protocol.RunJob) error {
	logger := r.logger.With("run_id", job.RunID, "workflow_id", job.WorkflowID)

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runner.execute_run",
		attribute.String(otelhelper.RunIDKey, job.RunID),
		attribute.String(otelhelper.WorkflowIDKey, job.WorkflowID),
		attribute.String(otelhelper.WorkerIDKey, r.workerID),
	)
	defer span.End()

	acquired, err := r.runLock.Acquire(ctx, job.RunID, r.workerID, r.lockTTL)
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to acquire run lock: %w", err)
	}

	if !acquired {
		logger.InfoContext(ctx, "Run locked by another worker, dropping job")

		return nil
	}

	defer func() {
		releaseErr := r.runLock.Release(ctx, job.RunID, r.workerID)
		if releaseErr != nil {
			logger.WarnContext(ctx, "Failed to release run lock", "error", releaseErr)
		}
	}()

	run, err := r.runs.GetByID(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if run.Status.IsTerminal() {
		logger.InfoContext(ctx, "Run already terminal, dropping job", "status", run.Status)

		return nil
	}

	workflow, err := r.workflows.GetByID(ctx, run.WorkflowID)
	if err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	err = r.runs.UpdateStatus(ctx, run.ID, models.RunStatusRunning, r.now())
	if err != nil {
		return fmt.Errorf("failed to mark run running: %w", err)
	}

	run.Status = models.RunStatusRunning
	r.broadcaster.Notify(ctx, livestatus.RunEvent(run.ID, livestatus.StatusRunning))

	failed, err := r.executeGraph(ctx, workflow, run, logger)
	if err != nil {
		otelhelper.SetError(span, err)

		// A malformed graph can never succeed, so the run ends as
		// Failure and the job itself is done.
		if errors.Is(err, graph.ErrCycleDetected) {
			logger.ErrorContext(ctx, "Run aborted", "error", err)

			return r.finish(ctx, run, true, logger)
		}

		// Anything else (retryable node failures, a lost lock, store
		// errors) leaves the run non-terminal: the nacked job is
		// redelivered and the driver resumes from the persisted
		// node-runs.
		logger.WarnContext(ctx, "Run attempt incomplete, awaiting redelivery", "error", err)

		return err
	}

	return r.finish(ctx, run, failed, logger)
}

func (r *Runner) finish(ctx context.Context, run *models.WorkflowRun, failed bool, logger *slog.Logger) error {
	status := models.RunStatusSuccess
	eventStatus := livestatus.StatusSuccess

	if failed {
		status = models.RunStatusFailure
		eventStatus = livestatus.StatusFailed
	}

	err := r.runs.UpdateStatus(ctx, run.ID, status, r.now())
	if err != nil {
		return fmt.Errorf("failed to write terminal run status: %w", err)
	}

	r.broadcaster.Notify(ctx, livestatus.RunEvent(run.ID, eventStatus))
	logger.InfoContext(ctx, "Run finished", "status", status)

	return nil
}

// executeGraph runs every reachable node batch by batch. It reports
// whether the run is terminally failed; an error return means this
// attempt must be redelivered (or, for cycles, the graph itself could
// not be executed).
func (r *Runner) executeGraph(
	ctx context.Context,
	workflow *models.Workflow,
	run *models.WorkflowRun,
	logger *slog.Logger,
) (bool, error) {
	reachable := graph.ReachableFromTriggers(workflow.Nodes, workflow.Edges)

	batches, err := graph.ExecutionBatches(reachable, workflow.Edges)
	if err != nil {
		return true, fmt.Errorf("workflow graph rejected: %w", err)
	}

	priorRuns, err := r.nodeRuns.ListByRun(ctx, run.ID)
	if err != nil {
		return false, fmt.Errorf("failed to load node runs: %w", err)
	}

	state := newRunState(workflow, priorRuns)

	for _, batch := range batches {
		r.executeBatch(ctx, workflow, run, batch, state, logger)

		// Failed predecessors block their successors, so the rest of the
		// schedule can only contain blocked nodes once anything failed.
		// The run is terminal only when every failure is final; a node
		// with attempt budget left gets another delivery.
		if state.anyFailed {
			if state.hasRetryableFailures() {
				return false, fmt.Errorf("%w: run %s", errRetryPending, run.ID)
			}

			return true, nil
		}

		renewed, renewErr := r.runLock.Renew(ctx, run.ID, r.workerID, r.lockTTL)
		if renewErr != nil {
			return false, fmt.Errorf("failed to renew run lock: %w", renewErr)
		}

		if !renewed {
			// The TTL lapsed and another worker may own the run now, so
			// this attempt must not write any further state.
			return false, fmt.Errorf("run lock no longer held: %w", lock.ErrLockNotHeld)
		}
	}

	return state.anyFailed, nil
}

// executeBatch fans the batch out, one goroutine per runnable node.
func (r *Runner) executeBatch(
	ctx context.Context,
	workflow *models.Workflow,
	run *models.WorkflowRun,
	batch []*models.WorkflowNode,
	state *runState,
	logger *slog.Logger,
) {
	runnable := make([]*models.WorkflowNode, 0, len(batch))

	for _, node := range batch {
		switch state.classify(node) {
		case decisionRun:
			runnable = append(runnable, node)
		case decisionSkip:
			nodeRun, err := r.driver.SkipNode(ctx, run, node, false)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to record skipped node", "node_id", node.ID, "error", err)
				state.markFailed(node.ID, true)

				continue
			}

			state.record(nodeRun)
		case decisionSkipPassthrough:
			nodeRun, err := r.driver.SkipNode(ctx, run, node, true)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to record bypassed node", "node_id", node.ID, "error", err)
				state.markFailed(node.ID, true)

				continue
			}

			state.record(nodeRun)
		case decisionBlocked:
			state.markBlocked(node.ID)
		case decisionTrigger:
			nodeRun, err := r.completeTriggerNode(ctx, run, node, state)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to record trigger node", "node_id", node.ID, "error", err)
				state.markFailed(node.ID, true)

				continue
			}

			state.record(nodeRun)
		}
	}

	type nodeFailure struct {
		nodeID  string
		nodeRun *models.NodeRun
		err     error
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  = make([]*models.NodeRun, 0, len(runnable))
		failures []nodeFailure
	)

	prior := state.snapshot()

	for _, node := range runnable {
		wg.Add(1)

		go func(node *models.WorkflowNode) {
			defer wg.Done()

			nodeRun, err := r.driver.ExecuteNode(ctx, workflow, run, node, prior)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				logger.WarnContext(ctx, "Node failed in batch", "node_id", node.ID, "error", err)

				failures = append(failures, nodeFailure{nodeID: node.ID, nodeRun: nodeRun, err: err})
			}

			if nodeRun != nil {
				results = append(results, nodeRun)
			}
		}(node)
	}

	wg.Wait()

	for _, nodeRun := range results {
		state.record(nodeRun)
	}

	for _, failure := range failures {
		state.markFailed(failure.nodeID, retryableFailure(failure.nodeRun, failure.err))
	}
}

// retryableFailure reports whether a failed node still has attempt
// budget. Exhausted budgets and configuration errors (unknown node
// types) are final; everything else gets another delivery.
func retryableFailure(nodeRun *models.NodeRun, err error) bool {
	if execution.IsPermanentFailure(err) || errors.Is(err, execution.ErrUnsupportedNodeType) {
		return false
	}

	return nodeRun != nil && nodeRun.RetryCount+1 < models.MaxNodeAttempts
}

// completeTriggerNode records the trigger node as succeeded with the
// trigger payload as its output, so downstream templates can address it.
func (r *Runner) completeTriggerNode(
	ctx context.Context,
	run *models.WorkflowRun,
	node *models.WorkflowNode,
	state *runState,
) (*models.NodeRun, error) {
	if existing := state.existing(node.ID); existing != nil && existing.Status == models.NodeRunStatusSuccess {
		return existing, nil
	}

	now := r.now()

	output := make(map[string]any, len(run.TriggerData))
	for key, value := range run.TriggerData {
		output[key] = value
	}

	nodeRun := &models.NodeRun{
		ID:          uuid.New().String(),
		RunID:       run.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.NodeRunStatusSuccess,
		Output:      output,
		StartedAt:   now,
		CompletedAt: &now,
	}

	err := r.nodeRuns.Save(ctx, nodeRun)
	if err != nil {
		return nil, err
	}

	return nodeRun, nil
}
