// Package execution drives one node of one run through its lifecycle:
// resume detection, templating context assembly, executor dispatch,
// result classification and terminal persistence.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/livestatus"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/google/uuid"
)

// Broadcaster publishes best-effort status events.
type Broadcaster interface {
	Notify(ctx context.Context, event livestatus.Event)
}

// Driver executes single nodes. It is safe for concurrent use across
// nodes of the same batch.
type Driver struct {
	nodeRuns    persistence.NodeRunRepository
	registry    *registry.Registry
	broadcaster Broadcaster
	credentials protocol.CredentialResolver
	logger      *slog.Logger
	now         func() time.Time
}

// NewDriver creates a node execution driver. The credential resolver
// may be nil when no executor needs secrets.
func NewDriver(
	nodeRuns persistence.NodeRunRepository,
	executorRegistry *registry.Registry,
	broadcaster Broadcaster,
	credentials protocol.CredentialResolver,
	logger *slog.Logger,
) *Driver {
	return &Driver{
		nodeRuns:    nodeRuns,
		registry:    executorRegistry,
		broadcaster: broadcaster,
		credentials: credentials,
		logger:      logger.With("module", "execution"),
		now:         time.Now,
	}
}

// ExecuteNode drives one node through [new] -> Running -> terminal.
// priorRuns must contain the run's existing node-runs; it is used both
// for resume detection and to assemble the templating context.
//
// Re-driving a node that already succeeded is a no-op. A node that
// failed with an exhausted attempt budget returns ErrPermanentNodeFailure
// without another attempt.
func (d *Driver) ExecuteNode(
	ctx context.Context,
	workflow *models.Workflow,
	run *models.WorkflowRun,
	node *models.WorkflowNode,
	priorRuns []*models.NodeRun,
) (*models.NodeRun, error) {
	logger := d.logger.With("run_id", run.ID, "node_id", node.ID, "node_type", node.Type)

	existing := findNodeRun(priorRuns, node.ID)

	if existing != nil {
		switch existing.Status {
		case models.NodeRunStatusSuccess, models.NodeRunStatusSkipped:
			logger.DebugContext(ctx, "Node already terminal, skipping", "status", existing.Status)

			return existing, nil
		case models.NodeRunStatusFailed:
			if existing.RetryCount+1 >= models.MaxNodeAttempts {
				return existing, &NodeExecutionError{RunID: run.ID, NodeID: node.ID, Err: ErrPermanentNodeFailure}
			}
		case models.NodeRunStatusRunning:
			// A Running record on resume means a worker died mid-attempt.
		}
	}

	nodeRun := d.transitionToRunning(existing, run, node)

	err := d.nodeRuns.Save(ctx, nodeRun)
	if err != nil {
		return nil, fmt.Errorf("failed to persist running node: %w", err)
	}

	d.broadcaster.Notify(ctx, livestatus.NodeEvent(run.ID, node.ID, node.Type, livestatus.StatusRunning))

	logger.InfoContext(ctx, "Executing node", "retry_count", nodeRun.RetryCount)

	output, err := d.dispatch(ctx, workflow, run, node, priorRuns, logger)
	if err != nil {
		return nodeRun, d.failNode(ctx, nodeRun, err, logger)
	}

	if softErr := softFailure(node, output); softErr != nil {
		return nodeRun, d.failNode(ctx, nodeRun, softErr, logger)
	}

	completedAt := d.now()
	nodeRun.Status = models.NodeRunStatusSuccess
	nodeRun.Output = output
	nodeRun.Error = ""
	nodeRun.CompletedAt = &completedAt

	err = d.nodeRuns.Save(ctx, nodeRun)
	if err != nil {
		return nodeRun, fmt.Errorf("failed to persist node success: %w", err)
	}

	event := livestatus.NodeEvent(run.ID, node.ID, node.Type, livestatus.StatusSuccess)
	event.Output = output
	d.broadcaster.Notify(ctx, event)

	logger.InfoContext(ctx, "Node completed")

	return nodeRun, nil
}

// SkipNode records a node as Skipped. With passthrough the output
// carries a bypass marker so downstream templates may still address it.
func (d *Driver) SkipNode(
	ctx context.Context,
	run *models.WorkflowRun,
	node *models.WorkflowNode,
	passthrough bool,
) (*models.NodeRun, error) {
	now := d.now()

	nodeRun := &models.NodeRun{
		ID:          uuid.New().String(),
		RunID:       run.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Status:      models.NodeRunStatusSkipped,
		StartedAt:   now,
		CompletedAt: &now,
	}

	if passthrough {
		nodeRun.Output = map[string]any{"bypassed": true}
	}

	err := d.nodeRuns.Save(ctx, nodeRun)
	if err != nil {
		return nil, fmt.Errorf("failed to persist skipped node: %w", err)
	}

	d.broadcaster.Notify(ctx, livestatus.NodeEvent(run.ID, node.ID, node.Type, livestatus.StatusSkipped))

	return nodeRun, nil
}

func (d *Driver) transitionToRunning(existing *models.NodeRun, run *models.WorkflowRun, node *models.WorkflowNode) *models.NodeRun {
	if existing == nil {
		return &models.NodeRun{
			ID:        uuid.New().String(),
			RunID:     run.ID,
			NodeID:    node.ID,
			NodeType:  node.Type,
			Status:    models.NodeRunStatusRunning,
			StartedAt: d.now(),
		}
	}

	nodeRun := *existing
	nodeRun.Status = models.NodeRunStatusRunning
	nodeRun.RetryCount++
	nodeRun.Error = ""
	nodeRun.Output = nil
	nodeRun.StartedAt = d.now()
	nodeRun.CompletedAt = nil

	return &nodeRun
}

func (d *Driver) dispatch(
	ctx context.Context,
	workflow *models.Workflow,
	run *models.WorkflowRun,
	node *models.WorkflowNode,
	priorRuns []*models.NodeRun,
	logger *slog.Logger,
) (any, error) {
	executor, err := d.registry.CreateExecutor(ctx, node)
	if err != nil {
		return nil, err
	}

	variables := BuildVariables(workflow, priorRuns)

	if node.CredentialID != "" && d.credentials != nil {
		secrets, err := d.credentials.Resolve(ctx, node.CredentialID, run.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve credential %s: %w", node.CredentialID, err)
		}

		credentialVars := make(map[string]any, len(secrets))
		for key, value := range secrets {
			credentialVars[key] = value
		}

		variables["credentials"] = credentialVars
	}

	return executor.Execute(ctx, protocol.ExecutionContext{
		RunID:         run.ID,
		WorkflowID:    workflow.ID,
		UserID:        run.UserID,
		ExecutionMode: workflow.ExecutionMode,
		Node:          node,
		TriggerData:   run.TriggerData,
		Variables:     variables,
	}, logger)
}

func (d *Driver) failNode(ctx context.Context, nodeRun *models.NodeRun, cause error, logger *slog.Logger) error {
	completedAt := d.now()
	nodeRun.Status = models.NodeRunStatusFailed
	nodeRun.Error = cause.Error()
	nodeRun.CompletedAt = &completedAt

	err := d.nodeRuns.Save(ctx, nodeRun)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to persist node failure", "error", err)
	}

	event := livestatus.NodeEvent(nodeRun.RunID, nodeRun.NodeID, nodeRun.NodeType, livestatus.StatusFailed)
	event.Error = cause.Error()
	d.broadcaster.Notify(ctx, event)

	logger.WarnContext(ctx, "Node failed", "error", cause, "retry_count", nodeRun.RetryCount)

	return &NodeExecutionError{RunID: nodeRun.RunID, NodeID: nodeRun.NodeID, Err: cause}
}

// softFailure promotes application-level failure payloads of the node
// types that can produce them into hard failures.
func softFailure(node *models.WorkflowNode, output any) error {
	if !node.HasSoftFailures() {
		return nil
	}

	payload, ok := output.(map[string]any)
	if !ok {
		return nil
	}

	success, present := payload["success"].(bool)
	if !present || success {
		return nil
	}

	message, _ := payload["error"].(string)
	if message == "" {
		message, _ = payload["reason"].(string)
	}

	if message == "" {
		message = "executor reported failure"
	}

	return errors.New(message)
}

func findNodeRun(nodeRuns []*models.NodeRun, nodeID string) *models.NodeRun {
	for _, nodeRun := range nodeRuns {
		if nodeRun.NodeID == nodeID {
			return nodeRun
		}
	}

	return nil
}
