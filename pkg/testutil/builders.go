// Package testutil provides test data builders shared across test packages.
package testutil

import (
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:        uuid.New().String(),
		Type:      models.NodeTypeLog,
		Name:      "Test Node",
		Config:    map[string]any{"message": "test", "level": "info"},
		Enabled:   true,
		PositionX: 100,
		PositionY: 200,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithManualTrigger configures the node as a manual trigger node.
func WithManualTrigger() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = models.NodeTypeTriggerManual
		n.Config = map[string]any{}
	}
}

// WithCronTrigger configures the node as a cron trigger with the given schedule.
func WithCronTrigger(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = models.NodeTypeTriggerCron
		n.Config = config
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
	}
}

// WithConfig sets the node configuration.
func WithConfig(config map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Config = config
	}
}

// WithResponseName sets the addressable output name.
func WithResponseName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ResponseName = name
	}
}

// WithDisabled marks the node disabled.
func WithDisabled() func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Enabled = false
	}
}

// CreateTestWorkflow creates a published workflow with the given nodes and edges.
func CreateTestWorkflow(nodes []*models.WorkflowNode, edges []*models.Edge, overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "Workflow used in tests",
		Status:      models.WorkflowStatusPublished,
		Nodes:       nodes,
		Edges:       edges,
		Owner:       "test-user",
		CreatedAt:   now,
		UpdatedAt:   now,
		PublishedAt: &now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// CreateTestRun creates a pending run for the workflow.
func CreateTestRun(workflow *models.Workflow, overrides ...func(*models.WorkflowRun)) *models.WorkflowRun {
	run := &models.WorkflowRun{
		ID:          uuid.New().String(),
		WorkflowID:  workflow.ID,
		UserID:      workflow.Owner,
		Status:      models.RunStatusPending,
		TriggerType: "manual",
		TriggerData: map[string]any{},
		CreatedAt:   time.Now().UTC(),
	}

	for _, override := range overrides {
		override(run)
	}

	return run
}

// Edge builds an edge between two nodes, optionally with a source handle.
func Edge(source, target string, sourceHandle ...string) *models.Edge {
	edge := &models.Edge{
		ID:     uuid.New().String(),
		Source: source,
		Target: target,
	}

	if len(sourceHandle) > 0 {
		edge.SourceHandle = sourceHandle[0]
	}

	return edge
}
