// Package models defines the core domain models for node-based workflow automation
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft       WorkflowStatus = "draft"       // Editable, not executable
	WorkflowStatusPublished   WorkflowStatus = "published"   // Current active, executable
	WorkflowStatusUnpublished WorkflowStatus = "unpublished" // Historical, not executable
)

// ExecutionMode selects how node configuration templates are resolved.
type ExecutionMode string

const (
	// ExecutionModeLegacy resolves missing template references to empty
	// values, matching pre-graph workflows.
	ExecutionModeLegacy ExecutionMode = "legacy"

	// ExecutionModeStrict fails node execution on unresolved template
	// references.
	ExecutionModeStrict ExecutionMode = "strict-template"
)

// Workflow represents a node-based workflow graph.
type Workflow struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"        validate:"required,min=3"`
	Description   string          `json:"description"`
	Status        WorkflowStatus  `json:"status"      validate:"required"`
	Nodes         []*WorkflowNode `json:"nodes"`
	Edges         []*Edge         `json:"edges"`
	ExecutionMode ExecutionMode   `json:"execution_mode,omitempty"`
	Owner         string          `json:"owner"       validate:"required"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// CronTriggerNodes returns every enabled cron trigger node in the workflow.
func (w *Workflow) CronTriggerNodes() []*WorkflowNode {
	var nodes []*WorkflowNode

	for _, node := range w.Nodes {
		if node.Type == NodeTypeTriggerCron && node.Enabled {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailure RunStatus = "failure"
)

// IsTerminal reports whether the run can no longer change state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailure
}

// WorkflowRun is one execution instance of a workflow graph. It is mutated
// only by the worker currently holding its distributed lock. LockedAt and
// LockedBy back the durable-store lock fallback path.
type WorkflowRun struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id" validate:"required"`
	UserID      string         `json:"user_id"     validate:"required"`
	Status      RunStatus      `json:"status"`
	TriggerType string         `json:"trigger_type,omitempty"` // webhook, cron, manual
	TriggerData map[string]any `json:"trigger_data,omitempty"`
	LockedAt    *time.Time     `json:"locked_at,omitempty"`
	LockedBy    string         `json:"locked_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
