// Package models defines core node-based workflow models for graph execution
package models

import (
	"strings"
	"time"
)

// CategoryType represents the category of node.
type CategoryType string

const (
	CategoryTypeAction  CategoryType = "action"  // Regular action nodes (http, transform, slack, etc.)
	CategoryTypeTrigger CategoryType = "trigger" // Trigger nodes (webhook, cron, manual)
)

// Built-in trigger node types.
const (
	NodeTypeTriggerWebhook = "trigger:webhook"
	NodeTypeTriggerCron    = "trigger:cron"
	NodeTypeTriggerManual  = "trigger:manual"
)

// Built-in action node types.
const (
	NodeTypeHTTPRequest = "httprequest"
	NodeTypeTransform   = "transform"
	NodeTypeLog         = "log"
	NodeTypeDelay       = "delay"
	NodeTypeBranch      = "branch"
	NodeTypeSlack       = "slack"
	NodeTypeDiscord     = "discord"
	NodeTypeOpenAI      = "ai:openai"
	NodeTypeAnthropic   = "ai:anthropic"
	NodeTypeGemini      = "ai:gemini"
)

// Edge connects two nodes. Handles discriminate outgoing paths on branch
// nodes: an edge with SourceHandle "true" is only taken when the branch
// executor picked the "true" handle.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"        validate:"required"`
	Target       string `json:"target"        validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// WorkflowNode represents a node instance in a workflow.
type WorkflowNode struct {
	ID           string         `json:"id"            validate:"required"`
	Type         string         `json:"type"          validate:"required"`
	Name         string         `json:"name"          validate:"required,min=1"`
	Config       map[string]any `json:"config"`
	ResponseName string         `json:"response_name,omitempty"` // Addressable name for this node's output in templates
	CredentialID string         `json:"credential_id,omitempty"`
	PositionX    int            `json:"position_x"`
	PositionY    int            `json:"position_y"`
	Enabled      bool           `json:"enabled"`
}

func (n *WorkflowNode) Category() CategoryType {
	if n.IsTriggerNode() {
		return CategoryTypeTrigger
	}

	return CategoryTypeAction
}

func (n *WorkflowNode) IsTriggerNode() bool {
	return strings.HasPrefix(n.Type, "trigger:")
}

func (n *WorkflowNode) IsActionNode() bool {
	return !n.IsTriggerNode()
}

// IsAINode reports whether the node calls an AI provider. AI nodes get
// convenience aliases in the templating context when unambiguous.
func (n *WorkflowNode) IsAINode() bool {
	return strings.HasPrefix(n.Type, "ai:")
}

// AIProvider returns the provider alias for an AI node ("openai",
// "anthropic", "gemini"), or "" for non-AI nodes.
func (n *WorkflowNode) AIProvider() string {
	if !n.IsAINode() {
		return ""
	}

	return strings.TrimPrefix(n.Type, "ai:")
}

// softFailureTypes are node types whose executors may return a structurally
// successful call that still encodes an application-level failure
// ({"success": false, ...}). The execution driver promotes such outputs to
// hard failures.
var softFailureTypes = map[string]bool{
	NodeTypeSlack:     true,
	NodeTypeDiscord:   true,
	NodeTypeTransform: true,
	NodeTypeOpenAI:    true,
	NodeTypeAnthropic: true,
	NodeTypeGemini:    true,
}

// HasSoftFailures reports whether outputs of this node type must be
// inspected for application-level failure payloads.
func (n *WorkflowNode) HasSoftFailures() bool {
	return softFailureTypes[n.Type]
}

// NodeRunStatus defines the possible states of a node run.
type NodeRunStatus string

const (
	NodeRunStatusRunning NodeRunStatus = "running"
	NodeRunStatusSuccess NodeRunStatus = "success"
	NodeRunStatusFailed  NodeRunStatus = "failed"
	NodeRunStatusSkipped NodeRunStatus = "skipped"
)

// MaxNodeAttempts is the total attempt budget per node, first try included.
const MaxNodeAttempts = 3

// NodeRun is one attempt record of one node within a run. Retries update
// the record in place so RetryCount accumulates; there is at most one
// current NodeRun per node per run.
type NodeRun struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"    validate:"required"`
	NodeID      string        `json:"node_id"   validate:"required"`
	NodeType    string        `json:"node_type"`
	Status      NodeRunStatus `json:"status"`
	RetryCount  int           `json:"retry_count"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// HasUsableOutput reports whether this node run's output may feed
// downstream templating contexts: Success outputs always, Skipped outputs
// only when the node was bypassed with an explicit passthrough value.
func (nr *NodeRun) HasUsableOutput() bool {
	switch nr.Status {
	case NodeRunStatusSuccess:
		return nr.Output != nil
	case NodeRunStatusSkipped:
		return nr.IsPassthrough()
	default:
		return false
	}
}

// IsPassthrough reports whether a skipped node run carries a legitimate
// short-circuit value ({"bypassed": true, ...}) that downstream nodes may
// consume.
func (nr *NodeRun) IsPassthrough() bool {
	out, ok := nr.Output.(map[string]any)
	if !ok {
		return false
	}

	bypassed, _ := out["bypassed"].(bool)

	return bypassed
}
