// Package livestatus broadcasts run and node status transitions on a
// per-run Redis channel. Broadcasts are an optimization for live UIs;
// the durable store remains the system of record, so publish failures
// are logged and swallowed.
package livestatus

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// DefaultOutputBudget caps the serialized output carried by one status
// event. Larger outputs are replaced with a preview envelope.
const DefaultOutputBudget = 8 * 1024

// Event types published on the run channel.
const (
	EventTypeWorkflow = "workflow"
	EventTypeNode     = "node"
)

// Statuses carried by events of either type.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Event is one status transition on the live channel.
type Event struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id"`
	NodeID    string    `json:"node_id,omitempty"`
	NodeType  string    `json:"node_type,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Output    any       `json:"output,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunEvent builds a workflow-level status event.
func RunEvent(runID, status string) Event {
	return Event{Type: EventTypeWorkflow, RunID: runID, Status: status}
}

// NodeEvent builds a node-level status event.
func NodeEvent(runID, nodeID, nodeType, status string) Event {
	return Event{Type: EventTypeNode, RunID: runID, NodeID: nodeID, NodeType: nodeType, Status: status}
}

type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Broadcaster publishes events on workflow-run:{runID}.
type Broadcaster struct {
	client publisher
	logger *slog.Logger
	budget int
	now    func() time.Time
}

// NewBroadcaster creates a live status broadcaster with the default
// output budget.
func NewBroadcaster(client publisher, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		client: client,
		logger: logger.With("module", "livestatus"),
		budget: DefaultOutputBudget,
		now:    time.Now,
	}
}

func channelName(runID string) string {
	return "workflow-run:" + runID
}

// Notify publishes one event. It never returns an error: live status
// must not fail a run.
func (b *Broadcaster) Notify(ctx context.Context, event Event) {
	event.Timestamp = b.now()
	event.Output = TruncateOutput(event.Output, b.budget)

	payload, err := json.Marshal(event)
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to marshal live status event",
			"run_id", event.RunID, "type", event.Type, "error", err)

		return
	}

	err = b.client.Publish(ctx, channelName(event.RunID), payload).Err()
	if err != nil {
		b.logger.WarnContext(ctx, "Failed to publish live status event",
			"run_id", event.RunID, "type", event.Type, "error", err)
	}
}

// TruncateOutput replaces outputs whose JSON form exceeds budget bytes
// with a preview envelope carrying the original length.
func TruncateOutput(output any, budget int) any {
	if output == nil {
		return nil
	}

	serialized, err := json.Marshal(output)
	if err != nil {
		return map[string]any{
			"_truncated":     true,
			"_previewLength": 0,
			"_preview":       "",
		}
	}

	if len(serialized) <= budget {
		return output
	}

	// The preview is a small slice of the serialized form. It stays well
	// under the budget even after JSON re-escaping of the preview string.
	previewLimit := budget / 8
	if previewLimit < 1 {
		previewLimit = 1
	}

	preview := serialized
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}

	return map[string]any{
		"_truncated":     true,
		"_previewLength": len(serialized),
		"_preview":       string(preview),
	}
}
