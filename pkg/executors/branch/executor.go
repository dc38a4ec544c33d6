// Package branch provides the condition node executor. The executor
// evaluates a condition and picks an outgoing handle; the run driver
// skips nodes reachable only through the handle that was not taken.
package branch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/template"
)

// Handle names on outgoing edges of a branch node.
const (
	HandleTrue  = "true"
	HandleFalse = "false"
)

// ErrConditionRequired is returned when the node has no condition.
var ErrConditionRequired = errors.New("missing or invalid 'condition' in configuration")

// Executor evaluates the condition template against prior node outputs.
type Executor struct {
	Condition string
}

func NewExecutor(config map[string]any) (*Executor, error) {
	condition, ok := config["condition"].(string)
	if !ok || condition == "" {
		return nil, ErrConditionRequired
	}

	_, err := template.Parse(condition)
	if err != nil {
		return nil, fmt.Errorf("invalid condition template: %w", err)
	}

	return &Executor{Condition: condition}, nil
}

func (e *Executor) Execute(ctx context.Context, executionCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "branch_executor")

	result, err := template.RenderWithContext(e.Condition, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate condition: %w", err)
	}

	handle := HandleFalse
	if truthy(result) {
		handle = HandleTrue
	}

	logger.InfoContext(ctx, "Branch node evaluated", "handle", handle)

	return map[string]any{
		"handle":    handle,
		"condition": truthy(result),
	}, nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != "" && v != "false"
	case nil:
		return false
	default:
		return true
	}
}

// Factory creates branch executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	return NewExecutor(config)
}

func (f *Factory) ID() string {
	return models.NodeTypeBranch
}

func (f *Factory) Name() string {
	return "Branch"
}

func (f *Factory) Description() string {
	return "Evaluates a condition and routes execution through the matching handle."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"condition": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Template expression evaluated for truthiness against prior node outputs.",
				"examples": []string{
					"{{.check_status.body.active}}",
					"{{gt (len .fetch_items.body.items) 0}}",
				},
			},
		},
		"required": []string{"condition"},
	}
}
