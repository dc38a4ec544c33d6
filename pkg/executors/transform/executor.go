// Package transform provides the data transformation node executor.
package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/template"
)

// ErrExpressionRequired is returned when the node has no expression.
var ErrExpressionRequired = errors.New("missing or invalid 'expression' in configuration")

// Executor renders an expression against prior node outputs. The
// expression may produce any JSON value, including an application-level
// failure payload which the execution driver promotes to a node failure.
type Executor struct {
	Expression string
}

func NewExecutor(config map[string]any) (*Executor, error) {
	expression, ok := config["expression"].(string)
	if !ok || expression == "" {
		return nil, ErrExpressionRequired
	}

	_, err := template.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression template: %w", err)
	}

	return &Executor{Expression: expression}, nil
}

func (e *Executor) Execute(ctx context.Context, executionCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "transform_executor")
	logger.InfoContext(ctx, "Executing transform node")

	result, err := template.RenderWithContext(e.Expression, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("transformation failed: %w", err)
	}

	return result, nil
}

// Factory creates transform executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	return NewExecutor(config)
}

func (f *Factory) ID() string {
	return models.NodeTypeTransform
}

func (f *Factory) Name() string {
	return "Transform"
}

func (f *Factory) Description() string {
	return "Transforms prior node outputs using a template expression."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"expression": map[string]any{
				"type":        "string",
				"format":      "code",
				"description": "Template expression evaluated against prior node outputs.",
				"examples": []string{
					"{{.fetch_users.body}}",
					`{"name": "{{.fetch_user.body.name}}", "active": true}`,
				},
			},
		},
		"required": []string{"expression"},
	}
}
