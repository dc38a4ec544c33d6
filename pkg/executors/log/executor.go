// Package log provides the log node executor.
package log

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/template"
)

// Executor writes a templated message to the structured log.
type Executor struct {
	Message string
	Level   string
}

func NewExecutor(config map[string]any) *Executor {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	if level == "" {
		level = "info"
	}

	return &Executor{Message: message, Level: level}
}

func (e *Executor) Execute(ctx context.Context, executionCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "log_executor")

	message := e.Message

	if message != "" {
		rendered, err := template.RenderWithContext(message, &executionCtx)
		if err == nil {
			message = toString(rendered)
		} else {
			logger.WarnContext(ctx, "Failed to render log message template", "error", err)
		}
	}

	switch e.Level {
	case "debug":
		logger.DebugContext(ctx, message)
	case "warn", "warning":
		logger.WarnContext(ctx, message)
	case "error":
		logger.ErrorContext(ctx, message)
	default:
		logger.InfoContext(ctx, message)
	}

	return map[string]any{
		"message": message,
		"level":   e.Level,
	}, nil
}

func toString(value any) string {
	if str, ok := value.(string); ok {
		return str
	}

	return slog.AnyValue(value).String()
}

// Factory creates log executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	if config == nil {
		config = map[string]any{}
	}

	return NewExecutor(config), nil
}

func (f *Factory) ID() string {
	return models.NodeTypeLog
}

func (f *Factory) Name() string {
	return "Log"
}

func (f *Factory) Description() string {
	return "Logs a message at a specified level. Supports templating for dynamic content."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"message": map[string]any{
				"type":        "string",
				"description": "The message to log. Supports templating for dynamic content.",
				"examples": []string{
					"Workflow step completed",
					"Received {{.fetch_data.body.count}} records at {{now}}",
				},
			},
			"level": map[string]any{
				"type":        "string",
				"description": "Log level for the message",
				"default":     "info",
				"enum":        []string{"debug", "info", "warn", "warning", "error"},
			},
		},
		"required": []string{"message"},
	}
}
