// Package delay provides the delay node executor.
package delay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

const maxDelaySeconds = 300

// ErrInvalidDelay is returned when the configured delay is out of range.
var ErrInvalidDelay = errors.New("delay 'seconds' must be between 0 and 300")

// Executor pauses the run for a configured number of seconds. The wait
// respects context cancellation so a shutting-down worker is not stuck
// sleeping.
type Executor struct {
	Duration time.Duration
}

func NewExecutor(config map[string]any) (*Executor, error) {
	seconds, _ := config["seconds"].(float64)
	if seconds < 0 || seconds > maxDelaySeconds {
		return nil, ErrInvalidDelay
	}

	return &Executor{Duration: time.Duration(seconds * float64(time.Second))}, nil
}

func (e *Executor) Execute(ctx context.Context, _ protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "delay_executor")
	logger.InfoContext(ctx, "Executing delay node", "duration", e.Duration.String())

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(e.Duration):
	}

	return map[string]any{
		"waited_seconds": e.Duration.Seconds(),
	}, nil
}

// Factory creates delay executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	return NewExecutor(config)
}

func (f *Factory) ID() string {
	return models.NodeTypeDelay
}

func (f *Factory) Name() string {
	return "Delay"
}

func (f *Factory) Description() string {
	return "Pauses the workflow for a configured number of seconds."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"seconds": map[string]any{
				"type":        "number",
				"description": "How long to wait before continuing",
				"minimum":     0,
				"maximum":     maxDelaySeconds,
			},
		},
		"required": []string{"seconds"},
	}
}
