// Package slack provides the Slack message node executor. Slack reports
// delivery problems in the response body with a 200-level status, so
// this executor returns an application-level success/error payload
// rather than a Go error for those cases.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/template"
)

const requestTimeout = 15 * time.Second

// ErrWebhookURLRequired is returned when the node has no webhook URL.
var ErrWebhookURLRequired = errors.New("missing or invalid 'webhook_url' in configuration")

// Executor posts a templated message to a Slack incoming webhook.
type Executor struct {
	WebhookURL string
	Message    string
	Channel    string
}

func NewExecutor(config map[string]any) (*Executor, error) {
	webhookURL, ok := config["webhook_url"].(string)
	if !ok || webhookURL == "" {
		return nil, ErrWebhookURLRequired
	}

	message, _ := config["message"].(string)
	channel, _ := config["channel"].(string)

	return &Executor{
		WebhookURL: webhookURL,
		Message:    message,
		Channel:    channel,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, executionCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "slack_executor")
	logger.InfoContext(ctx, "Executing Slack node")

	message, err := template.RenderWithContext(e.Message, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render message template: %w", err)
	}

	payload := map[string]any{"text": fmt.Sprintf("%v", message)}
	if e.Channel != "" {
		payload["channel"] = e.Channel
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create slack request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: requestTimeout}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read slack response: %w", err)
	}

	// Slack answers webhook errors like "channel_not_found" in the body.
	// That is transport success but delivery failure, so it becomes a
	// soft-failure payload for the driver to promote.
	answer := strings.TrimSpace(string(respBody))

	if resp.StatusCode >= http.StatusBadRequest || (answer != "" && answer != "ok") {
		logger.WarnContext(ctx, "Slack delivery failed",
			"status_code", resp.StatusCode, "answer", answer)

		return map[string]any{
			"success": false,
			"error":   answer,
		}, nil
	}

	return map[string]any{
		"success": true,
		"channel": e.Channel,
	}, nil
}

// Factory creates Slack executors.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Create(config map[string]any) (protocol.Executor, error) {
	return NewExecutor(config)
}

func (f *Factory) ID() string {
	return models.NodeTypeSlack
}

func (f *Factory) Name() string {
	return "Slack"
}

func (f *Factory) Description() string {
	return "Posts a message to a Slack incoming webhook."
}

func (f *Factory) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"webhook_url": map[string]any{
				"type":        "string",
				"description": "Slack incoming webhook URL.",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message text. Supports templating for dynamic content.",
				"examples": []string{
					"Deploy finished for {{.trigger_data.service}}",
				},
			},
			"channel": map[string]any{
				"type":        "string",
				"description": "Channel override, if the webhook allows it.",
			},
		},
		"required": []string{"webhook_url", "message"},
	}
}
