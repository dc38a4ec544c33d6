// Package httprequest provides the HTTP request node executor.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/template"
)

const defaultTimeoutSeconds = 30

// ErrURLRequired is returned when the node configuration has no URL.
var ErrURLRequired = errors.New("missing or invalid 'url' in configuration")

// Executor performs an HTTP request. URL, headers and body support
// templating against prior node outputs.
type Executor struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
	Timeout time.Duration
}

// NewExecutor creates an HTTP request executor from node configuration.
func NewExecutor(config map[string]any) (*Executor, error) {
	url, ok := config["url"].(string)
	if !ok || url == "" {
		return nil, ErrURLRequired
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersConfig, exists := config["headers"]; exists {
		if headersMap, ok := headersConfig.(map[string]any); ok {
			for key, value := range headersMap {
				if strVal, ok := value.(string); ok {
					headers[key] = strVal
				}
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := config["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds * float64(time.Second))
	}

	return &Executor{
		URL:     url,
		Method:  strings.ToUpper(method),
		Headers: headers,
		Body:    body,
		Timeout: timeout,
	}, nil
}

func (e *Executor) Execute(ctx context.Context, executionCtx protocol.ExecutionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("module", "httprequest_executor")
	logger.InfoContext(ctx, "Executing HTTP request node", "method", e.Method)

	req, err := e.buildRequest(ctx, executionCtx)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: e.Timeout}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	logger.InfoContext(ctx, "HTTP request node completed",
		"status_code", resp.StatusCode, "body_length", len(bodyBytes))

	return map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     flattenHeaders(resp.Header),
	}, nil
}

func (e *Executor) buildRequest(ctx context.Context, executionCtx protocol.ExecutionContext) (*http.Request, error) {
	urlResult, err := template.RenderWithContext(e.URL, &executionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	var bodyReader io.Reader = strings.NewReader("")

	if e.Body != "" {
		body, err := template.RenderWithContext(e.Body, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render body template: %w", err)
		}

		bodyBytes, ok := bodyToBytes(body)
		if !ok {
			return nil, fmt.Errorf("failed to encode request body from template '%s'", e.Body)
		}

		bodyReader = strings.NewReader(string(bodyBytes))
	}

	req, err := http.NewRequestWithContext(ctx, e.Method, fmt.Sprintf("%v", urlResult), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range e.Headers {
		headerResult, err := template.RenderWithContext(value, &executionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, fmt.Sprintf("%v", headerResult))
	}

	return req, nil
}

func bodyToBytes(body any) ([]byte, bool) {
	if str, ok := body.(string); ok {
		return []byte(str), true
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, false
	}

	return bodyBytes, true
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key := range headers {
		flat[key] = headers.Get(key)
	}

	return flat
}
