package slack

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestNewExecutorRequiresWebhookURL(t *testing.T) {
	t.Parallel()

	_, err := NewExecutor(map[string]any{"message": "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWebhookURLRequired)
}

func TestExecuteDeliverySuccess(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	executor, err := NewExecutor(map[string]any{
		"webhook_url": server.URL,
		"message":     "deploy done for {{.trigger_data.service}}",
	})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), protocol.ExecutionContext{
		TriggerData: map[string]any{"service": "api"},
	}, testLogger())
	require.NoError(t, err)

	output, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, output["success"])
}

func TestExecuteApplicationLevelFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("channel_not_found"))
	}))
	defer server.Close()

	executor, err := NewExecutor(map[string]any{
		"webhook_url": server.URL,
		"message":     "hello",
	})
	require.NoError(t, err)

	// Delivery failure is reported in the payload, not as a Go error;
	// the execution driver promotes it to a node failure.
	result, err := executor.Execute(context.Background(), protocol.ExecutionContext{}, testLogger())
	require.NoError(t, err)

	output, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, output["success"])
	assert.Equal(t, "channel_not_found", output["error"])
}
