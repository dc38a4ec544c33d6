package httprequest

import (
	"context"
	"encoding/json"
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

func TestNewExecutorRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewExecutor(map[string]any{"method": "GET"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrURLRequired)
}

func TestNewExecutorDefaults(t *testing.T) {
	t.Parallel()

	executor, err := NewExecutor(map[string]any{"url": "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, executor.Method)
	assert.Equal(t, float64(30), executor.Timeout.Seconds())
}

func TestExecuteReturnsParsedResponse(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any

		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)
		assert.Equal(t, "alice", body["name"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "u-1"}`))
	}))
	defer server.Close()

	executor, err := NewExecutor(map[string]any{
		"url":     server.URL + "/users",
		"method":  "POST",
		"headers": map[string]any{"Content-Type": "application/json"},
		"body":    `{"name": "{{.prepare.name}}"}`,
	})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), protocol.ExecutionContext{
		RunID: "run-1",
		Variables: map[string]any{
			"prepare": map[string]any{"name": "alice"},
		},
	}, testLogger())
	require.NoError(t, err)

	output, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, output["status_code"])

	body, ok := output["body"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u-1", body["id"])
}

func TestExecuteTemplatedURL(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/u-7", r.URL.Path)
		_, _ = w.Write([]byte("plain text"))
	}))
	defer server.Close()

	executor, err := NewExecutor(map[string]any{
		"url": server.URL + "/users/{{.lookup.id}}",
	})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), protocol.ExecutionContext{
		Variables: map[string]any{
			"lookup": map[string]any{"id": "u-7"},
		},
	}, testLogger())
	require.NoError(t, err)

	output, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "plain text", output["body"])
}
