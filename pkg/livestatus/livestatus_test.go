package livestatus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	channel string
	payload []byte
	fail    bool
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	if f.fail {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}

	f.channel = channel
	f.payload = message.([]byte)

	return redis.NewIntResult(1, nil)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func TestNotifyPublishesOnRunChannel(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	broadcaster := NewBroadcaster(pub, testLogger())

	outgoing := NodeEvent("run-1", "node-a", "http_request", StatusSuccess)
	outgoing.Output = map[string]any{"status_code": 200}
	broadcaster.Notify(context.Background(), outgoing)

	assert.Equal(t, "workflow-run:run-1", pub.channel)

	var event Event

	err := json.Unmarshal(pub.payload, &event)
	require.NoError(t, err)
	assert.Equal(t, EventTypeNode, event.Type)
	assert.Equal(t, StatusSuccess, event.Status)
	assert.Equal(t, "node-a", event.NodeID)
	assert.Equal(t, "http_request", event.NodeType)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNotifySwallowsPublishFailures(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{fail: true}
	broadcaster := NewBroadcaster(pub, testLogger())

	// Must not panic or surface the error.
	broadcaster.Notify(context.Background(), RunEvent("run-1", StatusFailed))
}

func TestTruncateOutputKeepsSmallPayloads(t *testing.T) {
	t.Parallel()

	output := map[string]any{"ok": true}
	assert.Equal(t, output, TruncateOutput(output, DefaultOutputBudget))
	assert.Nil(t, TruncateOutput(nil, DefaultOutputBudget))
}

func TestTruncateOutputReplacesLargePayloads(t *testing.T) {
	t.Parallel()

	large := map[string]any{"blob": strings.Repeat("x", 100_000)}
	original, err := json.Marshal(large)
	require.NoError(t, err)

	truncated := TruncateOutput(large, DefaultOutputBudget)

	envelope, ok := truncated.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, envelope["_truncated"])
	assert.Equal(t, len(original), envelope["_previewLength"])

	// The truncated event itself must stay within the byte budget.
	serialized, err := json.Marshal(truncated)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(serialized), DefaultOutputBudget)
}
