package template

import (
	"testing"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSimpleExpression(t *testing.T) {
	t.Parallel()

	result, err := Render("hello {{.name}}", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", result)
}

func TestRenderParsesJSONOutput(t *testing.T) {
	t.Parallel()

	result, err := Render(`{"count": {{.count}}}`, map[string]any{"count": 3})
	require.NoError(t, err)

	parsed, ok := result.(map[string]any)
	require.True(t, ok)
	assert.InEpsilon(t, 3.0, parsed["count"], 0.001)
}

func TestRenderParsesNumbersAndBooleans(t *testing.T) {
	t.Parallel()

	result, err := Render("{{.value}}", map[string]any{"value": 42})
	require.NoError(t, err)
	assert.InEpsilon(t, 42.0, result, 0.001)

	result, err = Render("{{.flag}}", map[string]any{"flag": true})
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestRenderInvalidTemplate(t *testing.T) {
	t.Parallel()

	_, err := Render("{{.unclosed", nil)
	require.Error(t, err)
}

func TestRenderWithContextExposesNodeOutputs(t *testing.T) {
	t.Parallel()

	executionCtx := &protocol.ExecutionContext{
		RunID:      "run-1",
		WorkflowID: "wf-1",
		TriggerData: map[string]any{
			"payload": "ping",
		},
		Variables: map[string]any{
			"fetch_user": map[string]any{"body": map[string]any{"name": "alice"}},
			"ai":         map[string]any{"text": "summary"},
		},
	}

	result, err := RenderWithContext("{{.fetch_user.body.name}} / {{.ai.text}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "alice / summary", result)

	result, err = RenderWithContext("{{.trigger_data.payload}} for {{.run.id}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "ping for run-1", result)
}

func TestRenderWithContextStrictModeRejectsMissingKeys(t *testing.T) {
	t.Parallel()

	executionCtx := &protocol.ExecutionContext{
		RunID:         "run-1",
		WorkflowID:    "wf-1",
		ExecutionMode: models.ExecutionModeStrict,
		Variables: map[string]any{
			"fetch_user": map[string]any{"name": "alice"},
		},
	}

	// Resolvable references render as usual.
	result, err := RenderWithContext("{{.fetch_user.name}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "alice", result)

	// An unresolved reference fails the render instead of producing an
	// empty value.
	_, err = RenderWithContext("{{.missing_node.output}}", executionCtx)
	require.Error(t, err)
}

func TestRenderWithContextLegacyModeToleratesMissingKeys(t *testing.T) {
	t.Parallel()

	executionCtx := &protocol.ExecutionContext{
		RunID:         "run-1",
		WorkflowID:    "wf-1",
		ExecutionMode: models.ExecutionModeLegacy,
		Variables:     map[string]any{},
	}

	result, err := RenderWithContext("value: {{.missing_node}}", executionCtx)
	require.NoError(t, err)
	assert.Equal(t, "value: <no value>", result)
}

func TestParseRejectsBadSyntax(t *testing.T) {
	t.Parallel()

	_, err := Parse("{{bad")
	require.Error(t, err)

	_, err = Parse("{{.fine}}")
	require.NoError(t, err)
}
