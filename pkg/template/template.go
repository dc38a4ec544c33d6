// Package template renders node configuration strings against the
// outputs of previously completed nodes.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// RenderWithContext renders input against the run's templating context.
// Prior node outputs are addressable by node ID, response name and the
// AI aliases; the trigger payload lives under trigger_data. The
// workflow's execution mode decides whether unresolved references fail
// the render or fall back to legacy empty values.
func RenderWithContext(input string, executionCtx *protocol.ExecutionContext) (any, error) {
	data := make(map[string]any, len(executionCtx.Variables)+3)

	for key, value := range executionCtx.Variables {
		data[key] = value
	}

	data["trigger_data"] = executionCtx.TriggerData
	data["env"] = getEnvVars()
	data["run"] = map[string]any{
		"id":          executionCtx.RunID,
		"workflow_id": executionCtx.WorkflowID,
	}

	return render(input, data, executionCtx.ExecutionMode)
}

// Parse checks a template string for syntax errors without executing it.
func Parse(templateStr string) (*template.Template, error) {
	return newTemplate(models.ExecutionModeLegacy).Parse(templateStr)
}

// Render resolves a template in legacy mode, where missing references
// render as empty values.
func Render(templateStr string, data any) (any, error) {
	return render(templateStr, data, models.ExecutionModeLegacy)
}

func render(templateStr string, data any, mode models.ExecutionMode) (any, error) {
	tmpl, err := newTemplate(mode).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// A rendered value that looks like JSON becomes structured data.
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func newTemplate(mode models.ExecutionMode) *template.Template {
	tmpl := template.New("node-config")

	// Strict workflows reject references to keys the context does not
	// hold instead of rendering "<no value>".
	if mode == models.ExecutionModeStrict {
		tmpl = tmpl.Option("missingkey=error")
	}

	return tmpl.
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(maxValue int) int {
				if maxValue <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % maxValue
			},
		})
}

func getEnvVars() map[string]any {
	envMap := make(map[string]any)

	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) == 2 {
			envMap[parts[0]] = parts[1]
		}
	}

	return envMap
}
