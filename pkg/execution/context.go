package execution

import (
	"github.com/dukex/flowrun/pkg/models"
)

// AI alias keys exposed in the templating context when exactly one AI
// node has produced output.
const (
	aiGenericKey = "ai"
)

// BuildVariables assembles the templating context from prior node runs.
// Every usable output is exposed by node ID; by the node's declared
// response name when it does not collide with an existing key; and, for
// AI nodes, under "ai" plus the provider alias only when exactly one AI
// node produced output.
func BuildVariables(workflow *models.Workflow, nodeRuns []*models.NodeRun) map[string]any {
	variables := make(map[string]any)

	// Node IDs claim their keys first; response names never shadow them.
	for _, nodeRun := range nodeRuns {
		if nodeRun.HasUsableOutput() {
			variables[nodeRun.NodeID] = nodeRun.Output
		}
	}

	type aiOutput struct {
		provider string
		output   any
	}

	aiOutputs := make([]aiOutput, 0, 1)

	for _, nodeRun := range nodeRuns {
		if !nodeRun.HasUsableOutput() {
			continue
		}

		node := workflow.NodeByID(nodeRun.NodeID)
		if node == nil {
			continue
		}

		if node.ResponseName != "" {
			if _, claimed := variables[node.ResponseName]; !claimed {
				variables[node.ResponseName] = nodeRun.Output
			}
		}

		if node.IsAINode() {
			aiOutputs = append(aiOutputs, aiOutput{provider: node.AIProvider(), output: nodeRun.Output})
		}
	}

	// With several AI nodes the aliases would be ambiguous, so none is
	// populated and templates must use an explicit name.
	if len(aiOutputs) == 1 {
		single := aiOutputs[0]

		if _, claimed := variables[aiGenericKey]; !claimed {
			variables[aiGenericKey] = single.output
		}

		if _, claimed := variables[single.provider]; !claimed {
			variables[single.provider] = single.output
		}
	}

	return variables
}
