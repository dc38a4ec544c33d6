package runner

import (
	"github.com/dukex/flowrun/pkg/executors/branch"
	"github.com/dukex/flowrun/pkg/models"
)

type decision int

const (
	decisionRun decision = iota
	decisionTrigger
	decisionSkip
	decisionSkipPassthrough
	decisionBlocked
)

// runState tracks per-run execution progress across batches: the current
// node-run per node, which nodes are suppressed by an untaken branch
// handle, and which are blocked behind a failure.
type runState struct {
	workflow *models.Workflow
	byNode   map[string]*models.NodeRun

	// skipped holds nodes whose skip suppresses successors. Bypassed
	// (passthrough) skips do not suppress; they behave like successes.
	skipped map[string]bool
	failed  map[string]bool
	blocked map[string]bool

	// retryable holds failed nodes with attempt budget remaining. Any
	// entry here keeps the run non-terminal for another delivery.
	retryable map[string]bool

	// handles maps a succeeded branch node to the handle it picked.
	handles map[string]string

	anyFailed bool
}

func newRunState(workflow *models.Workflow, priorRuns []*models.NodeRun) *runState {
	state := &runState{
		workflow:  workflow,
		byNode:    make(map[string]*models.NodeRun, len(priorRuns)),
		skipped:   make(map[string]bool),
		failed:    make(map[string]bool),
		blocked:   make(map[string]bool),
		retryable: make(map[string]bool),
		handles:   make(map[string]string),
	}

	// Prior records seed outputs, handles and suppressions. Prior
	// failures are deliberately not counted as failed: nodes with
	// attempt budget left get retried, exhausted ones fail again in the
	// driver.
	for _, nodeRun := range priorRuns {
		state.byNode[nodeRun.NodeID] = nodeRun

		switch nodeRun.Status {
		case models.NodeRunStatusSkipped:
			if !nodeRun.IsPassthrough() {
				state.skipped[nodeRun.NodeID] = true
			}
		case models.NodeRunStatusSuccess:
			state.captureHandle(nodeRun)
		case models.NodeRunStatusRunning, models.NodeRunStatusFailed:
		}
	}

	return state
}

func (s *runState) classify(node *models.WorkflowNode) decision {
	if node.IsTriggerNode() {
		return decisionTrigger
	}

	if !node.Enabled {
		return decisionSkipPassthrough
	}

	incoming := s.incomingEdges(node.ID)
	if len(incoming) == 0 {
		return decisionRun
	}

	live := 0

	for _, edge := range incoming {
		if s.failed[edge.Source] || s.blocked[edge.Source] {
			// A failed predecessor blocks the node outright, regardless
			// of its other edges.
			return decisionBlocked
		}

		if !s.edgeSuppressed(edge) {
			live++
		}
	}

	if live == 0 {
		return decisionSkip
	}

	return decisionRun
}

// edgeSuppressed reports whether this edge cannot carry execution: its
// source was skipped, or it hangs off a branch handle that was not taken.
func (s *runState) edgeSuppressed(edge *models.Edge) bool {
	if s.skipped[edge.Source] {
		return true
	}

	if edge.SourceHandle == "" {
		return false
	}

	taken, decided := s.handles[edge.Source]
	if !decided {
		return false
	}

	return edge.SourceHandle != taken
}

func (s *runState) record(nodeRun *models.NodeRun) {
	s.byNode[nodeRun.NodeID] = nodeRun

	switch nodeRun.Status {
	case models.NodeRunStatusFailed:
		s.markFailed(nodeRun.NodeID, false)
	case models.NodeRunStatusSkipped:
		if !nodeRun.IsPassthrough() {
			s.skipped[nodeRun.NodeID] = true
		}
	case models.NodeRunStatusSuccess:
		s.captureHandle(nodeRun)
	case models.NodeRunStatusRunning:
	}
}

func (s *runState) captureHandle(nodeRun *models.NodeRun) {
	node := s.workflow.NodeByID(nodeRun.NodeID)
	if node == nil || node.Type != models.NodeTypeBranch {
		return
	}

	output, ok := nodeRun.Output.(map[string]any)
	if !ok {
		return
	}

	if handle, ok := output["handle"].(string); ok && handle != "" {
		s.handles[nodeRun.NodeID] = handle
	} else {
		// A branch without a picked handle falls back to the false path.
		s.handles[nodeRun.NodeID] = branch.HandleFalse
	}
}

func (s *runState) markFailed(nodeID string, retryable bool) {
	s.failed[nodeID] = true
	s.anyFailed = true

	if retryable {
		s.retryable[nodeID] = true
	}
}

func (s *runState) hasRetryableFailures() bool {
	return len(s.retryable) > 0
}

func (s *runState) markBlocked(nodeID string) {
	s.blocked[nodeID] = true
}

func (s *runState) existing(nodeID string) *models.NodeRun {
	return s.byNode[nodeID]
}

// snapshot returns the current node-run set for the execution driver's
// context assembly.
func (s *runState) snapshot() []*models.NodeRun {
	nodeRuns := make([]*models.NodeRun, 0, len(s.byNode))
	for _, nodeRun := range s.byNode {
		nodeRuns = append(nodeRuns, nodeRun)
	}

	return nodeRuns
}

func (s *runState) incomingEdges(nodeID string) []*models.Edge {
	edges := make([]*models.Edge, 0, 2)

	for _, edge := range s.workflow.Edges {
		if edge.Target == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
