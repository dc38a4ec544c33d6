// Package graph provides pure analysis functions over workflow node/edge
// graphs: adjacency, cycle detection, topological execution batches and
// ready-frontier computation. No I/O.
package graph

import (
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/models"
)

// ErrCycleDetected indicates the graph contains at least one dependency
// cycle. Cyclic graphs are a terminal configuration error, never executed.
var ErrCycleDetected = errors.New("workflow graph contains a cycle")

// ErrDuplicateNodeID indicates two nodes share one ID.
var ErrDuplicateNodeID = errors.New("workflow graph contains a duplicate node id")

// ErrUnknownEdgeEndpoint indicates an edge references a node that does
// not exist in the graph.
var ErrUnknownEdgeEndpoint = errors.New("workflow edge references an unknown node")

// Validate rejects graphs that can never execute: duplicate node IDs,
// edges with missing endpoints and cycles. Run at admission so a broken
// workflow never consumes quota or reaches a worker.
func Validate(nodes []*models.WorkflowNode, edges []*models.Edge) error {
	ids := make(map[string]bool, len(nodes))

	for _, node := range nodes {
		if ids[node.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}

		ids[node.ID] = true
	}

	for _, edge := range edges {
		if !ids[edge.Source] {
			return fmt.Errorf("%w: edge %s source %s", ErrUnknownEdgeEndpoint, edge.ID, edge.Source)
		}

		if !ids[edge.Target] {
			return fmt.Errorf("%w: edge %s target %s", ErrUnknownEdgeEndpoint, edge.ID, edge.Target)
		}
	}

	if HasCycle(nodes, edges) {
		return ErrCycleDetected
	}

	return nil
}

// IsValidationError reports whether err is any graph validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrDuplicateNodeID) ||
		errors.Is(err, ErrUnknownEdgeEndpoint) ||
		errors.Is(err, ErrCycleDetected)
}

// Adjacency builds the forward edge map: node ID -> IDs of direct
// successors. Every node appears as a key, sinks map to an empty slice.
func Adjacency(nodes []*models.WorkflowNode, edges []*models.Edge) map[string][]string {
	adjacency := make(map[string][]string, len(nodes))
	for _, node := range nodes {
		adjacency[node.ID] = []string{}
	}

	for _, edge := range edges {
		if _, ok := adjacency[edge.Source]; !ok {
			continue
		}

		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
	}

	return adjacency
}

// InDegree counts incoming edges per node ID.
func InDegree(nodes []*models.WorkflowNode, edges []*models.Edge) map[string]int {
	inDegree := make(map[string]int, len(nodes))
	for _, node := range nodes {
		inDegree[node.ID] = 0
	}

	for _, edge := range edges {
		if _, ok := inDegree[edge.Target]; !ok {
			continue
		}

		inDegree[edge.Target]++
	}

	return inDegree
}

// HasCycle reports whether the graph contains a cycle. DFS with a
// recursion stack; all components are visited so a cycle in a disconnected
// subgraph is still found.
func HasCycle(nodes []*models.WorkflowNode, edges []*models.Edge) bool {
	adjacency := Adjacency(nodes, edges)

	visited := make(map[string]bool, len(nodes))
	onStack := make(map[string]bool, len(nodes))

	var visit func(id string) bool

	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true

		for _, successor := range adjacency[id] {
			if onStack[successor] {
				return true
			}

			if !visited[successor] && visit(successor) {
				return true
			}
		}

		onStack[id] = false

		return false
	}

	for _, node := range nodes {
		if !visited[node.ID] && visit(node.ID) {
			return true
		}
	}

	return false
}

// ExecutionBatches computes topological execution layers with Kahn's
// algorithm. The first batch is every zero-in-degree node; each following
// batch is every node whose in-degree reaches zero once the previous batch
// completes. Nodes within one batch are mutually non-dependent and safe to
// execute concurrently. Returns ErrCycleDetected when any node is
// unreachable through topological ordering.
func ExecutionBatches(nodes []*models.WorkflowNode, edges []*models.Edge) ([][]*models.WorkflowNode, error) {
	adjacency := Adjacency(nodes, edges)
	inDegree := InDegree(nodes, edges)

	nodeByID := make(map[string]*models.WorkflowNode, len(nodes))
	for _, node := range nodes {
		nodeByID[node.ID] = node
	}

	var current []*models.WorkflowNode

	for _, node := range nodes {
		if inDegree[node.ID] == 0 {
			current = append(current, node)
		}
	}

	var batches [][]*models.WorkflowNode

	processed := 0

	for len(current) > 0 {
		batches = append(batches, current)
		processed += len(current)

		var next []*models.WorkflowNode

		for _, node := range current {
			for _, successor := range adjacency[node.ID] {
				inDegree[successor]--
				if inDegree[successor] == 0 {
					next = append(next, nodeByID[successor])
				}
			}
		}

		current = next
	}

	// Fail loudly instead of silently dropping the nodes trapped on a
	// cycle.
	if processed < len(nodes) {
		return nil, ErrCycleDetected
	}

	return batches, nil
}

// ReachableFromTriggers computes the subgraph reachable from the given
// start nodes via BFS. When startNodeIDs is empty, every trigger node with
// at least one outgoing edge is a start node; a trigger with no outgoing
// edges is excluded unless explicitly requested, in which case it is
// returned alone. When no valid start nodes exist at all, the whole graph
// is returned, a permissive fallback for legacy workflows authored before
// trigger nodes were required.
func ReachableFromTriggers(nodes []*models.WorkflowNode, edges []*models.Edge, startNodeIDs ...string) []*models.WorkflowNode {
	adjacency := Adjacency(nodes, edges)

	nodeByID := make(map[string]*models.WorkflowNode, len(nodes))
	for _, node := range nodes {
		nodeByID[node.ID] = node
	}

	var queue []string

	if len(startNodeIDs) > 0 {
		for _, id := range startNodeIDs {
			if _, ok := nodeByID[id]; ok {
				queue = append(queue, id)
			}
		}
	} else {
		for _, node := range nodes {
			if node.IsTriggerNode() && len(adjacency[node.ID]) > 0 {
				queue = append(queue, node.ID)
			}
		}
	}

	if len(queue) == 0 {
		return nodes
	}

	visited := make(map[string]bool, len(nodes))

	var reachable []*models.WorkflowNode

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if visited[id] {
			continue
		}

		visited[id] = true
		reachable = append(reachable, nodeByID[id])

		queue = append(queue, adjacency[id]...)
	}

	return reachable
}

// ReadyNodes computes the current execution frontier: nodes not yet
// completed, running or failed whose every inbound edge originates from a
// completed node. Used for incremental event-driven scheduling as an
// alternative to whole-batch execution.
func ReadyNodes(nodes []*models.WorkflowNode, edges []*models.Edge, completed, running, failed map[string]bool) []*models.WorkflowNode {
	var ready []*models.WorkflowNode

	for _, node := range nodes {
		if completed[node.ID] || running[node.ID] || failed[node.ID] {
			continue
		}

		satisfied := true

		for _, edge := range edges {
			if edge.Target != node.ID {
				continue
			}

			if !completed[edge.Source] {
				satisfied = false

				break
			}
		}

		if satisfied {
			ready = append(ready, node)
		}
	}

	return ready
}
