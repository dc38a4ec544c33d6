package graph_test

import (
	"testing"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func node(id string, nodeType ...string) *models.WorkflowNode {
	t := models.NodeTypeLog
	if len(nodeType) > 0 {
		t = nodeType[0]
	}

	return &models.WorkflowNode{ID: id, Type: t, Name: id, Enabled: true}
}

func edge(source, target string) *models.Edge {
	return &models.Edge{ID: source + "->" + target, Source: source, Target: target}
}

func batchIDs(batches [][]*models.WorkflowNode) [][]string {
	ids := make([][]string, len(batches))
	for i, batch := range batches {
		for _, n := range batch {
			ids[i] = append(ids[i], n.ID)
		}
	}

	return ids
}

func TestAdjacencyAndInDegree(t *testing.T) {
	nodes := []*models.WorkflowNode{node("a"), node("b"), node("c")}
	edges := []*models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "c")}

	adjacency := graph.Adjacency(nodes, edges)
	assert.ElementsMatch(t, []string{"b", "c"}, adjacency["a"])
	assert.ElementsMatch(t, []string{"c"}, adjacency["b"])
	assert.Empty(t, adjacency["c"])

	inDegree := graph.InDegree(nodes, edges)
	assert.Equal(t, 0, inDegree["a"])
	assert.Equal(t, 1, inDegree["b"])
	assert.Equal(t, 2, inDegree["c"])
}

func TestAdjacencyIgnoresDanglingEdges(t *testing.T) {
	nodes := []*models.WorkflowNode{node("a")}
	edges := []*models.Edge{edge("ghost", "a"), edge("a", "ghost")}

	assert.Empty(t, graph.Adjacency(nodes, edges)["a"])
	assert.Equal(t, 0, graph.InDegree(nodes, edges)["a"])
}

func TestHasCycle(t *testing.T) {
	tests := []struct {
		name  string
		nodes []*models.WorkflowNode
		edges []*models.Edge
		want  bool
	}{
		{
			"acyclic diamond",
			[]*models.WorkflowNode{node("a"), node("b"), node("c"), node("d")},
			[]*models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
			false,
		},
		{
			"self loop",
			[]*models.WorkflowNode{node("a")},
			[]*models.Edge{edge("a", "a")},
			true,
		},
		{
			"two node cycle",
			[]*models.WorkflowNode{node("a"), node("b")},
			[]*models.Edge{edge("a", "b"), edge("b", "a")},
			true,
		},
		{
			"cycle in disconnected component",
			[]*models.WorkflowNode{node("a"), node("b"), node("x"), node("y")},
			[]*models.Edge{edge("a", "b"), edge("x", "y"), edge("y", "x")},
			true,
		},
		{
			"empty graph",
			nil,
			nil,
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, graph.HasCycle(tt.nodes, tt.edges))
		})
	}
}

func TestExecutionBatchesDiamond(t *testing.T) {
	nodes := []*models.WorkflowNode{node("a"), node("b"), node("c"), node("d")}
	edges := []*models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")}

	batches, err := graph.ExecutionBatches(nodes, edges)
	require.NoError(t, err)

	ids := batchIDs(batches)
	require.Len(t, ids, 3)
	assert.Equal(t, []string{"a"}, ids[0])
	assert.ElementsMatch(t, []string{"b", "c"}, ids[1])
	assert.Equal(t, []string{"d"}, ids[2])
}

func TestExecutionBatchesCoverAllNodesOnce(t *testing.T) {
	nodes := []*models.WorkflowNode{node("a"), node("b"), node("c"), node("d"), node("e")}
	edges := []*models.Edge{edge("a", "c"), edge("b", "c"), edge("c", "d")}

	batches, err := graph.ExecutionBatches(nodes, edges)
	require.NoError(t, err)

	var seen []string
	for _, batch := range batches {
		for _, n := range batch {
			seen = append(seen, n.ID)
		}
	}

	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, seen)

	// Every node appears strictly after all its predecessors' batches.
	batchOf := make(map[string]int)
	for i, batch := range batches {
		for _, n := range batch {
			batchOf[n.ID] = i
		}
	}

	for _, e := range edges {
		assert.Less(t, batchOf[e.Source], batchOf[e.Target])
	}
}

func TestExecutionBatchesCycleFailsLoudly(t *testing.T) {
	nodes := []*models.WorkflowNode{node("a"), node("b"), node("c")}
	edges := []*models.Edge{edge("a", "b"), edge("b", "c"), edge("c", "b")}

	batches, err := graph.ExecutionBatches(nodes, edges)
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
	assert.Nil(t, batches)
}

func TestReachableFromTriggers(t *testing.T) {
	trigger := node("t", models.NodeTypeTriggerWebhook)
	orphanTrigger := node("orphan", models.NodeTypeTriggerCron)
	nodes := []*models.WorkflowNode{trigger, orphanTrigger, node("a"), node("b"), node("island")}
	edges := []*models.Edge{edge("t", "a"), edge("a", "b")}

	reachable := graph.ReachableFromTriggers(nodes, edges)

	var ids []string
	for _, n := range reachable {
		ids = append(ids, n.ID)
	}

	assert.ElementsMatch(t, []string{"t", "a", "b"}, ids)
}

func TestReachableFromExplicitStartWithoutEdges(t *testing.T) {
	orphanTrigger := node("orphan", models.NodeTypeTriggerCron)
	nodes := []*models.WorkflowNode{orphanTrigger, node("a")}

	reachable := graph.ReachableFromTriggers(nodes, nil, "orphan")
	require.Len(t, reachable, 1)
	assert.Equal(t, "orphan", reachable[0].ID)
}

func TestReachableFallsBackToWholeGraph(t *testing.T) {
	// Legacy workflow with no trigger nodes at all.
	nodes := []*models.WorkflowNode{node("a"), node("b")}
	edges := []*models.Edge{edge("a", "b")}

	reachable := graph.ReachableFromTriggers(nodes, edges)
	assert.Len(t, reachable, 2)
}

func TestReadyNodes(t *testing.T) {
	nodes := []*models.WorkflowNode{node("a"), node("b"), node("c"), node("d")}
	edges := []*models.Edge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")}

	set := func(ids ...string) map[string]bool {
		m := make(map[string]bool)
		for _, id := range ids {
			m[id] = true
		}

		return m
	}

	ready := graph.ReadyNodes(nodes, edges, set(), set(), set())
	require.Len(t, ready, 1)
	assert.Equal(t, "a", ready[0].ID)

	ready = graph.ReadyNodes(nodes, edges, set("a"), set(), set())
	var ids []string
	for _, n := range ready {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, ids)

	// d is not ready while c is still running, and b is excluded while
	// running.
	ready = graph.ReadyNodes(nodes, edges, set("a", "b"), set("c"), set())
	assert.Empty(t, ready)

	// A failed predecessor blocks its successors.
	ready = graph.ReadyNodes(nodes, edges, set("a", "b"), set(), set("c"))
	assert.Empty(t, ready)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	nodes := []*models.WorkflowNode{node("a"), node("b")}

	err := graph.Validate(nodes, []*models.Edge{edge("a", "b")})
	require.NoError(t, err)

	err = graph.Validate([]*models.WorkflowNode{node("a"), node("a")}, nil)
	assert.ErrorIs(t, err, graph.ErrDuplicateNodeID)

	err = graph.Validate(nodes, []*models.Edge{edge("a", "ghost")})
	assert.ErrorIs(t, err, graph.ErrUnknownEdgeEndpoint)

	err = graph.Validate(nodes, []*models.Edge{edge("ghost", "b")})
	assert.ErrorIs(t, err, graph.ErrUnknownEdgeEndpoint)

	err = graph.Validate(nodes, []*models.Edge{edge("a", "b"), edge("b", "a")})
	assert.ErrorIs(t, err, graph.ErrCycleDetected)
}

func TestIsValidationError(t *testing.T) {
	t.Parallel()

	assert.True(t, graph.IsValidationError(graph.ErrCycleDetected))
	assert.True(t, graph.IsValidationError(graph.ErrDuplicateNodeID))
	assert.True(t, graph.IsValidationError(graph.ErrUnknownEdgeEndpoint))
	assert.False(t, graph.IsValidationError(nil))
	assert.False(t, graph.IsValidationError(assert.AnError))
}
