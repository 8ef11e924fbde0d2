package taskgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDAGLeavesFirstOrder(t *testing.T) {
	cache := newTestCache(t)
	leaf, err := NewTask(cache, "leaf", Args{}, constBody(1))
	require.NoError(t, err)
	mid, err := NewTask(cache, "mid", Args{"in": leaf}, constBody(1))
	require.NoError(t, err)
	root, err := NewTask(cache, "root", Args{"in": mid}, constBody(1))
	require.NoError(t, err)

	g, err := buildDAG(root)
	require.NoError(t, err)
	require.Len(t, g.vertices, 3)
	assert.Same(t, leaf, g.vertices[0])
	assert.Same(t, mid, g.vertices[1])
	assert.Same(t, root, g.vertices[2])
}

func TestBuildDAGDeduplicatesSharedUpstream(t *testing.T) {
	cache := newTestCache(t)
	shared, err := NewTask(cache, "shared", Args{}, constBody(1))
	require.NoError(t, err)
	left, err := NewTask(cache, "left", Args{"in": shared}, constBody(1))
	require.NoError(t, err)
	right, err := NewTask(cache, "right", Args{"in": shared}, constBody(1))
	require.NoError(t, err)
	root, err := NewTask(cache, "root", Args{"l": left, "r": right}, constBody(1))
	require.NoError(t, err)

	g, err := buildDAG(root)
	require.NoError(t, err)
	assert.Len(t, g.vertices, 4, "shared must appear once despite two references")
}

func TestBuildDAGDetectsCycle(t *testing.T) {
	cache := newTestCache(t)
	a, err := NewTask(cache, "a", Args{"x": 1}, constBody(1))
	require.NoError(t, err)

	// Build a genuine cycle by hand: a Task whose upstreamsList includes
	// itself indirectly through a second Task that refers back to it.
	b := &Task{taskName: "b", taskID: "b-id", body: constBody(1)}
	b.upstreamsList = []Future{a}
	a.upstreamsList = []Future{b}

	_, err = buildDAG(a)
	var cycleErr *GraphCycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.Cycle)
}

func TestVertexSortKeyOrdersTasksByNameThenID(t *testing.T) {
	cache := newTestCache(t)
	a, err := NewTask(cache, "b-task", Args{"n": 1}, constBody(1))
	require.NoError(t, err)
	b, err := NewTask(cache, "a-task", Args{"n": 1}, constBody(1))
	require.NoError(t, err)

	assert.Less(t, vertexSortKey(b), vertexSortKey(a))
}
