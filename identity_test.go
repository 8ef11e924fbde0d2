package taskgraph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskIdentityDeterministic(t *testing.T) {
	id1, _, err := taskIdentity("add", Args{"a": 1, "b": 2})
	require.NoError(t, err)
	id2, _, err := taskIdentity("add", Args{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "key order must not affect identity")
}

func TestTaskIdentityDistinguishesValues(t *testing.T) {
	id1, _, err := taskIdentity("add", Args{"a": 1, "b": 2})
	require.NoError(t, err)
	id2, _, err := taskIdentity("add", Args{"a": 1, "b": 3})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestTaskIdentityDistinguishesTaskName(t *testing.T) {
	id1, _, err := taskIdentity("add", Args{"a": 1})
	require.NoError(t, err)
	id2, _, err := taskIdentity("sub", Args{"a": 1})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestTaskIdentityListVsNestedListNoCollision(t *testing.T) {
	// [1, [2, 3]] must not collide with [1, 2, 3]: this is exactly the
	// "tuple/list collision" the length-prefixed framing exists to prevent.
	flat := Args{"v": []any{1, 2, 3}}
	nested := Args{"v": []any{1, []any{2, 3}}}

	idFlat, _, err := taskIdentity("t", flat)
	require.NoError(t, err)
	idNested, _, err := taskIdentity("t", nested)
	require.NoError(t, err)
	assert.NotEqual(t, idFlat, idNested)
}

func TestTaskIdentityRejectsReservedAttribute(t *testing.T) {
	_, _, err := taskIdentity("t", Args{"task_id": "x"})
	require.Error(t, err)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestTaskIdentityRejectsUnrepresentableLeaf(t *testing.T) {
	type unrepresentable struct{}
	_, _, err := taskIdentity("t", Args{"v": unrepresentable{}})
	require.Error(t, err)
}

func TestArgsJSONRendersFutureReferences(t *testing.T) {
	cache := newTestCache(t)
	upstream, err := NewTask(cache, "up", Args{"x": 1}, constBody(1))
	require.NoError(t, err)

	_, argsJSON, err := taskIdentity("down", Args{"in": upstream})
	require.NoError(t, err)

	var view map[string]any
	require.NoError(t, json.Unmarshal(argsJSON, &view))
	rendered, ok := view["in"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "up", rendered["__future__"])
	assert.Equal(t, upstream.taskID, rendered["__id__"])
}

func constBody(v any) Body {
	return func(_ context.Context, _ Args) (any, error) { return v, nil }
}
