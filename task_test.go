package taskgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTaskRejectsNilCache(t *testing.T) {
	_, err := NewTask(nil, "t", Args{}, constBody(1))
	var usageErr *UsageError
	require.ErrorAs(t, err, &usageErr)
}

func TestNewTaskRejectsNilBody(t *testing.T) {
	cache := newTestCache(t)
	_, err := NewTask(cache, "t", Args{}, nil)
	var usageErr *UsageError
	require.ErrorAs(t, err, &usageErr)
}

func TestSameArgsShareTaskID(t *testing.T) {
	cache := newTestCache(t)
	a, err := NewTask(cache, "add", Args{"x": 1, "y": 2}, constBody(3))
	require.NoError(t, err)
	b, err := NewTask(cache, "add", Args{"y": 2, "x": 1}, constBody(3))
	require.NoError(t, err)

	assert.Equal(t, a.ID(), b.ID())
	assert.NotSame(t, a, b, "identical args still produce distinct Task vertices")
}

func TestTaskCollectsUpstreamFutures(t *testing.T) {
	cache := newTestCache(t)
	up, err := NewTask(cache, "up", Args{}, constBody(1))
	require.NoError(t, err)

	down, err := NewTask(cache, "down", Args{
		"a": up,
		"b": []any{NewConst(1), up},
		"c": map[string]any{"nested": up},
	}, constBody(nil))
	require.NoError(t, err)

	ups := down.upstreams()
	require.Len(t, ups, 2, "up and the Const are distinct, but up is deduplicated across three occurrences")
}

func TestRunBodySubstitutesResolvedValues(t *testing.T) {
	cache := newTestCache(t)
	left, err := NewTask(cache, "left", Args{}, constBody(2))
	require.NoError(t, err)
	right, err := NewTask(cache, "right", Args{}, constBody(3))
	require.NoError(t, err)

	sum, err := NewTask(cache, "sum", Args{"left": left, "right": right}, func(_ context.Context, args Args) (any, error) {
		return args["left"].(int) + args["right"].(int), nil
	})
	require.NoError(t, err)

	values := map[Future]any{left: 2, right: 3}
	got, err := sum.runBody(context.Background(), values)
	require.NoError(t, err)
	assert.Equal(t, 5, got)
}

func TestTaskNameDefaultsToQualifiedType(t *testing.T) {
	type myTask struct{}
	name := TaskName(&myTask{})
	assert.Contains(t, name, "myTask")
}

func TestWithChannelAndPrefixCommand(t *testing.T) {
	cache := newTestCache(t)
	task, err := NewTask(cache, "gpu-job", Args{}, constBody(1),
		WithChannel("gpu"), WithPrefixCommand("srun --gres=gpu:1 --"))
	require.NoError(t, err)
	assert.Equal(t, []string{"gpu"}, task.Channels())
	assert.Equal(t, "srun --gres=gpu:1 --", task.prefixCommand)
}
