package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgraph"
)

func TestParseRunRequiresCacheDir(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "")
	var out bytes.Buffer
	_, _, err := Parse([]string{"run", "--args-json", "{}"}, &out)
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestParseRunReadsCacheDirFromEnv(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "/var/tmp/cache")
	var out bytes.Buffer
	cfg, help, err := Parse([]string{"run"}, &out)
	require.NoError(t, err)
	assert.False(t, help)
	assert.Equal(t, "run", cfg.Mode)
	assert.Equal(t, "/var/tmp/cache", cfg.CacheDir)
}

func TestParseRunFlagOverridesEnv(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "/var/tmp/cache")
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"run", "--cache", "/tmp/override"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override", cfg.CacheDir)
}

func TestParseRunDecodesArgsJSON(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "/tmp/x")
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"run", "--args-json", `{"n":6,"k":3}`}, &out)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": 6.0, "k": 3.0}, cfg.Args)
}

func TestParseRunRejectsInvalidArgsJSON(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "/tmp/x")
	var out bytes.Buffer
	_, _, err := Parse([]string{"run", "--args-json", "not json"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
}

func TestParseClearRequiresTaskNameOrAll(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "/tmp/x")
	var out bytes.Buffer
	_, _, err := Parse([]string{"clear"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
}

func TestParseClearWithTaskNameDoesNotMisrouteToDispatch(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "/tmp/x")
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"clear", "--task-name", "foo"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "clear", cfg.Mode)
	assert.Equal(t, "foo", cfg.ClearTaskName)
}

func TestParseClearAll(t *testing.T) {
	t.Setenv("TASKGRAPH_CACHE_DIR", "/tmp/x")
	var out bytes.Buffer
	cfg, _, err := Parse([]string{"clear", "--all"}, &out)
	require.NoError(t, err)
	assert.True(t, cfg.ClearAll)
}

func TestParseDispatchMode(t *testing.T) {
	var out bytes.Buffer
	cfg, help, err := Parse([]string{
		"--task-name", "choose",
		"--task-id", "abc123",
		"--cache", "/tmp/cache",
		"--args-json", "/tmp/cache/args.json",
	}, &out)
	require.NoError(t, err)
	assert.False(t, help)
	assert.Equal(t, "dispatch", cfg.Mode)
	assert.Equal(t, "choose", cfg.TaskName)
	assert.Equal(t, "abc123", cfg.TaskID)
}

func TestParseDispatchRequiresAllFourFlags(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"--task-name", "choose"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
}

func TestParseNoArgsPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	cfg, help, err := Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, help)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParseUnknownSubcommandIsExitError(t *testing.T) {
	var out bytes.Buffer
	_, _, err := Parse([]string{"bogus"}, &out)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.Code)
}

func TestRunDispatchRunsBodyAndPersistsResult(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()

	registry := taskgraph.NewRegistry()
	registry.Register("double", func(_ context.Context, args taskgraph.Args) (any, error) {
		n, _ := args["n"].(float64)
		return n * 2, nil
	})

	payload := taskgraph.DispatchPayload{
		ResolvedArgs:  map[string]any{"n": 21.0},
		ArgsJSON:      json.RawMessage(`{"n":21}`),
		CompressLevel: 0,
	}
	payloadPath := filepath.Join(t.TempDir(), "args.json")
	blob, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(payloadPath, blob, 0o644))

	cfg := &Config{
		Mode:         "dispatch",
		CacheDir:     cacheDir,
		TaskName:     "double",
		TaskID:       "id1",
		ArgsJSONPath: payloadPath,
	}
	require.NoError(t, RunDispatch(ctx, cfg, registry))

	// A second dispatch of the same (task name, task id) succeeds again,
	// since RunDispatch always overwrites rather than checking for an
	// existing entry first — the parent scheduler is the one that decides
	// whether dispatch was necessary.
	require.NoError(t, RunDispatch(ctx, cfg, registry))
}

func TestRunDispatchWithUnregisteredTaskNameErrors(t *testing.T) {
	ctx := context.Background()
	registry := taskgraph.NewRegistry()
	payloadPath := filepath.Join(t.TempDir(), "args.json")
	require.NoError(t, os.WriteFile(payloadPath, []byte(`{"resolved_args":{}}`), 0o644))

	cfg := &Config{Mode: "dispatch", CacheDir: t.TempDir(), TaskName: "missing", TaskID: "id1", ArgsJSONPath: payloadPath}
	err := RunDispatch(ctx, cfg, registry)
	assert.Error(t, err)
}

func TestRunClearAllCallsClearEverything(t *testing.T) {
	ctx := context.Background()
	cacheDir := t.TempDir()
	cache, err := taskgraph.OpenCache(ctx, cacheDir)
	require.NoError(t, err)
	task, err := taskgraph.NewTask(cache, "t", taskgraph.Args{}, func(_ context.Context, _ taskgraph.Args) (any, error) { return 1, nil })
	require.NoError(t, err)
	_, stats, err := runOnce(ctx, cache, task)
	require.NoError(t, err)
	require.Len(t, stats.Tasks, 1)
	assert.Equal(t, taskgraph.OriginComputed, stats.Tasks[0].Origin)

	require.NoError(t, RunClear(ctx, &Config{Mode: "clear", CacheDir: cacheDir, ClearAll: true}))

	// Re-running the identical task after clearing recomputes it rather than
	// hitting the now-empty cache.
	_, stats, err = runOnce(ctx, cache, task)
	require.NoError(t, err)
	require.Len(t, stats.Tasks, 1)
	assert.Equal(t, taskgraph.OriginComputed, stats.Tasks[0].Origin)
}

// runOnce is a tiny local helper wiring a single task through the scheduler,
// used only to seed a cache entry for RunClear's test.
func runOnce(ctx context.Context, cache *taskgraph.Cache, root taskgraph.Future) (any, *taskgraph.Stats, error) {
	executor := taskgraph.NewGoroutinePoolExecutor(1)
	defer executor.Shutdown(true)
	sched := taskgraph.NewScheduler(executor, cache)
	return sched.RunGraph(ctx, root)
}
