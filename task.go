package taskgraph

import (
	"context"
	"reflect"
)

// Body is the function a Task runs to produce its output. resolvedArgs
// mirrors the Args the task was constructed with, except every Future leaf
// (at any depth, including inside nested maps and slices) has been replaced
// by that Future's resolved value.
type Body func(ctx context.Context, resolvedArgs Args) (any, error)

// Task is a user-defined unit of computation: a body plus an argument
// record. Two Task instances of the same task name whose argument records
// canonicalise to the same bytes share a task_id, and therefore a cache
// slot. Within one RunGraph the scheduler does not merge such instances:
// each one that is not already cached runs its own body and stores to the
// same entry; a later RunGraph finds that entry and runs none of them.
type Task struct {
	taskName      string
	taskID        string
	argsJSON      []byte
	args          Args
	body          Body
	upstreamsList []Future
	channels      []string
	prefixCommand string
	compressLevel int
}

// TaskOption configures optional per-task metadata: channel membership, a
// prefix command for subprocess dispatch, and an output compression level.
type TaskOption func(*Task)

// WithChannel assigns one or more channels to a task; channels are used to
// apply shared rate limits and prefix commands across multiple task names.
func WithChannel(channels ...string) TaskOption {
	return func(t *Task) { t.channels = append(t.channels, channels...) }
}

// WithPrefixCommand configures an external command that wraps subprocess
// dispatch of this task's body. A per-task prefix always takes precedence
// over a channel-level prefix configured on the scheduler.
func WithPrefixCommand(cmd string) TaskOption {
	return func(t *Task) { t.prefixCommand = cmd }
}

// WithCompressLevel enables cache-entry compression for this task's output
// at the given level (see the compressor subpackage for what "level" means
// for the default zstd-backed Compressor).
func WithCompressLevel(level int) TaskOption {
	return func(t *Task) { t.compressLevel = level }
}

// NewTask constructs a Task bound to cache. taskName identifies the task
// type and is used as the cache partition key; a common convention is to
// default it to the Go type of the caller's task struct via TaskName, but
// callers may pass any stable string. args is the task's construction
// argument record (see Args); any Future values reachable inside it,
// including nested inside slices and maps, become upstream edges.
func NewTask(cache *Cache, taskName string, args Args, body Body, opts ...TaskOption) (*Task, error) {
	if cache == nil {
		return nil, &UsageError{Reason: "NewTask: called with a nil *Cache; construct tasks with an explicit cache binding"}
	}
	if body == nil {
		return nil, &UsageError{Reason: "NewTask: body must not be nil"}
	}

	taskID, argsJSON, err := taskIdentity(taskName, args)
	if err != nil {
		return nil, err
	}

	t := &Task{
		taskName: taskName,
		taskID:   taskID,
		argsJSON: argsJSON,
		args:     args,
		body:     body,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.upstreamsList = collectFutures(map[string]any(args))
	return t, nil
}

// TaskName derives the default task_name for a task struct type: its
// package-qualified Go type name, matching how the source design defaults
// task_name to the fully-qualified type name of the task's class.
func TaskName(v any) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

// Name returns the task's task_name.
func (t *Task) Name() string { return t.taskName }

// ID returns the task's deterministic task_id.
func (t *Task) ID() string { return t.taskID }

// ArgsJSON returns the human-readable canonical rendering of this task's
// argument record.
func (t *Task) ArgsJSON() []byte { return t.argsJSON }

// Channels returns the slots (beyond task_name) this task participates in
// for rate limiting and prefix resolution.
func (t *Task) Channels() []string { return t.channels }

func (t *Task) upstreams() []Future { return t.upstreamsList }

// resolve returns the task's already-computed value. Bodies are not run
// here: the scheduler runs a Task's body through the cache and executor,
// then populates values[t] before any downstream consumer resolves.
func (t *Task) resolve(_ context.Context, values map[Future]any) (any, error) {
	return values[t], nil
}

func (t *Task) identityFragment() []byte {
	return wrapFuture("task:"+t.taskName, []byte(t.taskID))
}

func (t *Task) futureLabel() string { return t.taskName }

// runBody substitutes every Future reachable in the task's argument record
// with its resolved value and invokes the task body.
func (t *Task) runBody(ctx context.Context, values map[Future]any) (any, error) {
	resolved := substituteResolved(map[string]any(t.args), values)
	return t.body(ctx, Args(resolved.(map[string]any)))
}

// collectFutures walks an argument record (or any nested value within it)
// and returns the distinct Futures reachable from it, in encounter order.
// That order follows Go's map iteration and so may differ between calls —
// sufficient since callers only use this set-wise, never positionally.
func collectFutures(v any) []Future {
	seen := make(map[Future]bool)
	var out []Future
	var walk func(any)
	walk = func(x any) {
		switch val := x.(type) {
		case Future:
			if !seen[val] {
				seen[val] = true
				out = append(out, val)
			}
		case map[string]any:
			for _, el := range val {
				walk(el)
			}
		case Args:
			for _, el := range val {
				walk(el)
			}
		case []any:
			for _, el := range val {
				walk(el)
			}
		}
	}
	walk(v)
	return out
}

// substituteResolved rebuilds a value tree, replacing every Future leaf with
// its resolved value from values.
func substituteResolved(v any, values map[Future]any) any {
	switch val := v.(type) {
	case Future:
		return values[val]
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = substituteResolved(el, values)
		}
		return out
	case Args:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = substituteResolved(el, values)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, el := range val {
			out[i] = substituteResolved(el, values)
		}
		return out
	default:
		return v
	}
}
