package taskgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vk/taskgraph/internal/ctxlog"
)

// TaskOrigin records how a task vertex's value was obtained.
type TaskOrigin string

const (
	OriginCacheHit   TaskOrigin = "cache-hit"
	OriginComputed   TaskOrigin = "computed"
	OriginDispatched TaskOrigin = "dispatched"
)

// TaskStat is one task vertex's lifecycle record for a single RunGraph call.
type TaskStat struct {
	TaskName   string
	TaskID     string
	Origin     TaskOrigin
	Slots      []string
	QueuedAt   time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Stats summarises a RunGraph call: one TaskStat per Task vertex touched.
type Stats struct {
	Tasks []TaskStat
}

// Scheduler dispatches ready tasks onto an Executor, enforces per-slot
// concurrency limits, and persists results through a Cache.
type Scheduler struct {
	executor   Executor
	cache      *Cache
	rateLimits map[string]int
	prefixes   map[string]string
	selfExe    string
}

// SchedulerOption configures optional Scheduler behaviour.
type SchedulerOption func(*Scheduler)

// WithRateLimit caps the number of concurrently running tasks in slot
// (a task_name or a channel) to limit.
func WithRateLimit(slot string, limit int) SchedulerOption {
	return func(s *Scheduler) { s.rateLimits[slot] = limit }
}

// WithPrefix configures an external command wrapping subprocess dispatch of
// every task in slot (a task_name or a channel). A task's own
// WithPrefixCommand takes precedence over this.
func WithPrefix(slot, cmd string) SchedulerOption {
	return func(s *Scheduler) { s.prefixes[slot] = cmd }
}

// WithSelfExecutable overrides the binary path used to re-invoke this
// process as the child of a prefix-command dispatch. Defaults to
// os.Executable().
func WithSelfExecutable(path string) SchedulerOption {
	return func(s *Scheduler) { s.selfExe = path }
}

// NewScheduler builds a Scheduler that runs task bodies on executor and
// persists results through cache.
func NewScheduler(executor Executor, cache *Cache, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		executor:   executor,
		cache:      cache,
		rateLimits: make(map[string]int),
		prefixes:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// slotsOf returns every slot (task_name plus channels) a task occupies.
func slotsOf(t *Task) []string {
	slots := make([]string, 0, 1+len(t.channels))
	slots = append(slots, t.taskName)
	slots = append(slots, t.channels...)
	return slots
}

// prefixFor resolves the effective prefix command for a task: its own
// per-task prefix takes precedence over any prefix configured on one of its
// slots (channel or task_name), checked in slot order.
func (s *Scheduler) prefixFor(t *Task) string {
	if t.prefixCommand != "" {
		return t.prefixCommand
	}
	for _, slot := range slotsOf(t) {
		if p, ok := s.prefixes[slot]; ok {
			return p
		}
	}
	return ""
}

type completion struct {
	vertex Future
	value  any
	stdout []byte
	stderr []byte
	err    error
}

// RunGraph builds the DAG rooted at root, walks it leaves-first, and
// returns root's resolved value plus run statistics. It returns
// *GraphCycleError before any dispatch if the closure reachable from root
// contains a cycle, and *TaskFailedError after draining in-flight work if
// any task's body (or its dispatch) failed.
func (s *Scheduler) RunGraph(ctx context.Context, root Future) (any, *Stats, error) {
	logger := ctxlog.FromContext(ctx)

	g, err := buildDAG(root)
	if err != nil {
		logger.Error("taskgraph: graph has a cycle, nothing dispatched", "error", err)
		return nil, nil, err
	}

	dependents := make(map[Future][]Future)
	for v, ups := range g.edges {
		for _, u := range ups {
			dependents[u] = append(dependents[u], v)
		}
	}

	values := make(map[Future]any, len(g.vertices))
	done := make(map[Future]bool, len(g.vertices))
	statOf := make(map[Future]*TaskStat)
	stats := &Stats{}

	sems := make(map[string]*semaphore.Weighted)
	semFor := func(slot string) *semaphore.Weighted {
		if sem, ok := sems[slot]; ok {
			return sem
		}
		limit, ok := s.rateLimits[slot]
		if !ok {
			return nil
		}
		sem := semaphore.NewWeighted(int64(limit))
		sems[slot] = sem
		return sem
	}

	// Initial sweep: cache-hit Task vertices are Done without regard to
	// their own upstreams — their body is never run, so
	// nothing upstream of *them* needs to have resolved first.
	for _, v := range g.vertices {
		t, ok := v.(*Task)
		if !ok {
			continue
		}
		hit, err := s.cache.has(ctx, t.taskName, t.taskID)
		if err != nil {
			logger.Error("taskgraph: cache lookup failed", "task_name", t.taskName, "task_id", t.taskID, "error", err)
			return nil, nil, fmt.Errorf("checking cache for %s[%s]: %w", t.taskName, t.taskID, err)
		}
		if !hit {
			continue
		}
		value, _, err := s.cache.load(ctx, t.taskName, t.taskID)
		if err != nil {
			// A corrupt entry is treated as a miss; it will be recomputed
			// and overwritten by a successful Store.
			logger.Warn("taskgraph: cache entry unusable, recomputing", "task_name", t.taskName, "task_id", t.taskID, "error", err)
			continue
		}
		values[v] = value
		done[v] = true
		stat := &TaskStat{TaskName: t.taskName, TaskID: t.taskID, Origin: OriginCacheHit, Slots: slotsOf(t), FinishedAt: time.Now()}
		statOf[v] = stat
		stats.Tasks = append(stats.Tasks, *stat)
		logger.Debug("taskgraph: cache hit", "task_name", t.taskName, "task_id", t.taskID)
	}

	// depCount is computed after the cache-hit sweep so a cache-hit task's
	// dependents don't wait on a body that will never run.
	depCount := make(map[Future]int, len(g.edges))
	var ready []Future
	for v, ups := range g.edges {
		if done[v] {
			continue
		}
		n := 0
		for _, u := range ups {
			if !done[u] {
				n++
			}
		}
		depCount[v] = n
		if n == 0 {
			ready = append(ready, v)
		}
	}
	sortVertices(ready)

	inFlight := make(map[Future]<-chan JobResult)
	completions := make(chan completion)
	draining := false
	var drainCause error

	markDone := func(v Future, value any) []Future {
		values[v] = value
		done[v] = true
		var newlyReady []Future
		for _, dep := range dependents[v] {
			depCount[dep]--
			if depCount[dep] == 0 && !done[dep] {
				newlyReady = append(newlyReady, dep)
			}
		}
		return newlyReady
	}

	dispatchTask := func(t *Task) {
		slots := slotsOf(t)
		stat := &TaskStat{TaskName: t.taskName, TaskID: t.taskID, Slots: slots, QueuedAt: time.Now()}
		statOf[t] = stat

		prefix := s.prefixFor(t)
		job := s.buildJob(t, prefix, values)
		stat.StartedAt = time.Now()
		if prefix != "" {
			stat.Origin = OriginDispatched
		} else {
			stat.Origin = OriginComputed
		}
		logger.Debug("taskgraph: task queued", "task_name", t.taskName, "task_id", t.taskID, "origin", stat.Origin)
		resultCh := s.executor.Submit(ctx, job)
		inFlight[t] = resultCh
		go func() {
			res := <-resultCh
			completions <- completion{vertex: t, value: res.Value, stdout: res.Stdout, stderr: res.Stderr, err: res.Err}
		}()
	}

	releaseTask := func(t *Task) {
		for _, slot := range slotsOf(t) {
			if sem := semFor(slot); sem != nil {
				sem.Release(1)
			}
		}
	}

	for {
		if done[root] {
			return values[root], stats, nil
		}
		if draining && len(inFlight) == 0 {
			return nil, stats, drainCause
		}

		var stillPending []Future
		progressed := false
		for _, v := range ready {
			if done[v] {
				continue
			}
			if draining {
				stillPending = append(stillPending, v)
				continue
			}
			t, isTask := v.(*Task)
			if !isTask {
				value, err := v.resolve(ctx, values)
				if err != nil {
					draining = true
					drainCause = err
					stillPending = append(stillPending, v)
					continue
				}
				newlyReady := markDone(v, value)
				stillPending = append(stillPending, newlyReady...)
				progressed = true
				continue
			}

			acquired := true
			var held []*semaphore.Weighted
			for _, slot := range slotsOf(t) {
				sem := semFor(slot)
				if sem == nil {
					continue
				}
				if !sem.TryAcquire(1) {
					acquired = false
					break
				}
				held = append(held, sem)
			}
			if !acquired {
				for _, sem := range held {
					sem.Release(1)
				}
				stillPending = append(stillPending, v)
				continue
			}
			dispatchTask(t)
			progressed = true
		}
		ready = stillPending
		sortVertices(ready)

		if len(ready) == 0 && len(inFlight) == 0 && !done[root] && !draining {
			err := fmt.Errorf("taskgraph: scheduler deadlocked: no ready tasks, none in flight, root unresolved")
			logger.Error("taskgraph: scheduler deadlocked", "error", err)
			return nil, stats, err
		}

		needsWait := len(inFlight) > 0 && (!progressed || len(ready) > 0 || draining)
		if !needsWait {
			continue
		}

		c := <-completions
		t := c.vertex.(*Task)
		delete(inFlight, t)
		releaseTask(t)

		stat := statOf[t]
		stat.FinishedAt = time.Now()

		if c.err != nil {
			logger.Error("taskgraph: task failed, draining in-flight work", "task_name", t.taskName, "task_id", t.taskID, "error", c.err)
			draining = true
			if drainCause == nil {
				drainCause = &TaskFailedError{TaskName: t.taskName, TaskID: t.taskID, Cause: c.err}
			}
			stats.Tasks = append(stats.Tasks, *stat)
			continue
		}

		argsJSON := t.argsJSON
		if err := s.cache.put(ctx, t.taskName, t.taskID, c.value, argsJSON, t.compressLevel); err != nil {
			logger.Error("taskgraph: persisting task result failed, draining in-flight work", "task_name", t.taskName, "task_id", t.taskID, "error", err)
			draining = true
			if drainCause == nil {
				drainCause = &TaskFailedError{TaskName: t.taskName, TaskID: t.taskID, Cause: fmt.Errorf("persisting result: %w", err)}
			}
			stats.Tasks = append(stats.Tasks, *stat)
			continue
		}

		logger.Debug("taskgraph: task finished", "task_name", t.taskName, "task_id", t.taskID)
		stats.Tasks = append(stats.Tasks, *stat)
		newlyReady := markDone(t, c.value)
		ready = append(ready, newlyReady...)
		sortVertices(ready)
	}
}

// buildJob closes over a task's resolved upstream values and returns the
// Job the executor runs: either the body in-process, or a subprocess
// wrapped in the resolved prefix command.
func (s *Scheduler) buildJob(t *Task, prefix string, values map[Future]any) Job {
	if prefix == "" {
		return func(ctx context.Context) JobResult {
			if _, err := s.cache.scratchDir(ctx, t.taskName, t.taskID); err != nil {
				return JobResult{Err: fmt.Errorf("preparing entry dir for capture files: %w", err)}
			}
			stdoutPath, stderrPath := s.cache.pathsFor(t.taskName, t.taskID)
			outF, err := os.Create(stdoutPath)
			if err != nil {
				return JobResult{Err: fmt.Errorf("creating stdout capture file: %w", err)}
			}
			defer outF.Close()
			errF, err := os.Create(stderrPath)
			if err != nil {
				return JobResult{Err: fmt.Errorf("creating stderr capture file: %w", err)}
			}
			defer errF.Close()

			ctx = WithStreams(ctx, TaskStreams{Stdout: outF, Stderr: errF})
			value, err := t.runBody(ctx, values)
			if err != nil {
				return JobResult{Err: err}
			}
			return JobResult{Value: value}
		}
	}
	return func(ctx context.Context) JobResult {
		selfExe := s.selfExe
		if selfExe == "" {
			var err error
			selfExe, err = selfExecutable()
			if err != nil {
				return JobResult{Err: err}
			}
		}

		resolved := substituteResolved(map[string]any(t.args), values)
		payload := DispatchPayload{
			ResolvedArgs:  resolved.(map[string]any),
			ArgsJSON:      t.argsJSON,
			CompressLevel: t.compressLevel,
		}
		argsBlob, err := json.Marshal(payload)
		if err != nil {
			return JobResult{Err: fmt.Errorf("encoding resolved args for dispatch: %w", err)}
		}
		scratch, err := s.cache.scratchDir(ctx, t.taskName, t.taskID)
		if err != nil {
			return JobResult{Err: fmt.Errorf("preparing scratch dir for dispatch: %w", err)}
		}
		argsPath := filepath.Join(scratch, "args.json")
		if err := os.WriteFile(argsPath, argsBlob, 0o644); err != nil {
			return JobResult{Err: fmt.Errorf("writing resolved args for dispatch: %w", err)}
		}

		stdoutPath, stderrPath := s.cache.pathsFor(t.taskName, t.taskID)
		if err := dispatchSubprocess(ctx, selfExe, prefix, t.taskName, t.taskID, s.cache.cachePathHint(), argsPath, stdoutPath, stderrPath); err != nil {
			return JobResult{Err: err}
		}
		value, _, err := s.cache.load(ctx, t.taskName, t.taskID)
		if err != nil {
			return JobResult{Err: fmt.Errorf("loading result written by dispatched child: %w", err)}
		}
		return JobResult{Value: value}
	}
}

// sortVertices orders a ready set deterministically: Task vertices first by
// (task_name, task_id) lexical order, then every other Future by its own
// sort key, so tie-breaking is reproducible across runs and across test
// assertions on dispatch order.
func sortVertices(vs []Future) {
	sort.Slice(vs, func(i, j int) bool { return vertexSortKey(vs[i]) < vertexSortKey(vs[j]) })
}

// selfExecutable resolves the path to this running binary for re-invocation
// as the child of a prefix-command dispatch.
func selfExecutable() (string, error) {
	path, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolving self executable: %w", err)
	}
	return path, nil
}
