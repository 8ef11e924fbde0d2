package taskgraph

import (
	"context"
	"sync"
)

// Job is the unit of work the scheduler hands to an Executor: run a task's
// body (in-process or, if the job closure itself shells out, via a
// subprocess) and report back what happened.
type Job func(ctx context.Context) JobResult

// JobResult carries a Job's outcome: exactly one of Value or Err is set on
// success/failure respectively. Stdout and Stderr can carry captured output
// bytes; the Jobs the Scheduler builds leave them empty, since they write a
// task's output to the entry's stdout.log/stderr.log files instead.
type JobResult struct {
	Value  any
	Stdout []byte
	Stderr []byte
	Err    error
}

// Executor is the minimal contract the scheduler requires of a worker pool:
// submit a job and be notified of its completion on a channel. Any concrete
// executor — goroutine pool, OS-process pool, remote dispatch — satisfies
// it; the scheduler relies on nothing else (no priorities, no cancellation
// past Shutdown).
type Executor interface {
	// Submit schedules job for execution and returns a channel that receives
	// exactly one JobResult when it completes.
	Submit(ctx context.Context, job Job) <-chan JobResult
	// Shutdown stops accepting new work. If wait is true it blocks until
	// every previously submitted job has completed.
	Shutdown(wait bool)
}

// goroutinePoolExecutor is the default Executor: a fixed-size pool of
// goroutines pulling jobs off a shared channel.
type goroutinePoolExecutor struct {
	jobs chan submittedJob
	done chan struct{}
	wg   sync.WaitGroup
}

type submittedJob struct {
	ctx    context.Context
	job    Job
	result chan<- JobResult
}

// NewGoroutinePoolExecutor starts size worker goroutines that run submitted
// jobs concurrently, each on its own goroutine drawn from the pool.
func NewGoroutinePoolExecutor(size int) Executor {
	if size <= 0 {
		size = 1
	}
	e := &goroutinePoolExecutor{
		jobs: make(chan submittedJob),
		done: make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		go e.worker()
	}
	return e
}

func (e *goroutinePoolExecutor) worker() {
	for {
		select {
		case sj, ok := <-e.jobs:
			if !ok {
				return
			}
			sj.result <- sj.job(sj.ctx)
			e.wg.Done()
		case <-e.done:
			return
		}
	}
}

func (e *goroutinePoolExecutor) Submit(ctx context.Context, job Job) <-chan JobResult {
	out := make(chan JobResult, 1)
	e.wg.Add(1)
	go func() {
		select {
		case e.jobs <- submittedJob{ctx: ctx, job: job, result: out}:
		case <-e.done:
			out <- JobResult{Err: &DispatchError{Cause: context.Canceled}}
			e.wg.Done()
		}
	}()
	return out
}

func (e *goroutinePoolExecutor) Shutdown(wait bool) {
	close(e.done)
	if wait {
		e.wg.Wait()
	}
}
