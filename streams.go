package taskgraph

import (
	"context"
	"io"
)

// streamsCtxKey is the unexported key a TaskStreams pair is attached to a
// context.Context under, following the same ambient-value shape as
// ctxlog.WithLogger/FromContext. An in-process task body that wants its
// output captured the way a subprocess-dispatched task's output is captured
// writes through these, rather than through a globally substituted
// os.Stdout/os.Stderr — swapping a single global stream per goroutine is not
// safe when other tasks are writing concurrently.
type streamsCtxKey struct{}

// TaskStreams is the pair of writers an in-process task body may write its
// captured output to.
type TaskStreams struct {
	Stdout io.Writer
	Stderr io.Writer
}

// WithStreams attaches streams to ctx for a task body to retrieve via
// StreamsFromContext.
func WithStreams(ctx context.Context, streams TaskStreams) context.Context {
	return context.WithValue(ctx, streamsCtxKey{}, streams)
}

// StreamsFromContext retrieves the TaskStreams attached by WithStreams. If
// none was attached, it returns io.Discard for both streams: a task body
// that never checks for capture still runs correctly, it simply produces no
// captured output.
func StreamsFromContext(ctx context.Context) TaskStreams {
	if s, ok := ctx.Value(streamsCtxKey{}).(TaskStreams); ok {
		return s
	}
	return TaskStreams{Stdout: io.Discard, Stderr: io.Discard}
}
