// Package cachestore defines the durable-storage contract for task output
// entries and provides a filesystem-backed implementation.
package cachestore

import (
	"context"
	"time"
)

// Entry is a complete, persisted task output plus its metadata.
type Entry struct {
	Output        []byte
	CodecTag      string
	CompressLevel int
	CreatedAt     time.Time
	ArgsJSON      []byte
}

// Store is a durable map from (taskName, taskID) to Entry, with a per-entry
// scratch directory and stdout/stderr capture files. Has and Load may be
// called from any goroutine; Store and Drop are serialised per key by the
// implementation. Once Store returns, a subsequent Has from any caller must
// observe true (monotonic visibility). Every method except PathsFor takes
// ctx so an implementation can pull a logger via ctxlog.FromContext for its
// own lifecycle logging, the same way the rest of the engine does.
type Store interface {
	Has(ctx context.Context, taskName, taskID string) (bool, error)
	Load(ctx context.Context, taskName, taskID string) (*Entry, error)
	Store(ctx context.Context, taskName, taskID string, entry Entry) error
	ScratchDir(ctx context.Context, taskName, taskID string) (string, error)
	Drop(ctx context.Context, taskName, taskID string) error
	DropAll(ctx context.Context, taskName string) error
	DropEverything(ctx context.Context) error
	PathsFor(taskName, taskID string) (stdoutPath, stderrPath string)
}
