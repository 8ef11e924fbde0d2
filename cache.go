package taskgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vk/taskgraph/codec"
	"github.com/vk/taskgraph/compressor"
	"github.com/vk/taskgraph/internal/cachestore"
	"github.com/vk/taskgraph/internal/ctxlog"
)

// ValueCodec encodes and decodes arbitrary in-memory task outputs to bytes
// for cache storage. It is an external collaborator: the engine only
// depends on this interface, never on a concrete serialization format.
type ValueCodec interface {
	// Tag identifies the codec; it is recorded in cache metadata and
	// re-checked on load so a mismatched codec surfaces as ErrCacheCorrupt
	// rather than silently misdecoding bytes.
	Tag() string
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Compressor optionally compresses/decompresses cache entry bytes. It backs
// a task's task_compress_level; a task with level 0 never calls it.
type Compressor interface {
	Tag() string
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// Cache is the explicit handle tasks are constructed against, replacing a
// process-global scope stack with a value
// passed at the call site. It owns a durable CacheStore plus the codec and
// compressor collaborators used to round-trip task outputs.
type Cache struct {
	store      cachestore.Store
	codec      ValueCodec
	compressor Compressor
	dir        string
}

// CacheOption configures optional Cache collaborators.
type CacheOption func(*Cache)

// WithCodec overrides the default msgpack ValueCodec.
func WithCodec(c ValueCodec) CacheOption {
	return func(cache *Cache) { cache.codec = c }
}

// WithCompressor overrides the default zstd Compressor.
func WithCompressor(c Compressor) CacheOption {
	return func(cache *Cache) { cache.compressor = c }
}

// withStore is a test seam letting cache_test.go inject a fault-injecting
// Store without exporting cachestore.Store in the public API.
func withStore(s cachestore.Store) CacheOption {
	return func(cache *Cache) { cache.store = s }
}

// OpenCache installs a filesystem-backed cache rooted at dir. Stale staging
// files from a prior crash are cleared on open.
func OpenCache(ctx context.Context, dir string, opts ...CacheOption) (*Cache, error) {
	c := &Cache{
		codec:      codec.NewMsgpack(),
		compressor: compressor.NewZstd(),
		dir:        dir,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		store, err := cachestore.Open(ctx, dir)
		if err != nil {
			return nil, fmt.Errorf("opening cache: %w", err)
		}
		c.store = store
	}
	return c, nil
}

// cacheCtxKey is the unexported key this Cache is attached to a
// context.Context under, mirroring ctxlog.WithLogger/FromContext.
type cacheCtxKey struct{}

// WithContext attaches cache to ctx for ambient access by code that would
// otherwise need it threaded through every call. Task construction still
// requires an explicit *Cache parameter (see NewTask); this helper exists
// for callers building a tree of helper functions that all need the same
// cache without repeating the parameter everywhere.
func WithContext(ctx context.Context, cache *Cache) context.Context {
	return context.WithValue(ctx, cacheCtxKey{}, cache)
}

// FromContext retrieves the Cache attached by WithContext. It returns a
// *UsageError, not a panic, since construction outside any cache binding is
// a condition calling code should be able to recover from.
func FromContext(ctx context.Context) (*Cache, error) {
	c, ok := ctx.Value(cacheCtxKey{}).(*Cache)
	if !ok || c == nil {
		return nil, &UsageError{Reason: "no *Cache bound to context; construct one with OpenCache and attach it via WithContext"}
	}
	return c, nil
}

// has reports whether a complete entry exists for the task.
func (c *Cache) has(ctx context.Context, taskName, taskID string) (bool, error) {
	return c.store.Has(ctx, taskName, taskID)
}

// load decodes a stored entry's output value.
func (c *Cache) load(ctx context.Context, taskName, taskID string) (any, []byte, error) {
	logger := ctxlog.FromContext(ctx)
	entry, err := c.store.Load(ctx, taskName, taskID)
	if err != nil {
		if errors.Is(err, cachestore.ErrMiss) {
			return nil, nil, ErrCacheMiss
		}
		if errors.Is(err, cachestore.ErrCorrupt) {
			return nil, nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
		}
		return nil, nil, err
	}
	payload := entry.Output
	if entry.CompressLevel > 0 {
		payload, err = c.compressor.Decompress(payload)
		if err != nil {
			logger.Warn("cache: entry failed to decompress, treating as corrupt", "task_name", taskName, "task_id", taskID, "error", err)
			return nil, nil, fmt.Errorf("%w: decompressing entry: %v", ErrCacheCorrupt, err)
		}
	}
	if entry.CodecTag != c.codec.Tag() {
		logger.Warn("cache: entry codec tag mismatch, treating as corrupt", "task_name", taskName, "task_id", taskID, "entry_codec", entry.CodecTag, "configured_codec", c.codec.Tag())
		return nil, nil, fmt.Errorf("%w: codec tag mismatch: entry has %q, configured codec is %q", ErrCacheCorrupt, entry.CodecTag, c.codec.Tag())
	}
	value, err := c.codec.Decode(payload)
	if err != nil {
		logger.Warn("cache: entry failed to decode, treating as corrupt", "task_name", taskName, "task_id", taskID, "error", err)
		return nil, nil, fmt.Errorf("%w: decoding entry: %v", ErrCacheCorrupt, err)
	}
	return value, entry.ArgsJSON, nil
}

// DispatchPayload is the wire contract written to a scratch file for a
// subprocess-dispatched task's child invocation: its already-resolved
// argument record for running the body, plus the bookkeeping the child needs
// to persist its own result (the canonical argument JSON and compression
// level the parent already computed, so the child never recomputes identity).
type DispatchPayload struct {
	ResolvedArgs  map[string]any  `json:"resolved_args"`
	ArgsJSON      json.RawMessage `json:"args_json"`
	CompressLevel int             `json:"compress_level"`
}

// PersistDispatchResult is the exported counterpart of put, used by a
// dispatched child process (running in a different package, so it cannot
// reach the unexported method) to store the body's output it just computed.
func (c *Cache) PersistDispatchResult(ctx context.Context, taskName, taskID string, value any, payload DispatchPayload) error {
	return c.put(ctx, taskName, taskID, value, payload.ArgsJSON, payload.CompressLevel)
}

// put persists a task's resolved output.
func (c *Cache) put(ctx context.Context, taskName, taskID string, value any, argsJSON []byte, compressLevel int) error {
	payload, err := c.codec.Encode(value)
	if err != nil {
		return fmt.Errorf("encoding task output: %w", err)
	}
	if compressLevel > 0 {
		payload, err = c.compressor.Compress(payload, compressLevel)
		if err != nil {
			return fmt.Errorf("compressing task output: %w", err)
		}
	}
	return c.store.Store(ctx, taskName, taskID, cachestore.Entry{
		Output:        payload,
		CodecTag:      c.codec.Tag(),
		CompressLevel: compressLevel,
		ArgsJSON:      argsJSON,
	})
}

// scratchDir returns the always-existing scratch directory for a task entry.
func (c *Cache) scratchDir(ctx context.Context, taskName, taskID string) (string, error) {
	return c.store.ScratchDir(ctx, taskName, taskID)
}

func (c *Cache) pathsFor(taskName, taskID string) (stdout, stderr string) {
	return c.store.PathsFor(taskName, taskID)
}

// cachePathHint returns the directory this Cache was opened against, for
// passing down to a dispatched child process's --cache flag. A Cache
// constructed with an injected store (withStore, test-only) has no
// directory and returns "".
func (c *Cache) cachePathHint() string {
	return c.dir
}

// ClearTask removes exactly t's cache entry; sibling instances of the same
// or other task types are unaffected.
func ClearTask(ctx context.Context, cache *Cache, t *Task) error {
	return cache.store.Drop(ctx, t.taskName, t.taskID)
}

// ClearAllTasks removes every cache entry for the given task name.
func ClearAllTasks(ctx context.Context, cache *Cache, taskName string) error {
	return cache.store.DropAll(ctx, taskName)
}

// ClearEverything removes every cache entry of every task name.
func ClearEverything(ctx context.Context, cache *Cache) error {
	return cache.store.DropEverything(ctx)
}
