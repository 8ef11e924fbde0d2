package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vk/taskgraph/internal/ctxlog"
)

// FileStore is the filesystem-backed Store. Layout under Root follows the
// engine's external cache directory contract:
//
//	entries/<task_name>/<task_id>/value.bin
//	entries/<task_name>/<task_id>/meta.json
//	entries/<task_name>/<task_id>/scratch/
//	entries/<task_name>/<task_id>/stdout.log
//	entries/<task_name>/<task_id>/stderr.log
//	tmp/ - staging area for atomic writes, cleared on Open
type FileStore struct {
	root string

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex
}

type entryMeta struct {
	CodecTag      string    `json:"codec_tag"`
	CompressLevel int       `json:"compress_level"`
	CreatedAt     time.Time `json:"created_at"`
	ArgsJSON      json.RawMessage `json:"args_json"`
}

// Open prepares a FileStore rooted at dir, creating it if necessary and
// clearing any stale staging files left behind by a prior crash.
func Open(ctx context.Context, dir string) (*FileStore, error) {
	logger := ctxlog.FromContext(ctx)

	if err := os.MkdirAll(filepath.Join(dir, "entries"), 0o755); err != nil {
		return nil, fmt.Errorf("cachestore: creating entries dir: %w", err)
	}
	tmpDir := filepath.Join(dir, "tmp")
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, fmt.Errorf("cachestore: clearing stale tmp dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("cachestore: creating tmp dir: %w", err)
	}
	logger.Debug("cachestore opened", "root", dir)

	return &FileStore{root: dir, keys: make(map[string]*sync.Mutex)}, nil
}

func (s *FileStore) keyMutex(taskName, taskID string) *sync.Mutex {
	key := taskName + "/" + taskID
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	m, ok := s.keys[key]
	if !ok {
		m = &sync.Mutex{}
		s.keys[key] = m
	}
	return m
}

func (s *FileStore) entryDir(taskName, taskID string) string {
	return filepath.Join(s.root, "entries", taskName, taskID)
}

func (s *FileStore) Has(ctx context.Context, taskName, taskID string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.entryDir(taskName, taskID), "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("cachestore: stat meta.json: %w", err)
	}
	return true, nil
}

func (s *FileStore) Load(ctx context.Context, taskName, taskID string) (*Entry, error) {
	logger := ctxlog.FromContext(ctx)
	dir := s.entryDir(taskName, taskID)

	metaBytes, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMiss
		}
		logger.Warn("cachestore: meta.json unreadable, treating entry as corrupt", "task_name", taskName, "task_id", taskID, "error", err)
		return nil, fmt.Errorf("%w: reading meta.json: %v", ErrCorrupt, err)
	}
	var meta entryMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		logger.Warn("cachestore: meta.json unparsable, treating entry as corrupt", "task_name", taskName, "task_id", taskID, "error", err)
		return nil, fmt.Errorf("%w: parsing meta.json: %v", ErrCorrupt, err)
	}

	output, err := os.ReadFile(filepath.Join(dir, "value.bin"))
	if err != nil {
		logger.Warn("cachestore: value.bin unreadable, treating entry as corrupt", "task_name", taskName, "task_id", taskID, "error", err)
		return nil, fmt.Errorf("%w: reading value.bin: %v", ErrCorrupt, err)
	}

	return &Entry{
		Output:        output,
		CodecTag:      meta.CodecTag,
		CompressLevel: meta.CompressLevel,
		CreatedAt:     meta.CreatedAt,
		ArgsJSON:      []byte(meta.ArgsJSON),
	}, nil
}

func (s *FileStore) Store(ctx context.Context, taskName, taskID string, entry Entry) error {
	mu := s.keyMutex(taskName, taskID)
	mu.Lock()
	defer mu.Unlock()

	dir := s.entryDir(taskName, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cachestore: creating entry dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "scratch"), 0o755); err != nil {
		return fmt.Errorf("cachestore: creating scratch dir: %w", err)
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	meta := entryMeta{
		CodecTag:      entry.CodecTag,
		CompressLevel: entry.CompressLevel,
		CreatedAt:     entry.CreatedAt,
		ArgsJSON:      json.RawMessage(entry.ArgsJSON),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("cachestore: marshalling meta.json: %w", err)
	}

	// Value and metadata are each written atomically, value first: a crash
	// between the two writes leaves the new value.bin beside either no
	// meta.json (Has is false, Load reports ErrMiss) or a previous store's
	// meta.json; neither file is ever torn.
	if err := writeFileAtomic(filepath.Join(s.root, "tmp"), filepath.Join(dir, "value.bin"), entry.Output); err != nil {
		return fmt.Errorf("cachestore: writing value.bin: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.root, "tmp"), filepath.Join(dir, "meta.json"), metaBytes); err != nil {
		return fmt.Errorf("cachestore: writing meta.json: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("cachestore: entry stored", "task_name", taskName, "task_id", taskID)
	return nil
}

func (s *FileStore) ScratchDir(ctx context.Context, taskName, taskID string) (string, error) {
	dir := filepath.Join(s.entryDir(taskName, taskID), "scratch")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("cachestore: creating scratch dir: %w", err)
	}
	return dir, nil
}

func (s *FileStore) Drop(ctx context.Context, taskName, taskID string) error {
	mu := s.keyMutex(taskName, taskID)
	mu.Lock()
	defer mu.Unlock()
	if err := os.RemoveAll(s.entryDir(taskName, taskID)); err != nil {
		return fmt.Errorf("cachestore: dropping entry: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("cachestore: entry dropped", "task_name", taskName, "task_id", taskID)
	return nil
}

func (s *FileStore) DropAll(ctx context.Context, taskName string) error {
	if err := os.RemoveAll(filepath.Join(s.root, "entries", taskName)); err != nil {
		return fmt.Errorf("cachestore: dropping task type: %w", err)
	}
	ctxlog.FromContext(ctx).Debug("cachestore: all entries dropped for task name", "task_name", taskName)
	return nil
}

// DropEverything removes every entry of every task name, recreating the
// empty entries directory afterward.
func (s *FileStore) DropEverything(ctx context.Context) error {
	entries := filepath.Join(s.root, "entries")
	if err := os.RemoveAll(entries); err != nil {
		return fmt.Errorf("cachestore: dropping all entries: %w", err)
	}
	if err := os.MkdirAll(entries, 0o755); err != nil {
		return fmt.Errorf("cachestore: recreating entries dir: %w", err)
	}
	ctxlog.FromContext(ctx).Info("cachestore: every cache entry cleared")
	return nil
}

func (s *FileStore) PathsFor(taskName, taskID string) (stdoutPath, stderrPath string) {
	dir := s.entryDir(taskName, taskID)
	return filepath.Join(dir, "stdout.log"), filepath.Join(dir, "stderr.log")
}

// writeFileAtomic stages data in tmpDir then renames it into place, so a
// crash mid-write is never observable as a partial file at path.
func writeFileAtomic(tmpDir, path string, data []byte) error {
	f, err := os.CreateTemp(tmpDir, "entry-*.tmp")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
