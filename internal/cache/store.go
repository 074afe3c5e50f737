// Package cache stores results of expensive external calls, addressed by
// content-derived keys. Entries are immutable once written; a rerun over
// unchanged inputs reads every result from here and calls nothing.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/entolabel/specimen-digitizer/internal/common"
)

// Entry is one cached result.
type Entry struct {
	Key              string          `json:"key"`
	Stage            string          `json:"stage"`
	InputFingerprint string          `json:"inputFingerprint"`
	Result           json.RawMessage `json:"result"`
	Timestamp        string          `json:"timestamp"`
}

// Store provides lookup and insertion of cached results.
type Store interface {
	// Get returns the entry for key, or found=false on a miss. Unreadable or
	// unparseable entries count as misses and are logged, never returned.
	Get(key string) (*Entry, bool)

	// Put stores an entry under key. Existing entries are kept as-is, so
	// writing the same key twice is a no-op. Only an unusable storage layer
	// makes Put fail.
	Put(key string, entry Entry) error
}

// FSStore keeps entries on disk under root/<stage>/<key[:2]>/<key>.json.
type FSStore struct {
	root   string
	logger *slog.Logger
}

// NewFSStore creates the cache root if needed.
func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		return nil, common.NewAppError("CACHE_ROOT", "cache root is required", common.ErrStorage)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, common.NewAppError("CACHE_ROOT", "creating cache root", fmt.Errorf("%w: %w", common.ErrStorage, err))
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) Get(key string) (*Entry, bool) {
	if len(key) < 2 {
		return nil, false
	}
	stages, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn("cache.get.root_unreadable", "error", err)
		return nil, false
	}
	for _, stage := range stages {
		if !stage.IsDir() {
			continue
		}
		path := filepath.Join(s.root, stage.Name(), key[:2], key+".json")
		entry, ok := s.readEntry(path, key)
		if ok {
			return entry, true
		}
	}
	return nil, false
}

// readEntry loads one entry file. Any failure past os.IsNotExist is treated
// as a corrupt entry: logged and reported as a miss.
func (s *FSStore) readEntry(path, key string) (*Entry, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cache.entry.unreadable", "path", path, "error", err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Warn("cache.entry.corrupt", "path", path, "error", fmt.Errorf("%w: %w", common.ErrCacheCorrupt, err))
		return nil, false
	}
	if entry.Key != key || entry.Result == nil {
		s.logger.Warn("cache.entry.corrupt", "path", path, "error", common.ErrCacheCorrupt)
		return nil, false
	}
	return &entry, true
}

func (s *FSStore) Put(key string, entry Entry) error {
	if len(key) < 2 {
		return common.NewAppError("CACHE_KEY", "cache key too short", common.ErrInvalidInput)
	}
	if entry.Stage == "" {
		return common.NewAppError("CACHE_STAGE", "cache entry stage is required", common.ErrInvalidInput)
	}
	entry.Key = key
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	dir := filepath.Join(s.root, entry.Stage, key[:2])
	path := filepath.Join(dir, key+".json")
	// A valid entry is never replaced. A corrupt one may be rewritten after
	// the caller recomputed the result.
	if _, ok := s.readEntry(path, key); ok {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return common.NewAppError("CACHE_WRITE", "creating cache directory", fmt.Errorf("%w: %w", common.ErrStorage, err))
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return common.NewAppError("CACHE_WRITE", "marshaling cache entry", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return common.NewAppError("CACHE_WRITE", "writing cache entry", fmt.Errorf("%w: %w", common.ErrStorage, err))
	}
	return nil
}

// writeFileAtomic writes via a temp file in the same directory and renames it
// into place, so a crash never leaves a partial entry at the final path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// MemoryStore keeps entries in memory. Used by tests and one-shot tools.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Get(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	out := entry
	out.Result = append(json.RawMessage(nil), entry.Result...)
	return &out, true
}

func (s *MemoryStore) Put(key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; exists {
		return nil
	}
	entry.Key = key
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	entry.Result = append(json.RawMessage(nil), entry.Result...)
	s.entries[key] = entry
	return nil
}
