package heartbeat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// cacheTTL bounds how stale the cache may get on filesystems where
// watches are unreliable (network mounts, some containers).
const cacheTTL = 5 * time.Second

// Store serves the heartbeat file to the server. Reads come from an
// in-memory copy invalidated by fsnotify events, with a TTL fallback.
// The store never writes the file; workers own it.
type Store struct {
	path string

	mu       sync.RWMutex
	cache    File
	loadedAt time.Time

	watcher *fsnotify.Watcher
	dirty   atomic.Bool
}

func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, FileName)}
}

// Start begins watching the heartbeat directory. Without Start the
// store still works, reloading whenever the TTL expires.
func (s *Store) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create heartbeat watcher: %w", err)
	}

	// Watch the directory, not the file. Workers replace the file by
	// rename, which changes the inode a file watch would be pinned to.
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to create heartbeat directory: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	s.watcher = watcher
	s.dirty.Store(true)
	go s.watchLoop()
	return nil
}

func (s *Store) watchLoop() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != FileName {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.dirty.Store(true)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("heartbeat: watcher error", "error", err)
		}
	}
}

func (s *Store) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Snapshot returns the latest heartbeat map. Callers must not modify
// the returned map.
func (s *Store) Snapshot() (File, error) {
	s.mu.RLock()
	fresh := s.cache != nil && !s.dirty.Load() && time.Since(s.loadedAt) < cacheTTL
	cache := s.cache
	s.mu.RUnlock()

	if fresh {
		return cache, nil
	}
	return s.Refresh()
}

// Refresh reloads the file from disk unconditionally.
func (s *Store) Refresh() (File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	s.cache = f
	s.loadedAt = time.Now()
	s.dirty.Store(false)
	return f, nil
}
