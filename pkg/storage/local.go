package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LocalStorage keeps records as plain files under a base directory. Paths
// map directly to file paths, so the data stays greppable and editable
// with ordinary tools.
type LocalStorage struct {
	base string
	mu   sync.RWMutex
}

func NewLocalStorage(basePath string) (*LocalStorage, error) {
	base, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{base: base}, nil
}

// join maps a storage path to a file path. Rooting the path before Clean
// strips any ../ segments, so records cannot escape the base directory.
func (l *LocalStorage) join(path string) string {
	return filepath.Join(l.base, filepath.Clean("/"+path))
}

func (l *LocalStorage) Read(_ context.Context, path string) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	data, err := os.ReadFile(l.join(path))
	switch {
	case err == nil:
		return data, nil
	case os.IsNotExist(err):
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
}

func (l *LocalStorage) Write(_ context.Context, path string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	full := l.join(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	// Write-then-rename keeps concurrent readers off half-written files.
	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func (l *LocalStorage) Delete(_ context.Context, path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(l.join(path)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", path, ErrNotFound)
		}
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// List returns the record paths directly under prefix, in lexical order.
// Record names are ULIDs, so lexical order is creation order.
func (l *LocalStorage) List(_ context.Context, prefix string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := os.ReadDir(l.join(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	prefix = strings.Trim(prefix, "/")
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		rel := entry.Name()
		if prefix != "" {
			rel = prefix + "/" + rel
		}
		paths = append(paths, rel)
	}
	return paths, nil
}

func (l *LocalStorage) Exists(_ context.Context, path string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, err := os.Stat(l.join(path)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return true, nil
}
