package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	// lockRetryInterval is how often TryLockContext polls for the lock.
	lockRetryInterval = 100 * time.Millisecond
	// lockTimeout bounds how long one beat may wait for the file lock.
	lockTimeout = 5 * time.Second
)

// Writer updates one slot's entry in the shared heartbeat file.
//
// Workers on the same host all write the same file. A lock file
// serializes the read-modify-write across processes, and the write
// itself is temp-file-plus-rename so readers never observe a torn file.
// The server only ever reads.
type Writer struct {
	path      string
	slotID    string
	startedAt time.Time
	beats     int64
}

func NewWriter(dir, slotID string) *Writer {
	return &Writer{
		path:      filepath.Join(dir, FileName),
		slotID:    slotID,
		startedAt: time.Now(),
	}
}

// Beat merges the record into the shared file, stamping it with the
// current time and a monotonically increasing beat counter.
func (w *Writer) Beat(ctx context.Context, rec Record) error {
	return w.update(ctx, func(f File) {
		w.beats++
		rec.LastUpdate = time.Now()
		rec.StartedAt = w.startedAt
		rec.Beats = w.beats
		f[w.slotID] = rec
	})
}

// Clear removes the slot's entry so the board shows the slot offline
// immediately instead of after the staleness window.
func (w *Writer) Clear(ctx context.Context) error {
	return w.update(ctx, func(f File) {
		delete(f, w.slotID)
	})
}

func (w *Writer) update(ctx context.Context, apply func(File)) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create heartbeat directory: %w", err)
	}

	lock := flock.New(w.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("failed to acquire heartbeat lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("heartbeat lock is held by another process")
	}
	defer func() {
		_ = lock.Unlock()
	}()

	f, err := ReadFile(w.path)
	if err != nil {
		return err
	}

	apply(f)

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat file: %w", err)
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write heartbeat file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace heartbeat file: %w", err)
	}
	return nil
}
