package heartbeat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterBeat(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w := NewWriter(dir, "dev-1")
	err := w.Beat(ctx, Record{Status: AgentIdle})
	require.NoError(t, err)

	f, err := ReadFile(w.path)
	require.NoError(t, err)

	rec, ok := f["dev-1"]
	require.True(t, ok, "dev-1 entry missing")
	assert.Equal(t, AgentIdle, rec.Status)
	assert.Equal(t, int64(1), rec.Beats)
	assert.False(t, rec.LastUpdate.IsZero())
	assert.False(t, rec.StartedAt.IsZero())

	// A second beat bumps the counter and keeps the start time.
	err = w.Beat(ctx, Record{Status: AgentRunning, TaskID: "task-1"})
	require.NoError(t, err)

	f, err = ReadFile(w.path)
	require.NoError(t, err)
	rec2 := f["dev-1"]
	assert.Equal(t, int64(2), rec2.Beats)
	assert.Equal(t, AgentRunning, rec2.Status)
	assert.Equal(t, "task-1", rec2.TaskID)
	assert.Equal(t, rec.StartedAt, rec2.StartedAt)
}

func TestWriterPreservesOtherSlots(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w1 := NewWriter(dir, "dev-1")
	w2 := NewWriter(dir, "dev-2")

	require.NoError(t, w1.Beat(ctx, Record{Status: AgentIdle}))
	require.NoError(t, w2.Beat(ctx, Record{Status: AgentRunning, TaskID: "task-9"}))
	require.NoError(t, w1.Beat(ctx, Record{Status: AgentIdle}))

	f, err := ReadFile(w1.path)
	require.NoError(t, err)
	require.Len(t, f, 2)
	assert.Equal(t, int64(2), f["dev-1"].Beats)
	assert.Equal(t, "task-9", f["dev-2"].TaskID)
}

func TestWriterClear(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	w1 := NewWriter(dir, "dev-1")
	w2 := NewWriter(dir, "dev-2")
	require.NoError(t, w1.Beat(ctx, Record{Status: AgentIdle}))
	require.NoError(t, w2.Beat(ctx, Record{Status: AgentIdle}))

	require.NoError(t, w1.Clear(ctx))

	f, err := ReadFile(w1.path)
	require.NoError(t, err)
	_, ok := f["dev-1"]
	assert.False(t, ok, "dev-1 should be gone after Clear")
	_, ok = f["dev-2"]
	assert.True(t, ok, "dev-2 must survive dev-1's Clear")
}

func TestWriterConcurrentBeats(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	const writers = 4
	const beats = 5

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w := NewWriter(dir, []string{"a", "b", "c", "d"}[n])
			for j := 0; j < beats; j++ {
				if err := w.Beat(ctx, Record{Status: AgentIdle}); err != nil {
					t.Errorf("beat failed: %v", err)
					return
				}
			}
		}(i)
	}
	wg.Wait()

	f, err := ReadFile(NewWriter(dir, "a").path)
	require.NoError(t, err)
	require.Len(t, f, writers)
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, int64(beats), f[id].Beats, "slot %s lost beats", id)
	}
}

func TestStoreSnapshotAndRefresh(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := NewStore(dir)

	// Empty snapshot before any worker beats.
	f, err := store.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, f)

	w := NewWriter(dir, "dev-1")
	require.NoError(t, w.Beat(ctx, Record{Status: AgentIdle}))

	// Without the watcher a forced refresh picks up the write.
	f, err = store.Refresh()
	require.NoError(t, err)
	rec, ok := f["dev-1"]
	require.True(t, ok)
	assert.Equal(t, int64(1), rec.Beats)
}

func TestStoreWatcherInvalidatesCache(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := NewStore(dir)
	require.NoError(t, store.Start())
	defer store.Close()

	_, err := store.Snapshot()
	require.NoError(t, err)

	w := NewWriter(dir, "dev-1")
	require.NoError(t, w.Beat(ctx, Record{Status: AgentRunning}))

	// The rename event marks the cache dirty; poll until the snapshot
	// reflects the write.
	assert.Eventually(t, func() bool {
		f, err := store.Snapshot()
		if err != nil {
			return false
		}
		_, ok := f["dev-1"]
		return ok
	}, 3*time.Second, 50*time.Millisecond, "snapshot never picked up the heartbeat")
}
