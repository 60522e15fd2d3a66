package janitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opshub/bridge/internal/config"
	"github.com/opshub/bridge/internal/event"
	eventrepositoryimpl "github.com/opshub/bridge/internal/event/repositoryimpl"
	"github.com/opshub/bridge/internal/task"
	taskrepositoryimpl "github.com/opshub/bridge/internal/task/repositoryimpl"
	"github.com/opshub/bridge/pkg/storage"
)

func newTaskID() string {
	return ulid.Make().String()
}

func newJanitor(t *testing.T, trashRetention, eventRetention time.Duration) (*Janitor, task.Repository, event.Repository) {
	t.Helper()
	st, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	tasks := taskrepositoryimpl.NewJSONRepository(st)
	events := eventrepositoryimpl.NewJSONRepository(st)
	j, err := New(&config.JanitorEnv{
		Schedule:       "0 3 * * *",
		TrashRetention: trashRetention,
		EventRetention: eventRetention,
	}, tasks, events)
	require.NoError(t, err)
	return j, tasks, events
}

func trashTask(t *testing.T, tasks task.Repository, title string) *task.Task {
	t.Helper()
	ctx := context.Background()
	tk := &task.Task{
		ID:        newTaskID(),
		Title:     title,
		Lane:      task.LaneDone,
		Priority:  task.PriorityP2,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, tasks.Create(ctx, tk))
	require.NoError(t, tasks.Delete(ctx, tk.ID))
	return tk
}

func TestNewRejectsBadSchedule(t *testing.T) {
	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = New(&config.JanitorEnv{Schedule: "not a schedule"},
		taskrepositoryimpl.NewJSONRepository(st), eventrepositoryimpl.NewJSONRepository(st))
	assert.Error(t, err)
}

func TestRunOncePurgesExpiredTrash(t *testing.T) {
	j, tasks, _ := newJanitor(t, 0, time.Hour)
	ctx := context.Background()

	trashTask(t, tasks, "stale trash")

	require.NoError(t, j.RunOnce(ctx))

	left, err := tasks.ListTrash(ctx)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestRunOnceKeepsFreshTrash(t *testing.T) {
	j, tasks, _ := newJanitor(t, time.Hour, time.Hour)
	ctx := context.Background()

	tk := trashTask(t, tasks, "fresh trash")

	require.NoError(t, j.RunOnce(ctx))

	left, err := tasks.ListTrash(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, tk.ID, left[0].ID)
}

func TestRunOncePurgesOldEvents(t *testing.T) {
	j, _, events := newJanitor(t, time.Hour, 0)
	ctx := context.Background()

	ev := event.New(event.TypeTaskCreated, newTaskID(), "", "old")
	require.NoError(t, events.Append(ctx, ev))

	require.NoError(t, j.RunOnce(ctx))

	left, total, err := events.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, left)
	assert.Zero(t, total)
}

func TestRunOnceKeepsRecentEvents(t *testing.T) {
	j, _, events := newJanitor(t, time.Hour, time.Hour)
	ctx := context.Background()

	ev := event.New(event.TypeTaskCreated, newTaskID(), "", "recent")
	require.NoError(t, events.Append(ctx, ev))

	require.NoError(t, j.RunOnce(ctx))

	_, total, err := events.List(ctx, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestStartStop(t *testing.T) {
	j, _, _ := newJanitor(t, time.Hour, time.Hour)

	require.NoError(t, j.Start())
	assert.Error(t, j.Start(), "second start must fail")
	j.Stop()
	require.NoError(t, j.Start())
	j.Stop()
}
