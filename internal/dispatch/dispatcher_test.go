package dispatch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventrepositoryimpl "github.com/opshub/bridge/internal/event/repositoryimpl"
	"github.com/opshub/bridge/internal/eventbus"
	"github.com/opshub/bridge/internal/heartbeat"
	"github.com/opshub/bridge/internal/slot"
	"github.com/opshub/bridge/internal/task"
	taskrepositoryimpl "github.com/opshub/bridge/internal/task/repositoryimpl"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/storage"
)

type fixture struct {
	dispatcher *Dispatcher
	tasks      *task.Service
	hbDir      string
}

func newFixture(t *testing.T, rosterYAML string) *fixture {
	t.Helper()

	dir := t.TempDir()
	st, err := storage.NewLocalStorage(filepath.Join(dir, "data"))
	require.NoError(t, err)

	bus := eventbus.New()
	tasks := task.NewService(
		taskrepositoryimpl.NewJSONRepository(st),
		eventrepositoryimpl.NewJSONRepository(st),
		bus,
	)

	roster, err := slot.ParseRoster([]byte(rosterYAML))
	require.NoError(t, err)

	hbDir := filepath.Join(dir, "heartbeats")
	return &fixture{
		dispatcher: New(tasks, roster, heartbeat.NewStore(hbDir)),
		tasks:      tasks,
		hbDir:      hbDir,
	}
}

// beat writes a fresh heartbeat so the slot resolves to idle.
func (f *fixture) beat(t *testing.T, slotID string) {
	t.Helper()
	w := heartbeat.NewWriter(f.hbDir, slotID)
	require.NoError(t, w.Beat(context.Background(), heartbeat.Record{Status: heartbeat.AgentIdle}))
}

// staleBeat plants a heartbeat old enough to resolve offline.
func (f *fixture) staleBeat(t *testing.T, slotID string) {
	t.Helper()
	file := heartbeat.File{
		slotID: heartbeat.Record{
			Status:     heartbeat.AgentIdle,
			LastUpdate: time.Now().Add(-10 * time.Minute),
			Beats:      7,
		},
	}
	data, err := json.Marshal(file)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(f.hbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.hbDir, heartbeat.FileName), data, 0o644))
}

func (f *fixture) create(t *testing.T, title string, priority task.Priority, owner string) *task.Task {
	t.Helper()
	tk, err := f.tasks.Create(context.Background(), task.CreateParams{
		Title:    title,
		Lane:     task.LaneQueued,
		Priority: priority,
		Owner:    owner,
	})
	require.NoError(t, err)
	return tk
}

const singleSlot = `
slots:
  - id: dev-1
    label: Dev 1
`

func TestDispatcher_RunOnce_PicksHighestPriority(t *testing.T) {
	f := newFixture(t, singleSlot)
	ctx := context.Background()

	low := f.create(t, "low", task.PriorityP2, "")
	urgent := f.create(t, "urgent", task.PriorityP0, "")
	mid := f.create(t, "mid", task.PriorityP1, "")
	f.beat(t, "dev-1")

	require.NoError(t, f.dispatcher.RunOnce(ctx))

	got, err := f.tasks.Get(ctx, urgent.ID)
	require.NoError(t, err)
	assert.Equal(t, task.LaneDevelopment, got.Lane)
	assert.Equal(t, "dev-1", got.Owner)

	for _, id := range []string{low.ID, mid.ID} {
		got, err := f.tasks.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, task.LaneQueued, got.Lane, "task %s should still be queued", id)
	}

	// The slot is busy now; another pass must not hand it more work.
	require.NoError(t, f.dispatcher.RunOnce(ctx))
	inDev, _, err := f.tasks.List(ctx, task.LaneDevelopment, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, inDev, 1)
}

func TestDispatcher_RunOnce_FIFOWithinPriority(t *testing.T) {
	f := newFixture(t, singleSlot)
	ctx := context.Background()

	first := f.create(t, "first", task.PriorityP1, "")
	second := f.create(t, "second", task.PriorityP1, "")
	f.beat(t, "dev-1")

	require.NoError(t, f.dispatcher.RunOnce(ctx))

	got, err := f.tasks.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, task.LaneDevelopment, got.Lane)

	got, err = f.tasks.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, task.LaneQueued, got.Lane)
}

func TestDispatcher_RunOnce_SkipsSlotsWithoutLiveWorker(t *testing.T) {
	f := newFixture(t, `
slots:
  - id: dev-1
  - id: dev-2
`)
	ctx := context.Background()

	tk := f.create(t, "work", task.PriorityP1, "")
	// Only dev-2 has a live worker.
	f.beat(t, "dev-2")

	require.NoError(t, f.dispatcher.RunOnce(ctx))

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-2", got.Owner)
	assert.Equal(t, task.LaneDevelopment, got.Lane)
}

func TestDispatcher_RunOnce_StaleSlotGetsNoWork(t *testing.T) {
	f := newFixture(t, singleSlot)
	ctx := context.Background()

	tk := f.create(t, "work", task.PriorityP1, "")
	f.staleBeat(t, "dev-1")

	require.NoError(t, f.dispatcher.RunOnce(ctx))

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.LaneQueued, got.Lane)
	assert.Empty(t, got.Owner)
}

func TestDispatcher_RunOnce_HonorsPins(t *testing.T) {
	f := newFixture(t, `
slots:
  - id: dev-1
    role: dev
  - id: review-1
    role: review
`)
	ctx := context.Background()

	pinnedToSlot := f.create(t, "pinned to review-1", task.PriorityP0, "review-1")
	pinnedToRole := f.create(t, "pinned to dev role", task.PriorityP1, "dev")
	f.beat(t, "dev-1")
	f.beat(t, "review-1")

	require.NoError(t, f.dispatcher.RunOnce(ctx))

	got, err := f.tasks.Get(ctx, pinnedToSlot.ID)
	require.NoError(t, err)
	assert.Equal(t, "review-1", got.Owner)
	assert.Equal(t, task.LaneDevelopment, got.Lane)

	got, err = f.tasks.Get(ctx, pinnedToRole.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got.Owner)
	assert.Equal(t, task.LaneDevelopment, got.Lane)
}

func TestDispatcher_RunOnce_PinnedTaskWaitsForItsSlot(t *testing.T) {
	f := newFixture(t, `
slots:
  - id: dev-1
  - id: dev-2
`)
	ctx := context.Background()

	tk := f.create(t, "pinned", task.PriorityP0, "dev-2")
	// Only dev-1 is idle, and it must not steal the pinned task.
	f.beat(t, "dev-1")

	require.NoError(t, f.dispatcher.RunOnce(ctx))

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.LaneQueued, got.Lane)
	assert.Equal(t, "dev-2", got.Owner)
}

func TestDispatcher_RunOnce_OneTaskPerSlotPerTick(t *testing.T) {
	f := newFixture(t, singleSlot)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.create(t, "work", task.PriorityP1, "")
	}
	f.beat(t, "dev-1")

	require.NoError(t, f.dispatcher.RunOnce(ctx))

	inDev, _, err := f.tasks.List(ctx, task.LaneDevelopment, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, inDev, 1)

	queued, _, err := f.tasks.List(ctx, task.LaneQueued, "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, queued, 2)
}

func TestDispatcher_AssignTask(t *testing.T) {
	f := newFixture(t, singleSlot)
	ctx := context.Background()

	tk := f.create(t, "manual", task.PriorityP2, "")
	f.beat(t, "dev-1")

	got, err := f.dispatcher.AssignTask(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", got.Owner)
	assert.Equal(t, task.LaneDevelopment, got.Lane)

	// Already in development.
	_, err = f.dispatcher.AssignTask(ctx, tk.ID)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "got %v", err)
}

func TestDispatcher_AssignTask_NoIdleSlot(t *testing.T) {
	f := newFixture(t, singleSlot)
	ctx := context.Background()

	tk := f.create(t, "waiting", task.PriorityP1, "")
	// No heartbeat at all: the only slot is offline.

	_, err := f.dispatcher.AssignTask(ctx, tk.ID)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition), "got %v", err)

	got, err := f.tasks.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.LaneQueued, got.Lane)
}

func TestDispatcher_AssignTask_NotFound(t *testing.T) {
	f := newFixture(t, singleSlot)

	_, err := f.dispatcher.AssignTask(context.Background(), "no-such-task")
	assert.True(t, cerr.IsCode(err, cerr.NotFound), "got %v", err)
}

func TestDispatcher_StartStop(t *testing.T) {
	f := newFixture(t, singleSlot)
	ctx := context.Background()

	tk := f.create(t, "ticked", task.PriorityP1, "")
	f.beat(t, "dev-1")

	f.dispatcher.SetInterval(50 * time.Millisecond)
	require.NoError(t, f.dispatcher.Start(ctx))

	err := f.dispatcher.Start(ctx)
	require.Error(t, err, "second Start must fail while running")

	assert.Eventually(t, func() bool {
		got, err := f.tasks.Get(ctx, tk.ID)
		return err == nil && got.Lane == task.LaneDevelopment
	}, 3*time.Second, 25*time.Millisecond, "tick never assigned the task")

	require.NoError(t, f.dispatcher.Stop())
	require.NoError(t, f.dispatcher.Start(ctx), "restart after Stop must work")
	require.NoError(t, f.dispatcher.Stop())
}
