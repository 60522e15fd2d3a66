package worker_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opshub/bridge/internal/dispatch"
	eventrepo "github.com/opshub/bridge/internal/event/repositoryimpl"
	"github.com/opshub/bridge/internal/eventbus"
	"github.com/opshub/bridge/internal/heartbeat"
	"github.com/opshub/bridge/internal/slot"
	"github.com/opshub/bridge/internal/task"
	taskrepo "github.com/opshub/bridge/internal/task/repositoryimpl"
	"github.com/opshub/bridge/internal/worker"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/storage"
)

const rosterYAML = `slots:
  - id: dev-1
    label: Dev One
    role: dev
  - id: dev-2
    label: Dev Two
`

func newFixture(t *testing.T) (*task.Service, *slot.Roster, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := storage.NewLocalStorage(filepath.Join(dir, "data"))
	require.NoError(t, err)
	svc := task.NewService(taskrepo.NewJSONRepository(st), eventrepo.NewJSONRepository(st), eventbus.New())
	roster, err := slot.ParseRoster([]byte(rosterYAML))
	require.NoError(t, err)
	return svc, roster, filepath.Join(dir, "beats")
}

func TestViewsJoinsBoardColumns(t *testing.T) {
	ctx := context.Background()
	svc, roster, beatDir := newFixture(t)

	tk, err := svc.Create(ctx, task.CreateParams{Title: "Wire the pager"})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, tk.ID, "dev-1")
	require.NoError(t, err)

	require.NoError(t, heartbeat.NewWriter(beatDir, "dev-1").Beat(ctx, heartbeat.Record{
		Status:    heartbeat.AgentRunning,
		TaskID:    tk.ID,
		TaskTitle: tk.Title,
	}))

	srv := worker.NewServer(roster, svc, heartbeat.NewStore(beatDir), 45*time.Second)
	views, err := srv.Views(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, "dev-1", views[0].Slot)
	assert.Equal(t, "Dev One", views[0].Label)
	assert.Equal(t, heartbeat.StatusWorking, views[0].Status)
	assert.Equal(t, tk.ID, views[0].TaskID)
	assert.Equal(t, "Wire the pager", views[0].Task)
	assert.Equal(t, heartbeat.AgentRunning, views[0].AgentStatus)
	assert.EqualValues(t, 1, views[0].Beats)
	require.NotNil(t, views[0].LastBeatAt)

	assert.Equal(t, "dev-2", views[1].Slot)
	assert.Equal(t, heartbeat.StatusOffline, views[1].Status)
	assert.Empty(t, views[1].TaskID)
	assert.Nil(t, views[1].LastBeatAt)
}

func TestViewsWorkingWithoutBeats(t *testing.T) {
	// A crashed worker's assigned task still shows working. The task
	// columns come from the task store, never from the heartbeat file.
	ctx := context.Background()
	svc, roster, beatDir := newFixture(t)

	tk, err := svc.Create(ctx, task.CreateParams{Title: "Rotate the logs"})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, tk.ID, "dev-1")
	require.NoError(t, err)

	srv := worker.NewServer(roster, svc, heartbeat.NewStore(beatDir), 45*time.Second)
	views, err := srv.Views(ctx)
	require.NoError(t, err)

	assert.Equal(t, heartbeat.StatusWorking, views[0].Status)
	assert.Empty(t, views[0].AgentStatus)
	assert.Equal(t, heartbeat.StatusOffline, views[1].Status)
}

func TestViewsStaleBeatGoesOffline(t *testing.T) {
	ctx := context.Background()
	svc, roster, beatDir := newFixture(t)

	require.NoError(t, heartbeat.NewWriter(beatDir, "dev-1").Beat(ctx, heartbeat.Record{Status: heartbeat.AgentIdle}))

	store := heartbeat.NewStore(beatDir)
	fresh := worker.NewServer(roster, svc, store, 45*time.Second)
	views, err := fresh.Views(ctx)
	require.NoError(t, err)
	assert.Equal(t, heartbeat.StatusIdle, views[0].Status)

	stale := worker.NewServer(roster, svc, store, time.Nanosecond)
	views, err = stale.Views(ctx)
	require.NoError(t, err)
	assert.Equal(t, heartbeat.StatusOffline, views[0].Status)
}

func TestHandleWorkers(t *testing.T) {
	ctx := context.Background()
	svc, roster, beatDir := newFixture(t)

	require.NoError(t, heartbeat.NewWriter(beatDir, "dev-2").Beat(ctx, heartbeat.Record{Status: heartbeat.AgentIdle}))

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(cerr.NewJSONResponseChiMiddleware())
		worker.NewServer(roster, svc, heartbeat.NewStore(beatDir), 45*time.Second).RegisterRoutes(r)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/workers", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	// The board endpoint is a bare array, one row per slot in roster order.
	var views []worker.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, "dev-1", views[0].Slot)
	assert.Equal(t, heartbeat.StatusOffline, views[0].Status)
	assert.Equal(t, heartbeat.StatusIdle, views[1].Status)
}

// TestBoardRoundTrip drives the whole cycle over HTTP: a created task is
// auto-assigned to the one live slot, the board shows it working, and
// completing it frees the slot again.
func TestBoardRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, roster, beatDir := newFixture(t)

	require.NoError(t, heartbeat.NewWriter(beatDir, "dev-1").Beat(ctx, heartbeat.Record{Status: heartbeat.AgentIdle}))

	store := heartbeat.NewStore(beatDir)
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(cerr.NewJSONResponseChiMiddleware())
		task.NewServer(svc, dispatch.New(svc, roster, store)).RegisterRoutes(r)
		worker.NewServer(roster, svc, store, 45*time.Second).RegisterRoutes(r)
	})

	do := func(method, path string, body io.Reader) *httptest.ResponseRecorder {
		t.Helper()
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(method, path, body))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return rec
	}
	board := func() []worker.View {
		t.Helper()
		rec := do(http.MethodGet, "/api/workers", nil)
		var views []worker.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		require.Len(t, views, 2)
		return views
	}

	rec := do(http.MethodPost, "/api/tasks", strings.NewReader(`{"title":"Rotate the pager","priority":"P1"}`))
	var created task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, task.LaneQueued, created.Lane)
	require.Equal(t, task.PriorityP1, created.Priority)

	rec = do(http.MethodPost, "/api/tasks/"+created.ID+"/auto-assign", nil)
	var assigned task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assigned))
	assert.Equal(t, task.LaneDevelopment, assigned.Lane)
	assert.Equal(t, "dev-1", assigned.Owner)

	views := board()
	assert.Equal(t, heartbeat.StatusWorking, views[0].Status)
	assert.Equal(t, "Rotate the pager", views[0].Task)

	rec = do(http.MethodPost, "/api/tasks/"+created.ID+"/complete", nil)
	var done task.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, task.LaneReview, done.Lane)
	assert.Empty(t, done.Owner)

	views = board()
	assert.Equal(t, heartbeat.StatusIdle, views[0].Status)
	assert.Empty(t, views[0].Task)
	assert.Empty(t, views[0].TaskID)
}
