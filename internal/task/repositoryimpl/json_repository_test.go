package repositoryimpl

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/storage"
)

func newRepo(t *testing.T) *JSONRepository {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return NewJSONRepository(st)
}

func newTask(title string, lane task.Lane, owner string) *task.Task {
	now := time.Now()
	return &task.Task{
		ID:        ulid.Make().String(),
		Title:     title,
		Lane:      lane,
		Priority:  task.PriorityP2,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestJSONRepositoryCRUD(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	tk := newTask("Fix login bug", task.LaneQueued, "")
	if err := repo.Create(ctx, tk); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	// Creating the same ID twice must fail.
	if err := repo.Create(ctx, tk); !cerr.IsCode(err, cerr.AlreadyExists) {
		t.Errorf("expected AlreadyExists, got %v", err)
	}

	got, err := repo.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Title != tk.Title {
		t.Errorf("expected title %q, got %q", tk.Title, got.Title)
	}
	if got.Lane != task.LaneQueued {
		t.Errorf("expected lane queued, got %s", got.Lane)
	}

	got.Lane = task.LaneDevelopment
	got.Owner = "dev-1"
	if err := repo.Update(ctx, got); err != nil {
		t.Fatalf("failed to update task: %v", err)
	}

	updated, err := repo.Get(ctx, tk.ID)
	if err != nil {
		t.Fatalf("failed to get updated task: %v", err)
	}
	if updated.Owner != "dev-1" {
		t.Errorf("expected owner dev-1, got %q", updated.Owner)
	}

	if _, err := repo.Get(ctx, "missing"); !cerr.IsCode(err, cerr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
	if err := repo.Update(ctx, newTask("ghost", task.LaneQueued, "")); !cerr.IsCode(err, cerr.NotFound) {
		t.Errorf("expected NotFound on update of missing task, got %v", err)
	}
}

func TestJSONRepositoryListFilters(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	queued1 := newTask("queued one", task.LaneQueued, "")
	queued2 := newTask("queued two", task.LaneQueued, "dev-2")
	working := newTask("working", task.LaneDevelopment, "dev-1")
	done := newTask("done", task.LaneDone, "")

	for _, tk := range []*task.Task{queued1, queued2, working, done} {
		if err := repo.Create(ctx, tk); err != nil {
			t.Fatalf("failed to create %s: %v", tk.Title, err)
		}
	}

	all, total, err := repo.List(ctx, "", "", 0, 0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("expected 4 tasks, got %d (total %d)", len(all), total)
	}
	// Creation order: ULID file names sort chronologically.
	if all[0].ID != queued1.ID || all[3].ID != done.ID {
		t.Error("list is not in creation order")
	}

	byLane, _, err := repo.List(ctx, task.LaneQueued, "", 0, 0)
	if err != nil {
		t.Fatalf("failed to list by lane: %v", err)
	}
	if len(byLane) != 2 {
		t.Errorf("expected 2 queued tasks, got %d", len(byLane))
	}

	byOwner, _, err := repo.List(ctx, "", "dev-1", 0, 0)
	if err != nil {
		t.Fatalf("failed to list by owner: %v", err)
	}
	if len(byOwner) != 1 || byOwner[0].ID != working.ID {
		t.Errorf("owner filter returned wrong tasks: %v", byOwner)
	}

	both, _, err := repo.List(ctx, task.LaneQueued, "dev-2", 0, 0)
	if err != nil {
		t.Fatalf("failed to list by lane and owner: %v", err)
	}
	if len(both) != 1 || both[0].ID != queued2.ID {
		t.Errorf("combined filter returned wrong tasks: %v", both)
	}

	page, total, err := repo.List(ctx, "", "", 2, 1)
	if err != nil {
		t.Fatalf("failed to list page: %v", err)
	}
	if total != 4 {
		t.Errorf("expected total 4, got %d", total)
	}
	if len(page) != 2 || page[0].ID != queued2.ID {
		t.Errorf("pagination returned wrong slice: %v", page)
	}
}

func TestJSONRepositoryTrash(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	tk := newTask("to trash", task.LaneDone, "")
	if err := repo.Create(ctx, tk); err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	if err := repo.Delete(ctx, tk.ID); err != nil {
		t.Fatalf("failed to delete task: %v", err)
	}

	// Gone from the live set.
	if _, err := repo.Get(ctx, tk.ID); !cerr.IsCode(err, cerr.NotFound) {
		t.Errorf("expected NotFound after delete, got %v", err)
	}
	live, _, err := repo.List(ctx, "", "", 0, 0)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(live) != 0 {
		t.Errorf("expected empty live list, got %d tasks", len(live))
	}

	// Present in the trash with a deletion stamp.
	trash, err := repo.ListTrash(ctx)
	if err != nil {
		t.Fatalf("failed to list trash: %v", err)
	}
	if len(trash) != 1 {
		t.Fatalf("expected 1 trashed task, got %d", len(trash))
	}
	if trash[0].DeletedAt == nil {
		t.Error("trashed task has no DeletedAt")
	}

	if err := repo.PurgeTrash(ctx, tk.ID); err != nil {
		t.Fatalf("failed to purge: %v", err)
	}
	trash, err = repo.ListTrash(ctx)
	if err != nil {
		t.Fatalf("failed to list trash after purge: %v", err)
	}
	if len(trash) != 0 {
		t.Errorf("expected empty trash, got %d tasks", len(trash))
	}

	// Deleting a missing task reports NotFound.
	if err := repo.Delete(ctx, "missing"); !cerr.IsCode(err, cerr.NotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}
