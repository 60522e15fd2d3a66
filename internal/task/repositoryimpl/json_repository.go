package repositoryimpl

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/opshub/bridge/internal/task"
	"github.com/opshub/bridge/pkg/cerr"
	"github.com/opshub/bridge/pkg/storage"
)

const (
	livePrefix  = "tasks"
	trashPrefix = "trash/tasks"
)

// JSONRepository keeps one JSON document per task under tasks/, with
// soft-deleted tasks parked under trash/tasks/ until the janitor purges
// them.
type JSONRepository struct {
	store storage.Storage
}

func NewJSONRepository(store storage.Storage) *JSONRepository {
	return &JSONRepository{store: store}
}

func (r *JSONRepository) livePath(id string) string {
	return fmt.Sprintf("%s/%s.json", livePrefix, id)
}

func (r *JSONRepository) trashPath(id string) string {
	return fmt.Sprintf("%s/%s.json", trashPrefix, id)
}

func (r *JSONRepository) Create(ctx context.Context, t *task.Task) error {
	exists, err := r.store.Exists(ctx, r.livePath(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if exists {
		return cerr.NewError(cerr.AlreadyExists, "task already exists", nil)
	}
	return r.writeDoc(ctx, r.livePath(t.ID), t)
}

func (r *JSONRepository) Get(ctx context.Context, id string) (*task.Task, error) {
	return r.readDoc(ctx, r.livePath(id))
}

// List filters by lane and owner when set, then pages the result. The
// returned total counts every match before paging.
func (r *JSONRepository) List(ctx context.Context, lane task.Lane, owner string, limit, offset int) ([]*task.Task, int, error) {
	paths, err := r.store.List(ctx, livePrefix)
	if err != nil {
		return nil, 0, cerr.WrapStorageReadError("tasks", err)
	}

	// Task IDs are ULIDs, so the sorted path order is creation order.
	sort.Strings(paths)

	var all []*task.Task
	for _, p := range paths {
		t, err := r.readDoc(ctx, p)
		if err != nil {
			continue
		}
		if lane != "" && t.Lane != lane {
			continue
		}
		if owner != "" && t.Owner != owner {
			continue
		}
		all = append(all, t)
	}

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	page := all[offset:]
	if limit > 0 && len(page) > limit {
		page = page[:limit]
	}
	return page, total, nil
}

func (r *JSONRepository) Update(ctx context.Context, t *task.Task) error {
	exists, err := r.store.Exists(ctx, r.livePath(t.ID))
	if err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	if !exists {
		return cerr.NewError(cerr.NotFound, "task not found", nil)
	}
	return r.writeDoc(ctx, r.livePath(t.ID), t)
}

// Delete moves the task into the trash with its deletion timestamp set.
func (r *JSONRepository) Delete(ctx context.Context, id string) error {
	t, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now()
	t.DeletedAt = &now
	t.UpdatedAt = now

	if err := r.writeDoc(ctx, r.trashPath(id), t); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, r.livePath(id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}

// ListTrash returns soft-deleted tasks in task id order.
func (r *JSONRepository) ListTrash(ctx context.Context) ([]*task.Task, error) {
	paths, err := r.store.List(ctx, trashPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("tasks", err)
	}
	sort.Strings(paths)

	trash := make([]*task.Task, 0, len(paths))
	for _, p := range paths {
		t, err := r.readDoc(ctx, p)
		if err != nil {
			continue
		}
		trash = append(trash, t)
	}
	return trash, nil
}

func (r *JSONRepository) PurgeTrash(ctx context.Context, id string) error {
	if err := r.store.Delete(ctx, r.trashPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("task", err)
	}
	return nil
}

func (r *JSONRepository) readDoc(ctx context.Context, p string) (*task.Task, error) {
	data, err := r.store.Read(ctx, p)
	if err != nil {
		return nil, cerr.WrapStorageReadError("task", err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to unmarshal task: %w", err))
	}
	return &t, nil
}

func (r *JSONRepository) writeDoc(ctx context.Context, p string, t *task.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal task: %w", err))
	}
	if err := r.store.Write(ctx, p, data); err != nil {
		return cerr.WrapStorageWriteError("task", err)
	}
	return nil
}
