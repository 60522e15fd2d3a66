package task

import "context"

type Repository interface {
	Create(ctx context.Context, t *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	List(ctx context.Context, lane Lane, owner string, limit, offset int) ([]*Task, int, error)
	Update(ctx context.Context, t *Task) error
	// Delete moves the task into the trash. Trashed tasks no longer
	// appear in Get or List.
	Delete(ctx context.Context, id string) error
	ListTrash(ctx context.Context) ([]*Task, error)
	// PurgeTrash removes a trashed task permanently.
	PurgeTrash(ctx context.Context, id string) error
}
