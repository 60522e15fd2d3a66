package event

import (
	"context"
	"time"
)

type Repository interface {
	Append(ctx context.Context, ev *Event) error
	// List returns events newest first, optionally filtered by task ID.
	List(ctx context.Context, taskID string, limit, offset int) ([]*Event, int, error)
	// PurgeOlderThan deletes events recorded before the cutoff and
	// returns how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
