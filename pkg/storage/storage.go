package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested path has no record.
var ErrNotFound = errors.New("not found")

// Storage is the flat record store underneath the repositories. Paths are
// slash-separated keys like "tasks/01ABC.json"; List works on the prefix
// one level deep and returns full record paths.
type Storage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, path string) (bool, error)
}
