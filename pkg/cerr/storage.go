package cerr

import (
	"errors"
	"fmt"

	"github.com/opshub/bridge/pkg/storage"
)

// The storage wrappers translate storage errors into API errors: a missing
// record is the caller's NotFound, anything else is an internal fault that
// keeps its detail in the logs only.

func WrapStorageReadError(target string, err error) error {
	return wrapStorage("read", target, err)
}

func WrapStorageWriteError(target string, err error) error {
	return wrapStorage("write", target, err)
}

func WrapStorageDeleteError(target string, err error) error {
	return wrapStorage("delete", target, err)
}

func wrapStorage(op, target string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return NewError(NotFound, target+" not found", err)
	}
	return NewError(Internal, "server error", fmt.Errorf("failed to %s %s: %w", op, target, err))
}
