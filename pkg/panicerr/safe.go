// Package panicerr converts panics in background work into ordinary
// errors, so a bad tick never takes down the loop that ran it.
package panicerr

import (
	"context"

	"github.com/sourcegraph/conc/panics"
)

// Safe returns fn with panic recovery. A recovered panic comes back as
// the error, with the function's own error taking precedence.
func Safe(fn func() error) func() error {
	return func() (err error) {
		var catcher panics.Catcher
		catcher.Try(func() {
			err = fn()
		})
		if err == nil {
			err = catcher.Recovered().AsError()
		}
		return err
	}
}

// SafeContext is Safe for context-taking functions.
func SafeContext(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		return Safe(func() error { return fn(ctx) })()
	}
}
