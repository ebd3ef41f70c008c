package pool

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("pool is closed")

// CreationError reports a failed NewFunc call.
type CreationError struct {
	Pool string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("pool %q: create resource: %v", e.Pool, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// DestroyError reports a failed DestroyFunc call.
type DestroyError struct {
	Pool string
	Err  error
}

func (e *DestroyError) Error() string {
	return fmt.Sprintf("pool %q: destroy resource: %v", e.Pool, e.Err)
}

func (e *DestroyError) Unwrap() error { return e.Err }
