package pool

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// DefaultCap is the soft capacity used when Config.Cap is zero.
const DefaultCap = 16

// Config configures a new pool.
type Config[T comparable] struct {
	// Name identifies the pool in logs.
	Name string
	// Cap is the soft capacity. Once Cap resources exist and none is idle,
	// Acquire waits for a release; when its timeout elapses it creates a
	// resource anyway. Waiting starts at Cap, not above it, so Cap is the
	// most resources the pool holds without a timed-out wait.
	// Must be >= 0; 0 means DefaultCap.
	Cap int
	// NewFunc creates a resource.
	// This function is required.
	NewFunc func(ctx context.Context) (T, error)
	// DestroyFunc destroys a resource when the pool closes.
	// This function is optional.
	DestroyFunc func(T) error
	// Instruments receives lifecycle events.
	// Optional.
	Instruments *Instruments
	// Logger is optional.
	Logger *zap.Logger
}

// Check checks the configuration.
//
// If the configuration is invalid, Check returns an error.
func (c *Config[T]) Check() error {
	if c.Cap < 0 {
		return errors.New("cap must be greater than or equal to zero")
	}
	if c.NewFunc == nil {
		return errors.New("newFunc is required")
	}
	return nil
}
