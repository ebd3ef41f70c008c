package pool

import "time"

// Outcome classifies an Acquire call.
type Outcome int

const (
	// Acquired means a resource was handed out without exceeding the cap.
	Acquired Outcome = iota
	// AcquiredOverCap means the admission wait timed out and a resource was
	// created past the soft cap.
	AcquiredOverCap
	// CreateFailed means no idle resource was available and NewFunc failed.
	// The pool is unavailable for now; callers may retry.
	CreateFailed
	// Canceled means the context ended during the admission wait.
	Canceled
	// Closed means the pool was closed.
	Closed
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AcquiredOverCap:
		return "acquired_over_cap"
	case CreateFailed:
		return "create_failed"
	case Canceled:
		return "canceled"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Result is the outcome of Acquire. Resource is the zero value unless Ok
// returns true.
type Result[T any] struct {
	Resource T
	Outcome  Outcome
	Err      error
	// Waited is the time spent between the Acquire call and its return.
	Waited time.Duration
}

// Ok reports whether a resource was handed out
func (r Result[T]) Ok() bool {
	return r.Outcome == Acquired || r.Outcome == AcquiredOverCap
}
