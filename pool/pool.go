// Package pool provides a concurrent, soft-capped pool of expensive-to-create
// resources such as database connections. Every lifecycle step is reported
// into a slotstat subtree (see Instruments).
//
// The idle set and the checked-out records are guarded by separate locks, so
// Acquire and Release on different resources do not serialize behind one
// mutex. The price is that the cap check is advisory: under a race the total
// can briefly exceed Cap.
package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Pool hands out resources of type T.
type Pool[T comparable] struct {
	name        string
	cap         int
	newFunc     func(context.Context) (T, error) // required
	destroyFunc func(T) error                    // optional
	in          *Instruments                     // optional
	logger      *zap.Logger

	idleMu  sync.Mutex // taken before outMu when both are held
	idle    []T // oldest first
	idleSet map[T]struct{}

	outMu sync.Mutex
	out   map[T]time.Time // checkout records

	wakeMu sync.Mutex
	wake   chan struct{} // closed and replaced whenever waiters should re-check

	closed *atomic.Bool

	createdTotal   *atomic.Uint64 // stats only
	destroyedTotal *atomic.Uint64 // stats only
	failedTotal    *atomic.Uint64 // stats only
}

// Stats is a snapshot of the pool's accounting.
type Stats struct {
	// Number of created resources
	CreatedTotal uint64
	// Number of destroyed resources
	DestroyedTotal uint64
	// Number of failed NewFunc calls
	FailedTotal uint64

	// Number of idle resources right now
	IdleNow int
	// Number of checked-out resources right now
	CheckedOutNow int
	// Number of resources right now (count == idle + checked out)
	CountNow int
}

// New creates a new pool.
//
// No resource is created up front; resources are created lazily by Acquire
// when nothing is idle.
func New[T comparable](config Config[T]) (*Pool[T], error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	capacity := config.Cap
	if capacity == 0 {
		capacity = DefaultCap
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool[T]{
		name:           config.Name,
		cap:            capacity,
		newFunc:        config.NewFunc,
		destroyFunc:    config.DestroyFunc,
		in:             config.Instruments,
		logger:         logger,
		idleSet:        make(map[T]struct{}),
		out:            make(map[T]time.Time),
		wake:           make(chan struct{}),
		closed:         atomic.NewBool(false),
		createdTotal:   atomic.NewUint64(0),
		destroyedTotal: atomic.NewUint64(0),
		failedTotal:    atomic.NewUint64(0),
	}, nil
}

// Acquire hands out a resource.
//
// If nothing is idle and the pool already holds Cap resources, Acquire waits
// for a Release. The wait is soft: once timeout elapses Acquire stops waiting
// and creates a new resource anyway, reporting AcquiredOverCap. The wait ends
// early with Canceled when ctx is done, or with Closed when the pool closes.
//
// After the wait Acquire takes the oldest idle resource, or creates one.
// A failed creation is logged and reported as CreateFailed; it is not
// retried.
func (p *Pool[T]) Acquire(ctx context.Context, timeout time.Duration) Result[T] {
	start := time.Now()
	p.observe(p.in.onGet)

	overCap, err := p.admit(ctx, start.Add(timeout))
	if err != nil {
		outcome := Canceled
		if errors.Is(err, ErrClosed) {
			outcome = Closed
		}
		return Result[T]{Outcome: outcome, Err: err, Waited: time.Since(start)}
	}

	r, ok := p.popIdle()
	if !ok {
		r, err = p.create(ctx)
		if err != nil {
			return Result[T]{Outcome: CreateFailed, Err: err, Waited: time.Since(start)}
		}
	}

	p.checkout(r)
	if p.closed.Load() {
		// Close may have drained the checked-out records already.
		if _, found := p.checkin(r); found {
			p.destroy(r)
		}
		return Result[T]{Outcome: Closed, Err: ErrClosed, Waited: time.Since(start)}
	}

	p.observe(func() { p.in.waitTime(start) })
	p.observe(p.in.onGot)

	outcome := Acquired
	if overCap {
		outcome = AcquiredOverCap
	}
	return Result[T]{Resource: r, Outcome: outcome, Waited: time.Since(start)}
}

// Get is Acquire without a context. It returns false when no resource was
// handed out.
func (p *Pool[T]) Get(timeout time.Duration) (T, bool) {
	r := p.Acquire(context.Background(), timeout)
	return r.Resource, r.Ok()
}

// Release returns a resource to the pool.
//
// The zero value is ignored. If the resource was checked out through this
// pool, the time it spent checked out is recorded. A resource that is
// already idle is not added twice.
//
// After Close, a resource that was still checked out is destroyed instead of
// pooled, and anything else is ignored.
func (p *Pool[T]) Release(r T) {
	var zero T
	if r == zero {
		return
	}

	at, found := p.checkin(r)
	if found {
		p.observe(func() { p.in.execTime(at) })
		p.observe(p.in.onUnget)
	}

	if !p.pushIdle(r) {
		if found && p.closed.Load() {
			p.destroy(r)
		}
		return
	}
	p.notify()
}

// Close destroys every resource the pool holds.
//
// Idle resources are destroyed first, then checked-out ones; for those the
// time spent checked out and the time spent destroying them are recorded.
// Destroy errors are logged and do not stop the drain.
//
// Close does not stop concurrent Acquire or Release calls; callers must stop
// acquiring before calling it. Close is idempotent.
func (p *Pool[T]) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.notify()

	p.idleMu.Lock()
	idle := p.idle
	p.idle = nil
	p.idleSet = make(map[T]struct{})
	p.idleMu.Unlock()

	for _, r := range idle {
		p.destroy(r)
	}

	p.outMu.Lock()
	out := p.out
	p.out = make(map[T]time.Time)
	p.outMu.Unlock()

	for r, at := range out {
		p.observe(func() { p.in.execTime(at) })
		start := time.Now()
		p.destroy(r)
		p.observe(func() { p.in.deallocTime(start) })
	}

	p.logger.Debug("pool closed",
		zap.String("pool", p.name),
		zap.Int("idle", len(idle)),
		zap.Int("checked_out", len(out)))
}

// IdleCount returns the number of idle resources
func (p *Pool[T]) IdleCount() int {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	return len(p.idle)
}

// CheckedOutCount returns the number of checked-out resources
func (p *Pool[T]) CheckedOutCount() int {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	return len(p.out)
}

// TotalCount returns idle plus checked-out resources. The two counts are
// read under separate locks.
func (p *Pool[T]) TotalCount() int {
	return p.IdleCount() + p.CheckedOutCount()
}

// Cap returns the soft capacity
func (p *Pool[T]) Cap() int { return p.cap }

// Stats returns statistics about the pool. The counts are read under both
// locks at once, so a resource moving between idle and checked out is
// never counted twice.
func (p *Pool[T]) Stats() Stats {
	p.idleMu.Lock()
	p.outMu.Lock()
	idle, out := len(p.idle), len(p.out)
	created := p.createdTotal.Load()
	p.outMu.Unlock()
	p.idleMu.Unlock()

	return Stats{
		CreatedTotal:   created,
		DestroyedTotal: p.destroyedTotal.Load(),
		FailedTotal:    p.failedTotal.Load(),

		IdleNow:       idle,
		CheckedOutNow: out,
		CountNow:      idle + out,
	}
}

// admit blocks while nothing is idle and the pool is at capacity. It returns
// overCap when the deadline passed with the condition still holding.
func (p *Pool[T]) admit(ctx context.Context, deadline time.Time) (overCap bool, err error) {
	var timer *time.Timer
	for {
		if p.closed.Load() {
			return false, ErrClosed
		}
		// Take the channel before checking, so a release in between is not lost.
		wake := p.waitChan()
		if p.IdleCount() > 0 || p.TotalCount() < p.cap {
			return false, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return true, nil
		}
		if timer == nil {
			timer = time.NewTimer(remaining)
			defer timer.Stop()
		}
		select {
		case <-wake:
		case <-timer.C:
			return true, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

func (p *Pool[T]) waitChan() <-chan struct{} {
	p.wakeMu.Lock()
	defer p.wakeMu.Unlock()
	return p.wake
}

// notify wakes every waiting Acquire.
func (p *Pool[T]) notify() {
	p.wakeMu.Lock()
	close(p.wake)
	p.wake = make(chan struct{})
	p.wakeMu.Unlock()
}

func (p *Pool[T]) create(ctx context.Context) (T, error) {
	p.observe(p.in.onCreate)
	start := time.Now()
	r, err := p.newFunc(ctx)
	p.observe(func() { p.in.createTime(start) })
	if err != nil {
		p.failedTotal.Inc()
		p.logger.Warn("failed to create pool resource",
			zap.String("pool", p.name),
			zap.Error(err))
		var zero T
		return zero, &CreationError{Pool: p.name, Err: err}
	}
	p.createdTotal.Inc()
	return r, nil
}

func (p *Pool[T]) destroy(r T) {
	p.destroyedTotal.Inc()
	p.observe(p.in.onClose)
	if p.destroyFunc == nil {
		return
	}
	if err := p.destroyFunc(r); err != nil {
		p.logger.Warn("failed to destroy pool resource",
			zap.String("pool", p.name),
			zap.Error(&DestroyError{Pool: p.name, Err: err}))
	}
}

func (p *Pool[T]) popIdle() (T, bool) {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	var zero T
	if len(p.idle) == 0 {
		return zero, false
	}
	r := p.idle[0]
	p.idle[0] = zero
	p.idle = p.idle[1:]
	delete(p.idleSet, r)
	return r, true
}

// pushIdle adds r to the idle set. It refuses once the pool is closed; the
// check happens under the idle lock so Close cannot miss the resource.
func (p *Pool[T]) pushIdle(r T) bool {
	p.idleMu.Lock()
	defer p.idleMu.Unlock()
	if p.closed.Load() {
		return false
	}
	if _, dup := p.idleSet[r]; dup {
		return false
	}
	p.idle = append(p.idle, r)
	p.idleSet[r] = struct{}{}
	return true
}

func (p *Pool[T]) checkout(r T) {
	p.outMu.Lock()
	p.out[r] = time.Now()
	p.outMu.Unlock()
}

func (p *Pool[T]) checkin(r T) (time.Time, bool) {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	at, ok := p.out[r]
	if ok {
		delete(p.out, r)
	}
	return at, ok
}

// observe runs a statistics update. Instrumentation must never break
// resource accounting, so a panic is logged and swallowed.
func (p *Pool[T]) observe(fn func()) {
	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("statistics update failed",
				zap.String("pool", p.name),
				zap.Any("panic", v))
		}
	}()
	fn()
}
