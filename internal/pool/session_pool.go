// Package pool bounds how many call sessions run at once.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("session pool is closed")
	ErrAtCapacity = errors.New("session pool at capacity")
)

// SessionPool admits up to maxSessions concurrent call sessions. Admission
// is non-blocking: at capacity the attempt is rejected and queueing is the
// carrier layer's problem.
type SessionPool struct {
	maxSessions int

	active    atomic.Int32
	admitted  atomic.Int64
	rejected  atomic.Int64
	completed atomic.Int64
	closed    atomic.Bool
	wg        sync.WaitGroup

	panicHandler func(any)
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Active    int32 `json:"active"`
	Admitted  int64 `json:"admitted"`
	Rejected  int64 `json:"rejected"`
	Completed int64 `json:"completed"`
}

// NewSessionPool creates a pool. panicHandler may be nil.
func NewSessionPool(maxSessions int, panicHandler func(any)) *SessionPool {
	if maxSessions <= 0 {
		maxSessions = 1
	}
	return &SessionPool{maxSessions: maxSessions, panicHandler: panicHandler}
}

// Launch admits run as a new session goroutine, or rejects it when the
// pool is full or closed. run receives the given context unchanged.
func (p *SessionPool) Launch(ctx context.Context, run func(ctx context.Context)) error {
	if p.closed.Load() {
		p.rejected.Add(1)
		return ErrPoolClosed
	}

	// Reserve a slot; undo on overshoot.
	if p.active.Add(1) > int32(p.maxSessions) {
		p.active.Add(-1)
		p.rejected.Add(1)
		return ErrAtCapacity
	}
	if p.closed.Load() {
		p.active.Add(-1)
		p.rejected.Add(1)
		return ErrPoolClosed
	}

	p.admitted.Add(1)
	p.wg.Add(1)
	go func() {
		defer func() {
			if r := recover(); r != nil && p.panicHandler != nil {
				p.panicHandler(r)
			}
			p.active.Add(-1)
			p.completed.Add(1)
			p.wg.Done()
		}()
		run(ctx)
	}()
	return nil
}

// Active returns the number of running sessions.
func (p *SessionPool) Active() int {
	return int(p.active.Load())
}

// Capacity returns the admission limit.
func (p *SessionPool) Capacity() int {
	return p.maxSessions
}

// Stats returns current counters.
func (p *SessionPool) Stats() Stats {
	return Stats{
		Active:    p.active.Load(),
		Admitted:  p.admitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: p.completed.Load(),
	}
}

// CloseAndWait stops admissions and waits for running sessions to end,
// bounded by ctx.
func (p *SessionPool) CloseAndWait(ctx context.Context) error {
	p.closed.Store(true)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
