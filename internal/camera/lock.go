package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nerrad567/gray-logic-vision/internal/events"
)

// LockObserver receives hardware lock timings, e.g. for metrics.
type LockObserver interface {
	// LockWaited is called once per Acquire with the time spent waiting
	// and whether the lock was obtained.
	LockWaited(wait time.Duration, acquired bool)

	// LockHeld is called on release with the time the lock was held.
	LockHeld(held time.Duration)
}

type noopObserver struct{}

func (noopObserver) LockWaited(time.Duration, bool) {}
func (noopObserver) LockHeld(time.Duration)         {}

// HardwareLock serialises every command issued to any camera. It is not
// reentrant: a holder that calls Acquire again deadlocks until its context
// ends.
//
// A zero timeout waits for as long as the caller's context allows. A
// positive timeout additionally bounds each wait. Neither interrupts a
// command already running on the device.
type HardwareLock struct {
	sem      *semaphore.Weighted
	timeout  time.Duration
	observer LockObserver
	now      func() time.Time

	mu    sync.Mutex
	held  bool
	after []func()
}

// NewHardwareLock creates an unlocked lock.
func NewHardwareLock(timeout time.Duration) *HardwareLock {
	return &HardwareLock{
		sem:      semaphore.NewWeighted(1),
		timeout:  timeout,
		observer: noopObserver{},
		now:      time.Now,
	}
}

// SetObserver sets the observer for lock timings. Call before first use.
func (l *HardwareLock) SetObserver(o LockObserver) {
	if o == nil {
		o = noopObserver{}
	}
	l.observer = o
}

// Acquire blocks until the lock is free, ctx is done or the timeout
// elapses. On success it returns a release function that is safe to call
// more than once; on failure the error wraps ErrHardwareBusy and the
// returned release is a no-op.
func (l *HardwareLock) Acquire(ctx context.Context) (release func(), err error) {
	start := l.now()
	if err := ctx.Err(); err != nil {
		l.observer.LockWaited(0, false)
		return func() {}, fmt.Errorf("%w: %w", ErrHardwareBusy, err)
	}

	if l.sem.TryAcquire(1) {
		return l.acquired(start), nil
	}

	wait := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(wait, 1); err != nil {
		l.observer.LockWaited(l.now().Sub(start), false)
		if cerr := ctx.Err(); cerr != nil {
			return func() {}, fmt.Errorf("%w: %w", ErrHardwareBusy, cerr)
		}
		return func() {}, fmt.Errorf("%w: waited %s for the hardware lock", ErrHardwareBusy, l.timeout)
	}
	return l.acquired(start), nil
}

// AfterRelease runs fn once the current holder releases the lock, outside
// the critical section. Only the holder may queue work this way; with the
// lock free fn runs at once.
func (l *HardwareLock) AfterRelease(fn func()) {
	l.mu.Lock()
	if l.held {
		l.after = append(l.after, fn)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	fn()
}

// Deferred returns a publisher that holds events raised inside the
// critical section until the lock is released, so a slow sink never
// extends it.
func (l *HardwareLock) Deferred(p events.Publisher) events.Publisher {
	return deferredPublisher{lock: l, next: p}
}

type deferredPublisher struct {
	lock *HardwareLock
	next events.Publisher
}

func (d deferredPublisher) Publish(ctx context.Context, e events.Event) {
	d.lock.AfterRelease(func() { d.next.Publish(ctx, e) })
}

func (l *HardwareLock) acquired(start time.Time) func() {
	got := l.now()
	l.observer.LockWaited(got.Sub(start), true)

	l.mu.Lock()
	l.held = true
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.observer.LockHeld(l.now().Sub(got))

			l.mu.Lock()
			after := l.after
			l.after = nil
			l.held = false
			l.mu.Unlock()

			l.sem.Release(1)
			for _, fn := range after {
				fn()
			}
		})
	}
}
