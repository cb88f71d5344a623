package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-vision/internal/events"
)

type recordingObserver struct {
	mu    sync.Mutex
	waits []bool
	holds int
}

func (o *recordingObserver) LockWaited(_ time.Duration, acquired bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.waits = append(o.waits, acquired)
}

func (o *recordingObserver) LockHeld(time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.holds++
}

func TestHardwareLock_Serialises(t *testing.T) {
	lock := NewHardwareLock(0)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := lock.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer release()

			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()

	if got := maxInside.Load(); got != 1 {
		t.Errorf("max concurrent holders = %d, want 1", got)
	}
}

func TestHardwareLock_Timeout(t *testing.T) {
	lock := NewHardwareLock(20 * time.Millisecond)
	obs := &recordingObserver{}
	lock.SetObserver(obs)

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer release()

	start := time.Now()
	_, err = lock.Acquire(context.Background())
	if !errors.Is(err, ErrHardwareBusy) {
		t.Fatalf("second Acquire() error = %v, want ErrHardwareBusy", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("second Acquire() returned after %v, before the timeout", elapsed)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.waits) != 2 || !obs.waits[0] || obs.waits[1] {
		t.Errorf("observer waits = %v, want [true false]", obs.waits)
	}
}

func TestHardwareLock_ContextCancel(t *testing.T) {
	lock := NewHardwareLock(0)
	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := lock.Acquire(ctx)
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, ErrHardwareBusy) || !errors.Is(err, context.Canceled) {
			t.Errorf("Acquire() error = %v, want ErrHardwareBusy wrapping context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire() did not return after cancel")
	}

	release()
	// The lock is usable again after release.
	again, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	again()
}

func TestHardwareLock_CancelledContextNeverAcquires(t *testing.T) {
	lock := NewHardwareLock(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := lock.Acquire(ctx); !errors.Is(err, ErrHardwareBusy) {
		t.Errorf("Acquire(cancelled) error = %v, want ErrHardwareBusy", err)
	}
}

func TestHardwareLock_ReleaseIdempotent(t *testing.T) {
	lock := NewHardwareLock(0)
	obs := &recordingObserver{}
	lock.SetObserver(obs)

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	release()
	release()

	if obs.holds != 1 {
		t.Errorf("LockHeld called %d times, want 1", obs.holds)
	}

	// A double release must not have freed a slot someone else holds.
	r1, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer r1()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := lock.Acquire(ctx); !errors.Is(err, ErrHardwareBusy) {
		t.Errorf("lock admitted a second holder after double release")
	}
}

func TestHardwareLock_AfterRelease(t *testing.T) {
	lock := NewHardwareLock(0)

	ran := false
	lock.AfterRelease(func() { ran = true })
	if !ran {
		t.Fatal("AfterRelease() on a free lock did not run at once")
	}

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	var order []string
	lock.AfterRelease(func() {
		// The lock must already be free when queued work runs.
		again, err := lock.Acquire(context.Background())
		if err != nil {
			t.Errorf("Acquire() inside queued work error = %v", err)
			return
		}
		again()
		order = append(order, "first")
	})
	lock.AfterRelease(func() { order = append(order, "second") })
	if len(order) != 0 {
		t.Fatal("queued work ran before release")
	}

	release()
	release()
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("queued work ran as %v, want [first second] once", order)
	}
}

func TestHardwareLock_Deferred(t *testing.T) {
	lock := NewHardwareLock(0)
	pub := &lockCheckPublisher{lock: lock}
	deferred := lock.Deferred(pub)

	release, err := lock.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	deferred.Publish(context.Background(), events.Event{Type: events.CameraEvicted})
	if types, _ := pub.snapshot(); len(types) != 0 {
		t.Fatalf("event delivered inside the critical section: %v", types)
	}
	release()

	deferred.Publish(context.Background(), events.Event{Type: events.CameraDisconnected})

	types, blocked := pub.snapshot()
	if len(types) != 2 || types[0] != events.CameraEvicted || types[1] != events.CameraDisconnected {
		t.Errorf("delivered %v", types)
	}
	if len(blocked) != 0 {
		t.Errorf("lock held while delivering %v", blocked)
	}
}
