package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type counter struct {
	ID     string
	Values []int
}

func (c counter) Clone() counter {
	c.Values = append([]int(nil), c.Values...)
	return c
}

func newCounter(id string) counter {
	return counter{ID: id}
}

func TestStore_CreateGetList(t *testing.T) {
	s := NewStore[counter]()

	a := s.Create(newCounter)
	b := s.Create(newCounter)
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("Create() ids %q and %q are not unique", a.ID, b.ID)
	}

	got, err := s.Get(a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("Get() = %+v", got)
	}

	var ids []string
	for _, c := range s.List() {
		ids = append(ids, c.ID)
	}
	if diff := cmp.Diff([]string{a.ID, b.ID}, ids); diff != "" {
		t.Errorf("List() order mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestStore_CreateRetriesCollidingID(t *testing.T) {
	s := NewStore[counter]()
	ids := []string{"dup", "dup", "fresh"}
	s.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first := s.Create(newCounter)
	second := s.Create(newCounter)
	if first.ID != "dup" || second.ID != "fresh" {
		t.Errorf("ids = %q, %q; want dup, fresh", first.ID, second.ID)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := NewStore[counter]()
	c := s.Create(newCounter)
	if _, err := s.Update(c.ID, func(v counter) (counter, error) {
		v.Values = append(v.Values, 1)
		return v, nil
	}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := s.Get(c.ID)
	got.Values[0] = 99

	again, _ := s.Get(c.ID)
	if again.Values[0] != 1 {
		t.Errorf("stored session mutated through a copy: %v", again.Values)
	}
}

func TestStore_UpdateErrorLeavesSessionUnchanged(t *testing.T) {
	s := NewStore[counter]()
	c := s.Create(newCounter)

	_, err := s.Update(c.ID, func(v counter) (counter, error) {
		v.Values = append(v.Values, 1)
		return v, errors.New("solver failed")
	})
	if err == nil {
		t.Fatal("Update() expected error")
	}

	got, _ := s.Get(c.ID)
	if len(got.Values) != 0 {
		t.Errorf("failed update was stored: %v", got.Values)
	}
}

func TestStore_UpdateSerialisesPerSession(t *testing.T) {
	s := NewStore[counter]()
	c := s.Create(newCounter)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update(c.ID, func(v counter) (counter, error) {
				v.Values = append(v.Values, i)
				return v, nil
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get(c.ID)
	if len(got.Values) != 50 {
		t.Errorf("lost updates: %d values, want 50", len(got.Values))
	}
}

func TestStore_SlowUpdateDoesNotBlockOtherSessions(t *testing.T) {
	s := NewStore[counter]()
	slow := s.Create(newCounter)
	fast := s.Create(newCounter)

	started := make(chan struct{})
	unblock := make(chan struct{})
	go func() {
		_, _ = s.Update(slow.ID, func(v counter) (counter, error) {
			close(started)
			<-unblock
			return v, nil
		})
	}()
	<-started
	defer close(unblock)

	done := make(chan error, 1)
	go func() {
		_, err := s.Update(fast.ID, func(v counter) (counter, error) { return v, nil })
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Update(fast) error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("update of one session blocked on another")
	}
}

func TestStore_ConsumeRemovesOnSuccessOnly(t *testing.T) {
	s := NewStore[counter]()
	c := s.Create(newCounter)

	if err := s.Consume(c.ID, func(counter) error { return errors.New("write failed") }); err == nil {
		t.Fatal("Consume() expected error")
	}
	if _, err := s.Get(c.ID); err != nil {
		t.Fatalf("session removed after failed consume: %v", err)
	}

	if err := s.Consume(c.ID, func(counter) error { return nil }); err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if _, err := s.Get(c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after consume error = %v, want ErrNotFound", err)
	}
	if err := s.Consume(c.ID, func(counter) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Consume() error = %v, want ErrNotFound", err)
	}
}

func TestStore_UpdateQueuedBehindConsumeSeesNotFound(t *testing.T) {
	s := NewStore[counter]()
	c := s.Create(newCounter)

	inConsume := make(chan struct{})
	finish := make(chan struct{})
	consumed := make(chan error, 1)
	go func() {
		consumed <- s.Consume(c.ID, func(counter) error {
			close(inConsume)
			<-finish
			return nil
		})
	}()
	<-inConsume

	updated := make(chan error, 1)
	go func() {
		_, err := s.Update(c.ID, func(v counter) (counter, error) {
			v.Values = append(v.Values, 1)
			return v, nil
		})
		updated <- err
	}()

	// Give the update time to look the entry up and queue on its lock.
	time.Sleep(20 * time.Millisecond)
	close(finish)

	if err := <-consumed; err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if err := <-updated; !errors.Is(err, ErrNotFound) {
		t.Errorf("queued Update() error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteDuringUpdate(t *testing.T) {
	s := NewStore[counter]()
	c := s.Create(newCounter)

	inUpdate := make(chan struct{})
	finish := make(chan struct{})
	result := make(chan counter, 1)
	go func() {
		v, _ := s.Update(c.ID, func(v counter) (counter, error) {
			close(inUpdate)
			<-finish
			v.Values = append(v.Values, 7)
			return v, nil
		})
		result <- v
	}()
	<-inUpdate

	deleted := make(chan counter, 1)
	go func() {
		v, err := s.Delete(c.ID)
		if err != nil {
			t.Errorf("Delete() error = %v", err)
		}
		deleted <- v
	}()
	select {
	case v := <-deleted:
		if v.ID != c.ID || len(v.Values) != 0 {
			t.Errorf("Delete() = %+v, want the last committed state", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Delete() waited for the in-flight update")
	}
	close(finish)

	if got := <-result; len(got.Values) != 1 {
		t.Errorf("in-flight update result = %+v, want it to complete", got)
	}
	if _, err := s.Get(c.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_DeleteAndClear(t *testing.T) {
	s := NewStore[counter]()
	for range 3 {
		s.Create(newCounter)
	}
	first := s.List()[0]

	got, err := s.Delete(first.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("Delete() = %+v, want %s", got, first.ID)
	}
	if _, err := s.Delete(first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	if n := s.Clear(); n != 2 {
		t.Errorf("Clear() = %d, want 2", n)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after Clear", s.Len())
	}
	if _, err := s.Update(first.ID, func(v counter) (counter, error) { return v, nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update() after clear error = %v", err)
	}
}
