// Package session provides the keyed in-memory store shared by the
// calibration and infield-correction workflows.
package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrNotFound indicates no session with the id exists.
var ErrNotFound = errors.New("session: not found")

// Cloner is implemented by session payloads. Clone must return a copy that
// shares no mutable state with the receiver.
type Cloner[T any] interface {
	Clone() T
}

type entry[T Cloner[T]] struct {
	// mu serialises mutations of this one session; it is held across the
	// hardware critical section of a mutation.
	mu    sync.Mutex
	value T
	seq   uint64

	// committed is a copy of value as of the last commit, readable without
	// waiting on mu.
	committed atomic.Pointer[T]

	// gone is set once the session leaves the map. Callers that looked the
	// entry up earlier and are queued on mu check it after locking.
	gone atomic.Bool
}

// Store maps server-generated ids to sessions. The store lock guards the
// map only; each session has its own lock, so a slow mutation of one
// session never blocks lookups or mutations of another.
type Store[T Cloner[T]] struct {
	mu      sync.RWMutex
	entries map[string]*entry[T]
	seq     uint64
	newID   func() string
}

// NewStore creates an empty store that issues random UUIDs.
func NewStore[T Cloner[T]]() *Store[T] {
	return &Store[T]{
		entries: make(map[string]*entry[T]),
		newID:   uuid.NewString,
	}
}

// Create stores the session built by init under a fresh id and returns a
// copy of it.
func (s *Store[T]) Create(init func(id string) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newID()
	for s.entries[id] != nil {
		id = s.newID()
	}
	s.seq++
	e := &entry[T]{value: init(id), seq: s.seq}
	e.commit()
	s.entries[id] = e
	return e.value.Clone()
}

// Get returns a copy of the session. It waits for an in-flight mutation of
// that session to finish, so it never observes a half-applied change.
func (s *Store[T]) Get(id string) (T, error) {
	e, err := s.lookup(id)
	if err != nil {
		var zero T
		return zero, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone.Load() {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.value.Clone(), nil
}

// List returns copies of every session in creation order.
func (s *Store[T]) List() []T {
	s.mu.RLock()
	entries := make([]*entry[T], 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]T, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.gone.Load() {
			out = append(out, e.value.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Update runs fn with exclusive access to the session and returns a copy
// of the result. fn receives a working copy: if it returns an error the
// stored session is left untouched.
//
// A session deleted while fn runs stays deleted; the outcome of fn is
// returned but not stored.
func (s *Store[T]) Update(id string, fn func(T) (T, error)) (T, error) {
	var zero T
	e, err := s.lookup(id)
	if err != nil {
		return zero, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone.Load() {
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next, err := fn(e.value.Clone())
	if err != nil {
		return zero, err
	}
	e.value = next
	e.commit()
	return next.Clone(), nil
}

// Consume runs fn with exclusive access to the session and removes the
// session if fn succeeds. On error the session stays so the caller can
// retry. A concurrent Update queued behind Consume finds the session gone.
func (s *Store[T]) Consume(id string, fn func(T) error) error {
	e, err := s.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone.Load() {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := fn(e.value.Clone()); err != nil {
		return err
	}

	s.mu.Lock()
	s.remove(id, e)
	s.mu.Unlock()
	return nil
}

// Delete removes the session and returns a copy of its last committed
// state. It does not wait for an in-flight mutation, whose outcome is
// then discarded.
func (s *Store[T]) Delete(id string) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.remove(id, e)
	return (*e.committed.Load()).Clone(), nil
}

// Clear removes every session and returns how many were removed.
func (s *Store[T]) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	for id, e := range s.entries {
		s.remove(id, e)
	}
	return n
}

// Len returns the number of sessions.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// commit publishes a copy of e.value. The caller holds e.mu or owns e.
func (e *entry[T]) commit() {
	v := e.value.Clone()
	e.committed.Store(&v)
}

// remove must be called with s.mu held.
func (s *Store[T]) remove(id string, e *entry[T]) {
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	e.gone.Store(true)
}

func (s *Store[T]) lookup(id string) (*entry[T], error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}
