package session

import (
	"context"
	"fmt"
	"sync"
)

// Status is an observable connection-state cell. The owning session updates
// it before running the hook for the same lifecycle step, so watchers and
// hooks never see a stale state.
type Status struct {
	mu       sync.Mutex
	state    State
	changed  chan struct{}
	watchers map[int]func(StateEvent)
	nextID   int
}

// NewStatus returns a Status in StateClosed.
func NewStatus() *Status {
	return &Status{
		state:    StateClosed,
		changed:  make(chan struct{}),
		watchers: make(map[int]func(StateEvent)),
	}
}

// Load returns the current state.
func (s *Status) Load() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Changed returns a channel closed at the next state change.
func (s *Status) Changed() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// Watch registers fn to be called on every state change. fn runs on the
// session's event loop and must not block, with one exception: the initial
// move to StateConnecting happens inside New, on the caller's goroutine.
// The returned func unregisters it.
func (s *Status) Watch(fn func(StateEvent)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Wait blocks until the state equals want or ctx is done. States passed
// through between two observations are not seen.
func (s *Status) Wait(ctx context.Context, want State) error {
	for {
		s.mu.Lock()
		state, changed := s.state, s.changed
		s.mu.Unlock()

		if state == want {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("waiting for state %s, still %s: %w", want, state, ctx.Err())
		}
	}
}

func (s *Status) set(state State, err error) {
	s.mu.Lock()
	old := s.state
	if old == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	close(s.changed)
	s.changed = make(chan struct{})
	watchers := make([]func(StateEvent), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	ev := StateEvent{Old: old, New: state, Err: err}
	for _, fn := range watchers {
		fn(ev)
	}
}
