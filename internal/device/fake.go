package device

import (
	"context"
	"sync"
)

// Fake is a test double that records commands and can simulate feedback.
type Fake struct {
	id string

	mu       sync.Mutex
	on       bool
	sets     []bool
	closed   bool
	setErr   error
	watchers []func(on bool)
}

// NewFake creates a Fake device that starts off.
func NewFake(id string) *Fake {
	return &Fake{id: id}
}

func (f *Fake) ID() string { return f.id }

// Set records the command. If FailWith was called, it returns that error instead.
func (f *Fake) Set(_ context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setErr != nil {
		return f.setErr
	}
	f.on = on
	f.sets = append(f.sets, on)
	return nil
}

// Watch registers a feedback callback.
func (f *Fake) Watch(fn func(on bool)) {
	f.mu.Lock()
	f.watchers = append(f.watchers, fn)
	f.mu.Unlock()
}

// Report simulates the device announcing its state.
func (f *Fake) Report(on bool) {
	f.mu.Lock()
	f.on = on
	watchers := append([]func(bool){}, f.watchers...)
	f.mu.Unlock()

	for _, fn := range watchers {
		fn(on)
	}
}

// FailWith makes subsequent Set calls return err (nil restores success).
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	f.setErr = err
	f.mu.Unlock()
}

// State returns the last commanded or reported state.
func (f *Fake) State() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.on
}

// Sets returns all recorded commands.
func (f *Fake) Sets() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.sets...)
}

// Close marks the device as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
