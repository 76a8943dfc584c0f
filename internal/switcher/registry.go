package switcher

import (
	"errors"
	"fmt"
	"sync"
)

// Registry indexes controllers by switch id, preserving registration order.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Controller
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Controller)}
}

// Add registers a controller. Ids must be unique.
func (r *Registry) Add(c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[c.ID()]; exists {
		return fmt.Errorf("switch %s already registered", c.ID())
	}
	r.byID[c.ID()] = c
	r.order = append(r.order, c.ID())
	return nil
}

// Get returns the controller of a switch.
func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSwitch, id)
	}
	return c, nil
}

// All returns the controllers in registration order.
func (r *Registry) All() []*Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Controller, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Close releases the devices of every switch.
func (r *Registry) Close() error {
	var errs []error
	for _, c := range r.All() {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
