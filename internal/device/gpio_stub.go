//go:build !linux

package device

import (
	"context"
	"errors"
)

// GPIORelay is not available on non-Linux platforms.
type GPIORelay struct {
	id string
}

// NewGPIORelay returns an error on non-Linux platforms.
func NewGPIORelay(id, chip string, offset int, activeLow bool) (*GPIORelay, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (r *GPIORelay) ID() string { return r.id }

// Set is not implemented on non-Linux platforms.
func (r *GPIORelay) Set(context.Context, bool) error {
	return errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (r *GPIORelay) Close() error {
	return nil
}
