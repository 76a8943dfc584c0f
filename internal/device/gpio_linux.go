//go:build linux

package device

import (
	"context"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// GPIORelay drives a relay from a GPIO character device line.
type GPIORelay struct {
	id   string
	line *gpiocdev.Line
}

// NewGPIORelay requests the line as an output, initially inactive (off).
// With activeLow the relay is energized by pulling the line low.
func NewGPIORelay(id, chip string, offset int, activeLow bool) (*GPIORelay, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer("switchd")}
	if activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}

	line, err := gpiocdev.RequestLine(chip, offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("request %s line %d: %w", chip, offset, err)
	}
	return &GPIORelay{id: id, line: line}, nil
}

func (r *GPIORelay) ID() string { return r.id }

// Set drives the line active (on) or inactive (off).
func (r *GPIORelay) Set(_ context.Context, on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := r.line.SetValue(v); err != nil {
		return fmt.Errorf("set line: %w", err)
	}
	return nil
}

// Close returns the line to an input with pull-down before releasing it,
// leaving the relay de-energized.
func (r *GPIORelay) Close() error {
	var errs []error
	if err := r.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
		errs = append(errs, fmt.Errorf("reconfigure line: %w", err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close line: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
