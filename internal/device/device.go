// Package device drives boolean outputs (relays, lights) on behalf of a switch.
// Real backends talk to MQTT, GPIO or a Hue bridge; Fake allows testing
// without hardware.
package device

import (
	"context"
	"fmt"

	"github.com/amimof/huego"

	"github.com/dokzlo13/switchd/internal/config"
)

// Device is a single on/off output.
type Device interface {
	ID() string

	// Set drives the output. It returns once the command was handed to the
	// transport, not when the device confirmed it.
	Set(ctx context.Context, on bool) error

	Close() error
}

// Watcher is implemented by devices that report their actual state.
// Callbacks run on the transport's goroutine and must not block.
type Watcher interface {
	Watch(fn func(on bool))
}

// Factory builds devices from configuration, sharing transport connections.
type Factory struct {
	broker *Broker
	bridge *huego.Bridge
}

// NewFactory creates a factory. broker and bridge may be nil when no device
// of that type is configured.
func NewFactory(broker *Broker, bridge *huego.Bridge) *Factory {
	return &Factory{broker: broker, bridge: bridge}
}

// Build creates the device described by cfg.
func (f *Factory) Build(cfg config.DeviceConfig) (Device, error) {
	switch cfg.Type {
	case "mqtt":
		if f.broker == nil {
			return nil, fmt.Errorf("device %s: mqtt broker not connected", cfg.ID)
		}
		r, err := NewMQTTRelay(cfg.ID, f.broker, MQTTOptions{
			CommandTopic: cfg.CommandTopic,
			StateTopic:   cfg.StateTopic,
			PayloadOn:    cfg.PayloadOn,
			PayloadOff:   cfg.PayloadOff,
			Retain:       cfg.Retain,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	case "gpio":
		r, err := NewGPIORelay(cfg.ID, cfg.Chip, cfg.Line, cfg.ActiveLow)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "hue":
		if f.bridge == nil {
			return nil, fmt.Errorf("device %s: hue bridge not configured", cfg.ID)
		}
		return NewHueLight(cfg.ID, f.bridge, cfg.Light), nil
	case "fake":
		return NewFake(cfg.ID), nil
	default:
		return nil, fmt.Errorf("device %s: unknown type %q", cfg.ID, cfg.Type)
	}
}
