package device

import (
	"context"
	"fmt"

	"github.com/amimof/huego"
)

// HueLight switches a single light on a Hue bridge.
type HueLight struct {
	id     string
	bridge *huego.Bridge
	light  int
}

// NewHueLight creates a device for light number light on bridge.
func NewHueLight(id string, bridge *huego.Bridge, light int) *HueLight {
	return &HueLight{id: id, bridge: bridge, light: light}
}

func (h *HueLight) ID() string { return h.id }

// Set turns the light on or off, keeping brightness and color.
func (h *HueLight) Set(ctx context.Context, on bool) error {
	if _, err := h.bridge.SetLightStateContext(ctx, h.light, huego.State{On: on}); err != nil {
		return fmt.Errorf("hue: set light %d: %w", h.light, err)
	}
	return nil
}

// Close is a no-op; the bridge client is shared.
func (h *HueLight) Close() error {
	return nil
}
