// Package manual handles button presses and explicit action requests.
package manual

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/switcher"
	"github.com/dokzlo13/switchd/internal/weekplan"
)

// Request kinds carried in the "kind" field of manual events.
const (
	KindButton = "button"
	KindAction = "action"
)

// ButtonEvent builds a manual event that drives all devices of a switch.
func ButtonEvent(switchID string, on bool, requestID string) eventbus.Event {
	return eventbus.Event{
		Type:     eventbus.EventTypeManual,
		SwitchID: switchID,
		Data:     map[string]any{"kind": KindButton, "on": on, "request_id": requestID},
	}
}

// ActionEvent builds a manual event that applies a plan action.
func ActionEvent(switchID string, action weekplan.ActionID, requestID string) eventbus.Event {
	return eventbus.Event{
		Type:     eventbus.EventTypeManual,
		SwitchID: switchID,
		Data:     map[string]any{"kind": KindAction, "action": int(action), "request_id": requestID},
	}
}

// RegisterHandler subscribes to manual events on the event bus.
func RegisterHandler(ctx context.Context, bus *eventbus.Bus, registry *switcher.Registry) {
	bus.Subscribe(eventbus.EventTypeManual, func(event eventbus.Event) {
		kind, _ := event.Data["kind"].(string)
		requestID, _ := event.Data["request_id"].(string)

		logger := log.With().Str("switch", event.SwitchID).Str("kind", kind).Str("request_id", requestID).Logger()
		logger.Debug().Msg("Manual event received")

		ctrl, err := registry.Get(event.SwitchID)
		if err != nil {
			logger.Error().Err(err).Msg("Manual event for unknown switch")
			return
		}

		switch kind {
		case KindButton:
			on, _ := event.Data["on"].(bool)
			err = ctrl.Switch(ctx, on, switcher.Trigger{Source: switcher.SourceButton})
		case KindAction:
			action, _ := event.Data["action"].(int)
			err = ctrl.ApplyAction(ctx, weekplan.ActionID(action), switcher.Trigger{Source: switcher.SourceAction})
		default:
			logger.Warn().Msg("Unknown manual request kind")
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("Manual request failed")
		}
	})
}
