// Package schedule provides event handling for scheduler events.
package schedule

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/switcher"
)

// RegisterHandler subscribes to schedule events on the event bus and
// evaluates the plan of the addressed switch at the occurrence time.
func RegisterHandler(ctx context.Context, bus *eventbus.Bus, registry *switcher.Registry) {
	bus.Subscribe(eventbus.EventTypeSchedule, func(event eventbus.Event) {
		occurrenceID, _ := event.Data["occurrence_id"].(string)
		source, _ := event.Data["source"].(string)
		runAt, ok := event.Data["run_at"].(time.Time)
		if !ok {
			runAt = time.Now()
		}

		log.Debug().
			Str("switch", event.SwitchID).
			Str("occurrence_id", occurrenceID).
			Str("source", source).
			Msg("Schedule event received")

		ctrl, err := registry.Get(event.SwitchID)
		if err != nil {
			log.Error().Err(err).Str("occurrence_id", occurrenceID).Msg("Schedule event for unknown switch")
			return
		}

		trig := switcher.Trigger{Source: switcher.SourceSchedule, Occurrence: occurrenceID}
		if source == "boot_recovery" {
			trig.Source = switcher.SourceBoot
		}

		if _, err := ctrl.Evaluate(ctx, runAt, trig); err != nil {
			log.Error().Err(err).
				Str("switch", event.SwitchID).
				Str("occurrence_id", occurrenceID).
				Msg("Failed to apply scheduled action")
		}
	})
}
