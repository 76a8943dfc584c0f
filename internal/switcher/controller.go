// Package switcher turns resolved schedule states and manual requests into
// device commands. One Controller drives all devices of a logical switch.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/switchd/internal/device"
	"github.com/dokzlo13/switchd/internal/hooks"
	"github.com/dokzlo13/switchd/internal/ledger"
	"github.com/dokzlo13/switchd/internal/lock"
	"github.com/dokzlo13/switchd/internal/storage"
	"github.com/dokzlo13/switchd/internal/visual"
	"github.com/dokzlo13/switchd/internal/weekplan"
)

var (
	ErrUnknownSwitch = errors.New("unknown switch")
	ErrUnknownAction = errors.New("unknown action")
)

// Trigger sources recorded in the ledger and passed to hooks.
const (
	SourceSchedule = "schedule"
	SourceBoot     = "boot"
	SourceButton   = "button"
	SourceAction   = "action"
)

// SnapshotKind is the resource kind under which switch snapshots are stored.
const SnapshotKind = "switch"

// Trigger identifies what caused a switching request.
type Trigger struct {
	Source     string
	Occurrence string // scheduler occurrence id; empty for manual requests
}

// Snapshot is the persisted last commanded state of a switch.
type Snapshot struct {
	On        bool      `json:"on"`
	ActionID  int       `json:"action_id"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hook may override an on/off decision before devices are driven.
type Hook interface {
	OnSwitch(ctx context.Context, ev hooks.SwitchEvent) (on bool, overridden bool, err error)
}

// Options configures a Controller. Ledger, Snapshots, Hub, Hook and Limiter
// are optional.
type Options struct {
	ID           string
	Name         string
	Number       string
	Plan         *weekplan.Schedule
	ActionStates map[weekplan.ActionID]bool
	Devices      []device.Device

	Locker  lock.Locker
	Policy  lock.Policy
	Limiter *rate.Limiter

	Ledger    *ledger.Ledger
	Snapshots *storage.TypedStore[Snapshot]
	Hub       *visual.Hub
	Hook      Hook

	Now func() time.Time
}

// Controller drives the devices of one switch.
type Controller struct {
	id      string
	name    string
	number  string
	plan    *weekplan.Schedule
	actions map[weekplan.ActionID]bool
	devices []device.Device

	locker  lock.Locker
	policy  lock.Policy
	limiter *rate.Limiter

	ledger    *ledger.Ledger
	snapshots *storage.TypedStore[Snapshot]
	hub       *visual.Hub
	hook      Hook
	now       func() time.Time

	mu     sync.Mutex
	states map[string]bool // last known state per device id
}

// New creates a controller and subscribes to device feedback.
func New(opts Options) *Controller {
	if opts.Locker == nil {
		opts.Locker = lock.NewMemory()
	}
	if opts.Policy.Attempts == 0 {
		opts.Policy = lock.DefaultPolicy()
	}
	if opts.Plan == nil {
		opts.Plan = weekplan.Default()
	}
	if opts.Name == "" {
		opts.Name = opts.ID
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		id:        opts.ID,
		name:      opts.Name,
		number:    opts.Number,
		plan:      opts.Plan,
		actions:   opts.ActionStates,
		devices:   opts.Devices,
		locker:    opts.Locker,
		policy:    opts.Policy,
		limiter:   opts.Limiter,
		ledger:    opts.Ledger,
		snapshots: opts.Snapshots,
		hub:       opts.Hub,
		hook:      opts.Hook,
		now:       opts.Now,
		states:    make(map[string]bool, len(opts.Devices)),
	}

	for _, d := range c.devices {
		c.states[d.ID()] = false
		if w, ok := d.(device.Watcher); ok {
			deviceID := d.ID()
			w.Watch(func(on bool) { c.ReportDevice(deviceID, on) })
		}
	}

	return c
}

func (c *Controller) ID() string               { return c.id }
func (c *Controller) Name() string             { return c.name }
func (c *Controller) Number() string           { return c.number }
func (c *Controller) Plan() *weekplan.Schedule { return c.plan }
func (c *Controller) Devices() []device.Device { return c.devices }

func (c *Controller) lockKey() string { return "switch:" + c.id }

// Resolve returns the plan state at an instant.
func (c *Controller) Resolve(at time.Time) weekplan.State {
	return weekplan.Resolve(c.plan, at)
}

// Restore loads the persisted snapshot, seeds device states from it and
// publishes it to the hub. A missing snapshot is not an error.
func (c *Controller) Restore() error {
	if c.snapshots == nil {
		return nil
	}
	snap, version, err := c.snapshots.Get(c.id)
	if err != nil {
		return fmt.Errorf("switch %s: %w", c.id, err)
	}
	if version == 0 {
		return nil
	}

	c.mu.Lock()
	for id := range c.states {
		c.states[id] = snap.On
	}
	c.mu.Unlock()

	if c.hub != nil {
		c.hub.Publish(c.id, visual.Full(snap.On, c.plan.Active, c.number))
	}
	log.Debug().Str("switch", c.id).Bool("on", snap.On).Int("action", snap.ActionID).Msg("Restored switch snapshot")
	return nil
}

// Evaluate resolves the plan at the given instant and applies the active
// action. An empty resolution leaves the devices untouched.
func (c *Controller) Evaluate(ctx context.Context, at time.Time, trig Trigger) (weekplan.State, error) {
	st := c.Resolve(at)
	if st.Empty() {
		log.Info().Str("switch", c.id).Time("at", at).Msg("No active schedule, nothing to switch")
		return st, nil
	}

	log.Debug().Str("switch", c.id).Str("state", st.String()).Msg("Resolved schedule")
	return st, c.ApplyAction(ctx, st.ActiveID(), trig)
}

// ApplyAction switches to the device state mapped to an action.
func (c *Controller) ApplyAction(ctx context.Context, id weekplan.ActionID, trig Trigger) error {
	on, ok := c.actions[id]
	if !ok {
		return fmt.Errorf("%w: %d on switch %s", ErrUnknownAction, id, c.id)
	}
	return c.drive(ctx, on, id, trig)
}

// Switch drives all devices to on. The visualized action is the one the plan
// currently has active.
func (c *Controller) Switch(ctx context.Context, on bool, trig Trigger) error {
	return c.drive(ctx, on, c.Resolve(c.now()).ActiveID(), trig)
}

func (c *Controller) drive(ctx context.Context, on bool, actionID weekplan.ActionID, trig Trigger) error {
	logger := log.With().Str("switch", c.id).Str("source", trig.Source).Int("action", int(actionID)).Logger()

	if c.hook != nil {
		decided, overridden, err := c.hook.OnSwitch(ctx, hooks.SwitchEvent{
			Switch:   c.id,
			ActionID: int(actionID),
			Action:   c.plan.ActionName(actionID),
			On:       on,
			Source:   trig.Source,
		})
		if err != nil {
			logger.Error().Err(err).Msg("Switch hook failed, keeping decision")
		} else if overridden && decided != on {
			logger.Info().Bool("requested", on).Bool("decided", decided).Msg("Switch hook overrode decision")
			on = decided
		}
	}

	release, err := lock.Acquire(ctx, c.locker, c.lockKey(), c.policy)
	if err != nil {
		logger.Warn().Err(err).Msg("Could not acquire switch lock, skipping")
		return err
	}
	defer release()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var errs []error
	for _, d := range c.devices {
		if err := d.Set(ctx, on); err != nil {
			logger.Error().Err(err).Str("device", d.ID()).Msg("Failed to set device")
			errs = append(errs, fmt.Errorf("device %s: %w", d.ID(), err))
			continue
		}
		c.mu.Lock()
		c.states[d.ID()] = on
		c.mu.Unlock()
	}
	err = errors.Join(errs...)

	payload := map[string]any{"on": on, "action": int(actionID)}
	if err != nil {
		payload["error"] = err.Error()
		c.record(ledger.EventSwitchFailed, trig.Source, trig.Occurrence, payload)
		// Devices that did switch still change what the switch shows.
		if len(errs) < len(c.devices) && c.hub != nil {
			c.hub.Publish(c.id, visual.Partial(c.On()))
		}
		return err
	}
	c.record(ledger.EventSwitchApplied, trig.Source, trig.Occurrence, payload)

	if c.snapshots != nil {
		snap := Snapshot{On: on, ActionID: int(actionID), Source: trig.Source, UpdatedAt: c.now()}
		if err := c.snapshots.Set(c.id, snap); err != nil {
			logger.Error().Err(err).Msg("Failed to persist switch snapshot")
		}
	}

	if c.hub != nil {
		c.hub.Publish(c.id, visual.Full(on, c.plan.Active, c.number))
	}

	logger.Info().Bool("on", on).Int("devices", len(c.devices)).Msg("Switch applied")
	return nil
}

// ReportDevice handles state feedback from a device. With several devices an
// OFF is only reported once every device is off.
func (c *Controller) ReportDevice(deviceID string, on bool) {
	c.mu.Lock()
	if _, known := c.states[deviceID]; !known {
		c.mu.Unlock()
		log.Warn().Str("switch", c.id).Str("device", deviceID).Msg("State report from unknown device")
		return
	}
	c.states[deviceID] = on
	if !on {
		for _, s := range c.states {
			if s {
				c.mu.Unlock()
				return
			}
		}
	}
	c.mu.Unlock()

	c.record(ledger.EventDeviceReported, "device", "", map[string]any{"device": deviceID, "on": on})
	if c.hub != nil {
		c.hub.Publish(c.id, visual.Partial(on))
	}
}

// On reports whether any device of the switch is on.
func (c *Controller) On() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.states {
		if s {
			return true
		}
	}
	return false
}

// FullUpdate builds the complete visualization message for the switch.
func (c *Controller) FullUpdate() visual.Message {
	return visual.Full(c.On(), c.plan.Active, c.number)
}

// Close releases all devices.
func (c *Controller) Close() error {
	var errs []error
	for _, d := range c.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", d.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (c *Controller) record(eventType ledger.EventType, source, key string, payload map[string]any) {
	if c.ledger == nil {
		return
	}
	if _, err := c.ledger.Append(eventType, c.id, source, key, payload); err != nil {
		log.Error().Err(err).Str("switch", c.id).Str("event", string(eventType)).Msg("Failed to record ledger entry")
	}
}
