package app

import (
	"errors"
	"fmt"

	"github.com/amimof/huego"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/device"
	"github.com/dokzlo13/switchd/internal/ledger"
	"github.com/dokzlo13/switchd/internal/lock"
	"github.com/dokzlo13/switchd/internal/scheduler"
	"github.com/dokzlo13/switchd/internal/storage"
	"github.com/dokzlo13/switchd/internal/switcher"
	"github.com/dokzlo13/switchd/internal/visual"
)

// DeviceService owns device transports and the switch controllers built on them.
type DeviceService struct {
	cfg *config.Config

	Broker   *device.Broker
	Bridge   *huego.Bridge
	Registry *switcher.Registry
	Hub      *visual.Hub
}

// SwitchDeps are the shared collaborators of every controller.
type SwitchDeps struct {
	Locker    lock.Locker
	Ledger    *ledger.Ledger
	Snapshots *storage.TypedStore[switcher.Snapshot]
	Hook      switcher.Hook
}

// NewDeviceService connects transports and builds one controller per switch.
func NewDeviceService(cfg *config.Config, deps SwitchDeps) (*DeviceService, error) {
	s := &DeviceService{
		cfg:      cfg,
		Registry: switcher.NewRegistry(),
		Hub:      visual.NewHub(),
	}

	if usesDeviceType(cfg, "mqtt") {
		broker, err := device.NewBroker(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		s.Broker = broker
	}
	if usesDeviceType(cfg, "hue") {
		s.Bridge = huego.New(cfg.Hue.Bridge, cfg.Hue.Token)
		log.Info().Str("bridge", cfg.Hue.Bridge).Msg("Using Hue bridge")
	}

	loc, err := cfg.Location()
	if err != nil {
		s.Close()
		return nil, err
	}

	factory := device.NewFactory(s.Broker, s.Bridge)
	policy := lock.Policy{
		Attempts:   cfg.Lock.Retries,
		MinBackoff: cfg.Lock.MinBackoff.Duration(),
		MaxBackoff: cfg.Lock.MaxBackoff.Duration(),
	}
	rps := cfg.Switching.RateLimitRPS
	limiter := rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))

	for _, sw := range cfg.Switches {
		plan, err := sw.Schedule.Build(loc)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("switch %s: %w", sw.ID, err)
		}

		devices := make([]device.Device, 0, len(sw.Devices))
		for _, dc := range sw.Devices {
			d, err := factory.Build(dc)
			if err != nil {
				closeDevices(devices)
				s.Close()
				return nil, fmt.Errorf("switch %s: %w", sw.ID, err)
			}
			devices = append(devices, d)
		}

		ctrl := switcher.New(switcher.Options{
			ID:           sw.ID,
			Name:         sw.Name,
			Number:       sw.Number(),
			Plan:         plan,
			ActionStates: sw.Schedule.ActionStates(),
			Devices:      devices,
			Locker:       deps.Locker,
			Policy:       policy,
			Limiter:      limiter,
			Ledger:       deps.Ledger,
			Snapshots:    deps.Snapshots,
			Hub:          s.Hub,
			Hook:         deps.Hook,
		})
		if err := s.Registry.Add(ctrl); err != nil {
			closeDevices(devices)
			s.Close()
			return nil, err
		}

		log.Info().
			Str("switch", sw.ID).
			Int("devices", len(devices)).
			Bool("schedule", plan.Active).
			Msg("Switch configured")
	}

	return s, nil
}

// Restore seeds every switch from its persisted snapshot.
func (s *DeviceService) Restore() {
	for _, ctrl := range s.Registry.All() {
		if err := ctrl.Restore(); err != nil {
			log.Warn().Err(err).Str("switch", ctrl.ID()).Msg("Failed to restore switch snapshot")
		}
	}
}

// RegisterPlans hands every active plan to the scheduler.
func (s *DeviceService) RegisterPlans(sched *scheduler.Scheduler) {
	for _, sw := range s.cfg.Switches {
		ctrl, err := s.Registry.Get(sw.ID)
		if err != nil {
			continue
		}
		sched.Register(sw.ID, ctrl.Plan(), scheduler.MisfirePolicy(sw.Schedule.MisfirePolicy))
	}
}

// Close releases devices and transports.
func (s *DeviceService) Close() {
	if err := s.Registry.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close devices")
	}
	if s.Broker != nil {
		s.Broker.Close()
	}
}

func usesDeviceType(cfg *config.Config, typ string) bool {
	for _, sw := range cfg.Switches {
		for _, d := range sw.Devices {
			if d.Type == typ {
				return true
			}
		}
	}
	return false
}

func closeDevices(devices []device.Device) {
	var errs []error
	for _, d := range devices {
		errs = append(errs, d.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("Failed to close devices")
	}
}
