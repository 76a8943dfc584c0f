package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/db"
	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/events/manual"
	"github.com/dokzlo13/switchd/internal/events/schedule"
	"github.com/dokzlo13/switchd/internal/ledger"
	"github.com/dokzlo13/switchd/internal/lock"
	"github.com/dokzlo13/switchd/internal/storage"
	"github.com/dokzlo13/switchd/internal/switcher"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *storage.Store
	Bus    *eventbus.Bus
	Locker lock.Locker
	redis  *redis.Client

	// High-level services
	Hooks     *HookService
	Devices   *DeviceService
	Scheduler *SchedulerService
	API       *APIService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database
	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	if err := s.initLocker(); err != nil {
		s.Close()
		return nil, err
	}

	s.Hooks, err = NewHookService(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}

	deps := SwitchDeps{
		Locker:    s.Locker,
		Ledger:    s.Ledger,
		Snapshots: storage.NewTypedStore[switcher.Snapshot](s.Store, switcher.SnapshotKind),
	}
	if s.Hooks.Runtime != nil {
		deps.Hook = s.Hooks.Runtime
	}
	s.Devices, err = NewDeviceService(cfg, deps)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Scheduler, err = NewSchedulerService(cfg, s.Bus, s.Ledger)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Devices.RegisterPlans(s.Scheduler.Scheduler)

	s.API = NewAPIService(cfg, s.Devices.Registry, s.Bus, s.Devices.Hub)

	return s, nil
}

func (s *Services) initLocker() error {
	if s.cfg.Lock.Backend != "redis" {
		s.Locker = lock.NewMemory()
		return nil
	}

	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.cfg.Lock.RedisAddr,
		Password: s.cfg.Lock.RedisPassword,
		DB:       s.cfg.Lock.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
	defer cancel()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis lock backend: %w", err)
	}

	s.Locker = lock.NewRedis(s.redis, s.cfg.Lock.TTL.Duration())
	log.Info().Str("addr", s.cfg.Lock.RedisAddr).Msg("Using redis switch lock")
	return nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., the API cannot listen).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.Devices.Restore()

	schedule.RegisterHandler(ctx, s.Bus, s.Devices.Registry)
	manual.RegisterHandler(ctx, s.Bus, s.Devices.Registry)

	s.Hooks.Start(ctx)
	s.Scheduler.Start(ctx)
	s.API.Start(ctx, onFatalError)

	return nil
}

// ClearState clears all stored switch snapshots.
func (s *Services) ClearState() error {
	return s.Store.Clear("")
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Hooks != nil {
		s.Hooks.Close()
	}
	if s.Devices != nil {
		s.Devices.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
