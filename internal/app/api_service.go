package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/api"
	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/switcher"
	"github.com/dokzlo13/switchd/internal/visual"
)

// APIService runs the HTTP API when enabled.
type APIService struct {
	cfg    *config.Config
	Server *api.Server
}

// NewAPIService creates a new APIService.
func NewAPIService(cfg *config.Config, registry *switcher.Registry, bus *eventbus.Bus, hub *visual.Hub) *APIService {
	return &APIService{
		cfg:    cfg,
		Server: api.NewServer(cfg.HTTP, registry, bus, hub),
	}
}

// Start begins serving in the background. A listener failure is fatal.
func (s *APIService) Start(ctx context.Context, onFatalError func(error)) {
	if !s.cfg.HTTP.Enabled {
		log.Info().Msg("HTTP API is disabled")
		return
	}

	go func() {
		if err := s.Server.Run(ctx, s.cfg.GetShutdownTimeout()); err != nil {
			log.Error().Err(err).Msg("API server error")
			if onFatalError != nil {
				onFatalError(err)
			}
		}
	}()
}
