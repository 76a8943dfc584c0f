package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/hooks"
)

// HookService wraps the optional Lua hook runtime.
type HookService struct {
	cfg     *config.Config
	Runtime *hooks.Runtime
}

// NewHookService loads the configured script. Without a script it returns a
// service with no runtime.
func NewHookService(cfg *config.Config) (*HookService, error) {
	s := &HookService{cfg: cfg}
	if cfg.Script == "" {
		return s, nil
	}

	runtime := hooks.NewRuntime()
	if err := runtime.LoadScript(cfg.Script); err != nil {
		runtime.Close()
		return nil, err
	}
	if !runtime.HasHook() {
		log.Warn().Str("script", cfg.Script).Msg("Script loaded but defines no on_switch hook")
	}
	s.Runtime = runtime
	return s, nil
}

// Start begins the Lua worker goroutine - the ONLY goroutine that touches Lua.
func (s *HookService) Start(ctx context.Context) {
	if s.Runtime != nil {
		go s.Runtime.Run(ctx)
	}
}

// Close closes the Lua runtime.
func (s *HookService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}
