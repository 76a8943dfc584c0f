// Package api exposes switches over HTTP: status, schedule queries, manual
// requests and a websocket visualization stream.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/switcher"
	"github.com/dokzlo13/switchd/internal/visual"
)

// Server is the HTTP API. Manual requests are published to the event bus;
// reads go straight to the switch registry.
type Server struct {
	cfg      config.HTTPConfig
	registry *switcher.Registry
	bus      *eventbus.Bus
	hub      *visual.Hub
	validate *validator.Validate
	upgrader websocket.Upgrader
	now      func() time.Time

	httpServer *http.Server
}

// NewServer creates the API server.
func NewServer(cfg config.HTTPConfig, registry *switcher.Registry, bus *eventbus.Bus, hub *visual.Hub) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		bus:      bus,
		hub:      hub,
		validate: validator.New(),
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.cfg.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimit, time.Second))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/switches", func(r chi.Router) {
		r.Get("/", s.handleListSwitches)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetSwitch)
			r.Get("/schedule", s.handleSchedule)
			r.Post("/button", s.handleButton)
			r.Post("/action", s.handleAction)
			r.Get("/ws", s.handleWebsocket)
		})
	})

	return r
}

// Run starts the API server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := s.cfg.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Websocket streams end with the daemon context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	log.Info().Str("addr", addr).Msg("Starting API server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// requestLogger logs every request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
