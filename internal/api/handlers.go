package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/events/manual"
	"github.com/dokzlo13/switchd/internal/switcher"
	"github.com/dokzlo13/switchd/internal/visual"
	"github.com/dokzlo13/switchd/internal/weekplan"
)

// StateView is the JSON form of a resolved schedule state.
type StateView struct {
	At           time.Time `json:"at"`
	Active       int       `json:"active"`
	ActiveName   string    `json:"active_name,omitempty"`
	Previous     int       `json:"previous"`
	PreviousName string    `json:"previous_name,omitempty"`
	Next         int       `json:"next"`
	NextName     string    `json:"next_name,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Duration     string    `json:"duration"` // HH:MM:SS
	Empty        bool      `json:"empty"`
}

// SwitchView describes one switch.
type SwitchView struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Number   string         `json:"number,omitempty"`
	On       bool           `json:"on"`
	Devices  []string       `json:"devices"`
	Active   bool           `json:"schedule_active"`
	Update   visual.Message `json:"update"`
	Schedule StateView      `json:"schedule"`
}

// ButtonRequest presses the switch button.
type ButtonRequest struct {
	On *bool `json:"on" validate:"required"`
}

// ActionRequest applies a plan action.
type ActionRequest struct {
	Action int `json:"action" validate:"gte=1"`
}

// AcceptedResponse is returned for queued manual requests.
type AcceptedResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

func newStateView(st weekplan.State) StateView {
	return StateView{
		At:           st.At,
		Active:       int(st.ActiveID()),
		ActiveName:   st.ActiveName,
		Previous:     int(st.PreviousID()),
		PreviousName: st.PreviousName,
		Next:         int(st.NextID()),
		NextName:     st.NextName,
		Start:        st.Start,
		End:          st.End,
		Duration:     formatDuration(st),
		Empty:        st.Empty(),
	}
}

func formatDuration(st weekplan.State) string {
	return fmt.Sprintf("%02d:%02d:%02d", st.Hours, st.Minutes, st.Seconds)
}

func (s *Server) switchView(c *switcher.Controller) SwitchView {
	devices := make([]string, 0, len(c.Devices()))
	for _, d := range c.Devices() {
		devices = append(devices, d.ID())
	}
	return SwitchView{
		ID:       c.ID(),
		Name:     c.Name(),
		Number:   c.Number(),
		On:       c.On(),
		Devices:  devices,
		Active:   c.Plan().Active,
		Update:   c.FullUpdate(),
		Schedule: newStateView(c.Resolve(s.now())),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"switches":       len(s.registry.All()),
		"dropped_events": s.bus.Dropped(),
	})
}

func (s *Server) handleListSwitches(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	views := make([]SwitchView, 0, len(all))
	for _, c := range all {
		views = append(views, s.switchView(c))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetSwitch(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.switchView(c))
}

// handleSchedule answers "what is active at T"; T defaults to now.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	at := s.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be an RFC3339 timestamp")
			return
		}
		at = parsed
	}
	writeJSON(w, http.StatusOK, newStateView(c.Resolve(at)))
}

func (s *Server) handleButton(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req ButtonRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.publish(w, manual.ButtonEvent(c.ID(), *req.On, s.requestID()))
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req ActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if _, known := c.Plan().Action(weekplan.ActionID(req.Action)); !known {
		writeError(w, http.StatusBadRequest, switcher.ErrUnknownAction.Error())
		return
	}
	s.publish(w, manual.ActionEvent(c.ID(), weekplan.ActionID(req.Action), s.requestID()))
}

func (s *Server) requestID() string {
	return uuid.NewString()
}

func (s *Server) publish(w http.ResponseWriter, event eventbus.Event) {
	requestID, _ := event.Data["request_id"].(string)
	if !s.bus.Publish(event) {
		writeError(w, http.StatusServiceUnavailable, "event queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, AcceptedResponse{Status: "accepted", RequestID: requestID})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*switcher.Controller, bool) {
	c, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, switcher.ErrUnknownSwitch) {
			writeError(w, http.StatusNotFound, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}
	return c, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
