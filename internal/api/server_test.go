package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/dokzlo13/switchd/internal/config"
	"github.com/dokzlo13/switchd/internal/device"
	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/events/manual"
	"github.com/dokzlo13/switchd/internal/switcher"
	"github.com/dokzlo13/switchd/internal/visual"
	"github.com/dokzlo13/switchd/internal/weekplan"
)

// Monday 2024-01-01 09:00 UTC
var now = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	server *Server
	relay  *device.Fake
	bus    *eventbus.Bus
	hub    *visual.Hub
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	plan := weekplan.Default()
	plan.Location = time.UTC
	plan.Groups = []weekplan.DayGroup{{
		Days: weekplan.EveryDay,
		Points: []weekplan.TimePoint{
			{Seconds: 0, Action: weekplan.ActionOff},
			{Seconds: 8 * 3600, Action: weekplan.ActionOn},
		},
	}}

	hub := visual.NewHub()
	relay := device.NewFake("relay")
	registry := switcher.NewRegistry()
	if err := registry.Add(switcher.New(switcher.Options{
		ID:           "pump",
		Name:         "Pool pump",
		Number:       "03",
		Plan:         plan,
		ActionStates: map[weekplan.ActionID]bool{weekplan.ActionOff: false, weekplan.ActionOn: true},
		Devices:      []device.Device{relay},
		Hub:          hub,
		Now:          func() time.Time { return now },
	})); err != nil {
		t.Fatal(err)
	}

	bus := eventbus.NewWithConfig(1, 10)
	t.Cleanup(func() { bus.Close(context.Background()) })
	manual.RegisterHandler(context.Background(), bus, registry)

	s := NewServer(config.HTTPConfig{CORSOrigins: []string{"*"}}, registry, bus, hub)
	s.now = func() time.Time { return now }
	return &testEnv{server: s, relay: relay, bus: bus, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthAndReady(t *testing.T) {
	env := newEnv(t)

	if rec := env.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["switches"] != float64(1) || body["dropped_events"] != float64(0) {
		t.Errorf("ready body = %v", body)
	}
}

func TestGetSwitch(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/switches/pump", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	v := decodeBody[SwitchView](t, rec)
	if v.Name != "Pool pump" || v.Number != "03" || len(v.Devices) != 1 || !v.Active {
		t.Errorf("view = %+v", v)
	}
	if v.Schedule.Active != int(weekplan.ActionOn) || v.Schedule.Duration != "16:00:00" {
		t.Errorf("schedule = %+v", v.Schedule)
	}
	if v.Update.Schedule == nil || *v.Update.Schedule != 1 || v.Update.State != "off" {
		t.Errorf("update = %+v", v.Update)
	}

	if rec := env.do(t, http.MethodGet, "/switches/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown switch = %d", rec.Code)
	}

	list := decodeBody[[]SwitchView](t, env.do(t, http.MethodGet, "/switches", ""))
	if len(list) != 1 || list[0].ID != "pump" {
		t.Errorf("list = %+v", list)
	}
}

func TestSchedule(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantActive int
		wantEnd    time.Time
	}{
		{"now", "", http.StatusOK, 2, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"night", "?at=2024-01-03T05:00:00Z", http.StatusOK, 1, time.Date(2024, 1, 3, 8, 0, 0, 0, time.UTC)},
		{"boundary", "?at=2024-01-03T08:00:00Z", http.StatusOK, 2, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)},
		{"bad_time", "?at=tomorrow", http.StatusBadRequest, 0, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/switches/pump/schedule"+tt.query, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			v := decodeBody[StateView](t, rec)
			if v.Active != tt.wantActive || !v.End.Equal(tt.wantEnd) {
				t.Errorf("state = %+v", v)
			}
		})
	}
}

func waitSets(t *testing.T, relay *device.Fake, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(relay.Sets()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("sets = %d, want %d", len(relay.Sets()), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestButtonAndAction(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/switches/pump/button", `{"on":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("button = %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[AcceptedResponse](t, rec); resp.RequestID == "" {
		t.Error("missing request id")
	}
	waitSets(t, env.relay, 1)
	if !env.relay.State() {
		t.Error("button did not switch on")
	}

	if rec := env.do(t, http.MethodPost, "/switches/pump/action", `{"action":1}`); rec.Code != http.StatusAccepted {
		t.Fatalf("action = %d %s", rec.Code, rec.Body.String())
	}
	waitSets(t, env.relay, 2)
	if env.relay.State() {
		t.Error("action OFF did not switch off")
	}
}

func TestManualRequestValidation(t *testing.T) {
	env := newEnv(t)

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing_on", "/switches/pump/button", `{}`, http.StatusBadRequest},
		{"not_json", "/switches/pump/button", `on`, http.StatusBadRequest},
		{"zero_action", "/switches/pump/action", `{"action":0}`, http.StatusBadRequest},
		{"unknown_action", "/switches/pump/action", `{"action":9}`, http.StatusBadRequest},
		{"unknown_switch", "/switches/nope/button", `{"on":true}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPost, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if sets := env.relay.Sets(); len(sets) != 0 {
		t.Errorf("invalid requests reached the device: %v", sets)
	}
}

func TestWebsocketStream(t *testing.T) {
	env := newEnv(t)
	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/switches/pump/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, first, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(first) != `{"state":"off","schedule":1,"number":"03"}` {
		t.Errorf("first = %s", first)
	}

	env.relay.Report(true)
	_, next, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(next) != `{"state":"on"}` {
		t.Errorf("next = %s", next)
	}
}
