package hooks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func startRuntime(t *testing.T, src string) *Runtime {
	t.Helper()
	r := NewRuntime()
	if err := r.LoadString(src); err != nil {
		t.Fatalf("LoadString: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		r.Close()
	})
	return r
}

func TestOnSwitch_Override(t *testing.T) {
	r := startRuntime(t, `
local log = require("log")

function on_switch(ev)
	log.info("deciding", {switch = ev.switch, action = ev.action})
	if ev.switch == "pump" and ev.source == "schedule" then
		return false
	end
	if ev.action_id == 2 then
		return nil
	end
	return ev.on
end
`)
	ctx := context.Background()

	tests := []struct {
		name           string
		ev             SwitchEvent
		wantOn         bool
		wantOverridden bool
	}{
		{"veto_schedule", SwitchEvent{Switch: "pump", ActionID: 2, Action: "ON", On: true, Source: "schedule"}, false, true},
		{"keep_on_nil", SwitchEvent{Switch: "fan", ActionID: 2, Action: "ON", On: true, Source: "schedule"}, true, false},
		{"echo", SwitchEvent{Switch: "fan", ActionID: 1, Action: "OFF", On: false, Source: "manual"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			on, overridden, err := r.OnSwitch(ctx, tt.ev)
			if err != nil {
				t.Fatalf("OnSwitch: %v", err)
			}
			if on != tt.wantOn || overridden != tt.wantOverridden {
				t.Errorf("got on=%v overridden=%v, want %v/%v", on, overridden, tt.wantOn, tt.wantOverridden)
			}
		})
	}
}

func TestOnSwitch_NoHook(t *testing.T) {
	r := startRuntime(t, `x = 1`)
	if r.HasHook() {
		t.Fatal("HasHook without on_switch")
	}
	on, overridden, err := r.OnSwitch(context.Background(), SwitchEvent{On: true})
	if err != nil || !on || overridden {
		t.Errorf("got on=%v overridden=%v err=%v", on, overridden, err)
	}
}

func TestOnSwitch_ScriptErrors(t *testing.T) {
	r := startRuntime(t, `
function on_switch(ev)
	if ev.switch == "bad" then
		error("boom")
	end
	return "yes"
end
`)
	ctx := context.Background()

	if _, _, err := r.OnSwitch(ctx, SwitchEvent{Switch: "bad", On: true}); err == nil {
		t.Error("expected runtime error")
	}
	on, overridden, err := r.OnSwitch(ctx, SwitchEvent{Switch: "other", On: true})
	if err == nil {
		t.Error("expected type error for string result")
	}
	if !on || overridden {
		t.Errorf("error must keep the decision: on=%v overridden=%v", on, overridden)
	}
}

func TestRuntime_Closed(t *testing.T) {
	r := NewRuntime()
	if err := r.LoadString(`function on_switch(ev) return true end`); err != nil {
		t.Fatal(err)
	}
	r.Close()

	_, _, err := r.OnSwitch(context.Background(), SwitchEvent{})
	if !errors.Is(err, ErrRuntimeClosed) {
		t.Errorf("err = %v, want ErrRuntimeClosed", err)
	}
}

func TestLoadScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hook.lua")
	if err := os.WriteFile(path, []byte(`function on_switch(ev) return not ev.on end`), 0o600); err != nil {
		t.Fatal(err)
	}

	r := NewRuntime()
	defer r.Close()
	if err := r.LoadScript(path); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	if !r.HasHook() {
		t.Error("hook not detected")
	}

	if err := NewRuntime().LoadScript(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("expected error for missing script")
	}
}
