package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/switchd/internal/db"
)

func openLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_HasCompleted(t *testing.T) {
	l := openLedger(t)

	if l.HasCompleted("pump/1704096000") {
		t.Fatal("empty ledger reports completion")
	}
	if l.HasCompleted("") {
		t.Fatal("empty key must never dedupe")
	}

	if _, err := l.Append(EventSwitchFailed, "pump", "schedule", "pump/1704096000", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if l.HasCompleted("pump/1704096000") {
		t.Error("failed attempt counted as completed")
	}

	id, err := l.Append(EventSwitchApplied, "pump", "schedule", "pump/1704096000", map[string]any{"on": true})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id == "" {
		t.Error("expected event id")
	}
	if !l.HasCompleted("pump/1704096000") {
		t.Error("applied occurrence not reported as completed")
	}
}

func TestLedger_FirstApplyWins(t *testing.T) {
	l := openLedger(t)

	for i := 0; i < 3; i++ {
		if _, err := l.Append(EventSwitchApplied, "pump", "schedule", "pump/42", map[string]any{"attempt": i}); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	entries, err := l.GetByType(EventSwitchApplied, 10)
	if err != nil {
		t.Fatalf("GetByType: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d applied entries, want 1", len(entries))
	}
	if got := entries[0].Payload["attempt"]; got != float64(0) {
		t.Errorf("attempt = %v, want first writer", got)
	}
}

func TestLedger_GetBySwitch(t *testing.T) {
	l := openLedger(t)

	l.Append(EventSwitchApplied, "pump", "manual", "", map[string]any{"on": true})
	l.Append(EventDeviceReported, "pump", "device", "", map[string]any{"device": "relay", "on": true})
	l.Append(EventSwitchApplied, "fan", "manual", "", nil)

	entries, err := l.GetBySwitch("pump", 10)
	if err != nil {
		t.Fatalf("GetBySwitch: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].EventType != EventDeviceReported || entries[0].Source != "device" {
		t.Errorf("newest entry = %+v", entries[0])
	}
	if entries[0].EventID == entries[1].EventID {
		t.Error("event ids are not unique")
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openLedger(t)

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base.Add(-48 * time.Hour) }
	l.Append(EventScheduleFired, "pump", "scheduler", "", nil)
	l.now = func() time.Time { return base }
	l.Append(EventScheduleFired, "pump", "scheduler", "", nil)

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d, want 1", deleted)
	}
}
