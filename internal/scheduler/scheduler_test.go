package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dokzlo13/switchd/internal/db"
	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/ledger"
	"github.com/dokzlo13/switchd/internal/weekplan"
)

// Monday 2024-01-01
var monday = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func dailyPlan(points ...weekplan.TimePoint) *weekplan.Schedule {
	p := weekplan.Default()
	p.Location = time.UTC
	p.Groups = []weekplan.DayGroup{{Days: weekplan.EveryDay, Points: points}}
	return p
}

func offAt(h int) weekplan.TimePoint {
	return weekplan.TimePoint{Seconds: h * 3600, Action: weekplan.ActionOff}
}

func onAt(h int) weekplan.TimePoint {
	return weekplan.TimePoint{Seconds: h * 3600, Action: weekplan.ActionOn}
}

type captured struct {
	events chan eventbus.Event
}

func newScheduler(t *testing.T, now time.Time) (*Scheduler, *ledger.Ledger, *captured) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "switchd.sqlite"))
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	bus := eventbus.NewWithConfig(1, 16)
	t.Cleanup(func() { bus.Close(context.Background()) })

	c := &captured{events: make(chan eventbus.Event, 16)}
	bus.Subscribe(eventbus.EventTypeSchedule, func(e eventbus.Event) { c.events <- e })

	l := ledger.New(database.DB)
	s := New(bus, l, time.UTC)
	s.now = func() time.Time { return now }
	return s, l, c
}

func (c *captured) next(t *testing.T) eventbus.Event {
	t.Helper()
	select {
	case e := <-c.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("no schedule event")
	}
	return eventbus.Event{}
}

func (c *captured) none(t *testing.T) {
	t.Helper()
	select {
	case e := <-c.events:
		t.Fatalf("unexpected event %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPlanSchedule_NextAndPrev(t *testing.T) {
	p := NewPlanSchedule("pump", dailyPlan(offAt(0), onAt(8)), "")
	if p.MisfirePolicy() != MisfirePolicyRunLatest {
		t.Errorf("default misfire = %s", p.MisfirePolicy())
	}

	tests := []struct {
		name     string
		at       time.Time
		wantNext time.Time
		wantPrev time.Time
	}{
		{"night", monday.Add(7 * time.Hour), monday.Add(8 * time.Hour), monday},
		{"at_transition", monday.Add(8 * time.Hour), monday.Add(24 * time.Hour), monday.Add(8 * time.Hour)},
		{"day", monday.Add(20 * time.Hour), monday.Add(24 * time.Hour), monday.Add(8 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := p.Next(tt.at)
			if next == nil || !next.Time.Equal(tt.wantNext) {
				t.Fatalf("Next = %+v, want %s", next, tt.wantNext)
			}
			if want := NewOccurrence("pump", tt.wantNext).ID; next.ID != want {
				t.Errorf("ID = %s, want %s", next.ID, want)
			}
			if prev := p.Prev(tt.at); prev == nil || !prev.Time.Equal(tt.wantPrev) {
				t.Errorf("Prev = %+v, want %s", prev, tt.wantPrev)
			}
		})
	}

	empty := NewPlanSchedule("fan", &weekplan.Schedule{Active: true, Location: time.UTC}, MisfirePolicySkip)
	if empty.Next(monday) != nil || empty.Prev(monday) != nil {
		t.Error("empty plan produced occurrences")
	}
}

func TestOccurrenceIDs(t *testing.T) {
	at := time.Unix(1704096000, 0)
	if got := NewOccurrence("pump", at).ID; got != "pump/1704096000" {
		t.Errorf("ID = %s", got)
	}
	if got := NewOccurrenceWithSuffix("pump", at, "boot").ID; got != "pump/boot/1704096000" {
		t.Errorf("ID = %s", got)
	}
}

func TestRegister_SkipsInactivePlans(t *testing.T) {
	s, _, _ := newScheduler(t, monday)

	inactive := dailyPlan(offAt(0))
	inactive.Active = false
	if s.Register("fan", inactive, "") {
		t.Error("inactive plan registered")
	}
	if !s.Register("pump", dailyPlan(offAt(0), onAt(8)), "") {
		t.Error("active plan rejected")
	}

	due := s.nextOccurrences(monday.Add(time.Hour))
	if len(due) != 1 || due[0].SwitchID != "pump" {
		t.Errorf("due = %+v", due)
	}
}

func TestNextOccurrences_SimultaneousTransitions(t *testing.T) {
	s, _, _ := newScheduler(t, monday)
	s.Register("pump", dailyPlan(offAt(0), onAt(8)), "")
	s.Register("fan", dailyPlan(offAt(0), onAt(8)), "")
	s.Register("light", dailyPlan(offAt(0), onAt(9)), "")

	due := s.nextOccurrences(monday.Add(time.Hour))
	if len(due) != 2 {
		t.Fatalf("due = %d, want 2", len(due))
	}
	for _, occ := range due {
		if !occ.Time.Equal(monday.Add(8*time.Hour)) || occ.SwitchID == "light" {
			t.Errorf("unexpected occurrence %+v", occ)
		}
	}
}

func TestEmit_DeduplicatesCompletedOccurrences(t *testing.T) {
	s, l, c := newScheduler(t, monday)
	occ := NewOccurrence("pump", monday.Add(8*time.Hour))

	s.emit(occ, "scheduler")
	e := c.next(t)
	if e.SwitchID != "pump" || e.Data["occurrence_id"] != occ.ID {
		t.Errorf("event = %+v", e)
	}
	if runAt, _ := e.Data["run_at"].(time.Time); !runAt.Equal(occ.Time) {
		t.Errorf("run_at = %v", e.Data["run_at"])
	}

	if _, err := l.Append(ledger.EventSwitchApplied, "pump", "schedule", occ.ID, nil); err != nil {
		t.Fatal(err)
	}
	s.emit(occ, "scheduler")
	c.none(t)
}

func TestEmit_RecordsScheduleFired(t *testing.T) {
	s, l, c := newScheduler(t, monday)
	occ := NewOccurrence("pump", monday.Add(8*time.Hour))

	s.emit(occ, "scheduler")
	c.next(t)

	entries, err := l.GetByType(ledger.EventScheduleFired, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("schedule_fired entries = %d, want 1", len(entries))
	}
	if entries[0].IdempotencyKey != occ.ID || entries[0].SwitchID != "pump" {
		t.Errorf("entry = %+v", entries[0])
	}
	if l.HasCompleted(occ.ID) {
		t.Error("a fired occurrence must not count as completed")
	}
}

func TestRunBootRecovery(t *testing.T) {
	now := monday.Add(10 * time.Hour)
	s, _, c := newScheduler(t, now)
	s.Register("pump", dailyPlan(offAt(0), onAt(8)), MisfirePolicyRunLatest)
	s.Register("fan", dailyPlan(offAt(0), onAt(8)), MisfirePolicySkip)
	s.Register("empty", &weekplan.Schedule{Active: true, Location: time.UTC}, MisfirePolicyRunLatest)

	s.RunBootRecovery()

	e := c.next(t)
	if e.SwitchID != "pump" {
		t.Errorf("switch = %s, want pump", e.SwitchID)
	}
	if e.Data["occurrence_id"] != NewOccurrenceWithSuffix("pump", now, "boot").ID {
		t.Errorf("occurrence = %v", e.Data["occurrence_id"])
	}
	if e.Data["source"] != "boot_recovery" {
		t.Errorf("source = %v", e.Data["source"])
	}
	c.none(t)
}

func TestRun_FiresAndStops(t *testing.T) {
	s, _, c := newScheduler(t, monday)
	start := time.Now().UTC()
	s.now = time.Now

	// A plan whose next transition is a second away.
	secs := (start.Hour()*3600 + start.Minute()*60 + start.Second() + 1) % weekplan.SecondsPerDay
	plan := dailyPlan(offAt(0), weekplan.TimePoint{Seconds: secs, Action: weekplan.ActionOn})
	if secs == 0 {
		plan = dailyPlan(offAt(0))
	}
	s.Register("pump", plan, MisfirePolicySkip)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case e := <-c.events:
		if e.SwitchID != "pump" {
			t.Errorf("switch = %s", e.SwitchID)
		}
	case <-time.After(3 * time.Second):
		t.Error("scheduler did not fire")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestFormatScheduleForDay(t *testing.T) {
	s, _, _ := newScheduler(t, monday.Add(9*time.Hour))
	if got := s.FormatScheduleForDay(monday); got != "No scheduled switches" {
		t.Errorf("empty = %q", got)
	}

	s.Register("pump", dailyPlan(offAt(0), onAt(8), weekplan.TimePoint{Seconds: 12 * 3600}), "")
	out := s.FormatScheduleForDay(monday)

	for _, want := range []string{"2024-01-01 Monday", "pump", "daily", "08:00:00", "ON", "(keep)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "00:00:00") > strings.Index(out, "08:00:00") {
		t.Errorf("entries not sorted:\n%s", out)
	}
}
