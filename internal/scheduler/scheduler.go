package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/switchd/internal/eventbus"
	"github.com/dokzlo13/switchd/internal/ledger"
	"github.com/dokzlo13/switchd/internal/weekplan"
)

// Scheduler tracks one plan per switch and emits schedule events to the
// EventBus whenever a plan reaches a transition.
type Scheduler struct {
	mu        sync.RWMutex
	schedules map[string]*PlanSchedule

	bus    *eventbus.Bus
	ledger *ledger.Ledger
	tz     *time.Location
	now    func() time.Time

	reschedule chan struct{}
}

// New creates a scheduler. tz only affects schedule printing; plans carry
// their own location.
func New(bus *eventbus.Bus, l *ledger.Ledger, tz *time.Location) *Scheduler {
	if tz == nil {
		tz = time.Local
	}
	return &Scheduler{
		schedules:  make(map[string]*PlanSchedule),
		bus:        bus,
		ledger:     l,
		tz:         tz,
		now:        time.Now,
		reschedule: make(chan struct{}, 1),
	}
}

// Register adds the plan of a switch. Inactive plans are not scheduled.
func (s *Scheduler) Register(switchID string, plan *weekplan.Schedule, misfire MisfirePolicy) bool {
	if plan == nil || !plan.Active {
		log.Info().Str("switch", switchID).Msg("Schedule disabled, switch is manual only")
		s.Unregister(switchID)
		return false
	}

	sched := NewPlanSchedule(switchID, plan, misfire)
	s.mu.Lock()
	s.schedules[switchID] = sched
	s.mu.Unlock()

	log.Debug().
		Str("switch", switchID).
		Str("misfire_policy", string(sched.MisfirePolicy())).
		Int("groups", len(plan.Groups)).
		Msg("Schedule registered")

	s.notifyReschedule()
	return true
}

// Unregister removes the plan of a switch
func (s *Scheduler) Unregister(switchID string) {
	s.mu.Lock()
	delete(s.schedules, switchID)
	s.mu.Unlock()
	s.notifyReschedule()
}

// notifyReschedule signals the scheduler to recalculate
func (s *Scheduler) notifyReschedule() {
	select {
	case s.reschedule <- struct{}{}:
	default:
	}
}

// Run starts the scheduler loop
func (s *Scheduler) Run(ctx context.Context) error {
	log.Info().Msg("Scheduler started")

	for {
		due := s.nextOccurrences(s.now())

		sleepDuration := time.Hour // default if no schedules
		if len(due) > 0 {
			sleepDuration = due[0].Time.Sub(s.now())
			if sleepDuration < 0 {
				sleepDuration = 0
			}
		}

		log.Debug().
			Dur("sleep_duration", sleepDuration).
			Int("due", len(due)).
			Msg("Scheduler sleeping")

		timer := time.NewTimer(sleepDuration)

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Scheduler stopping")
			return nil

		case <-s.reschedule:
			timer.Stop()
			log.Debug().Msg("Schedule changed, recomputing")
			continue

		case <-timer.C:
			for _, occ := range due {
				s.emit(occ, "scheduler")
			}
		}
	}
}

// RunBootRecovery applies the currently active action of every plan with the
// run_latest misfire policy.
func (s *Scheduler) RunBootRecovery() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	for _, sched := range s.schedules {
		if sched.MisfirePolicy() == MisfirePolicySkip {
			continue
		}

		prev := sched.Prev(now)
		if prev == nil {
			log.Info().Str("switch", sched.ID()).Msg("Boot recovery: nothing active")
			continue
		}

		log.Info().
			Str("switch", sched.ID()).
			Time("prev_time", prev.Time).
			Msg("Boot recovery: applying active schedule")

		// Use a boot-specific occurrence ID to avoid dedupe conflicts
		s.emitDirect(NewOccurrenceWithSuffix(sched.ID(), now, "boot"), "boot_recovery")
	}
}

// nextOccurrences returns every occurrence sharing the earliest time after
// the given instant, so switches with simultaneous transitions fire together.
func (s *Scheduler) nextOccurrences(after time.Time) []*Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Occurrence
	for _, sched := range s.schedules {
		occ := sched.Next(after)
		if occ == nil {
			continue
		}
		switch {
		case len(due) == 0 || occ.Time.Before(due[0].Time):
			due = []*Occurrence{occ}
		case occ.Time.Equal(due[0].Time):
			due = append(due, occ)
		}
	}
	return due
}

// emit publishes a schedule event to the bus with deduplication check
func (s *Scheduler) emit(occ *Occurrence, source string) {
	if s.ledger != nil && s.ledger.HasCompleted(occ.ID) {
		log.Debug().Str("occurrence", occ.ID).Msg("Already completed, skipping")
		return
	}

	s.emitDirect(occ, source)
}

// emitDirect publishes a schedule event without deduplication (for boot recovery)
func (s *Scheduler) emitDirect(occ *Occurrence, source string) {
	log.Info().
		Str("switch", occ.SwitchID).
		Str("occurrence_id", occ.ID).
		Time("time", occ.Time).
		Str("source", source).
		Msg("Emitting schedule event")

	published := s.bus.Publish(eventbus.Event{
		Type:     eventbus.EventTypeSchedule,
		SwitchID: occ.SwitchID,
		Data: map[string]any{
			"occurrence_id": occ.ID,
			"run_at":        occ.Time,
			"source":        source,
		},
	})
	if !published {
		log.Warn().Str("occurrence_id", occ.ID).Msg("Event bus rejected schedule event")
		return
	}

	if s.ledger != nil {
		payload := map[string]any{"run_at": occ.Time.Unix()}
		if _, err := s.ledger.Append(ledger.EventScheduleFired, occ.SwitchID, source, occ.ID, payload); err != nil {
			log.Error().Err(err).Str("occurrence_id", occ.ID).Msg("Failed to record schedule event")
		}
	}
}

// ScheduleEntry represents a single transition for display
type ScheduleEntry struct {
	SwitchID   string
	Days       string
	Time       time.Time
	ActionName string
	IsPast     bool
}

// FormatScheduleForDay returns a human-readable schedule for a specific day.
func (s *Scheduler) FormatScheduleForDay(day time.Time) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.schedules) == 0 {
		return "No scheduled switches"
	}

	now := s.now()
	dayInTz := day.In(s.tz)

	var entries []ScheduleEntry
	for _, sched := range s.schedules {
		plan := sched.Plan()
		days := "-"
		if g, ok := plan.DayGroupFor(day.In(plan.Loc()).Weekday()); ok {
			days = g.Days.String()
		}

		for _, tr := range plan.Transitions(day) {
			name := "(keep)"
			if tr.Outcome.IsFound() {
				name = plan.ActionName(tr.Outcome.ID())
				if name == "" {
					name = tr.Outcome.String()
				}
			}
			entries = append(entries, ScheduleEntry{
				SwitchID:   sched.ID(),
				Days:       days,
				Time:       tr.At,
				ActionName: name,
				IsPast:     tr.At.Before(now),
			})
		}
	}

	slices.SortStableFunc(entries, func(a, b ScheduleEntry) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.SwitchID, b.SwitchID)
	})

	var sb strings.Builder
	dateStr := dayInTz.Format("2006-01-02 Monday")
	sb.WriteString(fmt.Sprintf("Schedule for %s (timezone: %s)\n", dateStr, s.tz.String()))
	sb.WriteString(fmt.Sprintf("%-3s %-20s %-20s %-12s %s\n", "", "SWITCH", "DAYS", "TIME", "ACTION"))
	sb.WriteString(strings.Repeat("-", 80) + "\n")

	for _, entry := range entries {
		status := " "
		if entry.IsPast {
			status = "✓"
		}

		timeStr := entry.Time.In(s.tz).Format("15:04:05")

		sb.WriteString(fmt.Sprintf("%-3s %-20s %-20s %-12s %s\n",
			status, entry.SwitchID, entry.Days, timeStr, entry.ActionName))
	}

	if len(entries) == 0 {
		sb.WriteString("No transitions for this day\n")
	}

	return sb.String()
}

// Timezone returns the scheduler's timezone
func (s *Scheduler) Timezone() *time.Location {
	return s.tz
}
