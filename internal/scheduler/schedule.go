// Package scheduler fires switch evaluations at the transitions of weekly plans.
package scheduler

import (
	"fmt"
	"time"

	"github.com/dokzlo13/switchd/internal/weekplan"
)

// MisfirePolicy defines how to handle missed schedule occurrences on boot
type MisfirePolicy string

const (
	MisfirePolicySkip      MisfirePolicy = "skip"       // Wait for the next transition
	MisfirePolicyRunLatest MisfirePolicy = "run_latest" // Apply the currently active action on boot
)

// Occurrence represents a specific firing point of a schedule
type Occurrence struct {
	// ID uniquely identifies this occurrence (e.g., "pump/1704067200")
	ID string

	// SwitchID is the switch whose plan created this occurrence
	SwitchID string

	// Time is when this occurrence should fire
	Time time.Time
}

// NewOccurrence creates a new occurrence with a standard ID format
func NewOccurrence(switchID string, t time.Time) *Occurrence {
	return &Occurrence{
		ID:       fmt.Sprintf("%s/%d", switchID, t.Unix()),
		SwitchID: switchID,
		Time:     t,
	}
}

// NewOccurrenceWithSuffix creates an occurrence with a custom suffix (e.g., for boot recovery)
func NewOccurrenceWithSuffix(switchID string, t time.Time, suffix string) *Occurrence {
	return &Occurrence{
		ID:       fmt.Sprintf("%s/%s/%d", switchID, suffix, t.Unix()),
		SwitchID: switchID,
		Time:     t,
	}
}

// PlanSchedule is the weekly plan of one switch seen as a source of occurrences.
type PlanSchedule struct {
	switchID string
	plan     *weekplan.Schedule
	misfire  MisfirePolicy
}

// NewPlanSchedule wraps a plan. An empty misfire policy means run_latest.
func NewPlanSchedule(switchID string, plan *weekplan.Schedule, misfire MisfirePolicy) *PlanSchedule {
	if misfire == "" {
		misfire = MisfirePolicyRunLatest
	}
	return &PlanSchedule{switchID: switchID, plan: plan, misfire: misfire}
}

func (p *PlanSchedule) ID() string                   { return p.switchID }
func (p *PlanSchedule) Plan() *weekplan.Schedule     { return p.plan }
func (p *PlanSchedule) MisfirePolicy() MisfirePolicy { return p.misfire }

// Next returns the end of the interval active after the given instant, or
// nil when the plan resolves to nothing.
func (p *PlanSchedule) Next(after time.Time) *Occurrence {
	st := weekplan.Resolve(p.plan, after)
	if st.Empty() || !st.End.After(after) {
		return nil
	}
	return NewOccurrence(p.switchID, st.End)
}

// Prev returns the start of the interval active at the given instant.
func (p *PlanSchedule) Prev(before time.Time) *Occurrence {
	st := weekplan.Resolve(p.plan, before)
	if st.Empty() {
		return nil
	}
	return NewOccurrence(p.switchID, st.Start)
}
