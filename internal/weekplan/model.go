// Package weekplan models a recurring weekly switching timetable and resolves
// which action is in effect at any instant.
//
// A plan is sparse: a day may carry no transitions at all, and a transition may
// declare no action (NoAction), meaning "keep whatever was active before".
// Resolving the effective state therefore walks backward and forward across day
// and week boundaries. The package performs no I/O and holds no mutable state.
package weekplan

import (
	"time"
)

// ActionID identifies a switch action within a plan.
type ActionID int

// NoAction is the authored placeholder for "no explicit action at this point".
// It is never a real action to switch to.
const NoAction ActionID = 0

// Action is a named discrete state a plan can be in (e.g. ON/OFF).
type Action struct {
	ID    ActionID
	Name  string
	Color int // RGB, display only
}

// TimePoint is a transition within a day: at Seconds after local midnight the
// plan switches to Action.
type TimePoint struct {
	Seconds int
	Action  ActionID
}

// Outcome converts the authored action into a tagged result.
func (p TimePoint) Outcome() Outcome {
	if p.Action == NoAction {
		return Inherit
	}
	return Found(p.Action)
}

// DayGroup is a set of weekdays sharing one ordered list of time points.
// Points must be strictly ascending by Seconds.
type DayGroup struct {
	Days   DayMask
	Points []TimePoint
}

// Schedule is an immutable weekly timetable.
//
// Every weekday belongs to at most one group. Active=false disables the whole
// plan; callers gate on it, the resolver does not.
type Schedule struct {
	Groups   []DayGroup
	Actions  []Action
	Active   bool
	Location *time.Location
}

// Transition is a concrete time point placed on a calendar day.
type Transition struct {
	At      time.Time
	Outcome Outcome
}

// Default returns the plan created for a new switch: OFF at midnight every day.
func Default() *Schedule {
	return &Schedule{
		Groups: []DayGroup{
			{Days: EveryDay, Points: []TimePoint{{Seconds: 0, Action: ActionOff}}},
		},
		Actions: []Action{
			{ID: ActionOff, Name: "OFF", Color: 0xFF0000},
			{ID: ActionOn, Name: "ON", Color: 0x00FF00},
		},
		Active: true,
	}
}

// Well-known action ids of the default two-state plan.
const (
	ActionOff ActionID = 1
	ActionOn  ActionID = 2
)

// DayGroupFor returns the group the weekday belongs to.
func (s *Schedule) DayGroupFor(day time.Weekday) (*DayGroup, bool) {
	for i := range s.Groups {
		if s.Groups[i].Days.Has(day) {
			return &s.Groups[i], true
		}
	}
	return nil, false
}

// TimePointsOf returns the ordered time points of a group.
func (s *Schedule) TimePointsOf(g *DayGroup) []TimePoint {
	if g == nil {
		return nil
	}
	return g.Points
}

// ActionName returns the display name of an action, or "" if unknown.
func (s *Schedule) ActionName(id ActionID) string {
	for _, a := range s.Actions {
		if a.ID == id {
			return a.Name
		}
	}
	return ""
}

// Action returns the action with the given id.
func (s *Schedule) Action(id ActionID) (Action, bool) {
	for _, a := range s.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// Loc returns the plan's time zone, defaulting to time.Local.
func (s *Schedule) Loc() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

// Transitions returns the transitions of the calendar day containing day,
// in ascending order. It returns nil for unscheduled days and empty groups.
func (s *Schedule) Transitions(day time.Time) []Transition {
	d := newDay(day, s.Loc())
	pts, ok := s.dayPoints(d)
	if !ok {
		return nil
	}
	return d.transitions(pts)
}

// dayPoints is the single-day lookup every search step goes through.
// An empty group counts as unscheduled.
func (s *Schedule) dayPoints(d day) ([]TimePoint, bool) {
	g, ok := s.DayGroupFor(d.weekday())
	if !ok {
		return nil, false
	}
	pts := s.TimePointsOf(g)
	if len(pts) == 0 {
		return nil, false
	}
	return pts, true
}

// day is a calendar date in a specific location.
type day struct {
	year  int
	month time.Month
	dom   int
	loc   *time.Location
}

func newDay(t time.Time, loc *time.Location) day {
	lt := t.In(loc)
	return day{year: lt.Year(), month: lt.Month(), dom: lt.Day(), loc: loc}
}

// at places a time-of-day on the date using wall-clock fields, so DST days
// keep their authored clock times. A clock time skipped by a forward jump
// maps to the first instant after the gap.
func (d day) at(seconds int) time.Time {
	h, m, sec := seconds/3600, seconds/60%60, seconds%60
	t := time.Date(d.year, d.month, d.dom, h, m, sec, 0, d.loc)
	if t.Hour() != h || t.Minute() != m || t.Second() != sec {
		if start, _ := t.ZoneBounds(); !start.IsZero() {
			t = start
		}
	}
	return t
}

// transitions turns a day's points into strictly ascending instants. Points
// that land on the same instant after DST mapping collapse into one; the
// later real action wins.
func (d day) transitions(pts []TimePoint) []Transition {
	out := make([]Transition, 0, len(pts))
	for _, p := range pts {
		tr := Transition{At: d.at(p.Seconds), Outcome: p.Outcome()}
		if n := len(out); n > 0 && !tr.At.After(out[n-1].At) {
			if tr.Outcome.IsFound() {
				out[n-1].Outcome = tr.Outcome
			}
			continue
		}
		out = append(out, tr)
	}
	return out
}

func (d day) midnight() time.Time {
	return d.at(0)
}

func (d day) add(n int) day {
	return newDay(time.Date(d.year, d.month, d.dom+n, 12, 0, 0, 0, d.loc), d.loc)
}

func (d day) weekday() time.Weekday {
	return time.Date(d.year, d.month, d.dom, 12, 0, 0, 0, d.loc).Weekday()
}
