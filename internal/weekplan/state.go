package weekplan

import (
	"fmt"
	"time"
)

// DisplayLayout formats instants in diagnostics.
const DisplayLayout = "02.01.2006 15:04:05"

// State is the resolved snapshot for one query instant. It is a plain value,
// built fresh for every call and never mutated.
type State struct {
	At time.Time

	Active   Outcome
	Previous Outcome
	Next     Outcome

	ActiveName   string
	PreviousName string
	NextName     string

	// Active interval, half-open [Start, End).
	Start time.Time
	End   time.Time

	Duration time.Duration
	Hours    int
	Minutes  int
	Seconds  int
}

func newState(s *Schedule, at time.Time, active, previous, next Outcome, start, end time.Time) State {
	d := end.Sub(start)
	secs := int64(d / time.Second)
	return State{
		At:           at,
		Active:       active,
		Previous:     previous,
		Next:         next,
		ActiveName:   s.ActionName(active.ID()),
		PreviousName: s.ActionName(previous.ID()),
		NextName:     s.ActionName(next.ID()),
		Start:        start,
		End:          end,
		Duration:     d,
		Hours:        int(secs / 3600),
		Minutes:      int(secs / 60 % 60),
		Seconds:      int(secs % 60),
	}
}

func emptyState(s *Schedule, at time.Time) State {
	return newState(s, at, Inherit, Inherit, Inherit, at, at)
}

// ActiveID returns the active action id, NoAction when nothing is in effect.
func (st State) ActiveID() ActionID { return st.Active.ID() }

// PreviousID returns the previous action id.
func (st State) PreviousID() ActionID { return st.Previous.ID() }

// NextID returns the next action id.
func (st State) NextID() ActionID { return st.Next.ID() }

// Empty reports the zero-length "no schedule in effect" result.
func (st State) Empty() bool {
	return !st.End.After(st.Start)
}

// Contains reports whether t lies inside the active interval.
func (st State) Contains(t time.Time) bool {
	return !t.Before(st.Start) && t.Before(st.End)
}

func (st State) String() string {
	loc := st.At.Location()
	return fmt.Sprintf("%s active=%s(%s) [%s .. %s) %02d:%02d:%02d prev=%s(%s) next=%s(%s)",
		st.At.In(loc).Format(DisplayLayout),
		st.Active, st.ActiveName,
		st.Start.In(loc).Format(DisplayLayout),
		st.End.In(loc).Format(DisplayLayout),
		st.Hours, st.Minutes, st.Seconds,
		st.Previous, st.PreviousName,
		st.Next, st.NextName,
	)
}
