package weekplan

import (
	"slices"
	"time"
)

// MaxSearchDays bounds every backward or forward walk, in day steps from the
// query day. Any real transition of a weekly plan recurs within two periods.
const MaxSearchDays = 14

// How far Phase 1b looks for a scheduled neighbour of an unscheduled day.
const (
	seedDaysBack    = 7
	seedDaysForward = 6
)

// Resolve determines the action in effect at the given instant, the action
// before it, the action after it and the bounds of the active interval.
//
// Every transition that declares an action is an interval boundary;
// transitions without one inherit the preceding action and are skipped.
// Previous is the nearest preceding action that differs from Active; in a
// plan with a single action all three ids are equal. When no action exists
// within MaxSearchDays the result is empty: all three outcomes are Inherit
// and Start == End == at.
//
// s must satisfy the plan invariants (see Schedule.Validate); the result is
// unspecified but bounded otherwise.
func Resolve(s *Schedule, at time.Time) State {
	// Phase 1: same-day slot.
	slot := lookupSlot(s, at)
	if slot.settled() {
		return slot.state(s, at)
	}

	// Phase 2: walk across days to replace Inherit and find the distinct predecessor.
	back := newWalker(s, at, backward)
	startTr, ok := back.seek(func(o Outcome) bool { return o.IsFound() })
	if !ok {
		return emptyState(s, at)
	}
	active := startTr.Outcome

	previous := active
	if prevTr, ok := back.seek(func(o Outcome) bool { return o.IsFound() && o != active }); ok {
		previous = prevTr.Outcome
	}

	fwd := newWalker(s, at, forward)
	endTr, ok := fwd.seek(func(o Outcome) bool { return o.IsFound() })
	if !ok {
		return emptyState(s, at)
	}

	// Phase 3: boundaries.
	return newState(s, at, active, previous, endTr.Outcome, startTr.At, endTr.At)
}

// ResolveSlot is the cheap variant of Resolve: it only inspects the query day
// (Phase 1), or seeds boundaries from the nearest scheduled neighbour days when
// the query day is unscheduled (Phase 1b). Outcomes may be Inherit.
func ResolveSlot(s *Schedule, at time.Time) State {
	return lookupSlot(s, at).state(s, at)
}

// slot is the provisional Phase 1 result.
type slot struct {
	dayFound bool
	active   Outcome
	previous Outcome
	next     Outcome
	start    time.Time
	end      time.Time
}

// settled reports whether the same-day lookup already is the final answer.
func (sl slot) settled() bool {
	return sl.dayFound &&
		sl.active.IsFound() &&
		sl.previous.IsFound() &&
		sl.next.IsFound() &&
		sl.previous != sl.active
}

func (sl slot) state(s *Schedule, at time.Time) State {
	return newState(s, at, sl.active, sl.previous, sl.next, sl.start, sl.end)
}

func lookupSlot(s *Schedule, at time.Time) slot {
	d := newDay(at, s.Loc())
	pts, ok := s.dayPoints(d)
	if !ok {
		return seedSlot(s, at, d)
	}

	sl := slot{
		dayFound: true,
		start:    d.midnight(),
		end:      d.add(1).midnight(),
	}
	for _, tr := range d.transitions(pts) {
		if !tr.At.After(at) {
			sl.previous = sl.active
			sl.active = tr.Outcome
			sl.start = tr.At
			continue
		}
		sl.next = tr.Outcome
		sl.end = tr.At
		break
	}
	return sl
}

// seedSlot handles a day without transitions: the interval runs from the
// midnight after the last scheduled day to the midnight of the next one.
func seedSlot(s *Schedule, at time.Time, d day) slot {
	sl := slot{start: at, end: at}

	for i := 1; i <= seedDaysBack; i++ {
		if _, ok := s.dayPoints(d.add(-i)); ok {
			sl.start = d.add(-i + 1).midnight()
			break
		}
	}
	for i := 1; i <= seedDaysForward; i++ {
		if _, ok := s.dayPoints(d.add(i)); ok {
			sl.end = d.add(i).midnight()
			break
		}
	}

	// No timetable anywhere in the week.
	if sl.start.Equal(at) || sl.end.Equal(at) {
		sl.start, sl.end = at, at
	}
	return sl
}

type direction int

const (
	backward direction = -1
	forward  direction = 1
)

// walker yields concrete transitions one at a time, moving away from the
// query instant day by day. It stops after MaxSearchDays day steps.
type walker struct {
	s     *Schedule
	dir   direction
	cur   day
	steps int
	queue []Transition
}

func newWalker(s *Schedule, at time.Time, dir direction) *walker {
	w := &walker{s: s, dir: dir, cur: newDay(at, s.Loc())}
	for _, tr := range w.load(w.cur) {
		// Backward includes the instant itself: a transition at exactly
		// `at` is already active.
		if (dir == backward && !tr.At.After(at)) || (dir == forward && tr.At.After(at)) {
			w.queue = append(w.queue, tr)
		}
	}
	return w
}

// load returns the transitions of d in walk order.
func (w *walker) load(d day) []Transition {
	pts, ok := w.s.dayPoints(d)
	if !ok {
		return nil
	}
	out := d.transitions(pts)
	if w.dir == backward {
		slices.Reverse(out)
	}
	return out
}

func (w *walker) next() (Transition, bool) {
	for len(w.queue) == 0 {
		if w.steps >= MaxSearchDays {
			return Transition{}, false
		}
		w.steps++
		w.cur = w.cur.add(int(w.dir))
		w.queue = w.load(w.cur)
	}
	tr := w.queue[0]
	w.queue = w.queue[1:]
	return tr, true
}

// seek advances to the first transition whose outcome matches.
func (w *walker) seek(match func(Outcome) bool) (Transition, bool) {
	for {
		tr, ok := w.next()
		if !ok {
			return Transition{}, false
		}
		if match(tr.Outcome) {
			return tr, true
		}
	}
}
