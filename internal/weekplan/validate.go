package weekplan

import (
	"errors"
	"fmt"
)

// Validate checks the authoring invariants the resolver relies on. The
// resolver itself never calls it.
func (s *Schedule) Validate() error {
	var errs []error

	var seen DayMask
	for gi, g := range s.Groups {
		if g.Days == 0 || !g.Days.Valid() {
			errs = append(errs, fmt.Errorf("group %d: invalid day mask %d", gi, g.Days))
			continue
		}
		if overlap := seen & g.Days; overlap != 0 {
			errs = append(errs, fmt.Errorf("group %d: days %s already belong to another group", gi, overlap))
		}
		seen |= g.Days

		last := -1
		for pi, p := range g.Points {
			if p.Seconds < 0 || p.Seconds >= SecondsPerDay {
				errs = append(errs, fmt.Errorf("group %d point %d: time of day %d out of range", gi, pi, p.Seconds))
			}
			if p.Seconds <= last {
				errs = append(errs, fmt.Errorf("group %d point %d: %s is not after %s",
					gi, pi, FormatTimeOfDay(p.Seconds), FormatTimeOfDay(last)))
			}
			last = p.Seconds
			if p.Action != NoAction {
				if _, ok := s.Action(p.Action); !ok {
					errs = append(errs, fmt.Errorf("group %d point %d: unknown action %d", gi, pi, p.Action))
				}
			}
		}
	}

	ids := make(map[ActionID]bool, len(s.Actions))
	for _, a := range s.Actions {
		if a.ID == NoAction {
			errs = append(errs, fmt.Errorf("action %q: id %d is reserved", a.Name, NoAction))
		}
		if ids[a.ID] {
			errs = append(errs, fmt.Errorf("action %q: duplicate id %d", a.Name, a.ID))
		}
		ids[a.ID] = true
	}

	return errors.Join(errs...)
}
