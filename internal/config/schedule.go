package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dokzlo13/switchd/internal/weekplan"
)

// ScheduleConfig is the authored weekly plan of a switch.
// An omitted groups list yields the default plan (OFF at midnight every day).
type ScheduleConfig struct {
	Enabled       *bool          `yaml:"enabled"` // default: true
	MisfirePolicy string         `yaml:"misfire_policy" validate:"omitempty,oneof=skip run_latest"`
	Actions       []ActionConfig `yaml:"actions" validate:"omitempty,unique=ID,dive"`
	Groups        []GroupConfig  `yaml:"groups" validate:"dive"`
}

// ActionConfig declares one named state of a plan
type ActionConfig struct {
	ID    int    `yaml:"id" validate:"gte=1"`
	Name  string `yaml:"name" validate:"required"`
	Color string `yaml:"color" validate:"omitempty,hexcolor"`
	On    bool   `yaml:"on"` // Device state this action switches to
}

// GroupConfig is a set of days sharing one timetable.
// Days may be given by name or as a raw bit mask (bit0 = Monday).
type GroupConfig struct {
	Days   []string      `yaml:"days"`
	Mask   int           `yaml:"mask" validate:"gte=0,lte=127"`
	Points []PointConfig `yaml:"points" validate:"dive"`
}

// PointConfig is one transition: at "HH:MM[:SS]" switch to Action (0 = keep previous)
type PointConfig struct {
	At     string `yaml:"at" validate:"required"`
	Action int    `yaml:"action" validate:"gte=0"`
}

// IsEnabled returns whether the plan drives the switch
func (c *ScheduleConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Build converts the authored plan into an immutable weekplan.Schedule.
func (c *ScheduleConfig) Build(loc *time.Location) (*weekplan.Schedule, error) {
	s := weekplan.Default()
	s.Active = c.IsEnabled()
	s.Location = loc

	if len(c.Actions) > 0 {
		s.Actions = make([]weekplan.Action, 0, len(c.Actions))
		for _, a := range c.Actions {
			color, err := parseColor(a.Color)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", a.ID, err)
			}
			s.Actions = append(s.Actions, weekplan.Action{ID: weekplan.ActionID(a.ID), Name: a.Name, Color: color})
		}
	}

	if len(c.Groups) > 0 {
		s.Groups = make([]weekplan.DayGroup, 0, len(c.Groups))
		for gi, g := range c.Groups {
			group, err := g.build()
			if err != nil {
				return nil, fmt.Errorf("group %d: %w", gi, err)
			}
			s.Groups = append(s.Groups, group)
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ActionStates maps every action id to the device state it requests.
func (c *ScheduleConfig) ActionStates() map[weekplan.ActionID]bool {
	if len(c.Actions) == 0 {
		return map[weekplan.ActionID]bool{
			weekplan.ActionOff: false,
			weekplan.ActionOn:  true,
		}
	}
	states := make(map[weekplan.ActionID]bool, len(c.Actions))
	for _, a := range c.Actions {
		states[weekplan.ActionID(a.ID)] = a.On
	}
	return states
}

func (g GroupConfig) build() (weekplan.DayGroup, error) {
	mask := weekplan.DayMask(g.Mask)
	if len(g.Days) > 0 {
		named, err := weekplan.ParseDays(g.Days)
		if err != nil {
			return weekplan.DayGroup{}, err
		}
		mask |= named
	}
	if mask == 0 {
		return weekplan.DayGroup{}, fmt.Errorf("no days given")
	}

	group := weekplan.DayGroup{Days: mask, Points: make([]weekplan.TimePoint, 0, len(g.Points))}
	for _, p := range g.Points {
		secs, err := weekplan.ParseTimeOfDay(p.At)
		if err != nil {
			return weekplan.DayGroup{}, err
		}
		group.Points = append(group.Points, weekplan.TimePoint{Seconds: secs, Action: weekplan.ActionID(p.Action)})
	}
	return group, nil
}

// parseColor accepts "#RRGGBB" or "#RGB".
func parseColor(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	v, err := strconv.ParseInt(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q", s)
	}
	return int(v), nil
}
