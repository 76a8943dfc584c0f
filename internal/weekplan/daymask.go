package weekplan

import (
	"fmt"
	"strings"
	"time"
)

// DayMask is a 7-bit weekday set, Monday = bit0 .. Sunday = bit6.
type DayMask uint8

const (
	Monday DayMask = 1 << iota
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

const (
	Weekdays DayMask = Monday | Tuesday | Wednesday | Thursday | Friday // 31
	Weekend  DayMask = Saturday | Sunday                                // 96
	EveryDay DayMask = Weekdays | Weekend                               // 127
)

var dayNames = [...]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// MaskOf returns the single-day mask for a weekday.
func MaskOf(wd time.Weekday) DayMask {
	return 1 << ((int(wd) + 6) % 7)
}

// Has reports whether the weekday is in the set.
func (m DayMask) Has(wd time.Weekday) bool {
	return m&MaskOf(wd) != 0
}

// Valid reports whether the mask only uses the seven weekday bits.
func (m DayMask) Valid() bool {
	return m&^EveryDay == 0
}

func (m DayMask) String() string {
	switch m {
	case EveryDay:
		return "daily"
	case Weekdays:
		return "weekdays"
	case Weekend:
		return "weekend"
	case 0:
		return "-"
	}
	var parts []string
	for i, name := range dayNames {
		if m&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ",")
}

// ParseDays builds a mask from day names ("mon".."sun", full English names,
// "weekdays", "weekend", "daily").
func ParseDays(names []string) (DayMask, error) {
	var m DayMask
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "daily", "everyday", "all":
			m |= EveryDay
			continue
		case "weekdays":
			m |= Weekdays
			continue
		case "weekend":
			m |= Weekend
			continue
		}
		found := false
		for i, short := range dayNames {
			if name == short || (len(name) > 3 && strings.HasPrefix(name, short) && strings.HasSuffix(name, "day")) {
				m |= 1 << i
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown day: %q", raw)
		}
	}
	return m, nil
}
