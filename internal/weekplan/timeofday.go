package weekplan

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// SecondsPerDay bounds TimePoint.Seconds.
const SecondsPerDay = 86400

// Match "6:30", "22:15", "08:00:30"
var timeOfDayPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?$`)

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" into seconds after midnight.
func ParseTimeOfDay(expr string) (int, error) {
	expr = strings.TrimSpace(expr)

	matches := timeOfDayPattern.FindStringSubmatch(expr)
	if matches == nil {
		return 0, fmt.Errorf("invalid time of day: %q", expr)
	}

	hour, _ := strconv.Atoi(matches[1])
	min, _ := strconv.Atoi(matches[2])
	sec := 0
	if matches[3] != "" {
		sec, _ = strconv.Atoi(matches[3])
	}

	if hour > 23 {
		return 0, fmt.Errorf("invalid hour: %d", hour)
	}
	if min > 59 {
		return 0, fmt.Errorf("invalid minute: %d", min)
	}
	if sec > 59 {
		return 0, fmt.Errorf("invalid second: %d", sec)
	}

	return hour*3600 + min*60 + sec, nil
}

// FormatTimeOfDay renders seconds after midnight as HH:MM:SS.
func FormatTimeOfDay(seconds int) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds/60%60, seconds%60)
}
