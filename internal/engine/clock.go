package engine

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// parseClock converts a wall-clock "HH:MM" string to minutes of day.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}

func clockLabel(min int) string {
	if min < 0 {
		min = 0
	}
	if min >= minutesPerDay {
		min = minutesPerDay - 1
	}
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

// weekdayOf derives the weekday from a YYYY-MM-DD date string.
func weekdayOf(date string) (time.Weekday, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.Weekday(), nil
}
