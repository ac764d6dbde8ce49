package models

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	timestampPattern = regexp.MustCompile(`(?i)^([A-Za-z]{3})[A-Za-z]*\.?\s+(\d{1,2}),?\s+(\d{1,2}):(\d{2})\s*(AM|PM)`)
	clockPattern     = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(AM|PM)`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseTimestamp parses "Mon D H:MM AM/PM" in now's location. Receipts carry no year: the
// current year is assumed and rolled back one year when that would put the event in the future.
func ParseTimestamp(ts string, now time.Time) (time.Time, bool) {
	m := timestampPattern.FindStringSubmatch(strings.TrimSpace(ts))
	if m == nil {
		return time.Time{}, false
	}
	month, ok := months[strings.ToLower(m[1])]
	if !ok {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[2])
	hour, _ := strconv.Atoi(m[3])
	minute, _ := strconv.Atoi(m[4])
	if day < 1 || day > 31 || hour < 1 || hour > 12 || minute > 59 {
		return time.Time{}, false
	}
	hour = to24Hour(hour, m[5])

	t := time.Date(now.Year(), month, day, hour, minute, 0, 0, now.Location())
	if t.Day() != day {
		return time.Time{}, false
	}
	if t.After(now) {
		t = t.AddDate(-1, 0, 0)
	}
	return t, true
}

// HourOfDay extracts the 24-hour clock hour from anywhere in the timestamp string.
func HourOfDay(ts string) (int, bool) {
	m := clockPattern.FindStringSubmatch(ts)
	if m == nil {
		return 0, false
	}
	hour, _ := strconv.Atoi(m[1])
	if hour < 1 || hour > 12 {
		return 0, false
	}
	return to24Hour(hour, m[3]), true
}

func to24Hour(hour int, meridiem string) int {
	pm := strings.EqualFold(meridiem, "PM")
	switch {
	case pm && hour != 12:
		return hour + 12
	case !pm && hour == 12:
		return 0
	default:
		return hour
	}
}
