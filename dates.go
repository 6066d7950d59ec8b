package sofa

import (
	"fmt"
	"strings"
	"time"
)

// Apple publishes release dates in several shapes depending on the
// page and locale. Layouts are tried in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"02 Jan 2006",
	"January 2, 2006",
	"2 January 2006",
	"Jan 2, 2006",
}

// preinstalledDate stands in for rows whose date column reads
// "Preinstalled" (first-party software shipped with the OS image).
var preinstalledDate = time.Date(2021, time.October, 25, 0, 0, 0, 0, time.UTC)

// ParseAppleDate parses a date string as found on Apple security
// pages. A leading "Released " prefix is tolerated, and the literal
// "Preinstalled" maps to a fixed sentinel date.
func ParseAppleDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "Released ")
	if strings.EqualFold(s, "Preinstalled") {
		return preinstalledDate, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// FormatISO renders a time in the feed date format, UTC with a Z
// suffix and whole seconds. The zero time renders as the empty string
// so optional dates serialize cleanly.
func FormatISO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// DaysBetween returns the whole days from earlier to later, clamped
// at zero.
func DaysBetween(earlier, later time.Time) int {
	d := int(later.Sub(earlier).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
