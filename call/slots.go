package call

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

var clockPattern = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)

// extractSlot pulls a concrete appointment time out of caller speech.
// It understands "tomorrow", weekday names, day parts, and simple clock
// times, always resolving to the next future occurrence after now.
// Returns the zero time when nothing concrete was said.
func extractSlot(text string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(text)

	day := now
	dayFound := false
	if strings.Contains(lower, "tomorrow") {
		day = now.AddDate(0, 0, 1)
		dayFound = true
	} else if strings.Contains(lower, "today") {
		dayFound = true
	} else {
		for name, wd := range weekdays {
			if !strings.Contains(lower, name) {
				continue
			}
			ahead := (int(wd) - int(now.Weekday()) + 7) % 7
			if ahead == 0 {
				ahead = 7
			}
			day = now.AddDate(0, 0, ahead)
			dayFound = true
			break
		}
	}

	hour, minute := 0, 0
	timeFound := false
	if m := clockPattern.FindStringSubmatch(lower); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if m[3] == "pm" && hour < 12 {
			hour += 12
		}
		if m[3] == "am" && hour == 12 {
			hour = 0
		}
		timeFound = hour < 24 && minute < 60
	}
	if !timeFound {
		switch {
		case strings.Contains(lower, "morning"):
			hour, timeFound = 10, true
		case strings.Contains(lower, "afternoon"):
			hour, timeFound = 15, true
		case strings.Contains(lower, "evening"):
			hour, timeFound = 18, true
		case strings.Contains(lower, "noon"):
			hour, timeFound = 12, true
		}
	}

	if !dayFound && !timeFound {
		return time.Time{}, false
	}
	if !timeFound {
		// A day with no time defaults to mid-afternoon.
		hour = 15
	}

	slot := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
	if !dayFound && !slot.After(now) {
		slot = slot.AddDate(0, 0, 1)
	}
	if !slot.After(now) {
		return time.Time{}, false
	}
	return slot, true
}
