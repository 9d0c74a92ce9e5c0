package timeutil

import (
	"fmt"
	"time"
)

// Relative formats t relative to now, e.g. "5 minutes ago" or "in 2 hours".
func Relative(t time.Time) string {
	return RelativeTo(t, time.Now())
}

// RelativeTo formats t relative to a reference instant.
func RelativeTo(t, now time.Time) string {
	d := t.Sub(now)
	if d >= 0 {
		return "in " + span(d)
	}
	return span(-d) + " ago"
}

func span(d time.Duration) string {
	switch {
	case d < time.Minute:
		return plural(int(d.Seconds()), "second")
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	default:
		return plural(int(d.Hours()/24), "day")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
