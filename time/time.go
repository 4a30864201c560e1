package time

import (
	"strings"
	"time"
)

// ShortDur shortens the string representation of a time.Duration from d.String().
// Durations of a millisecond or more are rounded to the millisecond first.
func ShortDur(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	if d >= time.Millisecond || d <= -time.Millisecond {
		d = d.Round(time.Millisecond)
	}
	s := d.String()
	if strings.HasSuffix(s, "m0s") {
		s = s[:len(s)-2]
	}
	if strings.HasSuffix(s, "h0m") {
		s = s[:len(s)-2]
	}
	return s
}
