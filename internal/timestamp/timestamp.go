// Package timestamp parses and formats the OSM replication timestamp literals.
//
// Two input forms are accepted:
//   - strict UTC: "2010-09-30T19:23:30Z"
//   - relative to now: "NOW-86400" (24 hours ago), "NOW+60"
//
// Timezone offsets are not supported. Anything else is reported as unknown
// (ok == false) rather than an error; callers decide the fallback.
package timestamp

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Layout is the strict OSM timestamp format.
const Layout = "2006-01-02T15:04:05Z"

// Epoch is the timestamp assigned to sequence number 0 of any tier.
var Epoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// OutputThreshold is the lower bound a newest timestamp must exceed before it
// is written into a merged file.
var OutputThreshold = time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)

// Parse parses s relative to the current UTC time.
func Parse(s string) (time.Time, bool) {
	return ParseAt(s, time.Now().UTC())
}

// ParseAt parses s, resolving NOW expressions against now.
func ParseAt(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if rest, found := strings.CutPrefix(s, "NOW"); found {
		return parseRelative(rest, now)
	}
	t, err := time.Parse(Layout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

func parseRelative(rest string, now time.Time) (time.Time, bool) {
	if len(rest) < 2 {
		return time.Time{}, false
	}
	sign := rest[0]
	if sign != '+' && sign != '-' {
		return time.Time{}, false
	}
	digits := rest[1:]
	if digits[0] < '0' || digits[0] > '9' {
		return time.Time{}, false
	}
	sec, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	if sign == '-' {
		sec = -sec
	}
	return now.UTC().Add(time.Duration(sec) * time.Second), true
}

// Format renders t in the strict layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Unescape removes the backslashes state documents put before colons.
func Unescape(s string) string {
	return strings.ReplaceAll(s, `\`, "")
}

// DaysBetween returns the span from older to newer in days, rounded up.
// Spans of zero or less return 0 or a negative count.
func DaysBetween(newer, older time.Time) int {
	d := newer.Sub(older).Seconds() / 86400
	return int(math.Ceil(d))
}
