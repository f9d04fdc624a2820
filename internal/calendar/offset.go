package calendar

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// OffsetMarker introduces a reminder offset in an event summary, as in
// "Dentist !!-15" (fire 15 minutes before the start) or "Flight !!-1:30".
const OffsetMarker = "!!"

var offsetPattern = regexp.MustCompile(regexp.QuoteMeta(OffsetMarker) + `([+-]?[0-9]{0,2}(:[0-9]{0,2})?)`)

// ExtractOffset removes the first offset marker from summary and returns the
// cleaned summary with the offset. A bare number counts minutes, "h:mm"
// counts hours and minutes. Without a marker the offset is zero.
func ExtractOffset(summary string) (string, time.Duration) {
	loc := offsetPattern.FindStringSubmatchIndex(summary)
	if loc == nil || loc[3] == loc[2] {
		return summary, 0
	}
	raw := summary[loc[2]:loc[3]]

	sign := time.Duration(1)
	switch raw[0] {
	case '-':
		sign = -1
		raw = raw[1:]
	case '+':
		raw = raw[1:]
	}

	hours, minutes := "0", raw
	if h, m, ok := strings.Cut(raw, ":"); ok {
		hours, minutes = h, m
	}
	offset := sign * (atoi(hours)*time.Hour + atoi(minutes)*time.Minute)

	cleaned := strings.TrimSpace(summary[:loc[0]] + summary[loc[1]:])
	return cleaned, offset
}

func atoi(s string) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return time.Duration(n)
}

// OffsetReached reports whether start+offset has passed at now. A zero
// offset is never reached.
func OffsetReached(start time.Time, offset time.Duration, now time.Time) bool {
	if offset == 0 {
		return false
	}
	return !start.Add(offset).After(now)
}
