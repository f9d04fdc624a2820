// Package event turns expanded occurrences into the records callers see:
// all-day classification, normalization into a display zone, and picking
// the current-or-next event.
package event

import (
	"time"

	"icscal/internal/model"
)

const (
	oneDay        = 24 * time.Hour
	oneDayMinus1s = 23*time.Hour + 59*time.Minute + 59*time.Second
)

// Classify decides whether occ is an all-day event. The source's own
// DATE/DATE-TIME distinction is not consulted: an occurrence is all-day
// when it starts at midnight and lasts exactly 24h or 23:59:59. A timed
// 24h event starting at midnight is therefore reported as all-day.
//
// The duration is the explicit DURATION when the template had one,
// otherwise the wall-clock distance from start to end.
func Classify(occ model.Occurrence) (start, end time.Time, allDay bool) {
	d := model.WallSpan(occ.Start, occ.End)
	if occ.HasDuration {
		d = occ.Duration
	}
	allDay = isMidnight(occ.Start) && (d == oneDay || d == oneDayMinus1s)
	return occ.Start, occ.End, allDay
}

func isMidnight(t time.Time) bool {
	return t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0
}
