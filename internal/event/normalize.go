package event

import (
	"time"

	"icscal/internal/model"
)

// Normalize converts a classified occurrence into an Event in loc.
//
//  1. Floating times are re-anchored to loc, keeping the wall clock.
//  2. All-day events have the time of day of start and end zeroed in loc.
//  3. Every event is shifted by offsetHours.
//  4. Text fields are copied as is.
func Normalize(occ model.Occurrence, allDay bool, offsetHours int, loc *time.Location) model.Event {
	if loc == nil {
		loc = time.Local
	}

	start, end := occ.Start, occ.End
	if occ.Floating {
		start, end = rebase(start, loc), rebase(end, loc)
	}
	start, end = start.In(loc), end.In(loc)

	if allDay {
		start, end = midnight(start), midnight(end)
	}
	if offsetHours != 0 {
		shift := time.Duration(offsetHours) * time.Hour
		start, end = start.Add(shift), end.Add(shift)
	}

	return model.Event{
		UID:         occ.UID,
		Summary:     occ.Summary,
		Description: occ.Description,
		Location:    occ.Location,
		Start:       start,
		End:         end,
		AllDay:      allDay,
	}
}

func rebase(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
