package event

import (
	"slices"
	"time"

	"icscal/internal/model"
)

// List returns events in expansion order: chronological within a series,
// series in document order. It deliberately does not sort.
func List(events []model.Event) []model.Event {
	return slices.Clone(events)
}

// PickCurrentOrNext returns the event that is happening at now, or the next
// one to happen. Events that ended before now are ignored. A candidate
// replaces the running best when it is newer (see IsNewer); pairs IsNewer
// cannot order go to the one that starts first, then ends last, then by
// summary and UID, so the result does not depend on the order of events.
// Returns nil when every event has ended.
func PickCurrentOrNext(events []model.Event, now time.Time) *model.Event {
	best := -1
	for i, ev := range events {
		if ev.End.Before(now) {
			continue
		}
		if best < 0 || replaces(now, ev, events[best]) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	out := events[best]
	return &out
}

func replaces(now time.Time, ev, best model.Event) bool {
	if IsNewer(now, ev, best) {
		return true
	}
	if IsNewer(now, best, ev) {
		return false
	}
	return precedes(ev, best)
}

func precedes(a, b model.Event) bool {
	switch {
	case !a.Start.Equal(b.Start):
		return a.Start.Before(b.Start)
	case !a.End.Equal(b.End):
		return a.End.After(b.End)
	case a.Summary != b.Summary:
		return a.Summary < b.Summary
	default:
		return a.UID < b.UID
	}
}

// IsNewer reports whether a is newer than b.
//
// When one is all-day and the other timed, the one in progress at now is
// newer if the other is not. Otherwise a is newer when it ends later and
// starts no later than b.
func IsNewer(now time.Time, a, b model.Event) bool {
	if a.AllDay != b.AllDay {
		if ac, bc := a.Contains(now), b.Contains(now); ac != bc {
			return ac
		}
	}
	return a.End.After(b.End) && !a.Start.After(b.Start)
}
