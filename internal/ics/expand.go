package ics

import (
	"iter"
	"time"

	"github.com/teambition/rrule-go"

	appLog "icscal/internal/log"
	"icscal/internal/model"
)

// DefaultMaxOccurrences caps a single series per query.
const DefaultMaxOccurrences = 5000

// Expand yields the occurrences of templates that overlap [start, end],
// inclusive on both ends. It handles:
//
//   - single non-recurring events
//   - RRULE and RDATE based recurrence
//   - EXDATE for exception removal
//   - RECURRENCE-ID overrides, which replace the instance they name
//
// Series are yielded in template order; instances within a series in
// chronological order. At most maxPer instances are yielded per series;
// truncation is logged.
func Expand(templates []model.Template, start, end time.Time, maxPer int) iter.Seq[model.Occurrence] {
	if maxPer <= 0 {
		maxPer = DefaultMaxOccurrences
	}

	return func(yield func(model.Occurrence) bool) {
		if end.Before(start) {
			return
		}

		overrides := overrideIndex(templates)
		for _, t := range templates {
			if t.RecurrenceID != nil || !t.IsRecurring() {
				if overlaps(t.Start, t.End, start, end) && !yield(occurrenceOf(t, t.Start, t.End)) {
					return
				}
				continue
			}
			if !expandSeries(t, overrides[t.UID], start, end, maxPer, yield) {
				return
			}
		}
	}
}

// expandSeries walks one recurring template. It returns false when the
// consumer stopped.
func expandSeries(t model.Template, rids []time.Time, start, end time.Time, maxPer int, yield func(model.Occurrence) bool) bool {
	// Instances starting this far before the window may still reach into it.
	// Date-only spans are calendar days, so allow an hour for DST.
	lookback := t.End.Sub(t.Start)
	if lookback < 0 {
		lookback = 0
	}
	from := start.Add(-lookback - time.Hour)

	set, err := recurrenceSet(t, rids, from)
	if err != nil {
		appLog.Error("expand: failed to build recurrence", err, "uid", t.UID)
		return true
	}

	n := 0
	next := set.Iterator()
	for {
		occStart, ok := next()
		if !ok || occStart.After(end) {
			return true
		}
		if occStart.Before(from) {
			continue
		}

		occEnd := endFor(t, occStart)
		if !overlaps(occStart, occEnd, start, end) {
			continue
		}

		if n == maxPer {
			appLog.Warn("expand: occurrence cap reached, truncating", "uid", t.UID, "cap", maxPer)
			return true
		}
		n++

		if !yield(occurrenceOf(t, occStart, occEnd)) {
			return false
		}
	}
}

func recurrenceSet(t model.Template, rids []time.Time, from time.Time) (*rrule.Set, error) {
	set := &rrule.Set{}
	if t.Rule != nil {
		opt := *t.Rule
		opt.Dtstart = fastForward(opt, from)
		r, err := rrule.NewRRule(opt)
		if err != nil {
			return nil, err
		}
		set.RRule(r)
	} else {
		// RDATE-only series: DTSTART is the first instance.
		set.RDate(t.Start)
	}

	for _, rd := range t.RDates {
		set.RDate(rd)
	}
	for _, ex := range t.ExDates {
		set.ExDate(ex)
	}
	// Overridden instances are emitted from their own VEVENT.
	for _, rid := range rids {
		set.ExDate(rid)
	}
	return set, nil
}

// fastForward moves the DTSTART of an hourly, minutely or secondly rule to
// the last whole interval at or before from, so walking the series costs
// the window rather than the age of the series. Steps are counted on the
// wall clock, as rrule-go does. Rules with COUNT count from their real
// DTSTART and are left alone.
func fastForward(opt rrule.ROption, from time.Time) time.Time {
	var unit time.Duration
	switch opt.Freq {
	case rrule.HOURLY:
		unit = time.Hour
	case rrule.MINUTELY:
		unit = time.Minute
	case rrule.SECONDLY:
		unit = time.Second
	default:
		return opt.Dtstart
	}
	if opt.Count > 0 || !from.After(opt.Dtstart) {
		return opt.Dtstart
	}

	interval := opt.Interval
	if interval <= 0 {
		interval = 1
	}
	step := unit * time.Duration(interval)
	skip := model.WallSpan(opt.Dtstart, from) / step * step
	if skip <= 0 {
		return opt.Dtstart
	}

	d := opt.Dtstart
	w := time.Date(d.Year(), d.Month(), d.Day(), d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), time.UTC).Add(skip)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), d.Location())
}

// overrideIndex maps UID to the RECURRENCE-ID of every override.
func overrideIndex(templates []model.Template) map[string][]time.Time {
	out := make(map[string][]time.Time)
	for _, t := range templates {
		if t.RecurrenceID == nil || t.UID == "" {
			continue
		}
		out[t.UID] = append(out[t.UID], *t.RecurrenceID)
	}
	return out
}

// endFor returns the end of the instance starting at occStart, keeping the
// template's length. Whole-day date-only spans are added on the calendar.
func endFor(t model.Template, occStart time.Time) time.Time {
	if t.DateOnly {
		span := model.WallSpan(t.Start, t.End)
		if span >= 0 && span%(24*time.Hour) == 0 {
			return occStart.AddDate(0, 0, int(span/(24*time.Hour)))
		}
	}
	return occStart.Add(t.End.Sub(t.Start))
}

func occurrenceOf(t model.Template, start, end time.Time) model.Occurrence {
	return model.Occurrence{
		UID:         t.UID,
		Summary:     t.Summary,
		Description: t.Description,
		Location:    t.Location,
		Start:       start,
		End:         end,
		Duration:    t.Duration,
		HasDuration: t.HasDuration,
		Floating:    t.Floating,
		DateOnly:    t.DateOnly,
	}
}

// overlaps reports whether [aStart, aEnd] and [bStart, bEnd] share at least
// one instant. An inverted a-range is tested by its start alone.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(aStart) {
		aEnd = aStart
	}
	return !aEnd.Before(bStart) && !aStart.After(bEnd)
}
