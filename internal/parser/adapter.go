package parser

import (
	"time"

	"icscal/internal/event"
	"icscal/internal/filter"
	"icscal/internal/ics"
	appLog "icscal/internal/log"
	"icscal/internal/model"
)

// adapter runs the shared pipeline over any engine:
// expand, classify, normalize, filter, then list or select.
type adapter struct {
	name   string
	engine ics.Engine
	opts   Options

	doc    ics.Document
	filter *filter.Filter
}

// SetContent parses content and replaces the loaded document. On error the
// previous document is discarded too, so later queries come back empty.
func (a *adapter) SetContent(content string) error {
	a.doc = nil

	doc, err := a.engine.Parse(content, a.opts.Location)
	if err != nil {
		return err
	}
	if capped, ok := doc.(interface{ SetMaxOccurrences(int) }); ok && a.opts.MaxOccurrences > 0 {
		capped.SetMaxOccurrences(a.opts.MaxOccurrences)
	}
	a.doc = doc
	return nil
}

func (a *adapter) SetFilter(f *filter.Filter) {
	a.filter = f
}

// EventList returns the events overlapping [start, end] in expansion order.
//
// offsetHours shifts every event. The window is shifted the other way before
// expansion, and shifted events are checked against [start, end] again since
// all-day boundaries are truncated before the shift.
func (a *adapter) EventList(start, end time.Time, includeAllDay bool, offsetHours int) ([]model.Event, error) {
	if end.Before(start) {
		return nil, ErrInvalidWindow
	}
	if a.doc == nil {
		return nil, nil
	}

	shift := time.Duration(offsetHours) * time.Hour
	var out []model.Event
	for occ := range a.doc.Occurrences(start.Add(-shift), end.Add(-shift)) {
		if occ.End.Before(occ.Start) {
			a.opts.OnSkip(occ, ErrMalformedOccurrence)
			continue
		}

		_, _, allDay := event.Classify(occ)
		if allDay && !includeAllDay {
			continue
		}

		ev := event.Normalize(occ, allDay, offsetHours, a.opts.Location)
		if !ev.Overlaps(start, end) || !a.filter.FilterEvent(ev) {
			continue
		}
		out = append(out, ev)
	}

	appLog.Debug("parser: event list", "engine", a.name, "start", start, "end", end, "events", len(out))
	return event.List(out), nil
}

// CurrentEvent returns the event in progress at now, or the next one
// starting within days. Nil when there is none.
func (a *adapter) CurrentEvent(includeAllDay bool, now time.Time, days, offsetHours int) (*model.Event, error) {
	if days < 0 {
		days = 0
	}
	events, err := a.EventList(now, now.AddDate(0, 0, days), includeAllDay, offsetHours)
	if err != nil {
		return nil, err
	}
	return event.PickCurrentOrNext(events, now), nil
}
