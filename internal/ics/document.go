package ics

import (
	"iter"
	"time"

	"github.com/emersion/go-ical"
	"github.com/pkg/errors"
	"github.com/teambition/rrule-go"

	appLog "icscal/internal/log"
	"icscal/internal/model"
)

// Engine turns raw iCalendar text into a Document.
type Engine interface {
	Name() string
	Parse(content string, loc *time.Location) (Document, error)
}

// Document is a parsed calendar that can be queried for occurrences.
//
// Occurrences yields every instance overlapping [start, end] (inclusive on
// both sides). The sequence is lazy and may be ranged over more than once.
type Document interface {
	Occurrences(start, end time.Time) iter.Seq[model.Occurrence]
}

// TemplateDocument is a Document backed by parsed templates and expanded
// with rrule-go.
type TemplateDocument struct {
	templates []model.Template
	maxPer    int
}

func newTemplateDocument(templates []model.Template) *TemplateDocument {
	return &TemplateDocument{templates: templates, maxPer: DefaultMaxOccurrences}
}

// Templates returns the parsed VEVENTs in document order.
func (d *TemplateDocument) Templates() []model.Template {
	return d.templates
}

// SetMaxOccurrences caps how many instances a single series may yield per
// query. Values <= 0 restore the default.
func (d *TemplateDocument) SetMaxOccurrences(n int) {
	if n <= 0 {
		n = DefaultMaxOccurrences
	}
	d.maxPer = n
}

func (d *TemplateDocument) Occurrences(start, end time.Time) iter.Seq[model.Occurrence] {
	return Expand(d.templates, start, end, d.maxPer)
}

// rawEvent is the engine-neutral view of one VEVENT. Engines copy the
// properties they found; buildTemplate resolves them.
type rawEvent struct {
	UID         string
	Summary     string
	Description string
	Location    string

	DtStart      *ical.Prop
	DtEnd        *ical.Prop
	Duration     *ical.Prop
	RecurrenceID *ical.Prop

	// Start and End are set by engines that read DTSTART/DTEND with their
	// own getters. When nil the props above are read instead.
	Start *dateValue
	End   *dateValue

	RRule   string
	RDates  []ical.Prop
	ExDates []ical.Prop
}

// buildTemplate resolves a rawEvent into a Template in loc. An error means
// the VEVENT is unusable and should be skipped.
func buildTemplate(raw rawEvent, loc *time.Location) (model.Template, error) {
	var out model.Template

	start, err := resolve(raw.Start, raw.DtStart, loc)
	if err != nil {
		return out, errors.Wrap(err, "DTSTART")
	}
	if start == nil {
		return out, errors.New("missing DTSTART")
	}

	out.UID = raw.UID
	out.Summary = raw.Summary
	out.Description = raw.Description
	out.Location = raw.Location
	out.Start = start.Time
	out.Floating = start.Floating
	out.DateOnly = start.DateOnly

	end, err := resolve(raw.End, raw.DtEnd, loc)
	if err != nil {
		return out, errors.Wrap(err, "DTEND")
	}
	switch {
	case end != nil:
		out.End = end.Time
	case raw.Duration != nil:
		d, err := durationOf(*raw.Duration)
		if err != nil {
			return out, err
		}
		out.Duration = d
		out.HasDuration = true
		out.End = addSpan(out.Start, d, out.DateOnly)
	case out.DateOnly:
		// RFC 5545: a DATE DTSTART without DTEND lasts one day.
		out.End = out.Start.AddDate(0, 0, 1)
	default:
		out.End = out.Start
	}

	if raw.RRule != "" {
		rule, err := rrule.StrToROptionInLocation(raw.RRule, out.Start.Location())
		if err != nil {
			return out, errors.Wrapf(err, "RRULE %q", raw.RRule)
		}
		rule.Dtstart = out.Start
		out.Rule = rule
	}

	for _, p := range raw.RDates {
		out.RDates = append(out.RDates, dateListOf(p, out.Start.Location())...)
	}
	for _, p := range raw.ExDates {
		out.ExDates = append(out.ExDates, dateListOf(p, out.Start.Location())...)
	}

	if raw.RecurrenceID != nil {
		rid, err := dateOf(*raw.RecurrenceID, loc)
		if err != nil {
			appLog.Debug("ics: ignoring unparsable RECURRENCE-ID", "uid", raw.UID, "err", err.Error())
		} else {
			t := rid.Time
			out.RecurrenceID = &t
		}
	}

	return out, nil
}

// resolve returns the value an engine already read, or reads prop.
// Both nil means the property is absent.
func resolve(read *dateValue, prop *ical.Prop, loc *time.Location) (*dateValue, error) {
	if read != nil {
		return read, nil
	}
	if prop == nil {
		return nil, nil
	}
	dv, err := dateOf(*prop, loc)
	if err != nil {
		return nil, err
	}
	return &dv, nil
}

// addSpan adds d to t. Whole-day spans on date-only events are added on the
// calendar so DST transitions keep midnight boundaries.
func addSpan(t time.Time, d time.Duration, dateOnly bool) time.Time {
	if dateOnly && d%(24*time.Hour) == 0 {
		return t.AddDate(0, 0, int(d/(24*time.Hour)))
	}
	return t.Add(d)
}

func buildTemplates(engine string, raws []rawEvent, loc *time.Location) []model.Template {
	out := make([]model.Template, 0, len(raws))
	for _, raw := range raws {
		t, err := buildTemplate(raw, loc)
		if err != nil {
			appLog.Warn("ics: skipping unusable vevent", "engine", engine, "uid", raw.UID, "err", err.Error())
			continue
		}
		out = append(out, t)
	}
	return out
}
