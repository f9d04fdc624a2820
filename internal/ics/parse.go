package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	goical "github.com/emersion/go-ical"

	appLog "icscal/internal/log"
)

// GolangICal parses documents with arran4/golang-ical and expands
// recurrences with rrule-go.
type GolangICal struct{}

func (GolangICal) Name() string { return "golang-ical" }

// Parse parses content into a TemplateDocument.
//
//   - Empty or non-iCalendar content is a *ParseError.
//   - VEVENTs that cannot be resolved (bad DTSTART, bad RRULE) are logged
//     and skipped; the rest of the document is kept.
//   - Recurrences are not expanded here; see Expand.
func (e GolangICal) Parse(content string, loc *time.Location) (Document, error) {
	if err := checkContent(e.Name(), content); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(strings.NewReader(trimBOM(content)))
	if err != nil {
		return nil, parseError(e.Name(), err, "parse calendar")
	}

	vevents := cal.Events()
	raws := make([]rawEvent, 0, len(vevents))
	for _, ve := range vevents {
		raws = append(raws, rawFromVEvent(ve, loc))
	}

	templates := buildTemplates(e.Name(), raws, loc)
	appLog.Debug("ics parse completed", "engine", e.Name(), "vevents", len(vevents), "templates", len(templates))
	return newTemplateDocument(templates), nil
}

func rawFromVEvent(ve *ical.VEvent, loc *time.Location) rawEvent {
	var out rawEvent

	// Text values come back unescaped from the library.
	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	out.DtStart = propFrom(ve.GetProperty(ical.ComponentPropertyDtStart))
	out.DtEnd = propFrom(ve.GetProperty(ical.ComponentPropertyDtEnd))
	out.Duration = propFrom(ve.GetProperty(ical.ComponentPropertyDuration))
	out.RecurrenceID = propFrom(ve.GetProperty(ical.ComponentPropertyRecurrenceId))
	out.Start = timeOf(ve.GetStartAt, out.DtStart, loc)
	out.End = timeOf(ve.GetEndAt, out.DtEnd, loc)

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RRule = p.Value
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyRdate) {
		if rp := propFrom(p); rp != nil {
			out.RDates = append(out.RDates, *rp)
		}
	}
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		if rp := propFrom(p); rp != nil {
			out.ExDates = append(out.ExDates, *rp)
		}
	}

	return out
}

// timeOf reads DTSTART or DTEND with golang-ical's getter. The getter reads
// DATE and floating values in time.Local, so those keep their wall clock and
// move into loc. Values it rejects, such as an unknown TZID, are left to
// buildTemplate.
func timeOf(get func() (time.Time, error), prop *goical.Prop, loc *time.Location) *dateValue {
	if prop == nil {
		return nil
	}
	t, err := get()
	if err != nil {
		return nil
	}
	dv := dateValue{Time: t}
	dv.DateOnly, dv.Floating = kindOf(*prop)
	if dv.Floating {
		dv.Time = rebase(t, loc)
	}
	return &dv
}

func propFrom(p *ical.IANAProperty) *goical.Prop {
	if p == nil || strings.TrimSpace(p.Value) == "" {
		return nil
	}
	return &goical.Prop{Name: strings.ToUpper(p.IANAToken), Params: goical.Params(p.ICalParameters), Value: p.Value}
}
