package ics

import (
	"strings"
	"time"

	"github.com/emersion/go-ical"

	appLog "icscal/internal/log"
)

// GoICal parses documents with emersion/go-ical. Recurrences are expanded
// with rrule-go, same as GolangICal.
type GoICal struct{}

func (GoICal) Name() string { return "go-ical" }

func (e GoICal) Parse(content string, loc *time.Location) (Document, error) {
	if err := checkContent(e.Name(), content); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.NewDecoder(strings.NewReader(trimBOM(content))).Decode()
	if err != nil {
		return nil, parseError(e.Name(), err, "decode calendar")
	}

	var raws []rawEvent
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		raws = append(raws, rawFromComponent(comp))
	}

	templates := buildTemplates(e.Name(), raws, loc)
	appLog.Debug("ics parse completed", "engine", e.Name(), "vevents", len(raws), "templates", len(templates))
	return newTemplateDocument(templates), nil
}

func rawFromComponent(comp *ical.Component) rawEvent {
	var out rawEvent

	out.UID = textOf(comp.Props.Get(ical.PropUID))
	out.Summary = textOf(comp.Props.Get(ical.PropSummary))
	out.Description = textOf(comp.Props.Get(ical.PropDescription))
	out.Location = textOf(comp.Props.Get(ical.PropLocation))

	out.DtStart = present(comp.Props.Get(ical.PropDateTimeStart))
	out.DtEnd = present(comp.Props.Get(ical.PropDateTimeEnd))
	out.Duration = present(comp.Props.Get(ical.PropDuration))
	out.RecurrenceID = present(comp.Props.Get(ical.PropRecurrenceID))

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		out.RRule = prop.Value
	}
	out.RDates = comp.Props.Values(ical.PropRecurrenceDates)
	out.ExDates = comp.Props.Values(ical.PropExceptionDates)

	return out
}

func textOf(prop *ical.Prop) string {
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

func present(prop *ical.Prop) *ical.Prop {
	if prop == nil || strings.TrimSpace(prop.Value) == "" {
		return nil
	}
	return prop
}
