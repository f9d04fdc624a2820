package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"icscal/internal/calendar"
	"icscal/internal/model"
)

type output struct {
	w    io.Writer
	json bool

	allDay *color.Color
	now    *color.Color
	next   *color.Color
}

func newOutput(w io.Writer, asJSON, noColor bool) *output {
	o := &output{
		w:      w,
		json:   asJSON,
		allDay: color.New(color.FgYellow),
		now:    color.New(color.FgGreen, color.Bold),
		next:   color.New(color.FgCyan),
	}
	if noColor {
		for _, c := range []*color.Color{o.allDay, o.now, o.next} {
			c.DisableColor()
		}
	}
	return o
}

func (o *output) linef(format string, args ...any) {
	if o.json {
		return
	}
	fmt.Fprintf(o.w, format+"\n", args...)
}

func (o *output) writeJSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (o *output) events(events []model.Event) error {
	if o.json {
		if events == nil {
			events = []model.Event{}
		}
		return o.writeJSON(events)
	}
	if len(events) == 0 {
		o.linef("no events")
		return nil
	}
	for _, ev := range events {
		line := formatEvent(ev)
		if ev.AllDay {
			line = o.allDay.Sprint(line)
		}
		o.linef("%s", line)
	}
	return nil
}

func (o *output) current(cur *calendar.Current, now time.Time) error {
	if o.json {
		type currentJSON struct {
			Event         *model.Event `json:"event"`
			OffsetMinutes int          `json:"offset_minutes"`
			OffsetReached bool         `json:"offset_reached"`
		}
		resp := currentJSON{}
		if cur != nil {
			resp.Event = &cur.Event
			resp.OffsetMinutes = int(cur.Offset / time.Minute)
			resp.OffsetReached = cur.OffsetReached(now)
		}
		return o.writeJSON(resp)
	}

	if cur == nil {
		o.linef("no current or upcoming event")
		return nil
	}
	state := o.next.Sprintf("%-4s", "next")
	if cur.Event.Contains(now) {
		state = o.now.Sprintf("%-4s", "now")
	}
	line := state + " " + formatEvent(cur.Event)
	if cur.Offset != 0 {
		line += fmt.Sprintf(" [offset %s", cur.Offset)
		if cur.OffsetReached(now) {
			line += ", reached"
		}
		line += "]"
	}
	o.linef("%s", line)
	return nil
}

// formatEvent renders one event on a line:
//
//	2022-01-17 09:00-10:00  Standup @ Room 1
//	2022-01-03 all day      Holiday
func formatEvent(ev model.Event) string {
	var when string
	switch {
	case ev.AllDay:
		last := ev.End.AddDate(0, 0, -1)
		if sameDay(ev.Start, last) || !last.After(ev.Start) {
			when = ev.Start.Format(time.DateOnly) + " all day"
		} else {
			when = ev.Start.Format(time.DateOnly) + ".." + last.Format(time.DateOnly)
		}
	case sameDay(ev.Start, ev.End):
		when = ev.Start.Format("2006-01-02 15:04") + "-" + ev.End.Format("15:04")
	default:
		when = ev.Start.Format("2006-01-02 15:04") + ".." + ev.End.Format("2006-01-02 15:04")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%-22s  %s", when, ev.Summary)
	if ev.Location != "" {
		b.WriteString(" @ " + ev.Location)
	}
	return b.String()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
