package ics

import (
	"iter"
	"strings"
	"time"

	"github.com/apognu/gocal"

	appLog "icscal/internal/log"
	"icscal/internal/model"
)

// gocalMargin widens the window handed to gocal. Its own range test is
// exclusive at the edges and floating times are read in the wrong zone, so
// we over-fetch and apply the inclusive overlap test ourselves.
const gocalMargin = 48 * time.Hour

// Gocal parses documents with apognu/gocal, which expands recurrences on
// its own. The document keeps the raw text and re-parses per query.
type Gocal struct{}

func (Gocal) Name() string { return "gocal" }

func (e Gocal) Parse(content string, loc *time.Location) (Document, error) {
	if err := checkContent(e.Name(), content); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	// gocal rejects some METHOD values; the property is irrelevant here.
	doc := &gocalDocument{content: stripMethod(trimBOM(content)), loc: loc, maxPer: DefaultMaxOccurrences}

	// Parse once over an empty window so feed-level errors surface now
	// rather than on every query.
	epoch := time.Unix(0, 0)
	c := gocal.NewParser(strings.NewReader(doc.content))
	c.Start, c.End = &epoch, &epoch
	c.AllDayEventsTZ = loc
	if err := c.Parse(); err != nil {
		return nil, parseError(e.Name(), err, "parse calendar")
	}
	return doc, nil
}

type gocalDocument struct {
	content string
	loc     *time.Location
	maxPer  int
}

func (d *gocalDocument) SetMaxOccurrences(n int) {
	if n <= 0 {
		n = DefaultMaxOccurrences
	}
	d.maxPer = n
}

func (d *gocalDocument) Occurrences(start, end time.Time) iter.Seq[model.Occurrence] {
	return func(yield func(model.Occurrence) bool) {
		from, to := start.Add(-gocalMargin), end.Add(gocalMargin)

		c := gocal.NewParser(strings.NewReader(d.content))
		c.Start, c.End = &from, &to
		c.AllDayEventsTZ = d.loc
		if err := c.Parse(); err != nil {
			appLog.Error("ics: gocal parse failed", err)
			return
		}

		perUID := make(map[string]int)
		for _, ev := range c.Events {
			if ev.Start == nil {
				continue
			}
			occ := d.occurrence(ev)
			if !overlaps(occ.Start, occ.End, start, end) {
				continue
			}
			perUID[occ.UID]++
			if perUID[occ.UID] > d.maxPer {
				if perUID[occ.UID] == d.maxPer+1 {
					appLog.Warn("expand: occurrence cap reached, truncating", "uid", occ.UID, "cap", d.maxPer)
				}
				continue
			}
			if !yield(occ) {
				return
			}
		}
	}
}

func (d *gocalDocument) occurrence(ev gocal.Event) model.Occurrence {
	occ := model.Occurrence{
		UID:         ev.Uid,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       *ev.Start,
	}

	raw := strings.TrimSpace(ev.RawStart.Value)
	occ.DateOnly = len(raw) == 8 || strings.EqualFold(ev.RawStart.Params["VALUE"], "DATE")
	occ.Floating = occ.DateOnly || (!strings.HasSuffix(raw, "Z") && ev.RawStart.Params["TZID"] == "")

	if ev.End != nil {
		occ.End = *ev.End
	} else {
		occ.End = occ.Start
	}
	if ev.Duration != nil {
		occ.Duration = *ev.Duration
		occ.HasDuration = true
	}

	if occ.Floating {
		occ.Start = rebase(occ.Start, d.loc)
		occ.End = rebase(occ.End, d.loc)
	}
	return occ
}

// rebase keeps t's wall clock and moves it into loc.
func rebase(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc)
}
