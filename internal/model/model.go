package model

import (
	"time"

	"github.com/teambition/rrule-go"
)

// Template is a VEVENT as parsed from a document, before recurrence
// expansion. Engines produce templates; the expander turns them into
// Occurrences. A Template is never mutated after parsing.
type Template struct {
	UID string // empty when the source has no UID

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time

	// Duration is the explicit DURATION property, if HasDuration is set.
	Duration    time.Duration
	HasDuration bool

	// Floating is set when DTSTART carried no zone (including DATE values);
	// Start/End were materialized in the parser's location.
	Floating bool
	// DateOnly is set when DTSTART was a DATE value.
	DateOnly bool

	Rule    *rrule.ROption
	RDates  []time.Time
	ExDates []time.Time

	// RecurrenceID is set on override instances of a recurring series.
	RecurrenceID *time.Time
}

// IsRecurring reports whether the template expands to more than its own
// start.
func (t Template) IsRecurring() bool {
	return t.Rule != nil || len(t.RDates) > 0
}

// Occurrence represents a single concrete instance of a template
// (after recurrence expansion, before normalization).
type Occurrence struct {
	UID string

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time

	Duration    time.Duration
	HasDuration bool

	Floating bool
	DateOnly bool
}

// Event is the normalized record handed back to callers.
// Start and End are always zoned. All-day events start and end at midnight
// in the display location, moved by the hour offset when one is set.
type Event struct {
	UID         string    `json:"uid,omitempty"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
}

// Contains reports whether t lies within [Start, End].
func (e Event) Contains(t time.Time) bool {
	return !t.Before(e.Start) && !t.After(e.End)
}

// Overlaps reports whether [Start, End] and [start, end] share an instant.
func (e Event) Overlaps(start, end time.Time) bool {
	return !e.End.Before(start) && !e.Start.After(end)
}

// WallSpan is the wall-clock distance from start to end, read in start's
// location. Unlike end.Sub(start) it is not shifted by DST transitions.
func WallSpan(start, end time.Time) time.Duration {
	return wall(end.In(start.Location())).Sub(wall(start))
}

func wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
