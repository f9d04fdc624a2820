package ics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"icscal/internal/model"
)

var engines = []Engine{GolangICal{}, GoICal{}, Gocal{}}

// templateEngines expand with rrule-go and share override semantics.
var templateEngines = []Engine{GolangICal{}, GoICal{}}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	return loc
}

func fixture(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return string(b)
}

func collect(doc Document, start, end time.Time) []model.Occurrence {
	var out []model.Occurrence
	for occ := range doc.Occurrences(start, end) {
		out = append(out, occ)
	}
	return out
}

func january(loc *time.Location) (time.Time, time.Time) {
	return time.Date(2022, 1, 1, 0, 0, 0, 0, loc), time.Date(2022, 1, 31, 23, 59, 59, 0, loc)
}

func TestParseRejectsNonCalendarContent(t *testing.T) {
	cases := map[string]struct {
		content string
		want    error
	}{
		"empty":       {"", ErrEmptyContent},
		"whitespace":  {"  \r\n\t\n", ErrEmptyContent},
		"plain text":  {"this is not a calendar", ErrNotCalendar},
		"bare vevent": {"BEGIN:VEVENT\r\nSUMMARY:x\r\nEND:VEVENT\r\n", ErrNotCalendar},
		"python":      {"import os\n\nprint(os.getcwd())\n", ErrNotCalendar},
	}

	for _, eng := range engines {
		for name, tc := range cases {
			t.Run(eng.Name()+"/"+name, func(t *testing.T) {
				doc, err := eng.Parse(tc.content, time.UTC)
				require.Error(t, err)
				assert.Nil(t, doc)

				var pe *ParseError
				require.True(t, errors.As(err, &pe))
				assert.Equal(t, eng.Name(), pe.Engine)
				assert.ErrorIs(t, err, tc.want)
			})
		}
	}
}

func TestParseEmptyCalendarHasNoEvents(t *testing.T) {
	content := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//icscal//testdata//EN\r\nEND:VCALENDAR\r\n"
	for _, eng := range engines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, time.UTC)
			require.NoError(t, err)
			start, end := january(time.UTC)
			assert.Empty(t, collect(doc, start, end))
		})
	}
}

func TestAllDayFixtureOccurrences(t *testing.T) {
	loc := berlin(t)
	content := fixture(t, "allday.ics")
	start, end := january(loc)

	for _, eng := range engines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, loc)
			require.NoError(t, err)
			assert.Len(t, collect(doc, start, end), 11)
		})
	}
}

func TestTemplatesFromFixture(t *testing.T) {
	loc := berlin(t)
	content := fixture(t, "allday.ics")

	for _, eng := range templateEngines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, loc)
			require.NoError(t, err)
			tmpl := doc.(*TemplateDocument).Templates()
			require.Len(t, tmpl, 11)

			trip := tmpl[1]
			assert.Equal(t, "allday-2@icscal", trip.UID)
			assert.Equal(t, "Train to Hamburg, back by midnight", trip.Description)
			assert.True(t, trip.DateOnly)
			assert.True(t, trip.Floating)
			assert.WithinDuration(t, time.Date(2022, 1, 5, 0, 0, 0, 0, loc), trip.Start, 0)
			assert.WithinDuration(t, time.Date(2022, 1, 6, 0, 0, 0, 0, loc), trip.End, 0)

			durDay := tmpl[5]
			assert.True(t, durDay.HasDuration)
			assert.Equal(t, 24*time.Hour, durDay.Duration)
			assert.WithinDuration(t, time.Date(2022, 1, 14, 0, 0, 0, 0, loc), durDay.End, 0)

			floating := tmpl[6]
			assert.True(t, floating.Floating)
			assert.False(t, floating.DateOnly)
			assert.Equal(t, loc, floating.Start.Location())

			standup := tmpl[7]
			assert.False(t, standup.Floating)
			assert.Equal(t, "Room 1", standup.Location)
			assert.Equal(t, "Europe/Berlin", standup.Start.Location().String())

			lunch := tmpl[8]
			assert.Equal(t, time.UTC, lunch.Start.Location())
			assert.Equal(t, time.Hour, lunch.End.Sub(lunch.Start))

			review := tmpl[9]
			assert.True(t, review.HasDuration)
			assert.Equal(t, 90*time.Minute, review.End.Sub(review.Start))
		})
	}
}

func TestRecurringExpansion(t *testing.T) {
	loc := berlin(t)
	content := fixture(t, "recurring.ics")
	start, end := january(loc)

	for _, eng := range templateEngines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, loc)
			require.NoError(t, err)

			byUID := make(map[string][]model.Occurrence)
			for _, occ := range collect(doc, start, end) {
				byUID[occ.UID] = append(byUID[occ.UID], occ)
			}

			weekly := byUID["weekly@icscal"]
			require.Len(t, weekly, 4)
			var starts []string
			for _, occ := range weekly {
				starts = append(starts, occ.Start.In(loc).Format(time.RFC3339))
			}
			assert.ElementsMatch(t, []string{
				"2022-01-03T10:00:00+01:00",
				"2022-01-10T10:00:00+01:00",
				"2022-01-25T15:00:00+01:00",
				"2022-01-31T10:00:00+01:00",
			}, starts)
			for _, occ := range weekly {
				if occ.Start.Day() == 25 {
					assert.Equal(t, "Weekly sync (moved)", occ.Summary)
				} else {
					assert.Equal(t, "Weekly sync", occ.Summary)
					assert.Equal(t, time.Hour, occ.End.Sub(occ.Start))
				}
			}

			rdate := byUID["rdate@icscal"]
			require.Len(t, rdate, 2)
			assert.WithinDuration(t, time.Date(2022, 1, 4, 8, 0, 0, 0, time.UTC), rdate[0].Start.UTC(), 0)
			assert.WithinDuration(t, time.Date(2022, 1, 11, 8, 0, 0, 0, time.UTC), rdate[1].Start.UTC(), 0)

			daily := byUID["daily@icscal"]
			require.Len(t, daily, 3)
			for i, occ := range daily {
				day := time.Date(2022, 1, 1+i, 0, 0, 0, 0, loc)
				assert.WithinDuration(t, day, occ.Start, 0)
				assert.WithinDuration(t, day.AddDate(0, 0, 1), occ.End, 0)
				assert.True(t, occ.DateOnly)
			}

			single := byUID["single@icscal"]
			require.Len(t, single, 1)
			assert.WithinDuration(t, time.Date(2022, 1, 16, 0, 0, 0, 0, loc), single[0].End, 0)
		})
	}
}

func TestOccurrencesWindowIsInclusive(t *testing.T) {
	loc := berlin(t)
	content := fixture(t, "allday.ics")
	// Standup runs 09:00-10:00; a window that only touches its end still
	// includes it.
	at := time.Date(2022, 1, 17, 10, 0, 0, 0, loc)

	for _, eng := range engines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, loc)
			require.NoError(t, err)
			var summaries []string
			for _, occ := range collect(doc, at, at) {
				summaries = append(summaries, occ.Summary)
			}
			assert.Equal(t, []string{"Standup"}, summaries)
		})
	}
}

func TestOccurrencesIsRestartable(t *testing.T) {
	loc := berlin(t)
	start, end := january(loc)

	for _, eng := range engines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(fixture(t, "allday.ics"), loc)
			require.NoError(t, err)

			seq := doc.Occurrences(start, end)
			first := 0
			for range seq {
				first++
			}
			second := 0
			for range seq {
				second++
			}
			assert.Equal(t, first, second)

			taken := 0
			for range seq {
				taken++
				if taken == 2 {
					break
				}
			}
			assert.Equal(t, 2, taken)
		})
	}
}

func TestOccurrenceCap(t *testing.T) {
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	content := fixture(t, "forever.ics")

	for _, eng := range templateEngines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, time.UTC)
			require.NoError(t, err)
			assert.Len(t, collect(doc, start, end), DefaultMaxOccurrences)

			doc.(*TemplateDocument).SetMaxOccurrences(10)
			assert.Len(t, collect(doc, start, end), 10)
		})
	}
}

func TestOldSeriesExpandsFromTheWindow(t *testing.T) {
	content := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//icscal//testdata//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:pulse@icscal\r\nSUMMARY:Pulse\r\n" +
		"DTSTART:19900101T000000Z\r\nDTEND:19900101T000030Z\r\nRRULE:FREQ=HOURLY;INTERVAL=5\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24*time.Hour - time.Second)

	for _, eng := range templateEngines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, time.UTC)
			require.NoError(t, err)

			var hours []int
			for _, occ := range collect(doc, start, end) {
				hours = append(hours, occ.Start.Hour())
			}
			assert.Equal(t, []int{3, 8, 13, 18, 23}, hours)
		})
	}
}

func TestFastForward(t *testing.T) {
	loc := berlin(t)
	utc := func(y int, mo time.Month, d, h, mi, s int) time.Time {
		return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
	}

	cases := []struct {
		name string
		opt  rrule.ROption
		from time.Time
		want time.Time
	}{
		{
			"minutely keeps its phase",
			rrule.ROption{Freq: rrule.MINUTELY, Interval: 7, Dtstart: utc(2022, 1, 1, 0, 0, 0)},
			utc(2022, 1, 1, 8, 59, 30),
			utc(2022, 1, 1, 8, 59, 0),
		},
		{
			"hourly keeps minutes",
			rrule.ROption{Freq: rrule.HOURLY, Dtstart: utc(1990, 1, 1, 9, 15, 0)},
			utc(2022, 1, 1, 10, 0, 0),
			utc(2022, 1, 1, 9, 15, 0),
		},
		{
			"hourly across a DST change counts wall hours",
			rrule.ROption{Freq: rrule.HOURLY, Dtstart: time.Date(2022, 3, 26, 0, 30, 0, 0, loc)},
			time.Date(2022, 3, 28, 10, 0, 0, 0, loc),
			time.Date(2022, 3, 28, 9, 30, 0, 0, loc),
		},
		{
			"count is left alone",
			rrule.ROption{Freq: rrule.MINUTELY, Count: 10, Dtstart: utc(2022, 1, 1, 0, 0, 0)},
			utc(2022, 6, 1, 0, 0, 0),
			utc(2022, 1, 1, 0, 0, 0),
		},
		{
			"daily is left alone",
			rrule.ROption{Freq: rrule.DAILY, Dtstart: utc(2000, 1, 1, 0, 0, 0)},
			utc(2022, 6, 1, 0, 0, 0),
			utc(2000, 1, 1, 0, 0, 0),
		},
		{
			"from before dtstart",
			rrule.ROption{Freq: rrule.SECONDLY, Dtstart: utc(2022, 1, 1, 0, 0, 0)},
			utc(2021, 1, 1, 0, 0, 0),
			utc(2022, 1, 1, 0, 0, 0),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := fastForward(tc.opt, tc.from)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestMethodLineIsTolerated(t *testing.T) {
	start := time.Date(2022, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	for _, eng := range engines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(fixture(t, "method.ics"), time.UTC)
			require.NoError(t, err)
			occ := collect(doc, start, end)
			require.Len(t, occ, 1)
			assert.Equal(t, "Invite", occ[0].Summary)
		})
	}
}

func TestBadRRuleSkipsOnlyThatEvent(t *testing.T) {
	content := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//icscal//testdata//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:bad\r\nSUMMARY:Bad\r\nDTSTART:20220101T090000Z\r\nDTEND:20220101T100000Z\r\nRRULE:FREQ=SOMETIMES\r\nEND:VEVENT\r\n" +
		"BEGIN:VEVENT\r\nUID:good\r\nSUMMARY:Good\r\nDTSTART:20220102T090000Z\r\nDTEND:20220102T100000Z\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"
	start, end := january(time.UTC)

	for _, eng := range templateEngines {
		t.Run(eng.Name(), func(t *testing.T) {
			doc, err := eng.Parse(content, time.UTC)
			require.NoError(t, err)
			occ := collect(doc, start, end)
			require.Len(t, occ, 1)
			assert.Equal(t, "Good", occ[0].Summary)
		})
	}
}
