package ics

import (
	"bufio"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/pkg/errors"

	appLog "icscal/internal/log"
)

// dateValue is a resolved DATE or DATE-TIME property value.
type dateValue struct {
	Time     time.Time
	Floating bool
	DateOnly bool
}

var reMethod = regexp.MustCompile(`(?m)^METHOD:.*\r?$`)

// dateOf reads a DTSTART/DTEND/RECURRENCE-ID style property with go-ical.
//
//   - DATE values (VALUE=DATE or eight digits) are midnight in loc, floating.
//   - Values ending in Z are UTC.
//   - Values with a TZID are placed in that zone. A TZID that does not load
//     is retried by its trailing Area/City part, as in
//     "/mozilla.org/20070129_1/Europe/Berlin", and is otherwise read as a
//     floating time in loc.
//   - Anything else is a floating wall-clock time in loc.
func dateOf(prop ical.Prop, loc *time.Location) (dateValue, error) {
	if loc == nil {
		loc = time.Local
	}
	prop.Value = strings.TrimSpace(prop.Value)
	if prop.Value == "" {
		return dateValue{}, errors.Errorf("%s: empty value", prop.Name)
	}
	prop.Params = upperParams(prop.Params)

	var dv dateValue
	dv.DateOnly, dv.Floating = kindOf(prop)
	if dv.DateOnly {
		prop.Params.Set(ical.ParamValue, string(ical.ValueDate))
	}
	tzid := prop.Params.Get(ical.ParamTimezoneID)

	t, err := prop.DateTime(loc)
	if err != nil && tzid != "" && !dv.DateOnly {
		t, err = retryZone(prop, tzid, loc)
		dv.Floating = t.Location() == loc
	}
	if err != nil {
		return dateValue{}, errors.Wrapf(err, "%s %q", prop.Name, prop.Value)
	}
	dv.Time = t
	return dv, nil
}

// kindOf reports whether prop holds a DATE and whether it floats, from its
// VALUE and TZID parameters and the shape of the value.
func kindOf(prop ical.Prop) (dateOnly, floating bool) {
	params := upperParams(prop.Params)
	value := strings.TrimSpace(prop.Value)
	switch params.Get(ical.ParamValue) {
	case string(ical.ValueDate):
		dateOnly = true
	case "":
		dateOnly = len(value) == len("20060102")
	}
	floating = dateOnly || (params.Get(ical.ParamTimezoneID) == "" && !strings.HasSuffix(value, "Z"))
	return dateOnly, floating
}

func retryZone(prop ical.Prop, tzid string, loc *time.Location) (time.Time, error) {
	if parts := strings.Split(strings.Trim(tzid, `"/`), "/"); len(parts) > 2 {
		prop.Params.Set(ical.ParamTimezoneID, strings.Join(parts[len(parts)-2:], "/"))
		if t, err := prop.DateTime(loc); err == nil {
			return t, nil
		}
	}
	appLog.Debug("ics: unknown TZID, treating value as floating", "tzid", tzid)
	prop.Params.Del(ical.ParamTimezoneID)
	return prop.DateTime(loc)
}

// dateListOf reads a comma separated EXDATE/RDATE property. Entries that
// fail to parse are dropped.
func dateListOf(prop ical.Prop, loc *time.Location) []time.Time {
	var out []time.Time
	for _, part := range strings.Split(prop.Value, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		entry := prop
		entry.Value = part
		dv, err := dateOf(entry, loc)
		if err != nil {
			appLog.Debug("ics: dropping unparsable date in list", "value", part, "err", err.Error())
			continue
		}
		out = append(out, dv.Time)
	}
	return out
}

// durationOf reads a DURATION property with go-ical.
func durationOf(prop ical.Prop) (time.Duration, error) {
	prop.Value = strings.ToUpper(strings.TrimSpace(prop.Value))
	prop.Params = upperParams(prop.Params)
	d, err := prop.Duration()
	if err != nil {
		return 0, errors.Wrapf(err, "DURATION %q", prop.Value)
	}
	return d, nil
}

// upperParams copies params with upper-case keys, which is how go-ical
// looks them up. Other engines keep the case found in the source.
func upperParams(params map[string][]string) ical.Params {
	out := make(ical.Params, len(params))
	for k, v := range params {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// checkContent rejects empty and non-iCalendar text before it reaches an
// engine; some engines accept anything and return zero events.
func checkContent(engine, content string) error {
	content = trimBOM(content)
	if strings.TrimSpace(content) == "" {
		return &ParseError{Engine: engine, Err: ErrEmptyContent}
	}

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "BEGIN:VCALENDAR") {
			return nil
		}
		break
	}
	return &ParseError{Engine: engine, Err: ErrNotCalendar}
}

func trimBOM(s string) string {
	return strings.TrimPrefix(s, "\ufeff")
}

// stripMethod removes METHOD: property lines.
func stripMethod(content string) string {
	return reMethod.ReplaceAllString(content, "")
}
