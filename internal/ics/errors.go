package ics

import (
	"github.com/pkg/errors"
)

var (
	// ErrEmptyContent is returned for empty or whitespace-only documents.
	ErrEmptyContent = errors.New("empty calendar content")
	// ErrNotCalendar is returned when the content does not open with
	// BEGIN:VCALENDAR.
	ErrNotCalendar = errors.New("content is not an iCalendar document")
)

// ParseError reports a document that could not be understood. It is kept
// distinct from an empty result so callers can tell "no events" apart from
// "bad document".
type ParseError struct {
	Engine string
	Err    error
}

func (e *ParseError) Error() string {
	return "ics: " + e.Engine + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func parseError(engine string, err error, msg string) error {
	return &ParseError{Engine: engine, Err: errors.Wrap(err, msg)}
}
