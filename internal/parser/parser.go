// Package parser exposes calendar engines behind one query interface:
// load a document, then ask for the events in a window or for the current
// (or next) event.
package parser

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"icscal/internal/filter"
	appLog "icscal/internal/log"
	"icscal/internal/model"
)

// Parser answers event queries over one loaded calendar document.
//
// SetContent must not be called concurrently with queries on the same
// instance. Querying before any content was set yields an empty result.
type Parser interface {
	SetContent(content string) error
	SetFilter(f *filter.Filter)
	EventList(start, end time.Time, includeAllDay bool, offsetHours int) ([]model.Event, error)
	CurrentEvent(includeAllDay bool, now time.Time, days, offsetHours int) (*model.Event, error)
}

var (
	// ErrUnknownEngine is wrapped by the ConfigError returned from Get.
	ErrUnknownEngine = errors.New("unknown parser engine")
	// ErrMalformedOccurrence is passed to the skip handler for instances
	// that end before they start.
	ErrMalformedOccurrence = errors.New("occurrence ends before it starts")
	// ErrInvalidWindow is returned for a query window whose end precedes
	// its start.
	ErrInvalidWindow = errors.New("query window ends before it starts")
)

// ConfigError reports a parser that could not be configured.
type ConfigError struct {
	Name string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("parser %q: %v", e.Name, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// SkipFunc receives occurrences that were dropped from a result.
type SkipFunc func(occ model.Occurrence, reason error)

// Options configure a Parser.
type Options struct {
	// Location is the display zone. Floating times are read in it and
	// results are returned in it. Defaults to time.Local.
	Location *time.Location
	// OnSkip is told about malformed occurrences. Defaults to a warning log.
	OnSkip SkipFunc
	// MaxOccurrences caps instances per recurring series and query.
	MaxOccurrences int
}

type Option func(*Options)

func WithLocation(loc *time.Location) Option {
	return func(o *Options) { o.Location = loc }
}

func WithSkipHandler(fn SkipFunc) Option {
	return func(o *Options) { o.OnSkip = fn }
}

func WithMaxOccurrences(n int) Option {
	return func(o *Options) { o.MaxOccurrences = n }
}

func defaultOptions() Options {
	return Options{
		Location: time.Local,
		OnSkip:   logSkip,
	}
}

func logSkip(occ model.Occurrence, reason error) {
	appLog.Warn("parser: skipping occurrence",
		"uid", occ.UID,
		"summary", occ.Summary,
		"start", occ.Start,
		"end", occ.End,
		"reason", reason.Error(),
	)
}
