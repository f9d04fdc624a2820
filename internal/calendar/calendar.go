// Package calendar ties a configured calendar's downloader to its parser
// and answers event queries the way the API presents them.
package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"icscal/internal/calendardata"
	"icscal/internal/config"
	"icscal/internal/filter"
	appLog "icscal/internal/log"
	"icscal/internal/metrics"
	"icscal/internal/model"
	"icscal/internal/parser"
)

// Options are shared by all calendars of one process.
type Options struct {
	// Location is the display zone.
	Location *time.Location
	// CacheDir enables the downloader's disk cache.
	CacheDir string
	Metrics  *metrics.Metrics
	// MaxJitter is passed to the downloader; negative disables it.
	MaxJitter time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Current is the current or next event with the reminder offset taken from
// its summary.
type Current struct {
	Event  model.Event   `json:"event"`
	Offset time.Duration `json:"offset"`
}

// OffsetReached reports whether the reminder offset has passed at now.
func (c Current) OffsetReached(now time.Time) bool {
	return OffsetReached(c.Event.Start, c.Offset, now)
}

// Calendar is one configured calendar. It is safe for concurrent use.
type Calendar struct {
	cfg        config.CalendarConfig
	engine     string
	downloader *calendardata.Downloader
	metrics    *metrics.Metrics

	mu     sync.Mutex
	parser parser.Parser
}

// New builds a calendar from its configuration. Unknown parser names and
// malformed filter lists are configuration errors.
func New(cfg config.CalendarConfig, opts Options) (*Calendar, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}

	engine, err := parser.Resolve(cfg.Parser)
	if err != nil {
		return nil, err
	}
	f, err := filter.New(cfg.Exclude, cfg.Include)
	if err != nil {
		return nil, errors.Wrapf(err, "calendar %q", cfg.Name)
	}

	c := &Calendar{cfg: cfg, engine: engine, metrics: opts.Metrics}

	p, err := parser.Get(engine,
		parser.WithLocation(opts.Location),
		parser.WithSkipHandler(c.skipped),
	)
	if err != nil {
		return nil, err
	}
	p.SetFilter(f)
	c.parser = p

	c.downloader = calendardata.New(calendardata.Options{
		Name:          cfg.Name,
		URL:           cfg.URL,
		MinUpdateTime: cfg.Interval(),
		Username:      cfg.Username,
		Password:      cfg.Password,
		UserAgent:     cfg.UserAgent,
		AcceptHeader:  cfg.AcceptHeader,
		Timeout:       cfg.Timeout(),
		CacheDir:      opts.CacheDir,
		MaxJitter:     opts.MaxJitter,
		Now:           opts.Now,
		Metrics:       opts.Metrics,
	})
	return c, nil
}

func (c *Calendar) Name() string { return c.cfg.Name }

// Downloader exposes the calendar's downloader, e.g. for calendardata.FetchAll.
func (c *Calendar) Downloader() *calendardata.Downloader { return c.downloader }

// Refresh downloads the calendar if it is due and hands new content to the
// parser. It reports whether new content was loaded.
func (c *Calendar) Refresh(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refresh(ctx)
}

func (c *Calendar) refresh(ctx context.Context) (bool, error) {
	loaded, err := c.downloader.Download(ctx)
	if err != nil {
		return false, err
	}
	if !loaded {
		return false, nil
	}
	return true, c.load(c.downloader.Get())
}

// Load replaces the calendar content directly, bypassing the downloader.
func (c *Calendar) Load(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(content)
}

func (c *Calendar) load(content string) error {
	appLog.Debug("calendar: setting content", "calendar", c.cfg.Name, "bytes", len(content))
	if err := c.parser.SetContent(content); err != nil {
		c.metrics.ParseFailed(c.engine)
		return err
	}
	return nil
}

// Events returns the events overlapping [start, end], with the configured
// prefix applied. A failed download is logged and the previously parsed
// content keeps answering; a document that fails to parse answers with no
// events until the next good download.
func (c *Calendar) Events(ctx context.Context, start, end time.Time) ([]model.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshLogged(ctx, "events")
	events, err := c.parser.EventList(start, end, c.cfg.IncludeAllDay, c.cfg.OffsetHours)
	if err != nil {
		return nil, err
	}
	for i := range events {
		events[i].Summary = c.cfg.Prefix + events[i].Summary
	}
	c.metrics.EventsReturned(c.cfg.Name, "list", len(events))
	return events, nil
}

// Current returns the event in progress at now or the next one within the
// configured number of days. Nil when there is none.
func (c *Calendar) Current(ctx context.Context, now time.Time) (*Current, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.refreshLogged(ctx, "current")
	ev, err := c.parser.CurrentEvent(c.cfg.IncludeAllDay, now, c.cfg.Days, c.cfg.OffsetHours)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		appLog.Debug("calendar: no event found", "calendar", c.cfg.Name)
		return nil, nil
	}

	summary, offset := ExtractOffset(ev.Summary)
	ev.Summary = c.cfg.Prefix + summary
	c.metrics.EventsReturned(c.cfg.Name, "current", 1)

	appLog.Debug("calendar: got event",
		"calendar", c.cfg.Name,
		"summary", ev.Summary,
		"start", ev.Start,
		"end", ev.End,
		"all_day", ev.AllDay,
	)
	return &Current{Event: *ev, Offset: offset}, nil
}

func (c *Calendar) refreshLogged(ctx context.Context, op string) {
	if _, err := c.refresh(ctx); err != nil {
		appLog.Error("calendar: refresh failed", err, "calendar", c.cfg.Name, "op", op)
	}
}

func (c *Calendar) skipped(occ model.Occurrence, reason error) {
	c.metrics.OccurrenceSkipped(c.cfg.Name)
	appLog.Warn("calendar: skipping occurrence",
		"calendar", c.cfg.Name,
		"uid", occ.UID,
		"summary", occ.Summary,
		"reason", reason.Error(),
	)
}

// FromConfig builds every configured calendar.
func FromConfig(cfg *config.Config, opts Options) ([]*Calendar, error) {
	if opts.Location == nil {
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		opts.Location = loc
	}
	if opts.CacheDir == "" {
		opts.CacheDir = cfg.CacheDir
	}

	out := make([]*Calendar, 0, len(cfg.Calendars))
	for _, cc := range cfg.Calendars {
		c, err := New(cc, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// RefreshAll refreshes every calendar and combines the failures.
func RefreshAll(ctx context.Context, cals []*Calendar) error {
	var result *multierror.Error
	for _, c := range cals {
		if _, err := c.Refresh(ctx); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "calendar %q", c.Name()))
		}
	}
	return result.ErrorOrNil()
}
