package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"icscal/internal/calendar"
	"icscal/internal/calendardata"
	"icscal/internal/config"
	"icscal/internal/filter"
	"icscal/internal/ics"
	appLog "icscal/internal/log"
	"icscal/internal/metrics"
	"icscal/internal/parser"
	"icscal/internal/web"
)

const cliTimeout = 30 * time.Second

func runList(ctx context.Context, src SourceFlags, startArg, endArg string, days int, out *output) error {
	p, loc, err := loadParser(ctx, src)
	if err != nil {
		return err
	}

	start, err := parseWhen(startArg, time.Now().In(loc), loc)
	if err != nil {
		return errors.Wrap(err, "--start")
	}
	if days <= 0 {
		days = 7
	}
	end, err := parseWhen(endArg, start.AddDate(0, 0, days), loc)
	if err != nil {
		return errors.Wrap(err, "--end")
	}

	events, err := p.EventList(start, end, src.AllDay, src.Offset)
	if err != nil {
		return err
	}
	return out.events(events)
}

func runCurrent(ctx context.Context, src SourceFlags, nowArg string, days int, out *output) error {
	p, loc, err := loadParser(ctx, src)
	if err != nil {
		return err
	}

	now, err := parseWhen(nowArg, time.Now().In(loc), loc)
	if err != nil {
		return errors.Wrap(err, "--now")
	}

	ev, err := p.CurrentEvent(src.AllDay, now, days, src.Offset)
	if err != nil {
		return err
	}
	if ev == nil {
		return out.current(nil, now)
	}

	summary, offset := calendar.ExtractOffset(ev.Summary)
	ev.Summary = summary
	return out.current(&calendar.Current{Event: *ev, Offset: offset}, now)
}

// loadParser downloads the selected source and loads it into a parser.
// Unlike the long-running service, parse errors are returned as-is.
func loadParser(ctx context.Context, src SourceFlags) (parser.Parser, *time.Location, error) {
	loc, err := loadLocation(src.Timezone)
	if err != nil {
		return nil, nil, err
	}

	target, err := sourceURL(src)
	if err != nil {
		return nil, nil, err
	}

	f, err := filter.New(src.Exclude, src.Include)
	if err != nil {
		return nil, nil, err
	}
	p, err := parser.Get(src.Parser, parser.WithLocation(loc))
	if err != nil {
		return nil, nil, err
	}
	p.SetFilter(f)

	d := calendardata.New(calendardata.Options{
		Name:      "cli",
		URL:       target,
		Username:  src.Username,
		Password:  src.Password,
		Timeout:   cliTimeout,
		MaxJitter: -1,
	})
	if _, err := d.Download(ctx); err != nil {
		return nil, nil, err
	}
	if err := p.SetContent(d.Get()); err != nil {
		return nil, nil, err
	}
	return p, loc, nil
}

func sourceURL(src SourceFlags) (string, error) {
	switch {
	case src.File != "":
		abs, err := filepath.Abs(src.File)
		if err != nil {
			return "", err
		}
		return "file://" + filepath.ToSlash(abs), nil
	case src.URL != "":
		return src.URL, nil
	default:
		return "", errors.New("one of --file or --url is required")
	}
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(err, "timezone %q", name)
	}
	return loc, nil
}

// parseWhen accepts RFC3339 or a plain date, read as midnight in loc.
func parseWhen(s string, def time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, errors.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", s)
	}
	return t, nil
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func runFetch(ctx context.Context, path string, out *output) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	cals, err := calendar.FromConfig(cfg, calendar.Options{})
	if err != nil {
		return err
	}

	downloaders := make([]*calendardata.Downloader, 0, len(cals))
	for _, c := range cals {
		downloaders = append(downloaders, c.Downloader())
	}

	loaded, err := calendardata.FetchAll(ctx, downloaders)
	out.linef("fetched %d of %d calendars", loaded, len(downloaders))
	return err
}

func runServe(ctx context.Context, path, listen string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Listen = listen
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"refresh", cfg.RefreshCron,
		"cache_dir", cfg.CacheDir,
		"calendars", len(cfg.Calendars),
	)

	m := metrics.New()
	cals, err := calendar.FromConfig(cfg, calendar.Options{Location: loc, Metrics: m})
	if err != nil {
		return err
	}
	srv := web.NewServer(cfg, cals, m)

	refresh := func() {
		if err := calendar.RefreshAll(ctx, cals); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
		srv.Invalidate()
	}

	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(cfg.RefreshCron, refresh); err != nil {
		return errors.Wrapf(err, "refresh schedule %q", cfg.RefreshCron)
	}
	go refresh()
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	return web.StartServer(ctx, cfg, srv)
}

// exitCode maps failures to process exit codes: 3 for configuration
// problems, 2 for documents that could not be parsed, 1 otherwise.
func exitCode(err error) int {
	var (
		parserErr *parser.ConfigError
		filterErr *filter.ConfigError
		parseErr  *ics.ParseError
	)
	switch {
	case errors.As(err, &parserErr), errors.As(err, &filterErr):
		return 3
	case errors.As(err, &parseErr):
		return 2
	default:
		return 1
	}
}
