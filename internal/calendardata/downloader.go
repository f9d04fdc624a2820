// Package calendardata downloads calendar text and keeps the latest copy.
//
// Each Downloader owns its HTTP client, so credentials and headers of one
// calendar never leak into another. Downloads are throttled to at most one
// per MinUpdateTime, and responses are decoded (gzip, BOM, UTF-16) before
// they reach the parser.
package calendardata

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	appLog "icscal/internal/log"
	"icscal/internal/metrics"
)

// DefaultMaxJitter bounds the random pause before each download.
const DefaultMaxJitter = 2 * time.Second

// StatusError is returned for non-success HTTP responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %s", e.Status)
}

// Options configure a Downloader.
type Options struct {
	// Name identifies the calendar in logs and metrics.
	Name string
	// URL may contain {year} and {month}, filled in from the current time.
	// http, https and file URLs are supported.
	URL string
	// MinUpdateTime is the minimum time between two downloads.
	MinUpdateTime time.Duration

	Username     string
	Password     string
	UserAgent    string
	AcceptHeader string
	// Timeout bounds a single request. Zero means no timeout.
	Timeout time.Duration

	// CacheDir enables the on-disk cache with conditional requests.
	CacheDir string
	// MaxJitter bounds the random pause before a download. Zero means
	// DefaultMaxJitter, negative disables the pause.
	MaxJitter time.Duration

	// Now overrides the clock, for tests.
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Downloader fetches one calendar and keeps the last decoded content.
// It is safe for concurrent use.
type Downloader struct {
	opts   Options
	client *http.Client
	cache  *diskCache

	mu           sync.Mutex
	content      string
	lastDownload time.Time
}

func New(opts Options) *Downloader {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxJitter == 0 {
		opts.MaxJitter = DefaultMaxJitter
	}

	// Compression is handled in decodeBody so a gzip Content-Encoding is
	// visible to us regardless of who asked for it.
	transport := &http.Transport{
		Proxy:              http.ProxyFromEnvironment,
		DisableCompression: true,
	}
	transport.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))

	d := &Downloader{
		opts:   opts,
		client: &http.Client{Transport: transport, Timeout: opts.Timeout},
	}
	if opts.CacheDir != "" {
		d.cache = &diskCache{dir: opts.CacheDir}
	}
	return d
}

func (d *Downloader) Name() string { return d.opts.Name }

// Get returns the content of the last successful download, or "" when there
// is none.
func (d *Downloader) Get() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content
}

// Download fetches the calendar unless the previous download is younger than
// MinUpdateTime. It reports whether content was (re)loaded.
//
// On failure the previous content is dropped, unless the disk cache still
// has a copy to fall back to.
func (d *Downloader) Download(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.opts.Now()
	if d.content != "" && !d.lastDownload.IsZero() && now.Sub(d.lastDownload) <= d.opts.MinUpdateTime {
		appLog.Debug("calendar download skipped", "calendar", d.opts.Name, "last", d.lastDownload)
		return false, nil
	}

	d.content = ""
	if err := d.wait(ctx); err != nil {
		return false, err
	}

	began := time.Now()
	content, result, err := d.fetch(ctx, now)
	d.lastDownload = now
	d.opts.Metrics.ObserveDownload(d.opts.Name, result, time.Since(began))
	if err != nil {
		return false, err
	}

	d.content = content
	return true, nil
}

// wait sleeps a random moment so calendars sharing a server do not hit it
// at the same instant.
func (d *Downloader) wait(ctx context.Context) error {
	if d.opts.MaxJitter < 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Millisecond + rand.N(d.opts.MaxJitter))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Downloader) fetch(ctx context.Context, now time.Time) (string, string, error) {
	target := expandURL(d.opts.URL, now)
	if _, err := url.Parse(target); err != nil {
		return "", "error", errors.Wrap(err, "invalid calendar url")
	}
	fields := []any{"calendar", d.opts.Name, "url", redactURL(target)}

	meta, cached := d.cache.load(target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", "error", errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}
	if d.opts.AcceptHeader != "" {
		req.Header.Set("Accept", d.opts.AcceptHeader)
	}
	if d.opts.Username != "" && d.opts.Password != "" {
		req.SetBasicAuth(d.opts.Username, d.opts.Password)
	}
	if cached != "" {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("calendar download start", fields...)

	resp, err := d.client.Do(req)
	if err != nil {
		if cached != "" {
			appLog.Error("calendar download failed, using cached copy", err, fields...)
			return cached, "cached", nil
		}
		appLog.Error("calendar download failed", err, fields...)
		return "", "error", errors.Wrap(err, "download")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			appLog.Error("calendar download truncated", err, fields...)
			return "", "error", errors.Wrap(err, "read body")
		}
		content, err := decodeBody(body, resp.Header.Get("Content-Encoding"))
		if err != nil {
			appLog.Error("calendar data could not be decoded", err, fields...)
			return "", "error", err
		}

		next := cacheEntry{
			URL:          target,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := d.cache.save(next, content); err != nil {
			// The fresh content is still good.
			appLog.Error("calendar cache save failed", err, fields...)
		}

		appLog.Info("calendar downloaded", append(fields, "bytes", len(content))...)
		return content, "ok", nil

	case http.StatusNotModified:
		if cached == "" {
			return "", "error", errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("calendar not modified; using cache", fields...)
		return cached, "unchanged", nil

	default:
		statusErr := &StatusError{Code: resp.StatusCode, Status: resp.Status}
		if cached != "" {
			appLog.Error("calendar download non-OK, using cached copy", statusErr, fields...)
			return cached, "cached", nil
		}
		appLog.Error("calendar download non-OK", statusErr, fields...)
		return "", "error", statusErr
	}
}

// expandURL fills in {year} and {month} from now.
func expandURL(raw string, now time.Time) string {
	return strings.NewReplacer(
		"{year}", fmt.Sprintf("%04d", now.Year()),
		"{month}", fmt.Sprintf("%02d", int(now.Month())),
	).Replace(raw)
}

// FetchAll downloads every calendar in turn. It returns how many were
// (re)loaded and all failures, combined.
func FetchAll(ctx context.Context, downloaders []*Downloader) (int, error) {
	var (
		loaded int
		result *multierror.Error
	)
	for _, d := range downloaders {
		ok, err := d.Download(ctx)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "calendar %q", d.Name()))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if ok {
			loaded++
		}
	}
	return loaded, result.ErrorOrNil()
}
