package calendardata

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calendarData = "calendar data"

var (
	utf8BOMData    = []byte("\xef\xbb\xbfcalendar data")
	utf16BOMBEData = []byte("\xfe\xff\x00c\x00a\x00l\x00e\x00n\x00d\x00a\x00r\x00 \x00d\x00a\x00t\x00a")
	utf16BOMLEData = []byte("\xff\xfec\x00a\x00l\x00e\x00n\x00d\x00a\x00r\x00 \x00d\x00a\x00t\x00a\x00")
	badUTFData     = []byte("\xf0\xa4\xad")
)

// clock is a settable time source.
type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *clock {
	return &clock{now: time.Date(2022, 1, 5, 12, 0, 0, 0, time.UTC)}
}

func newDownloader(url string, clk *clock, opts ...func(*Options)) *Downloader {
	o := Options{
		Name:          "test",
		URL:           url,
		MinUpdateTime: 5 * time.Minute,
		MaxJitter:     -1,
		Now:           clk.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return New(o)
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadAndThrottle(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(calendarData))
			return
		}
		_, _ = w.Write([]byte("2 " + calendarData))
	})

	clk := newClock()
	d := newDownloader(srv.URL+"/test/allday.ics", clk)
	assert.Empty(t, d.Get())

	ok, err := d.Download(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, calendarData, d.Get())

	// Too soon: the old data stays.
	clk.Advance(time.Minute)
	ok, err = d.Download(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, calendarData, d.Get())
	assert.EqualValues(t, 1, hits.Load())

	clk.Advance(10 * time.Minute)
	ok, err = d.Download(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2 "+calendarData, d.Get())
}

func TestDownloadExpandsTemplates(t *testing.T) {
	var path string
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte(calendarData))
	})

	d := newDownloader(srv.URL+"/test/{year}/{month}/allday.ics", newClock())
	_, err := d.Download(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/test/2022/01/allday.ics", path)
}

func TestDownloadSendsHeaders(t *testing.T) {
	cases := map[string]struct {
		user, pass, agent, accept string
	}{
		"none":          {},
		"accept":        {accept: "text/calendar"},
		"user agent":    {agent: "Mozilla/5.0"},
		"basic auth":    {user: "username", pass: "password"},
		"auth only one": {user: "username"},
		"all":           {user: "username", pass: "password", agent: "Mozilla/5.0", accept: "text/calendar"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var got *http.Request
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				got = r.Clone(context.Background())
				_, _ = w.Write([]byte(calendarData))
			})

			d := newDownloader(srv.URL, newClock(), func(o *Options) {
				o.Username, o.Password = tc.user, tc.pass
				o.UserAgent, o.AcceptHeader = tc.agent, tc.accept
			})
			_, err := d.Download(context.Background())
			require.NoError(t, err)
			require.NotNil(t, got)

			user, pass, ok := got.BasicAuth()
			if tc.user != "" && tc.pass != "" {
				assert.True(t, ok)
				assert.Equal(t, tc.user, user)
				assert.Equal(t, tc.pass, pass)
			} else {
				assert.False(t, ok)
			}
			if tc.agent != "" {
				assert.Equal(t, tc.agent, got.Header.Get("User-Agent"))
			}
			assert.Equal(t, tc.accept, got.Header.Get("Accept"))
		})
	}
}

func TestDownloadDecodes(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, _ = zw.Write([]byte(calendarData))
	require.NoError(t, zw.Close())

	cases := map[string]struct {
		body     []byte
		encoding string
	}{
		"plain":     {[]byte(calendarData), ""},
		"utf8 bom":  {utf8BOMData, ""},
		"utf16 be":  {utf16BOMBEData, ""},
		"utf16 le":  {utf16BOMLEData, ""},
		"gzip":      {gz.Bytes(), "gzip"},
		"nul bytes": {[]byte("calendar\x00 data\x00"), ""},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
				if tc.encoding != "" {
					w.Header().Set("Content-Encoding", tc.encoding)
				}
				_, _ = w.Write(tc.body)
			})

			d := newDownloader(srv.URL, newClock())
			ok, err := d.Download(context.Background())
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, calendarData, d.Get())
		})
	}
}

func TestDownloadFailuresLeaveNoData(t *testing.T) {
	badGzip := []byte("\x2f\x8b\x08\x00\x5b\x41\x61\x63\x02\x03garbage")
	badDeflate := []byte("\x1f\x8b\x08\x00\x5b\x41\x61\x63\x02\x03\x4b\x4e\xcc\x49\xcd\x4b\x49\x2c\x52\x48\x49\x2c\x49\xf4\x00\x29\x07\xe7\x84\x0d\x00\x00\x00")

	cases := map[string]http.HandlerFunc{
		"bad utf": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(badUTFData)
		},
		"bad gzip": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(badGzip)
		},
		"bad deflate": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Encoding", "gzip")
			_, _ = w.Write(badDeflate)
		},
		"http error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusForbidden)
		},
		"not modified without cache": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotModified)
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := serve(t, h)
			d := newDownloader(srv.URL, newClock())
			ok, err := d.Download(context.Background())
			require.Error(t, err)
			assert.False(t, ok)
			assert.Empty(t, d.Get())
		})
	}
}

func TestDownloadStatusError(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	d := newDownloader(srv.URL, newClock())
	_, err := d.Download(context.Background())

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
}

func TestDownloadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newDownloader(url, newClock())
	ok, err := d.Download(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.Empty(t, d.Get())
}

func TestDownloadConditionalCache(t *testing.T) {
	var (
		fail        atomic.Bool
		conditional atomic.Int32
	)
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(calendarData))
	})

	clk := newClock()
	dir := t.TempDir()
	d := newDownloader(srv.URL+"/{year}.ics", clk, func(o *Options) { o.CacheDir = dir })

	ok, err := d.Download(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	// A fresh downloader sharing the cache revalidates instead of refetching.
	d2 := newDownloader(srv.URL+"/{year}.ics", clk, func(o *Options) { o.CacheDir = dir })
	ok, err = d2.Download(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, calendarData, d2.Get())
	assert.EqualValues(t, 1, conditional.Load())

	// Server errors fall back to the cached copy.
	fail.Store(true)
	clk.Advance(time.Hour)
	ok, err = d.Download(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, calendarData, d.Get())
}

func TestDownloadFileURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "local.ics")
	require.NoError(t, os.WriteFile(path, utf8BOMData, 0o600))

	d := newDownloader("file://"+path, newClock())
	ok, err := d.Download(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, calendarData, d.Get())
}

func TestDownloadHonoursContext(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(calendarData))
	})

	d := newDownloader(srv.URL, newClock(), func(o *Options) { o.MaxJitter = time.Hour })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := d.Download(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestFetchAllCombinesFailures(t *testing.T) {
	good := serve(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(calendarData))
	})
	bad := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})

	clk := newClock()
	ds := []*Downloader{
		newDownloader(good.URL, clk, func(o *Options) { o.Name = "good" }),
		newDownloader(bad.URL, clk, func(o *Options) { o.Name = "bad" }),
		newDownloader(good.URL+"/other", clk, func(o *Options) { o.Name = "other" }),
	}

	loaded, err := FetchAll(context.Background(), ds)
	assert.Equal(t, 2, loaded)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	require.Len(t, merr.Errors, 1)
	assert.Contains(t, merr.Errors[0].Error(), `calendar "bad"`)
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://example.com/...(redacted)", redactURL("https://user:pw@example.com/private.ics?token=abcd"))
	assert.Equal(t, "file:///...(redacted)", redactURL("file:///home/me/cal.ics"))
	assert.Equal(t, "ics://...(redacted)", redactURL("no scheme"))
}

func TestDecodeText(t *testing.T) {
	// Without a BOM, bytes that are not UTF-8 are read as UTF-16LE.
	got, err := decodeText([]byte("c\x00a\x00l\x00\xe9\x00"))
	require.NoError(t, err)
	assert.Equal(t, "calé", got)

	_, err = decodeText(badUTFData)
	assert.ErrorIs(t, err, ErrUndecodable)
}
