package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"icscal/internal/cache"
	"icscal/internal/calendar"
	"icscal/internal/config"
	appLog "icscal/internal/log"
	"icscal/internal/metrics"
	"icscal/internal/model"
	"icscal/internal/parser"
)

// eventsCacheTTL bounds how long an event list answer is reused. Calendar
// downloads are throttled separately, so this only saves expansion work.
const eventsCacheTTL = 30 * time.Second

// Server exposes the configured calendars over HTTP.
type Server struct {
	cfg     *config.Config
	loc     *time.Location
	mux     *http.ServeMux
	metrics *metrics.Metrics

	names     []string
	calendars map[string]*calendar.Calendar

	events *cache.Cache[string, eventsResponse]
	now    func() time.Time
}

// NewServer constructs a new Server for the given calendars.
func NewServer(cfg *config.Config, cals []*calendar.Calendar, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		loc:       resolveLocationOrLocal(cfg.Timezone),
		mux:       http.NewServeMux(),
		metrics:   m,
		names:     make([]string, 0, len(cals)),
		calendars: make(map[string]*calendar.Calendar, len(cals)),
		events:    cache.New[string, eventsResponse](eventsCacheTTL),
		now:       time.Now,
	}
	for _, c := range cals {
		s.names = append(s.names, c.Name())
		s.calendars[c.Name()] = c
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// Invalidate drops cached answers, e.g. after a scheduled refresh.
func (s *Server) Invalidate() {
	s.events.Clear()
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth rather than locking everyone out.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="icscal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// StartServer serves s on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, s *Server) error {
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("stopping HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/calendars", s.handleCalendars)
	s.mux.HandleFunc("GET /api/calendars/{name}", s.handleEvents)
	s.mux.HandleFunc("GET /api/calendars/{name}/current", s.handleCurrent)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarsResponse is the JSON response shape for /api/calendars.
type calendarsResponse struct {
	Calendars []string `json:"calendars"`
	Engines   []string `json:"engines"`
}

func (s *Server) handleCalendars(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, calendarsResponse{
		Calendars: s.names,
		Engines:   parser.Names(),
	})
}

// eventsResponse is the JSON response shape for /api/calendars/{name}.
type eventsResponse struct {
	Calendar        string        `json:"calendar"`
	Events          []model.Event `json:"events"`
	RangeStart      time.Time     `json:"range_start"`
	RangeEnd        time.Time     `json:"range_end"`
	DisplayTimeZone string        `json:"display_timezone"`
}

// handleEvents returns the events of one calendar within a window.
//
// GET /api/calendars/{name}?start=2022-01-01&end=2022-01-31T23:59:59Z&days=7
//   - start: RFC3339 or YYYY-MM-DD (default now)
//   - end:   RFC3339 or YYYY-MM-DD (default start + days)
//   - days:  window length when end is omitted (default 7)
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cal, ok := s.calendars[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown calendar")
		return
	}

	q := r.URL.Query()
	now := s.now().In(s.loc)

	start, err := parseTimeDefault(q.Get("start"), now, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	end, err := parseTimeDefault(q.Get("end"), start.AddDate(0, 0, days), s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}

	key := name + "|" + start.Format(time.RFC3339) + "|" + end.Format(time.RFC3339)
	if resp, ok := s.events.Get(key); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	appLog.Info("api events request",
		"calendar", name,
		"range_start", start.Format(time.RFC3339),
		"range_end", end.Format(time.RFC3339),
	)

	events, err := cal.Events(r.Context(), start, end)
	if err != nil {
		appLog.Error("api events: query failed", err, "calendar", name)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	resp := eventsResponse{
		Calendar:        name,
		Events:          events,
		RangeStart:      start,
		RangeEnd:        end,
		DisplayTimeZone: s.loc.String(),
	}
	s.events.Set(key, resp)
	writeJSON(w, http.StatusOK, resp)
}

// currentResponse is the JSON response shape for
// /api/calendars/{name}/current. Event is null when nothing is scheduled.
type currentResponse struct {
	Calendar      string       `json:"calendar"`
	Event         *model.Event `json:"event"`
	OffsetMinutes int          `json:"offset_minutes"`
	OffsetReached bool         `json:"offset_reached"`
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	cal, ok := s.calendars[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown calendar")
		return
	}

	now := s.now().In(s.loc)
	cur, err := cal.Current(r.Context(), now)
	if err != nil {
		appLog.Error("api current: query failed", err, "calendar", name)
		writeError(w, http.StatusInternalServerError, "failed to find current event")
		return
	}

	resp := currentResponse{Calendar: name}
	if cur != nil {
		resp.Event = &cur.Event
		resp.OffsetMinutes = int(cur.Offset / time.Minute)
		resp.OffsetReached = cur.OffsetReached(now)
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseTimeDefault accepts RFC3339 or a plain date, read as midnight in loc.
func parseTimeDefault(s string, def time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.In(loc), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, errors.New("expected RFC3339 or YYYY-MM-DD")
	}
	return t, nil
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
