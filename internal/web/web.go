package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"calwidget/internal/config"
	"calwidget/internal/ics"
	"calwidget/internal/layout"
	appLog "calwidget/internal/log"
	"calwidget/internal/metrics"
	"calwidget/internal/model"
)

var (
	errUnknownCalendar = errors.New("unknown calendar")
	errBadTimezone     = errors.New("invalid tz")
)

// Server provides the HTTP API the widget front end consumes.
type Server struct {
	cfg     *config.Config
	fetcher *ics.Fetcher
	metrics *metrics.Metrics
	router  *mux.Router

	now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, fetcher *ics.Fetcher, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:     cfg,
		fetcher: fetcher,
		metrics: m,
		router:  mux.NewRouter(),
		now:     time.Now,
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Sources lists the configured calendars as fetchable sources.
func (s *Server) Sources() []ics.Source {
	sources := make([]ics.Source, 0, len(s.cfg.Calendars))
	for _, cal := range s.cfg.Calendars {
		u := cal.FeedURL()
		if u == "" {
			continue
		}
		sources = append(sources, ics.Source{ID: sourceID(cal), URL: u})
	}
	return sources
}

// Refresh re-downloads every configured feed so request handlers hit a warm
// cache. It is driven by the refresh schedule.
func (s *Server) Refresh(ctx context.Context) {
	sources := s.Sources()
	errs := s.fetcher.Refresh(ctx, sources)
	appLog.Info("feeds refreshed", "sources", len(sources), "errors", len(errs))
}

// StartServer serves the API on cfg.Listen until ctx is canceled, then
// shuts down gracefully.
func StartServer(ctx context.Context, s *Server) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		appLog.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/layout/month", s.handleMonth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/layout/week", s.handleWeek).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// calendarView is the feed as seen through one display zone.
type calendarView struct {
	feed ics.Feed
	loc  *time.Location
}

// loadCalendar fetches and parses one configured calendar. The display zone
// is the tz query parameter, else the feed's own zone. An unknown tz is
// rejected before anything is fetched.
func (s *Server) loadCalendar(r *http.Request) (calendarView, error) {
	q := r.URL.Query()
	var override *time.Location
	if tz := q.Get("tz"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return calendarView{}, fmt.Errorf("%w %q: %v", errBadTimezone, tz, err)
		}
		override = loc
	}

	cal, ok := s.cfg.Calendar(q.Get("calendar"))
	if !ok {
		return calendarView{}, errUnknownCalendar
	}
	src := ics.Source{ID: sourceID(cal), URL: cal.FeedURL()}

	res, err := s.fetcher.FetchOne(r.Context(), src)
	if err != nil {
		s.metrics.FeedFetches.WithLabelValues(src.ID, metrics.ResultError).Inc()
		return calendarView{}, err
	}
	result := metrics.ResultOK
	if res.FromCache {
		result = metrics.ResultCached
	}
	s.metrics.FeedFetches.WithLabelValues(src.ID, result).Inc()

	feed := ics.Parse(string(res.Body), ics.Defaults{Name: cal.Name, TimeZone: s.cfg.Timezone})
	s.metrics.ObserveParse(src.ID, len(feed.Events), feed.Dropped)

	if override != nil {
		return calendarView{feed: feed, loc: override}, nil
	}
	return calendarView{feed: feed, loc: resolveLocationOr(feed.TimeZone, time.UTC)}, nil
}

// expand turns recurring series into instances between from and to.
func expand(v calendarView, from, to time.Time) []model.Event {
	res, err := ics.Expand(v.feed.Events, ics.ExpandConfig{
		Location:   v.loc,
		RangeStart: from,
		RangeEnd:   to,
	})
	if err != nil {
		appLog.Error("expand failed; using unexpanded events", err)
		return v.feed.Events
	}
	return res.Events
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Name     string        `json:"name"`
	TimeZone string        `json:"timeZone"`
	Events   []model.Event `json:"events"`
}

// handleEvents returns the events whose start lies in [timeMin, timeMax].
//
// GET /api/events?calendar=<id>&timeMin=<RFC3339>&timeMax=<RFC3339>&tz=<zone>
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeMin, err := parseTimeParam(q.Get("timeMin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timeMin")
		return
	}
	timeMax, err := parseTimeParam(q.Get("timeMax"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid timeMax")
		return
	}
	if !timeMin.IsZero() && !timeMax.IsZero() && timeMax.Before(timeMin) {
		writeError(w, http.StatusBadRequest, "timeMax is before timeMin")
		return
	}

	view, err := s.loadCalendar(r)
	if err != nil {
		s.writeLoadError(w, err)
		return
	}

	// Recurrences need a bounded window; open ends default to a year.
	now := s.now()
	from, to := timeMin, timeMax
	if from.IsZero() {
		from = now.AddDate(-1, 0, 0)
	}
	if to.IsZero() {
		to = now.AddDate(1, 0, 0)
	}
	if to.Before(from) {
		to = from
	}

	events := ics.FilterRange(expand(view, from, to), timeMin, timeMax, view.loc)
	writeJSON(w, http.StatusOK, eventsResponse{
		Name:     view.feed.Name,
		TimeZone: view.loc.String(),
		Events:   events,
	})
}

// weekDTO is one grid row with its placements and overflow counts.
type weekDTO struct {
	layout.WeekLayout
	Hidden [7]int `json:"hidden"`
}

// layoutResponse is the JSON response shape for the layout endpoints.
type layoutResponse struct {
	Name        string                 `json:"name"`
	TimeZone    string                 `json:"timeZone"`
	Year        int                    `json:"year,omitempty"`
	Month       *int                   `json:"month,omitempty"`
	VisibleRows int                    `json:"visibleRows"`
	Weeks       []weekDTO              `json:"weeks"`
	Events      map[string]model.Event `json:"events"`
}

// handleMonth lays out a month grid.
//
// GET /api/layout/month?calendar=<id>&year=2025&month=5 (month is zero-based)
func (s *Server) handleMonth(w http.ResponseWriter, r *http.Request) {
	view, err := s.loadCalendar(r)
	if err != nil {
		s.writeLoadError(w, err)
		return
	}

	today := s.now().In(view.loc)
	q := r.URL.Query()
	year := parseIntDefault(q.Get("year"), today.Year())
	month0 := parseIntDefault(q.Get("month"), int(today.Month())-1)
	if year < 1 || year > 9999 || month0 < 0 || month0 > 11 {
		writeError(w, http.StatusBadRequest, "invalid year or month")
		return
	}

	weeks := layout.MonthGrid(year, month0)
	first, _, _ := weeks[0].Span()
	_, last, _ := weeks[len(weeks)-1].Span()
	events := expand(view, first.In(view.loc), last.AddDays(1).In(view.loc))

	engine := layout.NewEngine(view.loc)
	month := engine.LayoutMonth(year, month0, events)
	s.metrics.LayoutRequest.WithLabelValues("month").Inc()

	s.writeLayout(w, view, month.Weeks, events, func(resp *layoutResponse) {
		resp.Year = year
		resp.Month = &month0
	})
}

// handleWeek lays out seven days.
//
// GET /api/layout/week?calendar=<id>&start=2025-06-08
// Without start, the Sunday-first week containing today is used.
func (s *Server) handleWeek(w http.ResponseWriter, r *http.Request) {
	view, err := s.loadCalendar(r)
	if err != nil {
		s.writeLoadError(w, err)
		return
	}

	start := model.DateOf(s.now().In(view.loc)).StartOfWeek()
	if raw := r.URL.Query().Get("start"); raw != "" {
		start, err = model.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start date")
			return
		}
	}

	events := expand(view, start.In(view.loc), start.AddDays(7).In(view.loc))
	wl := layout.NewEngine(view.loc).LayoutWeek(start, events)
	s.metrics.LayoutRequest.WithLabelValues("week").Inc()

	s.writeLayout(w, view, []layout.WeekLayout{wl}, events, nil)
}

func (s *Server) writeLayout(w http.ResponseWriter, view calendarView, weeks []layout.WeekLayout, events []model.Event, decorate func(*layoutResponse)) {
	byID := make(map[string]model.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	resp := layoutResponse{
		Name:        view.feed.Name,
		TimeZone:    view.loc.String(),
		VisibleRows: s.cfg.VisibleRows,
		Weeks:       make([]weekDTO, 0, len(weeks)),
		Events:      make(map[string]model.Event),
	}
	for _, wl := range weeks {
		resp.Weeks = append(resp.Weeks, weekDTO{WeekLayout: wl, Hidden: wl.Hidden(s.cfg.VisibleRows)})
		for _, p := range wl.Placements {
			resp.Events[p.EventID] = byID[p.EventID]
		}
	}
	if decorate != nil {
		decorate(&resp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeLoadError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadTimezone):
		writeError(w, http.StatusBadRequest, "invalid tz")
	case errors.Is(err, errUnknownCalendar):
		writeError(w, http.StatusNotFound, "unknown calendar")
	case errors.Is(err, ics.ErrNotPublic):
		writeError(w, http.StatusBadGateway, "calendar is not public")
	default:
		appLog.Error("calendar load failed", err)
		writeError(w, http.StatusBadGateway, "failed to fetch calendar")
	}
}

func sourceID(cal config.CalendarConfig) string {
	if cal.ID != "" {
		return cal.ID
	}
	if cal.Name != "" {
		return cal.Name
	}
	return cal.URL
}

func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func resolveLocationOr(name string, fallback *time.Location) *time.Location {
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back", err, "name", name, "fallback", fallback.String())
		return fallback
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
