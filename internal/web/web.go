package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	gosync "sync"
	"time"

	"tibbercal/internal/config"
	"tibbercal/internal/history"
	appLog "tibbercal/internal/log"
	pricesync "tibbercal/internal/sync"
)

// Previewer computes the periods a run would create.
type Previewer interface {
	Preview(ctx context.Context) (pricesync.Preview, error)
}

// Runner triggers and reports on scheduled runs.
type Runner interface {
	// Trigger runs a sync synchronously; false if one is already running.
	Trigger() bool
	Running() bool
	Next() time.Time
}

// Server provides the status API for -serve mode.
type Server struct {
	cfg     *config.Config
	preview Previewer
	runner  Runner
	history history.Store
	mux     *http.ServeMux

	// In-memory cache for /api/periods; every miss is a feed request.
	periodsMu    gosync.RWMutex
	periodsCache *periodsCache
}

// NewServer constructs a new Server. history may be nil.
func NewServer(cfg *config.Config, preview Previewer, runner Runner, hist history.Store) *Server {
	if hist == nil {
		hist = &history.NopStore{}
	}
	s := &Server{
		cfg:     cfg,
		preview: preview,
		runner:  runner,
		history: hist,
		mux:     http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Web.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil {
		return false
	}
	return s.cfg.Web.BasicAuth.Username != "" && s.cfg.Web.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.Web.BasicAuth.Username
	password := s.cfg.Web.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="tibbercal", charset="UTF-8"`)
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

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Web.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Web.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/runs", s.handleRuns)
	s.mux.HandleFunc("/api/periods", s.handlePeriods)
	s.mux.HandleFunc("/api/run", s.handleRun)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// statusResponse is the JSON response shape for /api/status.
type statusResponse struct {
	CalendarID string     `json:"calendar_id"`
	Backend    string     `json:"backend"`
	Timezone   string     `json:"timezone"`
	Schedule   string     `json:"schedule"`
	Running    bool       `json:"running"`
	NextRun    *time.Time `json:"next_run,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	resp := statusResponse{
		CalendarID: s.cfg.Calendar.ID,
		Backend:    s.cfg.Calendar.Backend,
		Timezone:   s.cfg.Timezone,
		Schedule:   s.cfg.Schedule.Cron,
	}
	if s.runner != nil {
		resp.Running = s.runner.Running()
		if next := s.runner.Next(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRuns returns recent sync runs, newest first.
//
// GET /api/runs?limit=20
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 500 {
		limit = 20
	}

	runs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		appLog.Error("api runs: history query failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read run history")
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// periodsCache holds a cached /api/periods response and its timestamp.
type periodsCache struct {
	resp      periodsResponse
	updatedAt time.Time
}

// periodsResponse is the JSON response shape for /api/periods.
type periodsResponse struct {
	WindowStart time.Time   `json:"window_start"`
	WindowEnd   time.Time   `json:"window_end"`
	Samples     int         `json:"samples"`
	Periods     []periodDTO `json:"periods"`
}

// periodDTO is a JSON-friendly view of a summarized period.
type periodDTO struct {
	Level       string    `json:"level"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	PriceRange  string    `json:"price_range"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
}

// handlePeriods previews the events the next run would create.
//
// GET /api/periods?refresh=1
//   - refresh: bypass the 60s cache
func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	const periodsCacheTTL = 60 * time.Second
	refresh := r.URL.Query().Get("refresh") == "1"

	s.periodsMu.RLock()
	pc := s.periodsCache
	s.periodsMu.RUnlock()
	if !refresh && pc != nil && time.Since(pc.updatedAt) < periodsCacheTTL {
		writeJSON(w, http.StatusOK, pc.resp)
		return
	}

	p, err := s.preview.Preview(r.Context())
	if err != nil {
		appLog.Error("api periods: preview failed", err)
		writeError(w, http.StatusBadGateway, "failed to compute periods")
		return
	}

	loc := resolveLocationOrUTC(s.cfg.Timezone)
	resp := periodsResponse{
		WindowStart: p.WindowStart.In(loc),
		WindowEnd:   p.WindowEnd.In(loc),
		Samples:     p.Samples,
		Periods:     make([]periodDTO, 0, len(p.Periods)),
	}
	for _, sm := range p.Periods {
		resp.Periods = append(resp.Periods, periodDTO{
			Level:       sm.Period.Level.String(),
			Start:       sm.Period.Start.In(loc),
			End:         sm.Period.End.In(loc),
			PriceRange:  sm.PriceRange,
			Title:       sm.Title,
			Description: sm.Description,
		})
	}

	s.periodsMu.Lock()
	s.periodsCache = &periodsCache{resp: resp, updatedAt: time.Now()}
	s.periodsMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// handleRun starts a sync in the background.
//
// POST /api/run -> 202 Accepted, or 409 Conflict while a run is in progress.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	if s.runner.Running() {
		writeError(w, http.StatusConflict, "sync already running")
		return
	}

	go s.runner.Trigger()

	// Invalidate the preview so the next read reflects fresh feed data.
	s.periodsMu.Lock()
	s.periodsCache = nil
	s.periodsMu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
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

func resolveLocationOrUTC(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC
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
