// Package api provides the REST backend for CareDesk.
//
// It exposes JSON endpoints under /api/ for clients, sessions, progress notes,
// documents, AI analysis, semantic search and the Google Calendar and Drive
// integrations. Every response is wrapped in models.APIResponse.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/genai"
	"github.com/BTreeMap/CareDesk/internal/integrations"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/store"
)

// DefaultAddr is the default listen address of the server.
const DefaultAddr = ":8080"

// DefaultConsoleOrigin is the origin OAuth callback pages post their result to.
const DefaultConsoleOrigin = "http://localhost:8080"

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	ConsoleOrigin string
	GenAI         genai.ClientInterface
	Calendar      *integrations.CalendarProvider
	Drive         *integrations.DriveProvider
	Clock         func() time.Time
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithConsoleOrigin sets the origin OAuth callback pages post messages to.
func WithConsoleOrigin(origin string) Option {
	return func(o *Opts) { o.ConsoleOrigin = strings.TrimRight(origin, "/") }
}

// WithGenAI enables the AI endpoints.
func WithGenAI(c genai.ClientInterface) Option {
	return func(o *Opts) { o.GenAI = c }
}

// WithCalendar sets the Google Calendar provider.
func WithCalendar(p *integrations.CalendarProvider) Option {
	return func(o *Opts) { o.Calendar = p }
}

// WithDrive sets the Google Drive provider.
func WithDrive(p *integrations.DriveProvider) Option {
	return func(o *Opts) { o.Drive = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// Server holds the dependencies of the REST handlers.
type Server struct {
	addr          string
	consoleOrigin string
	st            store.Store
	gaClient      genai.ClientInterface
	calendar      *integrations.CalendarProvider
	drive         *integrations.DriveProvider
	now           func() time.Time
	mux           *http.ServeMux
	routes        []route
}

type route struct {
	method  string
	pattern string
	handler http.HandlerFunc
}

// NewServer creates a server backed by st.
func NewServer(st store.Store, opts ...Option) *Server {
	cfg := Opts{
		Addr:          DefaultAddr,
		ConsoleOrigin: DefaultConsoleOrigin,
		Clock:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Calendar == nil {
		cfg.Calendar = integrations.NewCalendarProvider(st)
	}
	if cfg.Drive == nil {
		cfg.Drive = integrations.NewDriveProvider(st)
	}
	s := &Server{
		addr:          cfg.Addr,
		consoleOrigin: cfg.ConsoleOrigin,
		st:            st,
		gaClient:      cfg.GenAI,
		calendar:      cfg.Calendar,
		drive:         cfg.Drive,
		now:           cfg.Clock,
		mux:           http.NewServeMux(),
	}
	s.registerRoutes()
	slog.Debug("Server.NewServer: routes registered", "count", len(s.routes), "genai_set", s.gaClient != nil,
		"calendar_configured", s.calendar.Configured(), "drive_configured", s.drive.Configured())
	return s
}

func (s *Server) registerRoutes() {
	s.routes = []route{
		{http.MethodGet, "/api/health", s.healthHandler},

		{http.MethodGet, "/api/clients", s.listClientsHandler},
		{http.MethodPost, "/api/clients", s.createClientHandler},
		{http.MethodGet, "/api/clients/{id}", s.getClientHandler},
		{http.MethodPatch, "/api/clients/{id}", s.updateClientHandler},
		{http.MethodDelete, "/api/clients/{id}", s.deleteClientHandler},
		{http.MethodGet, "/api/clients/{id}/longitudinal/latest", s.latestLongitudinalHandler},
		{http.MethodGet, "/api/clients/{id}/longitudinal/history", s.longitudinalHistoryHandler},
		{http.MethodPost, "/api/clients/{id}/longitudinal/generate", s.generateLongitudinalHandler},

		{http.MethodGet, "/api/sessions", s.listSessionsHandler},
		{http.MethodPost, "/api/sessions", s.createSessionHandler},
		{http.MethodGet, "/api/sessions/timeline", s.sessionTimelineHandler},
		{http.MethodPatch, "/api/sessions/{id}", s.updateSessionHandler},

		{http.MethodGet, "/api/progress-notes", s.listProgressNotesHandler},
		{http.MethodPost, "/api/progress-notes", s.createProgressNoteHandler},
		{http.MethodGet, "/api/progress-notes/{id}", s.getProgressNoteHandler},
		{http.MethodPatch, "/api/progress-notes/{id}", s.updateProgressNoteHandler},
		{http.MethodDelete, "/api/progress-notes/{id}", s.deleteProgressNoteHandler},
		{http.MethodPost, "/api/progress-notes/{id}/ai-tags", s.tagProgressNoteHandler},

		{http.MethodGet, "/api/documents", s.listDocumentsHandler},
		{http.MethodPost, "/api/documents/drop-zone-upload", s.dropZoneUploadHandler},

		{http.MethodGet, "/api/ai/health", s.aiHealthHandler},
		{http.MethodGet, "/api/ai/results/{clientId}", s.aiResultsHandler},
		{http.MethodPost, "/api/ai/draft-note", s.draftNoteHandler},

		{http.MethodGet, "/api/semantic/graph", s.semanticGraphHandler},
		{http.MethodPost, "/api/semantic/recall", s.semanticRecallHandler},

		{http.MethodGet, "/api/calendar/status", s.calendarStatusHandler},
		{http.MethodGet, "/api/calendar/auth-url", s.calendarAuthURLHandler},
		{http.MethodGet, integrations.CalendarCallbackPath, s.calendarCallbackHandler},
		{http.MethodGet, "/api/calendar/calendars", s.listCalendarsHandler},
		{http.MethodPost, "/api/calendar/sync", s.calendarSyncHandler},

		{http.MethodGet, "/api/drive/status", s.driveStatusHandler},
		{http.MethodGet, "/api/drive/auth-url", s.driveAuthURLHandler},
		{http.MethodGet, integrations.DriveCallbackPath, s.driveCallbackHandler},
		{http.MethodPost, "/api/drive/sync", s.driveSyncHandler},
	}
	for _, rt := range s.routes {
		s.mux.HandleFunc(rt.method+" "+rt.pattern, rt.handler)
	}
	s.mux.HandleFunc("/api/", s.fallbackHandler)
}

// fallbackHandler answers paths no route matched with the JSON envelope,
// distinguishing a wrong method from an unknown path.
func (s *Server) fallbackHandler(w http.ResponseWriter, r *http.Request) {
	var allowed []string
	for _, rt := range s.routes {
		if MatchPath(rt.pattern, r.URL.Path) {
			allowed = append(allowed, rt.method)
		}
	}
	if len(allowed) > 0 {
		slog.Warn("Server: method not allowed", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Allow", strings.Join(allowed, ", "))
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	slog.Warn("Server: unknown endpoint", "method", r.Method, "path", r.URL.Path)
	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown API endpoint"))
}

// MatchPath reports whether path matches a route pattern such as
// /api/clients/{id}. Query strings in path are ignored.
func MatchPath(pattern, path string) bool {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	ps := strings.Split(strings.Trim(pattern, "/"), "/")
	xs := strings.Split(strings.Trim(path, "/"), "/")
	if len(ps) != len(xs) {
		return false
	}
	for i, seg := range ps {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if xs[i] == "" {
				return false
			}
			continue
		}
		if seg != xs[i] {
			return false
		}
	}
	return true
}

// Handler returns the HTTP handler serving every /api/ route.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Routes returns the registered route patterns, one per path, in
// registration order. Path parameters appear as {name}.
func (s *Server) Routes() []string {
	seen := make(map[string]bool, len(s.routes))
	out := make([]string, 0, len(s.routes))
	for _, rt := range s.routes {
		if seen[rt.pattern] {
			continue
		}
		seen[rt.pattern] = true
		out = append(out, rt.pattern)
	}
	return out
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ListenAndServe serves h on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, h http.Handler) error {
	if h == nil {
		h = s.Handler()
	}
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.ListenAndServe: listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Server.ListenAndServe: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
