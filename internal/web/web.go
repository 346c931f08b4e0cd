// Package web serves the CareDesk console: server-rendered pages that read
// from and write to the REST backend through apiclient.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/apiclient"
	"github.com/BTreeMap/CareDesk/internal/dropzone"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/oauthflow"
	"github.com/BTreeMap/CareDesk/internal/toast"
)

//go:embed templates/*.html static/*.css
var assets embed.FS

// Assets returns the embedded templates and stylesheets.
func Assets() fs.FS {
	return assets
}

// pageNames lists every page template; each is parsed with the layout.
var pageNames = []string{
	"dashboard", "clients", "client_detail", "progress_notes", "session_timeline",
	"calendar_sync", "ai_dashboard", "drop_zone", "interactive_notes", "not_found",
}

// NavItem is one entry of the console navigation.
type NavItem struct {
	Path  string
	Label string
}

// Nav lists the console routes in navigation order.
var Nav = []NavItem{
	{"/", "Dashboard"},
	{"/clients", "Clients"},
	{"/progress-notes", "Progress notes"},
	{"/interactive-notes", "Note creator"},
	{"/session-timeline", "Session timeline"},
	{"/calendar-sync", "Calendar sync"},
	{"/ai-dashboard", "AI dashboard"},
	{"/drop-zone", "Drop zone"},
}

// Opts holds configuration for the console server.
type Opts struct {
	ConsoleOrigin     string
	Clock             func() time.Time
	Location          *time.Location
	UploadConcurrency int
	MaxUploadBytes    int64
	PollInterval      time.Duration
	Opener            oauthflow.WindowOpener
}

// Option defines a configuration option for the console server.
type Option func(*Opts)

// WithConsoleOrigin sets the origin OAuth messages must come from.
func WithConsoleOrigin(origin string) Option {
	return func(o *Opts) { o.ConsoleOrigin = strings.TrimRight(origin, "/") }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Clock = now }
}

// WithLocation sets the time zone pages render in.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) { o.Location = loc }
}

// WithUploadConcurrency bounds simultaneous drop-zone uploads.
func WithUploadConcurrency(n int) Option {
	return func(o *Opts) { o.UploadConcurrency = n }
}

// WithMaxUploadBytes sets the per-file drop-zone limit.
func WithMaxUploadBytes(n int64) Option {
	return func(o *Opts) { o.MaxUploadBytes = n }
}

// WithPollInterval sets the handshake popup close-poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) { o.PollInterval = d }
}

// WithWindowOpener replaces the popup opener used by handshakes.
func WithWindowOpener(op oauthflow.WindowOpener) Option {
	return func(o *Opts) { o.Opener = op }
}

// Server renders the console pages.
type Server struct {
	api        *apiclient.Client
	toasts     *toast.Queue
	handshakes *oauthflow.Registry
	uploader   *dropzone.Uploader
	origin     string
	now        func() time.Time
	loc        *time.Location
	poll       time.Duration
	opener     oauthflow.WindowOpener
	pages      map[string]*template.Template
	mux        *http.ServeMux
}

// NewServer creates the console server on top of an API client.
func NewServer(client *apiclient.Client, opts ...Option) (*Server, error) {
	cfg := Opts{
		ConsoleOrigin:     "http://localhost:8080",
		Clock:             time.Now,
		Location:          time.Local,
		UploadConcurrency: dropzone.DefaultConcurrency,
		MaxUploadBytes:    models.MaxUploadBytes,
		PollInterval:      oauthflow.DefaultPollInterval,
		Opener:            oauthflow.RemoteOpener{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}

	s := &Server{
		api:        client,
		toasts:     toast.NewQueue(),
		handshakes: oauthflow.NewRegistry(),
		uploader:   dropzone.NewUploader(client,
			dropzone.WithConcurrency(cfg.UploadConcurrency),
			dropzone.WithMaxFileBytes(cfg.MaxUploadBytes),
		),
		origin:     cfg.ConsoleOrigin,
		now:        cfg.Clock,
		loc:        cfg.Location,
		poll:       cfg.PollInterval,
		opener:     cfg.Opener,
		pages:      pages,
		mux:        http.NewServeMux(),
	}
	s.routes()
	slog.Debug("web.NewServer: console ready", "origin", s.origin, "pages", len(pages))
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.dashboardPage)
	s.mux.HandleFunc("GET /clients", s.clientsPage)
	s.mux.HandleFunc("POST /clients", s.createClientAction)
	s.mux.HandleFunc("GET /clients/{id}", s.clientDetailPage)
	s.mux.HandleFunc("POST /clients/{id}/delete", s.deleteClientAction)
	s.mux.HandleFunc("POST /clients/{id}/longitudinal/generate", s.generateLongitudinalAction)
	s.mux.HandleFunc("GET /progress-notes", s.progressNotesPage)
	s.mux.HandleFunc("POST /progress-notes", s.createNoteAction)
	s.mux.HandleFunc("POST /progress-notes/{id}/delete", s.deleteNoteAction)
	s.mux.HandleFunc("POST /progress-notes/{id}/ai-tags", s.tagNoteAction)
	s.mux.HandleFunc("GET /interactive-notes", s.interactiveNotesPage)
	s.mux.HandleFunc("POST /interactive-notes/draft", s.draftNoteAction)
	s.mux.HandleFunc("POST /interactive-notes/save", s.saveDraftAction)
	s.mux.HandleFunc("GET /session-timeline", s.sessionTimelinePage)
	s.mux.HandleFunc("GET /calendar-sync", s.calendarSyncPage)
	s.mux.HandleFunc("POST /calendar-sync/sync", s.syncCalendarAction)
	s.mux.HandleFunc("POST /calendar-sync/handshakes", s.startHandshake)
	s.mux.HandleFunc("GET /calendar-sync/handshakes/{id}", s.handshakeStatus)
	s.mux.HandleFunc("POST /calendar-sync/handshakes/{id}/events", s.handshakeEvent)
	s.mux.HandleFunc("GET /ai-dashboard", s.aiDashboardPage)
	s.mux.HandleFunc("GET /drop-zone", s.dropZonePage)
	s.mux.HandleFunc("POST /drop-zone/upload", s.uploadAction)
	s.mux.HandleFunc("POST /drop-zone/drive/sync", s.syncDriveAction)
	s.mux.Handle("GET /static/", http.FileServerFS(assets))
	s.mux.HandleFunc("/", s.notFoundPage)
}

// Handler returns the console handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Toasts returns the queue drained by the next page render.
func (s *Server) Toasts() *toast.Queue {
	return s.toasts
}

var funcs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Jan 2, 2006")
	},
	"datetime": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("Mon Jan 2, 3:04 PM")
	},
	"riskBadge": func(r models.RiskLevel) models.Badge { return models.RiskBadge(r) },
	"join":      func(items []string) string { return strings.Join(items, ", ") },
	"percent":   func(f float64) string { return fmt.Sprintf("%.0f%%", f*100) },
	"weight": func(w *float64) string {
		if w == nil {
			return "1"
		}
		return fmt.Sprintf("%g", *w)
	},
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New("layout.html").Funcs(funcs).ParseFS(assets, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}

// page is what every template receives.
type page struct {
	Title  string
	Path   string
	Nav    []NavItem
	Toasts []toast.Toast
	Data   interface{}
	// PollMillis is the popup close-poll interval of the handshake script.
	PollMillis int64
}

// render executes a page template. Toasts queued by earlier mutations are
// shown together with any extra toasts of this render.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data interface{}, extra ...toast.Toast) {
	t, ok := s.pages[name]
	if !ok {
		slog.Error("Server.render: unknown page", "page", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	p := page{
		Title:      title,
		Path:       r.URL.Path,
		Nav:        Nav,
		Toasts:     append(s.toasts.Drain(), extra...),
		Data:       data,
		PollMillis: s.poll.Milliseconds(),
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, p); err != nil {
		slog.Error("Server.render: template failed", "page", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Debug("Server.render: write failed", "page", name, "error", err)
	}
}

// redirect sends the browser back to a page after a mutation.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, path string, t toast.Toast) {
	s.toasts.Push(t)
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// queryFailed is the toast shown when a panel could not load.
func queryFailed(panel string, err error) toast.Toast {
	slog.Warn("web: query failed", "panel", panel, "error", err)
	return toast.Failure("Could not load "+panel, err)
}

func (s *Server) notFoundPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusNotFound, "not_found", "Not found", nil)
}
