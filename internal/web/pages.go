package web

import (
	"net/http"

	"github.com/BTreeMap/CareDesk/internal/apiclient"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/timeline"
	"github.com/BTreeMap/CareDesk/internal/toast"
)

// riskLevels is the order risk levels are offered in forms.
var riskLevels = []models.RiskLevel{models.RiskLow, models.RiskModerate, models.RiskHigh, models.RiskCritical}

// dashboardPage handles GET /
func (s *Server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var failed []toast.Toast

	clients, err := s.api.ListClients(ctx)
	if err != nil {
		failed = append(failed, queryFailed("clients", err))
	}
	sessions, err := s.api.ListSessions(ctx, "")
	if err != nil {
		failed = append(failed, queryFailed("sessions", err))
	}
	notes, err := s.api.ListProgressNotes(ctx, "")
	if err != nil {
		failed = append(failed, queryFailed("progress notes", err))
	}

	view := BuildDashboard(clients, sessions, notes, s.now().In(s.loc))
	s.render(w, r, http.StatusOK, "dashboard", "Dashboard", view, failed...)
}

// clientsPage handles GET /clients
func (s *Server) clientsPage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	view := ClientsView{Query: q.Get("q"), Status: q.Get("status")}
	if view.Status == "" {
		view.Status = "all"
	}

	var failed []toast.Toast
	clients, err := s.api.ListClients(r.Context())
	if err != nil {
		failed = append(failed, queryFailed("clients", err))
	}
	view.Total = len(clients)
	view.Clients = FilterClients(clients, view.Query, view.Status)
	s.render(w, r, http.StatusOK, "clients", "Clients", view, failed...)
}

// clientDetailPage handles GET /clients/{id}
func (s *Server) clientDetailPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	client, err := s.api.GetClient(ctx, id)
	if err != nil {
		if apiclient.IsNotFound(err) {
			s.render(w, r, http.StatusNotFound, "not_found", "Client not found", nil)
			return
		}
		s.render(w, r, http.StatusBadGateway, "not_found", "Client unavailable", nil, queryFailed("client", err))
		return
	}

	view := ClientDetailView{Client: client}
	var failed []toast.Toast
	if view.Sessions, err = s.api.ListSessions(ctx, id); err != nil {
		failed = append(failed, queryFailed("sessions", err))
	}
	notes, err := s.api.ListProgressNotes(ctx, id)
	if err != nil {
		failed = append(failed, queryFailed("progress notes", err))
	}
	view.Notes = noteRows(notes, map[string]string{client.ID: client.Name})
	if view.Latest, err = s.api.LatestLongitudinal(ctx, id); err != nil {
		failed = append(failed, queryFailed("longitudinal analysis", err))
	}
	view.Fields = LongitudinalFields(view.Latest)
	if view.History, err = s.api.LongitudinalHistory(ctx, id); err != nil {
		failed = append(failed, queryFailed("analysis history", err))
	}
	if view.Results, err = s.api.AIResults(ctx, id); err != nil {
		failed = append(failed, queryFailed("AI results", err))
	}
	if health, err := s.api.AIHealth(ctx); err == nil {
		view.AIAvailable = health.Available
	}
	s.render(w, r, http.StatusOK, "client_detail", client.Name, view, failed...)
}

// progressNotesPage handles GET /progress-notes
func (s *Server) progressNotesPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := NotesView{ClientID: r.URL.Query().Get("clientId"), Risks: riskLevels}

	var failed []toast.Toast
	clients, err := s.api.ListClients(ctx)
	if err != nil {
		failed = append(failed, queryFailed("clients", err))
	}
	view.Clients = FilterClients(clients, "", "all")
	notes, err := s.api.ListProgressNotes(ctx, view.ClientID)
	if err != nil {
		failed = append(failed, queryFailed("progress notes", err))
	}
	view.Notes = noteRows(notes, clientNames(clients))
	s.render(w, r, http.StatusOK, "progress_notes", "Progress notes", view, failed...)
}

// interactiveNotesPage handles GET /interactive-notes
func (s *Server) interactiveNotesPage(w http.ResponseWriter, r *http.Request) {
	view, failed := s.interactiveView(r, r.URL.Query().Get("clientId"))
	s.render(w, r, http.StatusOK, "interactive_notes", "Note creator", view, failed...)
}

func (s *Server) interactiveView(r *http.Request, clientID string) (InteractiveView, []toast.Toast) {
	view := InteractiveView{ClientID: clientID}
	var failed []toast.Toast
	clients, err := s.api.ListClients(r.Context())
	if err != nil {
		failed = append(failed, queryFailed("clients", err))
	}
	view.Clients = FilterClients(clients, "", "all")
	for i := range view.Clients {
		if view.Clients[i].ID == clientID {
			view.Client = &view.Clients[i]
		}
	}
	return view, failed
}

// sessionTimelinePage handles GET /session-timeline
func (s *Server) sessionTimelinePage(w http.ResponseWriter, r *http.Request) {
	rng := timeline.ParseRange(r.URL.Query().Get("range"))

	var failed []toast.Toast
	entries, err := s.api.Timeline(r.Context(), string(rng))
	if err != nil {
		failed = append(failed, queryFailed("sessions", err))
	}
	view := BuildTimeline(entries, rng, s.now().In(s.loc))
	s.render(w, r, http.StatusOK, "session_timeline", "Session timeline", view, failed...)
}

// calendarSyncPage handles GET /calendar-sync
func (s *Server) calendarSyncPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var view CalendarView
	var failed []toast.Toast

	status, err := s.api.CalendarStatus(ctx)
	if err != nil {
		failed = append(failed, queryFailed("calendar status", err))
	}
	view.Status = status
	if status.Connected {
		if view.Calendars, err = s.api.ListCalendars(ctx); err != nil {
			failed = append(failed, queryFailed("calendars", err))
		}
	}
	s.render(w, r, http.StatusOK, "calendar_sync", "Calendar sync", view, failed...)
}

// aiDashboardPage handles GET /ai-dashboard
func (s *Server) aiDashboardPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	view := AIDashboardView{Query: q.Get("q"), DocumentID: q.Get("documentId"), ClientID: q.Get("clientId")}
	var failed []toast.Toast
	var err error

	if view.Health, err = s.api.AIHealth(ctx); err != nil {
		failed = append(failed, queryFailed("AI status", err))
	}
	clients, err := s.api.ListClients(ctx)
	if err != nil {
		failed = append(failed, queryFailed("clients", err))
	}
	view.Clients = FilterClients(clients, "", "all")
	if view.Documents, err = s.api.ListDocuments(ctx, ""); err != nil {
		failed = append(failed, queryFailed("documents", err))
	}
	if view.Edges, err = s.api.SemanticGraph(ctx, view.DocumentID); err != nil {
		failed = append(failed, queryFailed("semantic graph", err))
	}
	if view.ClientID != "" {
		if view.Results, err = s.api.AIResults(ctx, view.ClientID); err != nil {
			failed = append(failed, queryFailed("AI results", err))
		}
	}
	if _, present := q["q"]; present {
		view.Searched = true
		view.Hits, err = s.api.Recall(ctx, models.RecallRequest{Query: view.Query, ClientID: view.ClientID})
		if err != nil {
			failed = append(failed, toast.Failure("Recall failed", err))
		}
	}
	s.render(w, r, http.StatusOK, "ai_dashboard", "AI dashboard", view, failed...)
}

// dropZonePage handles GET /drop-zone
func (s *Server) dropZonePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view := DropZoneView{
		Uploading: s.uploader.State().Uploading(),
		Results:   s.uploader.State().Results(),
	}
	var failed []toast.Toast
	var err error

	if view.Documents, err = s.api.ListDocuments(ctx, ""); err != nil {
		failed = append(failed, queryFailed("documents", err))
	}
	clients, err := s.api.ListClients(ctx)
	if err != nil {
		failed = append(failed, queryFailed("clients", err))
	}
	view.Clients = FilterClients(clients, "", "all")
	if view.Drive, err = s.api.DriveStatus(ctx); err != nil {
		failed = append(failed, queryFailed("Drive status", err))
	}
	s.render(w, r, http.StatusOK, "drop_zone", "Drop zone", view, failed...)
}
