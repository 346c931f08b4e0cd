package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/timeline"
)

// Session defaults applied on create.
const (
	DefaultSessionType     = "individual"
	DefaultSessionDuration = 50
)

// sessionUpdate is the body of PATCH /api/sessions/{id}.
type sessionUpdate struct {
	Status      *models.SessionStatus `json:"status,omitempty"`
	ScheduledAt *time.Time            `json:"scheduledAt,omitempty"`
	Duration    *int                  `json:"duration,omitempty"`
	Notes       *string               `json:"notes,omitempty"`
}

// listSessionsHandler handles GET /api/sessions
func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := models.SessionFilter{ClientID: q.Get("clientId")}
	for _, p := range []struct {
		name string
		dst  *time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			slog.Warn("Server.listSessionsHandler: invalid time parameter", "param", p.name, "value", v)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid "+p.name+" parameter, expected RFC3339"))
			return
		}
		*p.dst = t
	}
	sessions, err := s.st.ListSessions(r.Context(), f)
	if err != nil {
		writeStoreError(w, "Server.listSessionsHandler", err, "Sessions not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(sessions)))
}

// createSessionHandler handles POST /api/sessions
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var sess models.Session
	if !decodeJSON(w, r, "Server.createSessionHandler", &sess) {
		return
	}
	sess.ID = ""
	if sess.Type == "" {
		sess.Type = DefaultSessionType
	}
	if sess.Status == "" {
		sess.Status = models.SessionStatusScheduled
	}
	if sess.DurationMinutes == 0 {
		sess.DurationMinutes = DefaultSessionDuration
	}
	if err := sess.Validate(); err != nil {
		slog.Warn("Server.createSessionHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if _, err := s.st.GetClient(r.Context(), sess.ClientID); err != nil {
		writeStoreError(w, "Server.createSessionHandler", err, "Client not found")
		return
	}
	created, err := s.st.AddSession(r.Context(), sess)
	if err != nil {
		writeStoreError(w, "Server.createSessionHandler", err, "Session not found")
		return
	}
	slog.Info("Server.createSessionHandler: session created", "session_id", created.ID, "client_id", created.ClientID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Session created", created))
}

// updateSessionHandler handles PATCH /api/sessions/{id}
func (s *Server) updateSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var upd sessionUpdate
	if !decodeJSON(w, r, "Server.updateSessionHandler", &upd) {
		return
	}
	sess, err := s.st.GetSession(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Server.updateSessionHandler", err, "Session not found")
		return
	}
	if upd.Status != nil {
		sess.Status = *upd.Status
	}
	if upd.ScheduledAt != nil {
		sess.ScheduledAt = upd.ScheduledAt.UTC()
	}
	if upd.Duration != nil {
		sess.DurationMinutes = *upd.Duration
	}
	if upd.Notes != nil {
		sess.Notes = *upd.Notes
	}
	if err := sess.Validate(); err != nil {
		slog.Warn("Server.updateSessionHandler: validation failed", "session_id", id, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.UpdateSession(r.Context(), sess); err != nil {
		writeStoreError(w, "Server.updateSessionHandler", err, "Session not found")
		return
	}
	slog.Info("Server.updateSessionHandler: session updated", "session_id", id, "status", sess.Status)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Session updated", sess))
}

// sessionTimelineHandler handles GET /api/sessions/timeline
func (s *Server) sessionTimelineHandler(w http.ResponseWriter, r *http.Request) {
	rng := timeline.ParseRange(r.URL.Query().Get("range"))
	ctx := r.Context()
	sessions, err := s.st.ListSessions(ctx, models.SessionFilter{ClientID: r.URL.Query().Get("clientId")})
	if err != nil {
		writeStoreError(w, "Server.sessionTimelineHandler", err, "Sessions not found")
		return
	}
	notes, err := s.st.ListProgressNotes(ctx, "")
	if err != nil {
		writeStoreError(w, "Server.sessionTimelineHandler", err, "Notes not found")
		return
	}
	clients, err := s.st.ListClients(ctx, "")
	if err != nil {
		writeStoreError(w, "Server.sessionTimelineHandler", err, "Clients not found")
		return
	}
	names := make(map[string]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}
	noted := make(map[string]bool, len(notes))
	for _, n := range notes {
		noted[n.ClientID+"|"+n.SessionDate.UTC().Format(time.DateOnly)] = true
	}

	filtered := timeline.Filter(sessions, rng, s.now())
	entries := make([]models.TimelineEntry, 0, len(filtered))
	for _, sess := range filtered {
		if sess.ClientName == "" {
			sess.ClientName = names[sess.ClientID]
		}
		entries = append(entries, models.TimelineEntry{
			Session: sess,
			HasNote: noted[sess.ClientID+"|"+sess.ScheduledAt.UTC().Format(time.DateOnly)],
		})
	}
	slog.Debug("Server.sessionTimelineHandler: timeline built", "range", rng, "count", len(entries))
	writeJSONResponse(w, http.StatusOK, models.Success(entries))
}
