package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/CareDesk/internal/genai"
	"github.com/BTreeMap/CareDesk/internal/models"
)

// listProgressNotesHandler handles GET /api/progress-notes
func (s *Server) listProgressNotesHandler(w http.ResponseWriter, r *http.Request) {
	notes, err := s.st.ListProgressNotes(r.Context(), r.URL.Query().Get("clientId"))
	if err != nil {
		writeStoreError(w, "Server.listProgressNotesHandler", err, "Progress notes not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(notes)))
}

// createProgressNoteHandler handles POST /api/progress-notes
func (s *Server) createProgressNoteHandler(w http.ResponseWriter, r *http.Request) {
	var n models.ProgressNote
	if !decodeJSON(w, r, "Server.createProgressNoteHandler", &n) {
		return
	}
	n.ID = ""
	n.CreatedAt = s.now().UTC()
	if n.Tags == nil {
		n.Tags = []string{}
	}
	if n.AITags == nil {
		n.AITags = []string{}
	}
	if err := n.Validate(); err != nil {
		slog.Warn("Server.createProgressNoteHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if _, err := s.st.GetClient(r.Context(), n.ClientID); err != nil {
		writeStoreError(w, "Server.createProgressNoteHandler", err, "Client not found")
		return
	}
	created, err := s.st.AddProgressNote(r.Context(), n)
	if err != nil {
		writeStoreError(w, "Server.createProgressNoteHandler", err, "Progress note not found")
		return
	}
	slog.Info("Server.createProgressNoteHandler: progress note created", "note_id", created.ID, "client_id", created.ClientID, "risk", created.RiskLevel)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Progress note created", created))
}

// getProgressNoteHandler handles GET /api/progress-notes/{id}
func (s *Server) getProgressNoteHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.st.GetProgressNote(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "Server.getProgressNoteHandler", err, "Progress note not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(n))
}

// updateProgressNoteHandler handles PATCH /api/progress-notes/{id}
func (s *Server) updateProgressNoteHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var upd models.ProgressNoteUpdate
	if !decodeJSON(w, r, "Server.updateProgressNoteHandler", &upd) {
		return
	}
	n, err := s.st.GetProgressNote(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Server.updateProgressNoteHandler", err, "Progress note not found")
		return
	}
	upd.Apply(&n)
	if err := n.Validate(); err != nil {
		slog.Warn("Server.updateProgressNoteHandler: validation failed", "note_id", id, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.UpdateProgressNote(r.Context(), n); err != nil {
		writeStoreError(w, "Server.updateProgressNoteHandler", err, "Progress note not found")
		return
	}
	slog.Info("Server.updateProgressNoteHandler: progress note updated", "note_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Progress note updated", n))
}

// deleteProgressNoteHandler handles DELETE /api/progress-notes/{id}
func (s *Server) deleteProgressNoteHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.st.DeleteProgressNote(r.Context(), id); err != nil {
		writeStoreError(w, "Server.deleteProgressNoteHandler", err, "Progress note not found")
		return
	}
	slog.Info("Server.deleteProgressNoteHandler: progress note deleted", "note_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Progress note deleted", nil))
}

// tagProgressNoteHandler handles POST /api/progress-notes/{id}/ai-tags
func (s *Server) tagProgressNoteHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAI(w, "Server.tagProgressNoteHandler") {
		return
	}
	id := r.PathValue("id")
	n, err := s.st.GetProgressNote(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Server.tagProgressNoteHandler", err, "Progress note not found")
		return
	}
	tags, err := genai.TagNote(r.Context(), s.gaClient, n)
	if err != nil {
		slog.Error("Server.tagProgressNoteHandler: tagging failed", "note_id", id, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to generate note tags"))
		return
	}
	n.AITags = tags
	if err := s.st.UpdateProgressNote(r.Context(), n); err != nil {
		writeStoreError(w, "Server.tagProgressNoteHandler", err, "Progress note not found")
		return
	}
	s.recordAIResult(r, models.AIResult{ClientID: n.ClientID, Kind: models.AIResultNoteTags, Summary: strings.Join(tags, ", ")})
	slog.Info("Server.tagProgressNoteHandler: note tagged", "note_id", id, "tag_count", len(tags))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Progress note tagged", n))
}
