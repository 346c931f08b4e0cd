package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CareDesk/internal/genai"
	"github.com/BTreeMap/CareDesk/internal/models"
)

// listClientsHandler handles GET /api/clients
func (s *Server) listClientsHandler(w http.ResponseWriter, r *http.Request) {
	therapistID := r.URL.Query().Get("therapistId")
	slog.Debug("Server.listClientsHandler: listing clients", "therapist_id", therapistID)
	clients, err := s.st.ListClients(r.Context(), therapistID)
	if err != nil {
		writeStoreError(w, "Server.listClientsHandler", err, "Clients not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(clients)))
}

// createClientHandler handles POST /api/clients
func (s *Server) createClientHandler(w http.ResponseWriter, r *http.Request) {
	var c models.Client
	if !decodeJSON(w, r, "Server.createClientHandler", &c) {
		return
	}
	c.ID = ""
	if c.Status == "" {
		c.Status = models.ClientStatusActive
	}
	if err := c.Validate(); err != nil {
		slog.Warn("Server.createClientHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	created, err := s.st.AddClient(r.Context(), c)
	if err != nil {
		writeStoreError(w, "Server.createClientHandler", err, "Client not found")
		return
	}
	slog.Info("Server.createClientHandler: client created", "client_id", created.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Client created", created))
}

// getClientHandler handles GET /api/clients/{id}
func (s *Server) getClientHandler(w http.ResponseWriter, r *http.Request) {
	c, err := s.st.GetClient(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "Server.getClientHandler", err, "Client not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(c))
}

// updateClientHandler handles PATCH /api/clients/{id}
func (s *Server) updateClientHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var upd models.ClientUpdate
	if !decodeJSON(w, r, "Server.updateClientHandler", &upd) {
		return
	}
	c, err := s.st.GetClient(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Server.updateClientHandler", err, "Client not found")
		return
	}
	upd.Apply(&c)
	if err := c.Validate(); err != nil {
		slog.Warn("Server.updateClientHandler: validation failed", "client_id", id, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if err := s.st.UpdateClient(r.Context(), c); err != nil {
		writeStoreError(w, "Server.updateClientHandler", err, "Client not found")
		return
	}
	updated, err := s.st.GetClient(r.Context(), id)
	if err != nil {
		writeStoreError(w, "Server.updateClientHandler", err, "Client not found")
		return
	}
	slog.Info("Server.updateClientHandler: client updated", "client_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Client updated", updated))
}

// deleteClientHandler handles DELETE /api/clients/{id}
func (s *Server) deleteClientHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.st.DeleteClient(r.Context(), id); err != nil {
		writeStoreError(w, "Server.deleteClientHandler", err, "Client not found")
		return
	}
	slog.Info("Server.deleteClientHandler: client deleted", "client_id", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Client deleted", nil))
}

// latestLongitudinalHandler handles GET /api/clients/{id}/longitudinal/latest
func (s *Server) latestLongitudinalHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := s.st.LatestLongitudinal(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "Server.latestLongitudinalHandler", err, "No longitudinal analysis found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// longitudinalHistoryHandler handles GET /api/clients/{id}/longitudinal/history
func (s *Server) longitudinalHistoryHandler(w http.ResponseWriter, r *http.Request) {
	recs, err := s.st.LongitudinalHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, "Server.longitudinalHistoryHandler", err, "Client not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(recs)))
}

// generateLongitudinalHandler handles POST /api/clients/{id}/longitudinal/generate
func (s *Server) generateLongitudinalHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAI(w, "Server.generateLongitudinalHandler") {
		return
	}
	ctx := r.Context()
	id := r.PathValue("id")
	client, err := s.st.GetClient(ctx, id)
	if err != nil {
		writeStoreError(w, "Server.generateLongitudinalHandler", err, "Client not found")
		return
	}
	notes, err := s.st.ListProgressNotes(ctx, id)
	if err != nil {
		writeStoreError(w, "Server.generateLongitudinalHandler", err, "Client not found")
		return
	}
	if len(notes) == 0 {
		slog.Warn("Server.generateLongitudinalHandler: client has no progress notes", "client_id", id)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Client has no progress notes to analyze"))
		return
	}
	sessions, err := s.st.ListSessions(ctx, models.SessionFilter{ClientID: id})
	if err != nil {
		writeStoreError(w, "Server.generateLongitudinalHandler", err, "Client not found")
		return
	}

	analysis, err := genai.AnalyzeLongitudinal(ctx, s.gaClient, client, notes, sessions)
	if err != nil {
		slog.Error("Server.generateLongitudinalHandler: analysis failed", "client_id", id, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to generate longitudinal analysis"))
		return
	}

	now := s.now().UTC()
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		slog.Error("Server.generateLongitudinalHandler: failed to marshal analysis", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}
	recordJSON, err := json.Marshal(map[string]interface{}{
		"note_count":    len(notes),
		"session_count": len(sessions),
		"model":         s.gaClient.Model(),
		"generated_at":  now.Format(time.RFC3339),
		"latest_risk":   string(notes[0].RiskLevel),
	})
	if err != nil {
		slog.Error("Server.generateLongitudinalHandler: failed to marshal record", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
		return
	}

	rec, err := s.st.AddLongitudinalRecord(ctx, models.LongitudinalRecord{
		ClientID:  id,
		CreatedAt: now,
		Analysis:  analysisJSON,
		Record:    recordJSON,
	})
	if err != nil {
		writeStoreError(w, "Server.generateLongitudinalHandler", err, "Client not found")
		return
	}
	s.recordAIResult(r, models.AIResult{ClientID: id, Kind: models.AIResultLongitudinal, Summary: analysis.Summary})

	slog.Info("Server.generateLongitudinalHandler: longitudinal record created", "client_id", id, "record_id", rec.ID)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Longitudinal analysis generated", rec))
}

// recordAIResult stores an AI output for the AI dashboard. Failures are
// logged and do not fail the request.
func (s *Server) recordAIResult(r *http.Request, res models.AIResult) {
	res.CreatedAt = s.now().UTC()
	if s.gaClient != nil {
		res.Model = s.gaClient.Model()
	}
	if _, err := s.st.AddAIResult(r.Context(), res); err != nil {
		slog.Warn("Server.recordAIResult: failed to store AI result", "client_id", res.ClientID, "kind", res.Kind, "error", err)
	}
}

// requireAI writes 503 and returns false when no AI client is configured.
func (s *Server) requireAI(w http.ResponseWriter, op string) bool {
	if s.gaClient == nil {
		slog.Warn(op + ": AI service not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("AI service not configured"))
		return false
	}
	return true
}
