package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/CareDesk/internal/genai"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/semantic"
)

// noteDraftResponse is the result of POST /api/ai/draft-note.
type noteDraftResponse struct {
	models.NoteDraft
	Content string `json:"content"`
}

// aiHealthHandler handles GET /api/ai/health
func (s *Server) aiHealthHandler(w http.ResponseWriter, r *http.Request) {
	health := models.AIHealth{Available: s.gaClient != nil}
	if s.gaClient != nil {
		health.Model = s.gaClient.Model()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(health))
}

// aiResultsHandler handles GET /api/ai/results/{clientId}
func (s *Server) aiResultsHandler(w http.ResponseWriter, r *http.Request) {
	results, err := s.st.ListAIResults(r.Context(), r.PathValue("clientId"))
	if err != nil {
		writeStoreError(w, "Server.aiResultsHandler", err, "Client not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(results)))
}

// draftNoteHandler handles POST /api/ai/draft-note
func (s *Server) draftNoteHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAI(w, "Server.draftNoteHandler") {
		return
	}
	var req models.NoteDraftRequest
	if !decodeJSON(w, r, "Server.draftNoteHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.draftNoteHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	client, err := s.st.GetClient(r.Context(), req.ClientID)
	if err != nil {
		writeStoreError(w, "Server.draftNoteHandler", err, "Client not found")
		return
	}
	draft, err := genai.DraftNote(r.Context(), s.gaClient, client, req.SessionNotes)
	if err != nil {
		slog.Error("Server.draftNoteHandler: drafting failed", "client_id", req.ClientID, "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("Failed to draft progress note"))
		return
	}
	s.recordAIResult(r, models.AIResult{ClientID: client.ID, Kind: models.AIResultNoteDraft, Summary: draft.Assessment})
	slog.Info("Server.draftNoteHandler: note drafted", "client_id", client.ID, "risk", draft.RiskLevel)
	writeJSONResponse(w, http.StatusOK, models.Success(noteDraftResponse{NoteDraft: draft, Content: draft.Content()}))
}

// semanticGraphHandler handles GET /api/semantic/graph
func (s *Server) semanticGraphHandler(w http.ResponseWriter, r *http.Request) {
	edges, err := s.st.ListEdges(r.Context(), r.URL.Query().Get("documentId"))
	if err != nil {
		writeStoreError(w, "Server.semanticGraphHandler", err, "Document not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(edges)))
}

// semanticRecallHandler handles POST /api/semantic/recall
func (s *Server) semanticRecallHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RecallRequest
	if !decodeJSON(w, r, "Server.semanticRecallHandler", &req) {
		return
	}
	if err := req.Validate(); err != nil {
		slog.Warn("Server.semanticRecallHandler: validation failed", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	ctx := r.Context()
	notes, err := s.st.ListProgressNotes(ctx, req.ClientID)
	if err != nil {
		writeStoreError(w, "Server.semanticRecallHandler", err, "Client not found")
		return
	}
	docs, err := s.st.ListDocuments(ctx, req.ClientID)
	if err != nil {
		writeStoreError(w, "Server.semanticRecallHandler", err, "Client not found")
		return
	}

	corpus := make([]semantic.Doc, 0, len(notes)+len(docs))
	for _, n := range notes {
		corpus = append(corpus, semantic.Doc{
			SourceType: semantic.SourceNote,
			SourceID:   n.ID,
			ClientID:   n.ClientID,
			Title:      "Progress note " + n.SessionDate.Format("2006-01-02"),
			Text:       n.Content,
		})
	}
	for _, d := range docs {
		if d.Content == "" {
			continue
		}
		corpus = append(corpus, semantic.Doc{
			SourceType: semantic.SourceDocument,
			SourceID:   d.ID,
			ClientID:   d.ClientID,
			Title:      d.FileName,
			Text:       d.Content,
		})
	}
	hits := semantic.Recall(req.Query, corpus, req.Limit)
	slog.Debug("Server.semanticRecallHandler: recall complete", "corpus", len(corpus), "hits", len(hits))
	writeJSONResponse(w, http.StatusOK, models.Success(orEmpty(hits)))
}
