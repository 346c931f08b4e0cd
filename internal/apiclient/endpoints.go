package apiclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/BTreeMap/CareDesk/internal/models"
)

// Query keys used by the console. {id} stands for a path parameter.
const (
	KeyClients             = "/api/clients"
	KeyClient              = "/api/clients/{id}"
	KeyLongitudinalLatest  = "/api/clients/{id}/longitudinal/latest"
	KeyLongitudinalHistory = "/api/clients/{id}/longitudinal/history"
	KeySessions            = "/api/sessions"
	KeyTimeline            = "/api/sessions/timeline"
	KeyProgressNotes       = "/api/progress-notes"
	KeyDocuments           = "/api/documents"
	KeyAIHealth            = "/api/ai/health"
	KeyAIResults           = "/api/ai/results/{id}"
	KeySemanticGraph       = "/api/semantic/graph"
	KeyCalendarStatus      = "/api/calendar/status"
	KeyCalendars           = "/api/calendar/calendars"
	KeyDriveStatus         = "/api/drive/status"
)

// QueryKeys lists every key pattern the console reads through the cache.
var QueryKeys = []string{
	KeyClients, KeyClient, KeyLongitudinalLatest, KeyLongitudinalHistory,
	KeySessions, KeyTimeline, KeyProgressNotes, KeyDocuments,
	KeyAIHealth, KeyAIResults, KeySemanticGraph,
	KeyCalendarStatus, KeyCalendars, KeyDriveStatus,
}

// NoteDraft is the answer of the note drafting endpoint.
type NoteDraft struct {
	models.NoteDraft
	Content string `json:"content"`
}

// ListClients returns every client of the practice.
func (c *Client) ListClients(ctx context.Context) ([]models.Client, error) {
	return getList[models.Client](ctx, c, KeyClients)
}

// GetClient returns one client.
func (c *Client) GetClient(ctx context.Context, id string) (models.Client, error) {
	if id == "" {
		return models.Client{}, models.ErrEmptyClientID
	}
	return getOne[models.Client](ctx, c, fill(KeyClient, id))
}

// CreateClient creates a client and invalidates the client list.
func (c *Client) CreateClient(ctx context.Context, in models.Client) (models.Client, error) {
	if in.Status == "" {
		in.Status = models.ClientStatusActive
	}
	if err := in.Validate(); err != nil {
		return models.Client{}, err
	}
	var out models.Client
	if err := c.sendJSON(ctx, http.MethodPost, KeyClients, in, &out); err != nil {
		return models.Client{}, err
	}
	c.cache.Invalidate(KeyClients)
	return out, validateOne(KeyClients, &out)
}

// DeleteClient deletes a client. The client list is invalidated exactly once
// and everything nested under the client is dropped.
func (c *Client) DeleteClient(ctx context.Context, id string) error {
	if id == "" {
		return models.ErrEmptyClientID
	}
	path := fill(KeyClient, id)
	if err := c.sendJSON(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return err
	}
	c.cache.Invalidate(KeyClients)
	c.cache.InvalidatePrefix(path)
	c.cache.InvalidatePrefix(KeySessions)
	c.cache.InvalidatePrefix(KeyProgressNotes)
	slog.Info("Client.DeleteClient: client deleted", "client_id", id)
	return nil
}

// LatestLongitudinal returns the newest longitudinal record of a client, or
// nil when none has been generated.
func (c *Client) LatestLongitudinal(ctx context.Context, clientID string) (*models.LongitudinalRecord, error) {
	if clientID == "" {
		return nil, models.ErrEmptyClientID
	}
	rec, err := getOne[models.LongitudinalRecord](ctx, c, fill(KeyLongitudinalLatest, clientID))
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LongitudinalHistory returns every longitudinal record of a client, newest first.
func (c *Client) LongitudinalHistory(ctx context.Context, clientID string) ([]models.LongitudinalRecord, error) {
	if clientID == "" {
		return nil, models.ErrEmptyClientID
	}
	return getList[models.LongitudinalRecord](ctx, c, fill(KeyLongitudinalHistory, clientID))
}

// GenerateLongitudinal asks the backend for a new analysis and invalidates
// that client's longitudinal and AI result keys.
func (c *Client) GenerateLongitudinal(ctx context.Context, clientID string) (models.LongitudinalRecord, error) {
	if clientID == "" {
		return models.LongitudinalRecord{}, models.ErrEmptyClientID
	}
	var out models.LongitudinalRecord
	if err := c.sendJSON(ctx, http.MethodPost, fill(KeyClient, clientID)+"/longitudinal/generate", nil, &out); err != nil {
		return models.LongitudinalRecord{}, err
	}
	c.cache.InvalidatePrefix(fill(KeyClient, clientID) + "/longitudinal")
	c.cache.Invalidate(fill(KeyAIResults, clientID))
	return out, nil
}

// ListSessions returns sessions, optionally for one client.
func (c *Client) ListSessions(ctx context.Context, clientID string) ([]models.Session, error) {
	return getList[models.Session](ctx, c, withQuery(KeySessions, "clientId", clientID))
}

// CreateSession schedules a session.
func (c *Client) CreateSession(ctx context.Context, in models.Session) (models.Session, error) {
	var out models.Session
	if err := c.sendJSON(ctx, http.MethodPost, KeySessions, in, &out); err != nil {
		return models.Session{}, err
	}
	c.cache.InvalidatePrefix(KeySessions)
	return out, validateOne(KeySessions, &out)
}

// Timeline returns the session timeline for a range.
func (c *Client) Timeline(ctx context.Context, rng string) ([]models.TimelineEntry, error) {
	return getList[models.TimelineEntry](ctx, c, withQuery(KeyTimeline, "range", rng))
}

// ListProgressNotes returns progress notes, optionally for one client.
func (c *Client) ListProgressNotes(ctx context.Context, clientID string) ([]models.ProgressNote, error) {
	return getList[models.ProgressNote](ctx, c, withQuery(KeyProgressNotes, "clientId", clientID))
}

// CreateProgressNote validates and stores a progress note.
func (c *Client) CreateProgressNote(ctx context.Context, in models.ProgressNote) (models.ProgressNote, error) {
	if in.Tags == nil {
		in.Tags = []string{}
	}
	if in.AITags == nil {
		in.AITags = []string{}
	}
	if err := in.Validate(); err != nil {
		return models.ProgressNote{}, err
	}
	var out models.ProgressNote
	if err := c.sendJSON(ctx, http.MethodPost, KeyProgressNotes, in, &out); err != nil {
		return models.ProgressNote{}, err
	}
	c.invalidateNotes()
	return out, validateOne(KeyProgressNotes, &out)
}

// DeleteProgressNote deletes a progress note.
func (c *Client) DeleteProgressNote(ctx context.Context, id string) error {
	if id == "" {
		return models.ErrEmptyID
	}
	if err := c.sendJSON(ctx, http.MethodDelete, KeyProgressNotes+"/"+id, nil, nil); err != nil {
		return err
	}
	c.invalidateNotes()
	return nil
}

// TagProgressNote asks the backend for AI tags on a note.
func (c *Client) TagProgressNote(ctx context.Context, id string) (models.ProgressNote, error) {
	if id == "" {
		return models.ProgressNote{}, models.ErrEmptyID
	}
	var out models.ProgressNote
	if err := c.sendJSON(ctx, http.MethodPost, KeyProgressNotes+"/"+id+"/ai-tags", nil, &out); err != nil {
		return models.ProgressNote{}, err
	}
	c.invalidateNotes()
	return out, validateOne(KeyProgressNotes, &out)
}

func (c *Client) invalidateNotes() {
	c.cache.InvalidatePrefix(KeyProgressNotes)
	c.cache.InvalidatePrefix(KeyTimeline)
}

// ListDocuments returns uploaded documents, optionally for one client.
func (c *Client) ListDocuments(ctx context.Context, clientID string) ([]models.Document, error) {
	return getList[models.Document](ctx, c, withQuery(KeyDocuments, "clientId", clientID))
}

// UploadDocument posts one file to the drop zone endpoint. The multipart
// body is streamed from r.
func (c *Client) UploadDocument(ctx context.Context, name string, r io.Reader, clientID string) (models.UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	done := make(chan struct{})
	go func() {
		defer close(done)
		pw.CloseWithError(writeUpload(mw, name, r, clientID))
	}()

	var out models.UploadResult
	err := c.do(ctx, http.MethodPost, KeyDocuments+"/drop-zone-upload", mw.FormDataContentType(), pr, &out)
	pr.Close()
	<-done
	if err != nil {
		return models.UploadResult{FileName: name, Success: false, Message: ErrorMessage(err)}, err
	}
	c.cache.InvalidatePrefix(KeyDocuments)
	c.cache.InvalidatePrefix(KeySemanticGraph)
	return out, nil
}

func writeUpload(mw *multipart.Writer, name string, r io.Reader, clientID string) error {
	if clientID != "" {
		if err := mw.WriteField("clientId", clientID); err != nil {
			return fmt.Errorf("write clientId: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(name))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}
	return nil
}

// AIHealth reports whether the AI service is available.
func (c *Client) AIHealth(ctx context.Context) (models.AIHealth, error) {
	return getOne[models.AIHealth](ctx, c, KeyAIHealth)
}

// AIResults returns the stored AI outputs for a client. A client is required.
func (c *Client) AIResults(ctx context.Context, clientID string) ([]models.AIResult, error) {
	if clientID == "" {
		return nil, models.ErrEmptyClientID
	}
	return getList[models.AIResult](ctx, c, fill(KeyAIResults, clientID))
}

// DraftNote asks the model for a SOAP draft from rough session notes.
func (c *Client) DraftNote(ctx context.Context, req models.NoteDraftRequest) (NoteDraft, error) {
	if err := req.Validate(); err != nil {
		return NoteDraft{}, err
	}
	var out NoteDraft
	if err := c.sendJSON(ctx, http.MethodPost, "/api/ai/draft-note", req, &out); err != nil {
		return NoteDraft{}, err
	}
	if err := out.NoteDraft.Validate(); err != nil {
		return NoteDraft{}, fmt.Errorf("%w: draft: %v", ErrInvalidResponse, err)
	}
	c.cache.Invalidate(fill(KeyAIResults, req.ClientID))
	return out, nil
}

// SemanticGraph returns relationship edges, optionally for one document.
func (c *Client) SemanticGraph(ctx context.Context, documentID string) ([]models.SemanticEdge, error) {
	return getList[models.SemanticEdge](ctx, c, withQuery(KeySemanticGraph, "documentId", documentID))
}

// Recall runs a semantic recall query. The query is required.
func (c *Client) Recall(ctx context.Context, req models.RecallRequest) ([]models.RecallHit, error) {
	req.Query = strings.TrimSpace(req.Query)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var out []models.RecallHit
	if err := c.sendJSON(ctx, http.MethodPost, "/api/semantic/recall", req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CalendarStatus reports the calendar connection.
func (c *Client) CalendarStatus(ctx context.Context) (models.CalendarStatus, error) {
	return getOne[models.CalendarStatus](ctx, c, KeyCalendarStatus)
}

// ListCalendars returns the calendars of the connected account.
func (c *Client) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	return getList[models.CalendarInfo](ctx, c, KeyCalendars)
}

// CalendarAuthURL requests a fresh consent URL. It is never cached.
func (c *Client) CalendarAuthURL(ctx context.Context) (models.AuthURL, error) {
	var out models.AuthURL
	err := c.sendJSON(ctx, http.MethodGet, "/api/calendar/auth-url", nil, &out)
	return out, err
}

// SyncCalendar imports upcoming events and invalidates calendar and session keys.
func (c *Client) SyncCalendar(ctx context.Context) (models.SyncResult, error) {
	var out models.SyncResult
	if err := c.sendJSON(ctx, http.MethodPost, "/api/calendar/sync", nil, &out); err != nil {
		return models.SyncResult{}, err
	}
	c.InvalidateCalendar()
	c.cache.InvalidatePrefix(KeySessions)
	return out, nil
}

// InvalidateCalendar drops every cached calendar query.
func (c *Client) InvalidateCalendar() {
	c.cache.InvalidatePrefix("/api/calendar")
}

// DriveStatus reports the Drive connection.
func (c *Client) DriveStatus(ctx context.Context) (models.DriveStatus, error) {
	return getOne[models.DriveStatus](ctx, c, KeyDriveStatus)
}

// DriveAuthURL requests a fresh Drive consent URL.
func (c *Client) DriveAuthURL(ctx context.Context) (models.AuthURL, error) {
	var out models.AuthURL
	err := c.sendJSON(ctx, http.MethodGet, "/api/drive/auth-url", nil, &out)
	return out, err
}

// SyncDrive imports recent Drive files and invalidates document keys.
func (c *Client) SyncDrive(ctx context.Context) (models.SyncResult, error) {
	var out models.SyncResult
	if err := c.sendJSON(ctx, http.MethodPost, "/api/drive/sync", nil, &out); err != nil {
		return models.SyncResult{}, err
	}
	c.InvalidateDrive()
	c.cache.InvalidatePrefix(KeyDocuments)
	c.cache.InvalidatePrefix(KeySemanticGraph)
	return out, nil
}

// InvalidateDrive drops every cached Drive query.
func (c *Client) InvalidateDrive() {
	c.cache.InvalidatePrefix("/api/drive")
}
