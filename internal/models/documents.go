package models

import "time"

// DocumentSource records how a document entered the practice.
type DocumentSource string

const (
	DocumentSourceDropZone DocumentSource = "drop-zone"
	DocumentSourceDrive    DocumentSource = "drive"
)

// Document is an uploaded clinical file. Content holds extracted text for
// text-like uploads and is empty for binary files.
type Document struct {
	ID          string         `json:"id"`
	ClientID    string         `json:"clientId,omitempty"`
	FileName    string         `json:"fileName"`
	ContentType string         `json:"contentType"`
	SizeBytes   int64          `json:"size"`
	Content     string         `json:"content,omitempty"`
	Source      DocumentSource `json:"source"`
	ExternalID  string         `json:"externalId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// SemanticEdge is one relationship between two terms extracted from a document.
type SemanticEdge struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Relation   string    `json:"relation"`
	Weight     *float64  `json:"weight,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Validate performs validation on a SemanticEdge.
func (e *SemanticEdge) Validate() error {
	if e.From == "" || e.To == "" {
		return ErrEmptyEdgeEndpoint
	}
	if e.Relation == "" {
		return ErrEmptyRelation
	}
	return nil
}

// MaxUploadBytes is the largest file the drop zone accepts.
const MaxUploadBytes = 20 << 20

// UploadResult describes the outcome of one drop-zone upload.
type UploadResult struct {
	FileName   string `json:"fileName"`
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	EdgeCount  int    `json:"edgeCount,omitempty"`
}

// DriveStatus describes the Google Drive connection.
type DriveStatus struct {
	Connected bool       `json:"connected"`
	Account   string     `json:"account,omitempty"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
}

// SyncResult summarises an import from an external integration.
type SyncResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// RecallRequest is the body of POST /api/semantic/recall.
type RecallRequest struct {
	Query    string `json:"query"`
	ClientID string `json:"clientId,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Validate performs validation on a RecallRequest.
func (r *RecallRequest) Validate() error {
	if r.Query == "" {
		return ErrEmptyQuery
	}
	return nil
}

// RecallHit is one ranked result of a semantic recall query.
type RecallHit struct {
	SourceType string  `json:"sourceType"` // "note" or "document"
	SourceID   string  `json:"sourceId"`
	ClientID   string  `json:"clientId,omitempty"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// IntegrationKind names an external OAuth integration.
type IntegrationKind string

const (
	IntegrationCalendar IntegrationKind = "calendar"
	IntegrationDrive    IntegrationKind = "drive"
)

// Integration is the stored connection to an external provider.
type Integration struct {
	Kind      IntegrationKind `json:"kind"`
	Account   string          `json:"account,omitempty"`
	TokenJSON string          `json:"-"`
	LastSync  *time.Time      `json:"lastSync,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// CalendarInfo is one calendar of the connected calendar account.
type CalendarInfo struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Primary  bool   `json:"primary,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// CalendarStatus describes the calendar connection.
type CalendarStatus struct {
	Connected bool       `json:"connected"`
	Account   string     `json:"account,omitempty"`
	LastSync  *time.Time `json:"lastSync,omitempty"`
}

// AuthURL is returned by the auth-url endpoints.
type AuthURL struct {
	URL   string `json:"authUrl"`
	State string `json:"state"`
}
