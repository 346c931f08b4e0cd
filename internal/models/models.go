// Package models defines the core data structures for CareDesk.
//
// It includes the clinical DTOs shared by the backend API, the stores and the
// console, plus the JSON envelope every API response is wrapped in.
package models

import (
	"errors"
	"time"
)

// Validation constants for input validation
const (
	// MaxNameLength defines the maximum allowed length for a client name
	MaxNameLength = 200
	// MaxNoteContentLength defines the maximum allowed length for progress note content
	MaxNoteContentLength = 20000
	// MaxTagCount defines the maximum number of manual tags on a client or note
	MaxTagCount = 20
	// MinProgressRating is the lowest progress rating a note may carry
	MinProgressRating = 0
	// MaxProgressRating is the highest progress rating a note may carry
	MaxProgressRating = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptyClientName      = errors.New("client name cannot be empty")
	ErrClientNameTooLong    = errors.New("client name exceeds maximum length")
	ErrInvalidClientStatus  = errors.New("invalid client status")
	ErrTooManyTags          = errors.New("too many tags")
	ErrEmptyClientID        = errors.New("client id is required")
	ErrEmptyNoteContent     = errors.New("progress note content is required")
	ErrNoteContentTooLong   = errors.New("progress note content exceeds maximum length")
	ErrInvalidRiskLevel     = errors.New("invalid risk level")
	ErrInvalidProgress      = errors.New("progress rating must be between 0 and 10")
	ErrMissingSessionDate   = errors.New("session date is required")
	ErrMissingScheduledAt   = errors.New("scheduled time is required")
	ErrInvalidDuration      = errors.New("session duration must be positive")
	ErrInvalidSessionStatus = errors.New("invalid session status")
	ErrEmptyEdgeEndpoint    = errors.New("edge endpoints cannot be empty")
	ErrEmptyRelation        = errors.New("edge relation cannot be empty")
	ErrEmptyQuery           = errors.New("search query is required")
	ErrEmptyID              = errors.New("id is required")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// ClientStatus represents whether a client is currently in treatment.
type ClientStatus string

const (
	// ClientStatusActive indicates the client is in active treatment.
	ClientStatusActive ClientStatus = "active"
	// ClientStatusInactive indicates the client is discharged or paused.
	ClientStatusInactive ClientStatus = "inactive"
)

// IsValidClientStatus checks if the given client status is supported.
func IsValidClientStatus(s ClientStatus) bool {
	switch s {
	case ClientStatusActive, ClientStatusInactive:
		return true
	default:
		return false
	}
}

// Client is a person receiving care from a therapist in the practice.
type Client struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	TherapistID string       `json:"therapistId"`
	Email       string       `json:"email,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Status      ClientStatus `json:"status"`
	Tags        []string     `json:"tags,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Validate performs validation on a Client before it is stored or rendered.
func (c *Client) Validate() error {
	if c.Name == "" {
		return ErrEmptyClientName
	}
	if len(c.Name) > MaxNameLength {
		return ErrClientNameTooLong
	}
	if !IsValidClientStatus(c.Status) {
		return ErrInvalidClientStatus
	}
	if len(c.Tags) > MaxTagCount {
		return ErrTooManyTags
	}
	return nil
}

// ClientUpdate represents the payload for a partial client update.
type ClientUpdate struct {
	Name   *string       `json:"name,omitempty"`
	Email  *string       `json:"email,omitempty"`
	Phone  *string       `json:"phone,omitempty"`
	Status *ClientStatus `json:"status,omitempty"`
	Tags   *[]string     `json:"tags,omitempty"`
}

// Apply copies the set fields of the update onto c.
func (u ClientUpdate) Apply(c *Client) {
	if u.Name != nil {
		c.Name = *u.Name
	}
	if u.Email != nil {
		c.Email = *u.Email
	}
	if u.Phone != nil {
		c.Phone = *u.Phone
	}
	if u.Status != nil {
		c.Status = *u.Status
	}
	if u.Tags != nil {
		c.Tags = *u.Tags
	}
}

// SessionStatus represents the lifecycle state of an appointment.
type SessionStatus string

const (
	SessionStatusScheduled SessionStatus = "scheduled"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusNoShow    SessionStatus = "no-show"
)

// IsValidSessionStatus checks if the given session status is supported.
func IsValidSessionStatus(s SessionStatus) bool {
	switch s {
	case SessionStatusScheduled, SessionStatusCompleted, SessionStatusCancelled, SessionStatusNoShow:
		return true
	default:
		return false
	}
}

// Session is a single therapy appointment.
type Session struct {
	ID              string        `json:"id"`
	ClientID        string        `json:"clientId"`
	ClientName      string        `json:"clientName,omitempty"`
	ScheduledAt     time.Time     `json:"scheduledAt"`
	Type            string        `json:"type"`
	Status          SessionStatus `json:"status"`
	DurationMinutes int           `json:"duration"`
	Notes           string        `json:"notes,omitempty"`
	ExternalID      string        `json:"externalId,omitempty"`
}

// Validate performs validation on a Session.
func (s *Session) Validate() error {
	if s.ClientID == "" {
		return ErrEmptyClientID
	}
	if s.ScheduledAt.IsZero() {
		return ErrMissingScheduledAt
	}
	if s.DurationMinutes <= 0 {
		return ErrInvalidDuration
	}
	if !IsValidSessionStatus(s.Status) {
		return ErrInvalidSessionStatus
	}
	return nil
}

// SessionFilter narrows a session listing. Zero values mean unbounded.
type SessionFilter struct {
	ClientID string
	From     time.Time
	To       time.Time
}

// Matches reports whether the session falls inside the filter.
func (f SessionFilter) Matches(s Session) bool {
	if f.ClientID != "" && s.ClientID != f.ClientID {
		return false
	}
	if !f.From.IsZero() && s.ScheduledAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && s.ScheduledAt.After(f.To) {
		return false
	}
	return true
}

// RiskLevel is the clinician's assessment of client risk recorded on a note.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// IsValidRiskLevel checks if the given risk level is supported.
func IsValidRiskLevel(r RiskLevel) bool {
	switch r {
	case RiskLow, RiskModerate, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// IsElevated reports whether the risk level needs clinical follow-up.
func (r RiskLevel) IsElevated() bool {
	return r == RiskHigh || r == RiskCritical
}

// ProgressNote is a clinician's record of one session.
type ProgressNote struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId"`
	SessionDate    time.Time `json:"sessionDate"`
	Content        string    `json:"content"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	ProgressRating int       `json:"progressRating"`
	AITags         []string  `json:"aiTags"`
	Tags           []string  `json:"tags"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Validate performs validation on a ProgressNote.
func (n *ProgressNote) Validate() error {
	if n.ClientID == "" {
		return ErrEmptyClientID
	}
	if n.SessionDate.IsZero() {
		return ErrMissingSessionDate
	}
	if n.Content == "" {
		return ErrEmptyNoteContent
	}
	if len(n.Content) > MaxNoteContentLength {
		return ErrNoteContentTooLong
	}
	if !IsValidRiskLevel(n.RiskLevel) {
		return ErrInvalidRiskLevel
	}
	if n.ProgressRating < MinProgressRating || n.ProgressRating > MaxProgressRating {
		return ErrInvalidProgress
	}
	if len(n.Tags) > MaxTagCount {
		return ErrTooManyTags
	}
	return nil
}

// ProgressNoteUpdate represents the payload for PATCH /api/progress-notes/:id.
type ProgressNoteUpdate struct {
	Content        *string    `json:"content,omitempty"`
	RiskLevel      *RiskLevel `json:"riskLevel,omitempty"`
	ProgressRating *int       `json:"progressRating,omitempty"`
	Tags           *[]string  `json:"tags,omitempty"`
	AITags         *[]string  `json:"aiTags,omitempty"`
}

// Apply copies the set fields of the update onto n.
func (u ProgressNoteUpdate) Apply(n *ProgressNote) {
	if u.Content != nil {
		n.Content = *u.Content
	}
	if u.RiskLevel != nil {
		n.RiskLevel = *u.RiskLevel
	}
	if u.ProgressRating != nil {
		n.ProgressRating = *u.ProgressRating
	}
	if u.Tags != nil {
		n.Tags = *u.Tags
	}
	if u.AITags != nil {
		n.AITags = *u.AITags
	}
}
