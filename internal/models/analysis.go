package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// LongitudinalRecord is a backend-generated trend summary across a client's
// treatment history. Analysis and Record are opaque JSON objects; the console
// reads them field by field through Field.
type LongitudinalRecord struct {
	ID        string          `json:"id"`
	ClientID  string          `json:"clientId"`
	CreatedAt time.Time       `json:"createdAt"`
	Analysis  json.RawMessage `json:"analysis"`
	Record    json.RawMessage `json:"record"`
}

// Field returns a display string for key in the analysis object, falling back
// to the record object and finally to fallback. Arrays are joined with ", ".
func (l *LongitudinalRecord) Field(key, fallback string) string {
	for _, raw := range []json.RawMessage{l.Analysis, l.Record} {
		if v, ok := lookupField(raw, key); ok {
			return v
		}
	}
	return fallback
}

func lookupField(raw json.RawMessage, key string) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", false
	}
	v, ok := obj[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", false
		}
		return t, true
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, fmt.Sprint(item))
		}
		if len(parts) == 0 {
			return "", false
		}
		return strings.Join(parts, ", "), true
	case float64:
		return fmt.Sprintf("%g", t), true
	case bool:
		return fmt.Sprintf("%t", t), true
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// LongitudinalAnalysis is the structured output requested from the model when
// generating a longitudinal record.
type LongitudinalAnalysis struct {
	Summary         string   `json:"summary" jsonschema:"required,description=Two to four sentence overview of the treatment trajectory"`
	Trend           string   `json:"trend" jsonschema:"required,enum=improving,enum=stable,enum=declining,enum=mixed"`
	KeyThemes       []string `json:"key_themes" jsonschema:"required"`
	RiskTrajectory  string   `json:"risk_trajectory" jsonschema:"required"`
	Recommendations []string `json:"recommendations" jsonschema:"required"`
}

// AIResultKind names the type of stored AI output.
type AIResultKind string

const (
	AIResultLongitudinal AIResultKind = "longitudinal"
	AIResultNoteDraft    AIResultKind = "note-draft"
	AIResultNoteTags     AIResultKind = "note-tags"
)

// AIResult is a stored AI output for a client.
type AIResult struct {
	ID        string       `json:"id"`
	ClientID  string       `json:"clientId"`
	Kind      AIResultKind `json:"kind"`
	Summary   string       `json:"summary"`
	Model     string       `json:"model,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// AIHealth is returned by GET /api/ai/health.
type AIHealth struct {
	Available bool   `json:"available"`
	Model     string `json:"model,omitempty"`
}

// NoteDraftRequest is the body of POST /api/ai/draft-note.
type NoteDraftRequest struct {
	ClientID     string `json:"clientId"`
	SessionNotes string `json:"sessionNotes"`
}

// Validate performs validation on a NoteDraftRequest.
func (r *NoteDraftRequest) Validate() error {
	if r.ClientID == "" {
		return ErrEmptyClientID
	}
	if strings.TrimSpace(r.SessionNotes) == "" {
		return ErrEmptyNoteContent
	}
	return nil
}

// NoteDraft is a SOAP-structured progress note proposed by the model.
type NoteDraft struct {
	Subjective     string    `json:"subjective" jsonschema:"required"`
	Objective      string    `json:"objective" jsonschema:"required"`
	Assessment     string    `json:"assessment" jsonschema:"required"`
	Plan           string    `json:"plan" jsonschema:"required"`
	RiskLevel      RiskLevel `json:"risk_level" jsonschema:"required,enum=low,enum=moderate,enum=high,enum=critical"`
	ProgressRating int       `json:"progress_rating" jsonschema:"required,minimum=0,maximum=10"`
	Tags           []string  `json:"tags" jsonschema:"required"`
}

// Validate performs validation on a NoteDraft returned by the model.
func (d *NoteDraft) Validate() error {
	if !IsValidRiskLevel(d.RiskLevel) {
		return ErrInvalidRiskLevel
	}
	if d.ProgressRating < MinProgressRating || d.ProgressRating > MaxProgressRating {
		return ErrInvalidProgress
	}
	return nil
}

// Content renders the draft as SOAP note text.
func (d *NoteDraft) Content() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subjective: %s\n\n", strings.TrimSpace(d.Subjective))
	fmt.Fprintf(&b, "Objective: %s\n\n", strings.TrimSpace(d.Objective))
	fmt.Fprintf(&b, "Assessment: %s\n\n", strings.TrimSpace(d.Assessment))
	fmt.Fprintf(&b, "Plan: %s", strings.TrimSpace(d.Plan))
	return b.String()
}

// TimelineEntry is one session on the session timeline.
type TimelineEntry struct {
	Session
	HasNote bool `json:"hasNote"`
}
