package genai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/openai/openai-go"
)

const longitudinalInstructions = `You are a clinical supervisor reviewing a therapy client's treatment history.
Summarise the trajectory across the progress notes and sessions provided.
Use only the information given. Do not diagnose. Be concise and clinically neutral.
Trend must be one of: improving, stable, declining, mixed.`

const noteTagInstructions = `You label therapy progress notes with short clinical topic tags.
Return between one and six lowercase tags of one to three words each (for example "sleep", "work stress", "panic").
Use only themes present in the note.`

const noteDraftSystemPrompt = `You are an assistant that turns a therapist's rough session notes into a SOAP progress note.
Respond with a single JSON object with the keys subjective, objective, assessment, plan, risk_level, progress_rating and tags.
risk_level is one of low, moderate, high, critical. progress_rating is an integer from 0 to 10.
tags is a list of short lowercase clinical topics. Do not invent facts that are not in the notes.`

// NoteTags is the structured answer for note tagging.
type NoteTags struct {
	Tags []string `json:"tags" jsonschema:"required"`
}

// maxHistoryNotes bounds how many notes are sent for a longitudinal analysis.
const maxHistoryNotes = 30

// AnalyzeLongitudinal summarises a client's treatment history.
func AnalyzeLongitudinal(ctx context.Context, c ClientInterface, client models.Client, notes []models.ProgressNote, sessions []models.Session) (models.LongitudinalAnalysis, error) {
	input := buildHistoryInput(client, notes, sessions)
	return GenerateStructured[models.LongitudinalAnalysis](ctx, c,
		"longitudinal_analysis",
		"Longitudinal treatment analysis JSON",
		longitudinalInstructions,
		input)
}

// TagNote proposes topic tags for a progress note.
func TagNote(ctx context.Context, c ClientInterface, note models.ProgressNote) ([]string, error) {
	out, err := GenerateStructured[NoteTags](ctx, c,
		"note_tags",
		"Progress note topic tags JSON",
		noteTagInstructions,
		note.Content)
	if err != nil {
		return nil, err
	}
	return normalizeTags(out.Tags), nil
}

// DraftNote turns rough session notes into a SOAP draft.
func DraftNote(ctx context.Context, c ClientInterface, client models.Client, sessionNotes string) (models.NoteDraft, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(noteDraftSystemPrompt),
		openai.UserMessage(fmt.Sprintf("Client: %s\n\nSession notes:\n%s", client.Name, strings.TrimSpace(sessionNotes))),
	}
	text, err := c.GenerateWithMessages(ctx, messages)
	if err != nil {
		return models.NoteDraft{}, err
	}
	var draft models.NoteDraft
	if err := DecodeModelJSON(text, &draft); err != nil {
		return models.NoteDraft{}, fmt.Errorf("decode note draft: %w", err)
	}
	draft.RiskLevel = models.RiskLevel(strings.ToLower(strings.TrimSpace(string(draft.RiskLevel))))
	if draft.RiskLevel == "" {
		draft.RiskLevel = models.RiskLow
	}
	draft.Tags = normalizeTags(draft.Tags)
	if err := draft.Validate(); err != nil {
		return models.NoteDraft{}, fmt.Errorf("invalid note draft: %w", err)
	}
	return draft, nil
}

func buildHistoryInput(client models.Client, notes []models.ProgressNote, sessions []models.Session) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Client: %s (status: %s)\n", client.Name, client.Status)
	if len(client.Tags) > 0 {
		fmt.Fprintf(&b, "Client tags: %s\n", strings.Join(client.Tags, ", "))
	}

	completed := 0
	missed := 0
	for _, s := range sessions {
		switch s.Status {
		case models.SessionStatusCompleted:
			completed++
		case models.SessionStatusNoShow, models.SessionStatusCancelled:
			missed++
		}
	}
	fmt.Fprintf(&b, "Sessions: %d total, %d completed, %d cancelled or missed\n\n", len(sessions), completed, missed)

	if len(notes) > maxHistoryNotes {
		notes = notes[:maxHistoryNotes]
	}
	b.WriteString("Progress notes (newest first):\n")
	for _, n := range notes {
		fmt.Fprintf(&b, "- %s | risk %s | progress %d/10", n.SessionDate.Format(time.DateOnly), n.RiskLevel, n.ProgressRating)
		if tags := append(append([]string{}, n.Tags...), n.AITags...); len(tags) > 0 {
			fmt.Fprintf(&b, " | tags %s", strings.Join(tags, ", "))
		}
		fmt.Fprintf(&b, "\n  %s\n", strings.TrimSpace(n.Content))
	}
	return b.String()
}

// normalizeTags lowercases, trims and de-duplicates tags, keeping order.
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == models.MaxTagCount {
			break
		}
	}
	return out
}
