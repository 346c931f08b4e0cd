package web

import (
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/timeline"
)

// Empty-state copy rendered when a list has no rows.
const (
	EmptyUpcoming     = "No upcoming sessions"
	EmptyRecentNotes  = "No progress notes yet"
	EmptyClients      = "No clients found"
	EmptyLongitudinal = "No longitudinal analysis yet"
	EmptyNotes        = "No progress notes found"
	EmptyTimeline     = "No sessions in this range"
	EmptyCalendars    = "No calendars available"
	EmptyGraph        = "No relationships extracted yet"
	EmptyUploads      = "No uploads yet"
	EmptyInteractive  = "Select a client to begin"
	EmptySessions     = "No sessions yet"
	EmptyResults      = "No AI results yet"
	EmptyDocuments    = "No documents uploaded"
	EmptyRecall       = "No matching notes or documents"
)

// Dashboard list sizes.
const (
	upcomingLimit    = 5
	recentNotesLimit = 5
)

// NoteRow is a progress note with its client name and risk badge.
type NoteRow struct {
	models.ProgressNote
	ClientName string
	Badge      models.Badge
}

// DashboardView is the data of the dashboard page.
type DashboardView struct {
	ActiveClients    int
	SessionsThisWeek int
	NotesThisMonth   int
	HighRiskNotes    int
	Upcoming         []models.Session
	RecentNotes      []NoteRow
}

// BuildDashboard computes the dashboard counts and lists. The week starts on
// Monday in now's location.
func BuildDashboard(clients []models.Client, sessions []models.Session, notes []models.ProgressNote, now time.Time) DashboardView {
	var v DashboardView
	names := clientNames(clients)
	for _, c := range clients {
		if c.Status == models.ClientStatusActive {
			v.ActiveClients++
		}
	}

	weekStart := startOfWeek(now)
	weekEnd := weekStart.AddDate(0, 0, 7)
	for _, s := range sessions {
		at := s.ScheduledAt.In(now.Location())
		if !at.Before(weekStart) && at.Before(weekEnd) && s.Status != models.SessionStatusCancelled {
			v.SessionsThisWeek++
		}
		if s.Status == models.SessionStatusScheduled && !s.ScheduledAt.Before(now) {
			if s.ClientName == "" {
				s.ClientName = names[s.ClientID]
			}
			v.Upcoming = append(v.Upcoming, s)
		}
	}
	sort.SliceStable(v.Upcoming, func(i, j int) bool { return v.Upcoming[i].ScheduledAt.Before(v.Upcoming[j].ScheduledAt) })
	if len(v.Upcoming) > upcomingLimit {
		v.Upcoming = v.Upcoming[:upcomingLimit]
	}

	y, m, _ := now.Date()
	for _, n := range notes {
		ny, nm, _ := n.SessionDate.In(now.Location()).Date()
		if ny == y && nm == m {
			v.NotesThisMonth++
		}
		if n.RiskLevel.IsElevated() {
			v.HighRiskNotes++
		}
	}
	v.RecentNotes = noteRows(notes, names)
	sort.SliceStable(v.RecentNotes, func(i, j int) bool {
		return v.RecentNotes[i].SessionDate.After(v.RecentNotes[j].SessionDate)
	})
	if len(v.RecentNotes) > recentNotesLimit {
		v.RecentNotes = v.RecentNotes[:recentNotesLimit]
	}
	return v
}

func startOfWeek(now time.Time) time.Time {
	y, m, d := now.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func clientNames(clients []models.Client) map[string]string {
	names := make(map[string]string, len(clients))
	for _, c := range clients {
		names[c.ID] = c.Name
	}
	return names
}

func noteRows(notes []models.ProgressNote, names map[string]string) []NoteRow {
	rows := make([]NoteRow, 0, len(notes))
	for _, n := range notes {
		rows = append(rows, NoteRow{ProgressNote: n, ClientName: names[n.ClientID], Badge: models.RiskBadge(n.RiskLevel)})
	}
	return rows
}

// ClientsView is the data of the client list page.
type ClientsView struct {
	Query   string
	Status  string
	Clients []models.Client
	Total   int
}

// FilterClients keeps clients whose name, email or tags contain q (case
// insensitive) and whose status matches status. An empty status or "all"
// keeps every status. The input is not modified.
func FilterClients(clients []models.Client, q, status string) []models.Client {
	q = strings.ToLower(strings.TrimSpace(q))
	out := make([]models.Client, 0, len(clients))
	for _, c := range clients {
		if status != "" && status != "all" && string(c.Status) != status {
			continue
		}
		if q != "" && !clientMatches(c, q) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

func clientMatches(c models.Client, q string) bool {
	if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Email), q) {
		return true
	}
	for _, t := range c.Tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}

// FieldRow is one labelled value of a longitudinal record.
type FieldRow struct {
	Label string
	Value string
}

// longitudinalFields lists the analysis and record keys shown on the client
// page, in display order.
var longitudinalFields = []struct{ key, label string }{
	{"summary", "Summary"},
	{"trend", "Trend"},
	{"key_themes", "Key themes"},
	{"risk_trajectory", "Risk trajectory"},
	{"recommendations", "Recommendations"},
	{"note_count", "Notes analysed"},
	{"session_count", "Sessions"},
	{"latest_risk", "Latest risk"},
	{"model", "Model"},
}

// NotAvailable is shown for a missing longitudinal field.
const NotAvailable = "Not available"

// LongitudinalFields renders a record field by field, using NotAvailable for
// anything the record does not carry.
func LongitudinalFields(rec *models.LongitudinalRecord) []FieldRow {
	if rec == nil {
		return nil
	}
	rows := make([]FieldRow, 0, len(longitudinalFields))
	for _, f := range longitudinalFields {
		rows = append(rows, FieldRow{Label: f.label, Value: rec.Field(f.key, NotAvailable)})
	}
	return rows
}

// ClientDetailView is the data of the client detail page.
type ClientDetailView struct {
	Client      models.Client
	Sessions    []models.Session
	Notes       []NoteRow
	Latest      *models.LongitudinalRecord
	Fields      []FieldRow
	History     []models.LongitudinalRecord
	Results     []models.AIResult
	AIAvailable bool
}

// NotesView is the data of the progress notes page.
type NotesView struct {
	ClientID string
	Clients  []models.Client
	Notes    []NoteRow
	Risks    []models.RiskLevel
}

// RangeOption is one entry of the timeline range select.
type RangeOption struct {
	Value    timeline.Range
	Label    string
	Selected bool
}

// TimelineRow is one session on the timeline page.
type TimelineRow struct {
	models.Session
	HasNote bool
}

// TimelineMonth is one month heading with its sessions.
type TimelineMonth struct {
	Label string
	Rows  []TimelineRow
}

// TimelineView is the data of the session timeline page.
type TimelineView struct {
	Range  timeline.Range
	Ranges []RangeOption
	Months []TimelineMonth
	Count  int
}

// BuildTimeline applies the range once more on the console side, so the
// cutoff holds whatever the backend returned, and groups rows by month.
func BuildTimeline(entries []models.TimelineEntry, r timeline.Range, now time.Time) TimelineView {
	v := TimelineView{Range: r}
	for _, opt := range timeline.Ranges {
		v.Ranges = append(v.Ranges, RangeOption{Value: opt, Label: opt.Label(), Selected: opt == r})
	}

	sessions := make([]models.Session, 0, len(entries))
	noted := make(map[string]bool, len(entries))
	for _, e := range entries {
		sessions = append(sessions, e.Session)
		noted[e.ID] = e.HasNote
	}
	filtered := timeline.Filter(sessions, r, now)
	for _, g := range timeline.GroupByMonth(filtered, now.Location()) {
		month := TimelineMonth{Label: g.Label}
		for _, s := range g.Sessions {
			month.Rows = append(month.Rows, TimelineRow{Session: s, HasNote: noted[s.ID]})
		}
		v.Months = append(v.Months, month)
	}
	v.Count = len(filtered)
	return v
}

// CalendarView is the data of the calendar sync page.
type CalendarView struct {
	Status    models.CalendarStatus
	Calendars []models.CalendarInfo
}

// AIDashboardView is the data of the AI dashboard page.
type AIDashboardView struct {
	Health     models.AIHealth
	Query      string
	Searched   bool
	Hits       []models.RecallHit
	DocumentID string
	Documents  []models.Document
	Edges      []models.SemanticEdge
	ClientID   string
	Clients    []models.Client
	Results    []models.AIResult
}

// DropZoneView is the data of the drop zone page.
type DropZoneView struct {
	Uploading []string
	Results   []models.UploadResult
	Documents []models.Document
	Clients   []models.Client
	Drive     models.DriveStatus
}

// InteractiveView is the data of the interactive note creator.
type InteractiveView struct {
	Clients      []models.Client
	ClientID     string
	Client       *models.Client
	SessionNotes string
	Draft        *DraftView
}

// DraftView is an AI draft ready to be saved as a progress note.
type DraftView struct {
	Content        string
	RiskLevel      models.RiskLevel
	ProgressRating int
	Tags           string
	Badge          models.Badge
}
