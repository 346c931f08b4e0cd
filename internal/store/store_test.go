package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
)

// storeFactories returns the backends exercised by the conformance suite.
func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewInMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "caredesk.db")))
			if err != nil {
				t.Fatalf("NewSQLiteStore: %v", err)
			}
			return s
		},
		"postgres": func(t *testing.T) Store {
			dsn := getenvOrSkip(t, "CAREDESK_TEST_POSTGRES_DSN")
			s, err := NewPostgresStore(WithPostgresDSN(dsn))
			if err != nil {
				t.Skipf("Postgres not available: %v", err)
			}
			for _, table := range []string{"session_reminders", "sessions", "progress_notes", "documents", "semantic_edges", "longitudinal_records", "ai_results", "integrations", "clients"} {
				s.db.Exec("DELETE FROM " + table)
			}
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			defer s.Close()
			fn(t, s)
		})
	}
}

func TestClientLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, err := s.AddClient(ctx, models.Client{Name: "Jordan Reyes", TherapistID: "t1", Status: models.ClientStatusActive, Tags: []string{"anxiety"}})
		if err != nil {
			t.Fatalf("AddClient: %v", err)
		}
		if c.ID == "" {
			t.Fatal("expected generated id")
		}
		if _, err := s.AddClient(ctx, models.Client{Name: "Avery Lin", TherapistID: "t2", Status: models.ClientStatusActive}); err != nil {
			t.Fatalf("AddClient: %v", err)
		}

		got, err := s.GetClient(ctx, c.ID)
		if err != nil {
			t.Fatalf("GetClient: %v", err)
		}
		if got.Name != "Jordan Reyes" || len(got.Tags) != 1 || got.Tags[0] != "anxiety" {
			t.Errorf("unexpected client: %+v", got)
		}

		all, err := s.ListClients(ctx, "")
		if err != nil {
			t.Fatalf("ListClients: %v", err)
		}
		if len(all) != 2 || all[0].Name != "Avery Lin" {
			t.Errorf("expected two clients sorted by name, got %+v", all)
		}
		mine, _ := s.ListClients(ctx, "t1")
		if len(mine) != 1 || mine[0].ID != c.ID {
			t.Errorf("expected therapist filter to return one client, got %+v", mine)
		}

		got.Status = models.ClientStatusInactive
		if err := s.UpdateClient(ctx, got); err != nil {
			t.Fatalf("UpdateClient: %v", err)
		}
		got, _ = s.GetClient(ctx, c.ID)
		if got.Status != models.ClientStatusInactive {
			t.Errorf("expected inactive, got %s", got.Status)
		}

		if err := s.UpdateClient(ctx, models.Client{ID: "missing", Name: "x", Status: models.ClientStatusActive}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on update of missing client, got %v", err)
		}
		if _, err := s.GetClient(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestDeleteClientCascades(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.AddClient(ctx, models.Client{Name: "Sam", Status: models.ClientStatusActive})
		sess, err := s.AddSession(ctx, models.Session{ClientID: c.ID, ScheduledAt: time.Now().Add(time.Hour), Type: "individual", Status: models.SessionStatusScheduled, DurationMinutes: 50})
		if err != nil {
			t.Fatalf("AddSession: %v", err)
		}
		if _, err := s.AddProgressNote(ctx, models.ProgressNote{ClientID: c.ID, SessionDate: time.Now(), Content: "note", RiskLevel: models.RiskLow}); err != nil {
			t.Fatalf("AddProgressNote: %v", err)
		}
		if err := s.MarkReminderSent(ctx, sess.ID, time.Now()); err != nil {
			t.Fatalf("MarkReminderSent: %v", err)
		}

		if err := s.DeleteClient(ctx, c.ID); err != nil {
			t.Fatalf("DeleteClient: %v", err)
		}
		if sessions, _ := s.ListSessions(ctx, models.SessionFilter{ClientID: c.ID}); len(sessions) != 0 {
			t.Errorf("expected sessions removed, got %d", len(sessions))
		}
		if notes, _ := s.ListProgressNotes(ctx, c.ID); len(notes) != 0 {
			t.Errorf("expected notes removed, got %d", len(notes))
		}
		if sent, _ := s.ReminderSent(ctx, sess.ID); sent {
			t.Error("expected reminder marker removed")
		}
		if err := s.DeleteClient(ctx, c.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound on second delete, got %v", err)
		}
	})
}

func TestSessionsFilterAndExternalID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		c, _ := s.AddClient(ctx, models.Client{Name: "Riley", Status: models.ClientStatusActive})
		base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
		for i := 0; i < 3; i++ {
			_, err := s.AddSession(ctx, models.Session{
				ClientID:        c.ID,
				ScheduledAt:     base.AddDate(0, 0, 7*(2-i)),
				Type:            "individual",
				Status:          models.SessionStatusScheduled,
				DurationMinutes: 50,
			})
			if err != nil {
				t.Fatalf("AddSession: %v", err)
			}
		}
		all, err := s.ListSessions(ctx, models.SessionFilter{})
		if err != nil {
			t.Fatalf("ListSessions: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected 3 sessions, got %d", len(all))
		}
		for i := 1; i < len(all); i++ {
			if all[i].ScheduledAt.Before(all[i-1].ScheduledAt) {
				t.Error("sessions not sorted by scheduled time")
			}
		}
		if all[0].ClientName != "Riley" {
			t.Errorf("expected client name to be joined, got %q", all[0].ClientName)
		}

		ranged, _ := s.ListSessions(ctx, models.SessionFilter{From: base.AddDate(0, 0, 1), To: base.AddDate(0, 0, 14)})
		if len(ranged) != 2 {
			t.Errorf("expected 2 sessions in range, got %d", len(ranged))
		}

		ext := models.Session{ClientID: c.ID, ScheduledAt: base, Status: models.SessionStatusScheduled, DurationMinutes: 50, ExternalID: "gcal-1"}
		if _, err := s.AddSession(ctx, ext); err != nil {
			t.Fatalf("AddSession external: %v", err)
		}
		if _, err := s.AddSession(ctx, ext); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict for duplicate external id, got %v", err)
		}
	})
}

func TestProgressNotesOrderingAndUpdate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
		older, _ := s.AddProgressNote(ctx, models.ProgressNote{ClientID: "c1", SessionDate: day, Content: "first", RiskLevel: models.RiskLow, ProgressRating: 4})
		newer, _ := s.AddProgressNote(ctx, models.ProgressNote{ClientID: "c1", SessionDate: day.AddDate(0, 0, 7), Content: "second", RiskLevel: models.RiskHigh, ProgressRating: 6, Tags: []string{"sleep"}})
		if _, err := s.AddProgressNote(ctx, models.ProgressNote{ClientID: "c2", SessionDate: day, Content: "other", RiskLevel: models.RiskLow}); err != nil {
			t.Fatalf("AddProgressNote: %v", err)
		}

		notes, err := s.ListProgressNotes(ctx, "c1")
		if err != nil {
			t.Fatalf("ListProgressNotes: %v", err)
		}
		if len(notes) != 2 || notes[0].ID != newer.ID || notes[1].ID != older.ID {
			t.Fatalf("expected newest first, got %+v", notes)
		}

		notes[0].AITags = []string{"insomnia"}
		notes[0].Content = "second, revised"
		if err := s.UpdateProgressNote(ctx, notes[0]); err != nil {
			t.Fatalf("UpdateProgressNote: %v", err)
		}
		got, _ := s.GetProgressNote(ctx, newer.ID)
		if got.Content != "second, revised" || len(got.AITags) != 1 || got.AITags[0] != "insomnia" {
			t.Errorf("update not persisted: %+v", got)
		}

		if err := s.DeleteProgressNote(ctx, older.ID); err != nil {
			t.Fatalf("DeleteProgressNote: %v", err)
		}
		if _, err := s.GetProgressNote(ctx, older.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
	})
}

func TestDocumentsAndEdges(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		doc, err := s.AddDocument(ctx, models.Document{FileName: "intake.txt", ContentType: "text/plain", SizeBytes: 12, Content: "sleep stress", Source: models.DocumentSourceDropZone})
		if err != nil {
			t.Fatalf("AddDocument: %v", err)
		}
		w := 0.5
		edges := []models.SemanticEdge{
			{DocumentID: doc.ID, From: "sleep", To: "stress", Relation: "co_occurs", Weight: &w},
			{DocumentID: doc.ID, From: "stress", To: "work", Relation: "co_occurs"},
		}
		if err := s.AddEdges(ctx, edges); err != nil {
			t.Fatalf("AddEdges: %v", err)
		}
		got, err := s.ListEdges(ctx, doc.ID)
		if err != nil {
			t.Fatalf("ListEdges: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 edges, got %d", len(got))
		}
		weighted := 0
		for _, e := range got {
			if e.ID == "" {
				t.Error("expected edge id to be generated")
			}
			if e.Weight != nil {
				weighted++
			}
		}
		if weighted != 1 {
			t.Errorf("expected exactly one weighted edge, got %d", weighted)
		}

		drive := models.Document{FileName: "plan.txt", Source: models.DocumentSourceDrive, ExternalID: "drive-1"}
		if _, err := s.AddDocument(ctx, drive); err != nil {
			t.Fatalf("AddDocument drive: %v", err)
		}
		if _, err := s.AddDocument(ctx, drive); !errors.Is(err, ErrConflict) {
			t.Errorf("expected ErrConflict for duplicate drive file, got %v", err)
		}
		docs, _ := s.ListDocuments(ctx, "")
		if len(docs) != 2 {
			t.Errorf("expected 2 documents, got %d", len(docs))
		}
	})
}

func TestLongitudinalHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.LatestLongitudinal(ctx, "c1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for empty history, got %v", err)
		}
		first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		if _, err := s.AddLongitudinalRecord(ctx, models.LongitudinalRecord{ClientID: "c1", CreatedAt: first, Analysis: json.RawMessage(`{"trend":"stable"}`)}); err != nil {
			t.Fatalf("AddLongitudinalRecord: %v", err)
		}
		if _, err := s.AddLongitudinalRecord(ctx, models.LongitudinalRecord{ClientID: "c1", CreatedAt: first.AddDate(0, 1, 0), Analysis: json.RawMessage(`{"trend":"improving"}`)}); err != nil {
			t.Fatalf("AddLongitudinalRecord: %v", err)
		}
		latest, err := s.LatestLongitudinal(ctx, "c1")
		if err != nil {
			t.Fatalf("LatestLongitudinal: %v", err)
		}
		if got := latest.Field("trend", ""); got != "improving" {
			t.Errorf("expected latest trend improving, got %q", got)
		}
		history, _ := s.LongitudinalHistory(ctx, "c1")
		if len(history) != 2 {
			t.Errorf("expected 2 records, got %d", len(history))
		}
	})
}

func TestIntegrationsAndReminders(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.GetIntegration(ctx, models.IntegrationCalendar); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := s.SaveIntegration(ctx, models.Integration{Kind: models.IntegrationCalendar, Account: "a@example.com", TokenJSON: `{"access_token":"x"}`}); err != nil {
			t.Fatalf("SaveIntegration: %v", err)
		}
		now := time.Now().UTC().Truncate(time.Second)
		if err := s.SaveIntegration(ctx, models.Integration{Kind: models.IntegrationCalendar, Account: "b@example.com", TokenJSON: `{"access_token":"y"}`, LastSync: &now}); err != nil {
			t.Fatalf("SaveIntegration upsert: %v", err)
		}
		got, err := s.GetIntegration(ctx, models.IntegrationCalendar)
		if err != nil {
			t.Fatalf("GetIntegration: %v", err)
		}
		if got.Account != "b@example.com" || got.LastSync == nil {
			t.Errorf("upsert not applied: %+v", got)
		}
		if err := s.DeleteIntegration(ctx, models.IntegrationCalendar); err != nil {
			t.Fatalf("DeleteIntegration: %v", err)
		}
		if _, err := s.GetIntegration(ctx, models.IntegrationCalendar); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		if sent, _ := s.ReminderSent(ctx, "s1"); sent {
			t.Error("expected no reminder yet")
		}
		if err := s.MarkReminderSent(ctx, "s1", now); err != nil {
			t.Fatalf("MarkReminderSent: %v", err)
		}
		if err := s.MarkReminderSent(ctx, "s1", now); err != nil {
			t.Fatalf("MarkReminderSent twice: %v", err)
		}
		if sent, _ := s.ReminderSent(ctx, "s1"); !sent {
			t.Error("expected reminder marked")
		}
	})
}

func TestAIResults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		r, err := s.AddAIResult(ctx, models.AIResult{ClientID: "c1", Kind: models.AIResultNoteTags, Summary: "sleep, stress", Model: "gpt-4o-mini"})
		if err != nil {
			t.Fatalf("AddAIResult: %v", err)
		}
		if r.ID == "" {
			t.Error("expected generated id")
		}
		list, _ := s.ListAIResults(ctx, "c1")
		if len(list) != 1 || list[0].Kind != models.AIResultNoteTags {
			t.Errorf("unexpected results: %+v", list)
		}
	})
}

func TestDetectDSNType(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost/db":    "postgres",
		"postgresql://localhost/db":      "postgres",
		"host=localhost dbname=caredesk": "postgres",
		"/var/lib/caredesk/caredesk.db":  "sqlite3",
		"file:test.db?cache=shared":      "sqlite3",
	}
	for dsn, want := range tests {
		if got := DetectDSNType(dsn); got != want {
			t.Errorf("DetectDSNType(%q) = %q, want %q", dsn, got, want)
		}
	}
}

func TestOpenEmptyDSNUsesMemory(t *testing.T) {
	s, err := Open("")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Errorf("expected *InMemoryStore, got %T", s)
	}
}

func TestRebind(t *testing.T) {
	s := &sqlStore{numbered: true}
	if got := s.rebind(`SELECT a FROM t WHERE x = ? AND y = ?`); got != `SELECT a FROM t WHERE x = $1 AND y = $2` {
		t.Errorf("unexpected rebind result %q", got)
	}
	s.numbered = false
	if got := s.rebind(`x = ?`); got != `x = ?` {
		t.Errorf("sqlite queries must not be rebound, got %q", got)
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
