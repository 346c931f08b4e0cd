// Package store provides storage backends for CareDesk.
//
// It includes an in-memory store for tests and development plus SQLite and
// PostgreSQL stores for clients, sessions, progress notes, documents,
// semantic edges, longitudinal records and integration tokens.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
)

// Store error values.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key (such as a session external id) already exists.
	ErrConflict = errors.New("already exists")
)

// Store is the persistence interface used by the backend API.
type Store interface {
	AddClient(ctx context.Context, c models.Client) (models.Client, error)
	GetClient(ctx context.Context, id string) (models.Client, error)
	ListClients(ctx context.Context, therapistID string) ([]models.Client, error)
	UpdateClient(ctx context.Context, c models.Client) error
	DeleteClient(ctx context.Context, id string) error

	AddSession(ctx context.Context, s models.Session) (models.Session, error)
	GetSession(ctx context.Context, id string) (models.Session, error)
	ListSessions(ctx context.Context, f models.SessionFilter) ([]models.Session, error)
	UpdateSession(ctx context.Context, s models.Session) error

	AddProgressNote(ctx context.Context, n models.ProgressNote) (models.ProgressNote, error)
	GetProgressNote(ctx context.Context, id string) (models.ProgressNote, error)
	ListProgressNotes(ctx context.Context, clientID string) ([]models.ProgressNote, error)
	UpdateProgressNote(ctx context.Context, n models.ProgressNote) error
	DeleteProgressNote(ctx context.Context, id string) error

	AddDocument(ctx context.Context, d models.Document) (models.Document, error)
	GetDocument(ctx context.Context, id string) (models.Document, error)
	ListDocuments(ctx context.Context, clientID string) ([]models.Document, error)

	AddEdges(ctx context.Context, edges []models.SemanticEdge) error
	ListEdges(ctx context.Context, documentID string) ([]models.SemanticEdge, error)

	AddLongitudinalRecord(ctx context.Context, r models.LongitudinalRecord) (models.LongitudinalRecord, error)
	LatestLongitudinal(ctx context.Context, clientID string) (models.LongitudinalRecord, error)
	LongitudinalHistory(ctx context.Context, clientID string) ([]models.LongitudinalRecord, error)

	AddAIResult(ctx context.Context, r models.AIResult) (models.AIResult, error)
	ListAIResults(ctx context.Context, clientID string) ([]models.AIResult, error)

	SaveIntegration(ctx context.Context, i models.Integration) error
	GetIntegration(ctx context.Context, kind models.IntegrationKind) (models.Integration, error)
	DeleteIntegration(ctx context.Context, kind models.IntegrationKind) error

	MarkReminderSent(ctx context.Context, sessionID string, at time.Time) error
	ReminderSent(ctx context.Context, sessionID string) (bool, error)

	Close() error
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open selects a backend for dsn: in-memory when empty, otherwise Postgres or
// SQLite according to DetectDSNType.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Info("store.Open: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		s, err := NewPostgresStore(WithPostgresDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	}
}
