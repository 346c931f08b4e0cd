package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/util"
	"github.com/google/uuid"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with '?' placeholders and rebound per driver.
type sqlStore struct {
	db       *sql.DB
	name     string
	numbered bool
	isUnique func(error) bool
}

// rebind converts '?' placeholders to '$n' for drivers that need it.
func (s *sqlStore) rebind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

// wrap converts driver errors into store sentinels.
func (s *sqlStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if s.isUnique != nil && s.isUnique(err) {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	slog.Error(s.name+"."+op+" failed", "error", err)
	return fmt.Errorf("%s failed: %w", op, err)
}

// requireAffected maps an update that touched no rows to ErrNotFound.
func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTags(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		slog.Warn("store.decodeTags: invalid tag JSON, ignoring", "error", err)
		return nil
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

func rawOrEmptyObject(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

func (s *sqlStore) AddClient(ctx context.Context, c models.Client) (models.Client, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := s.exec(ctx,
		`INSERT INTO clients (id, name, therapist_id, email, phone, status, tags, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.TherapistID, c.Email, c.Phone, string(c.Status), encodeTags(c.Tags), c.CreatedAt.UTC(), c.UpdatedAt)
	if err != nil {
		return models.Client{}, s.wrap("AddClient", err)
	}
	slog.Debug(s.name+".AddClient succeeded", "id", c.ID)
	return c, nil
}

const clientColumns = `id, name, therapist_id, email, phone, status, tags, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanClient(row rowScanner) (models.Client, error) {
	var c models.Client
	var email, phone, tags sql.NullString
	var status string
	if err := row.Scan(&c.ID, &c.Name, &c.TherapistID, &email, &phone, &status, &tags, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	c.Email = email.String
	c.Phone = phone.String
	c.Status = models.ClientStatus(status)
	c.Tags = decodeTags(tags)
	return c, nil
}

func (s *sqlStore) GetClient(ctx context.Context, id string) (models.Client, error) {
	c, err := scanClient(s.queryRow(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id))
	if err != nil {
		return models.Client{}, s.wrap("GetClient", err)
	}
	return c, nil
}

func (s *sqlStore) ListClients(ctx context.Context, therapistID string) ([]models.Client, error) {
	q := `SELECT ` + clientColumns + ` FROM clients`
	var args []interface{}
	if therapistID != "" {
		q += ` WHERE therapist_id = ?`
		args = append(args, therapistID)
	}
	q += ` ORDER BY name, id`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("ListClients", err)
	}
	defer rows.Close()
	out := make([]models.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, s.wrap("ListClients", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListClients", err)
	}
	return out, nil
}

func (s *sqlStore) UpdateClient(ctx context.Context, c models.Client) error {
	res, err := s.exec(ctx,
		`UPDATE clients SET name = ?, email = ?, phone = ?, status = ?, tags = ?, updated_at = ? WHERE id = ?`,
		c.Name, c.Email, c.Phone, string(c.Status), encodeTags(c.Tags), time.Now().UTC(), c.ID)
	if err != nil {
		return s.wrap("UpdateClient", err)
	}
	return requireAffected(res)
}

// DeleteClient removes a client together with its sessions, notes, reminders,
// longitudinal records and AI results. Documents are kept.
func (s *sqlStore) DeleteClient(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("DeleteClient", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmts := []string{
		`DELETE FROM session_reminders WHERE session_id IN (SELECT id FROM sessions WHERE client_id = ?)`,
		`DELETE FROM sessions WHERE client_id = ?`,
		`DELETE FROM progress_notes WHERE client_id = ?`,
		`DELETE FROM longitudinal_records WHERE client_id = ?`,
		`DELETE FROM ai_results WHERE client_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, s.rebind(stmt), id); err != nil {
			return s.wrap("DeleteClient", err)
		}
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM clients WHERE id = ?`), id)
	if err != nil {
		return s.wrap("DeleteClient", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("DeleteClient", err)
	}
	slog.Debug(s.name+".DeleteClient succeeded", "id", id)
	return nil
}

func (s *sqlStore) AddSession(ctx context.Context, sess models.Session) (models.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	_, err := s.exec(ctx,
		`INSERT INTO sessions (id, client_id, scheduled_at, type, status, duration_minutes, notes, external_id) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ClientID, sess.ScheduledAt.UTC(), sess.Type, string(sess.Status), sess.DurationMinutes, sess.Notes, nilIfEmpty(sess.ExternalID))
	if err != nil {
		return models.Session{}, s.wrap("AddSession", err)
	}
	return s.GetSession(ctx, sess.ID)
}

const sessionSelect = `SELECT s.id, s.client_id, COALESCE(c.name, ''), s.scheduled_at, s.type, s.status, s.duration_minutes, s.notes, s.external_id
FROM sessions s LEFT JOIN clients c ON c.id = s.client_id`

func scanSession(row rowScanner) (models.Session, error) {
	var sess models.Session
	var typ, notes, external sql.NullString
	var status string
	if err := row.Scan(&sess.ID, &sess.ClientID, &sess.ClientName, &sess.ScheduledAt, &typ, &status, &sess.DurationMinutes, &notes, &external); err != nil {
		return sess, err
	}
	sess.Type = typ.String
	sess.Status = models.SessionStatus(status)
	sess.Notes = notes.String
	sess.ExternalID = external.String
	return sess, nil
}

func (s *sqlStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	sess, err := scanSession(s.queryRow(ctx, sessionSelect+` WHERE s.id = ?`, id))
	if err != nil {
		return models.Session{}, s.wrap("GetSession", err)
	}
	return sess, nil
}

func (s *sqlStore) ListSessions(ctx context.Context, f models.SessionFilter) ([]models.Session, error) {
	var where []string
	var args []interface{}
	if f.ClientID != "" {
		where = append(where, `s.client_id = ?`)
		args = append(args, f.ClientID)
	}
	if !f.From.IsZero() {
		where = append(where, `s.scheduled_at >= ?`)
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, `s.scheduled_at <= ?`)
		args = append(args, f.To.UTC())
	}
	q := sessionSelect
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, ` AND `)
	}
	q += ` ORDER BY s.scheduled_at, s.id`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("ListSessions", err)
	}
	defer rows.Close()
	out := make([]models.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, s.wrap("ListSessions", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListSessions", err)
	}
	return out, nil
}

func (s *sqlStore) UpdateSession(ctx context.Context, sess models.Session) error {
	res, err := s.exec(ctx,
		`UPDATE sessions SET client_id = ?, scheduled_at = ?, type = ?, status = ?, duration_minutes = ?, notes = ?, external_id = ? WHERE id = ?`,
		sess.ClientID, sess.ScheduledAt.UTC(), sess.Type, string(sess.Status), sess.DurationMinutes, sess.Notes, nilIfEmpty(sess.ExternalID), sess.ID)
	if err != nil {
		return s.wrap("UpdateSession", err)
	}
	return requireAffected(res)
}

func (s *sqlStore) AddProgressNote(ctx context.Context, n models.ProgressNote) (models.ProgressNote, error) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO progress_notes (id, client_id, session_date, content, risk_level, progress_rating, ai_tags, tags, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.ClientID, n.SessionDate.UTC(), n.Content, string(n.RiskLevel), n.ProgressRating, encodeTags(n.AITags), encodeTags(n.Tags), n.CreatedAt.UTC())
	if err != nil {
		return models.ProgressNote{}, s.wrap("AddProgressNote", err)
	}
	return n, nil
}

const noteColumns = `id, client_id, session_date, content, risk_level, progress_rating, ai_tags, tags, created_at`

func scanNote(row rowScanner) (models.ProgressNote, error) {
	var n models.ProgressNote
	var risk string
	var aiTags, tags sql.NullString
	if err := row.Scan(&n.ID, &n.ClientID, &n.SessionDate, &n.Content, &risk, &n.ProgressRating, &aiTags, &tags, &n.CreatedAt); err != nil {
		return n, err
	}
	n.RiskLevel = models.RiskLevel(risk)
	n.AITags = decodeTags(aiTags)
	n.Tags = decodeTags(tags)
	return n, nil
}

func (s *sqlStore) GetProgressNote(ctx context.Context, id string) (models.ProgressNote, error) {
	n, err := scanNote(s.queryRow(ctx, `SELECT `+noteColumns+` FROM progress_notes WHERE id = ?`, id))
	if err != nil {
		return models.ProgressNote{}, s.wrap("GetProgressNote", err)
	}
	return n, nil
}

func (s *sqlStore) ListProgressNotes(ctx context.Context, clientID string) ([]models.ProgressNote, error) {
	q := `SELECT ` + noteColumns + ` FROM progress_notes`
	var args []interface{}
	if clientID != "" {
		q += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	q += ` ORDER BY session_date DESC, created_at DESC`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("ListProgressNotes", err)
	}
	defer rows.Close()
	out := make([]models.ProgressNote, 0)
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, s.wrap("ListProgressNotes", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListProgressNotes", err)
	}
	return out, nil
}

func (s *sqlStore) UpdateProgressNote(ctx context.Context, n models.ProgressNote) error {
	res, err := s.exec(ctx,
		`UPDATE progress_notes SET session_date = ?, content = ?, risk_level = ?, progress_rating = ?, ai_tags = ?, tags = ? WHERE id = ?`,
		n.SessionDate.UTC(), n.Content, string(n.RiskLevel), n.ProgressRating, encodeTags(n.AITags), encodeTags(n.Tags), n.ID)
	if err != nil {
		return s.wrap("UpdateProgressNote", err)
	}
	return requireAffected(res)
}

func (s *sqlStore) DeleteProgressNote(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM progress_notes WHERE id = ?`, id)
	if err != nil {
		return s.wrap("DeleteProgressNote", err)
	}
	return requireAffected(res)
}

func (s *sqlStore) AddDocument(ctx context.Context, d models.Document) (models.Document, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO documents (id, client_id, file_name, content_type, size_bytes, content, source, external_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ClientID, d.FileName, d.ContentType, d.SizeBytes, d.Content, string(d.Source), nilIfEmpty(d.ExternalID), d.CreatedAt.UTC())
	if err != nil {
		return models.Document{}, s.wrap("AddDocument", err)
	}
	return d, nil
}

const documentColumns = `id, client_id, file_name, content_type, size_bytes, content, source, external_id, created_at`

func scanDocument(row rowScanner) (models.Document, error) {
	var d models.Document
	var clientID, contentType, content, external sql.NullString
	var source string
	if err := row.Scan(&d.ID, &clientID, &d.FileName, &contentType, &d.SizeBytes, &content, &source, &external, &d.CreatedAt); err != nil {
		return d, err
	}
	d.ClientID = clientID.String
	d.ContentType = contentType.String
	d.Content = content.String
	d.Source = models.DocumentSource(source)
	d.ExternalID = external.String
	return d, nil
}

func (s *sqlStore) GetDocument(ctx context.Context, id string) (models.Document, error) {
	d, err := scanDocument(s.queryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err != nil {
		return models.Document{}, s.wrap("GetDocument", err)
	}
	return d, nil
}

func (s *sqlStore) ListDocuments(ctx context.Context, clientID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents`
	var args []interface{}
	if clientID != "" {
		q += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("ListDocuments", err)
	}
	defer rows.Close()
	out := make([]models.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, s.wrap("ListDocuments", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListDocuments", err)
	}
	return out, nil
}

func (s *sqlStore) AddEdges(ctx context.Context, edges []models.SemanticEdge) error {
	if len(edges) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("AddEdges", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := s.rebind(`INSERT INTO semantic_edges (id, document_id, from_term, to_term, relation, weight, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	now := time.Now().UTC()
	for _, e := range edges {
		if e.ID == "" {
			e.ID = util.GenerateEdgeID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		var weight interface{}
		if e.Weight != nil {
			weight = *e.Weight
		}
		if _, err := tx.ExecContext(ctx, stmt, e.ID, e.DocumentID, e.From, e.To, e.Relation, weight, e.CreatedAt.UTC()); err != nil {
			return s.wrap("AddEdges", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return s.wrap("AddEdges", err)
	}
	slog.Debug(s.name+".AddEdges succeeded", "count", len(edges))
	return nil
}

func (s *sqlStore) ListEdges(ctx context.Context, documentID string) ([]models.SemanticEdge, error) {
	q := `SELECT id, document_id, from_term, to_term, relation, weight, created_at FROM semantic_edges`
	var args []interface{}
	if documentID != "" {
		q += ` WHERE document_id = ?`
		args = append(args, documentID)
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("ListEdges", err)
	}
	defer rows.Close()
	out := make([]models.SemanticEdge, 0)
	for rows.Next() {
		var e models.SemanticEdge
		var weight sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.From, &e.To, &e.Relation, &weight, &e.CreatedAt); err != nil {
			return nil, s.wrap("ListEdges", err)
		}
		if weight.Valid {
			w := weight.Float64
			e.Weight = &w
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListEdges", err)
	}
	return out, nil
}

func (s *sqlStore) AddLongitudinalRecord(ctx context.Context, r models.LongitudinalRecord) (models.LongitudinalRecord, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO longitudinal_records (id, client_id, analysis, record, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, r.ClientID, rawOrEmptyObject(r.Analysis), rawOrEmptyObject(r.Record), r.CreatedAt.UTC())
	if err != nil {
		return models.LongitudinalRecord{}, s.wrap("AddLongitudinalRecord", err)
	}
	return r, nil
}

func (s *sqlStore) LatestLongitudinal(ctx context.Context, clientID string) (models.LongitudinalRecord, error) {
	history, err := s.LongitudinalHistory(ctx, clientID)
	if err != nil {
		return models.LongitudinalRecord{}, err
	}
	if len(history) == 0 {
		return models.LongitudinalRecord{}, ErrNotFound
	}
	return history[0], nil
}

func (s *sqlStore) LongitudinalHistory(ctx context.Context, clientID string) ([]models.LongitudinalRecord, error) {
	rows, err := s.query(ctx,
		`SELECT id, client_id, analysis, record, created_at FROM longitudinal_records WHERE client_id = ? ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, s.wrap("LongitudinalHistory", err)
	}
	defer rows.Close()
	out := make([]models.LongitudinalRecord, 0)
	for rows.Next() {
		var r models.LongitudinalRecord
		var analysis, record []byte
		if err := rows.Scan(&r.ID, &r.ClientID, &analysis, &record, &r.CreatedAt); err != nil {
			return nil, s.wrap("LongitudinalHistory", err)
		}
		r.Analysis = json.RawMessage(analysis)
		r.Record = json.RawMessage(record)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("LongitudinalHistory", err)
	}
	return out, nil
}

func (s *sqlStore) AddAIResult(ctx context.Context, r models.AIResult) (models.AIResult, error) {
	if r.ID == "" {
		r.ID = util.GenerateResultID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO ai_results (id, client_id, kind, summary, model, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ClientID, string(r.Kind), r.Summary, r.Model, r.CreatedAt.UTC())
	if err != nil {
		return models.AIResult{}, s.wrap("AddAIResult", err)
	}
	return r, nil
}

func (s *sqlStore) ListAIResults(ctx context.Context, clientID string) ([]models.AIResult, error) {
	q := `SELECT id, client_id, kind, summary, model, created_at FROM ai_results`
	var args []interface{}
	if clientID != "" {
		q += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	q += ` ORDER BY created_at DESC`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, s.wrap("ListAIResults", err)
	}
	defer rows.Close()
	out := make([]models.AIResult, 0)
	for rows.Next() {
		var r models.AIResult
		var kind string
		var model sql.NullString
		if err := rows.Scan(&r.ID, &r.ClientID, &kind, &r.Summary, &model, &r.CreatedAt); err != nil {
			return nil, s.wrap("ListAIResults", err)
		}
		r.Kind = models.AIResultKind(kind)
		r.Model = model.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("ListAIResults", err)
	}
	return out, nil
}

func (s *sqlStore) SaveIntegration(ctx context.Context, i models.Integration) error {
	now := time.Now().UTC()
	var lastSync interface{}
	if i.LastSync != nil {
		lastSync = i.LastSync.UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO integrations (kind, account, token_json, last_sync, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (kind) DO UPDATE SET account = excluded.account, token_json = excluded.token_json, last_sync = excluded.last_sync, updated_at = excluded.updated_at`,
		string(i.Kind), i.Account, i.TokenJSON, lastSync, now, now)
	if err != nil {
		return s.wrap("SaveIntegration", err)
	}
	slog.Debug(s.name+".SaveIntegration succeeded", "kind", i.Kind)
	return nil
}

func (s *sqlStore) GetIntegration(ctx context.Context, kind models.IntegrationKind) (models.Integration, error) {
	var i models.Integration
	var k string
	var account, token sql.NullString
	var lastSync sql.NullTime
	err := s.queryRow(ctx,
		`SELECT kind, account, token_json, last_sync, created_at, updated_at FROM integrations WHERE kind = ?`, string(kind)).
		Scan(&k, &account, &token, &lastSync, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return models.Integration{}, s.wrap("GetIntegration", err)
	}
	i.Kind = models.IntegrationKind(k)
	i.Account = account.String
	i.TokenJSON = token.String
	if lastSync.Valid {
		t := lastSync.Time
		i.LastSync = &t
	}
	return i, nil
}

func (s *sqlStore) DeleteIntegration(ctx context.Context, kind models.IntegrationKind) error {
	if _, err := s.exec(ctx, `DELETE FROM integrations WHERE kind = ?`, string(kind)); err != nil {
		return s.wrap("DeleteIntegration", err)
	}
	return nil
}

func (s *sqlStore) MarkReminderSent(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.exec(ctx,
		`INSERT INTO session_reminders (session_id, sent_at) VALUES (?, ?) ON CONFLICT (session_id) DO NOTHING`,
		sessionID, at.UTC())
	if err != nil {
		return s.wrap("MarkReminderSent", err)
	}
	return nil
}

func (s *sqlStore) ReminderSent(ctx context.Context, sessionID string) (bool, error) {
	var id string
	err := s.queryRow(ctx, `SELECT session_id FROM session_reminders WHERE session_id = ?`, sessionID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("ReminderSent", err)
	}
	return true, nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	slog.Debug(s.name + ".Close: closing database connection")
	return s.db.Close()
}
