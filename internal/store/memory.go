package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/util"
	"github.com/google/uuid"
)

// InMemoryStore is a Store kept entirely in process memory. It is used for
// tests and when no DSN is configured.
type InMemoryStore struct {
	mu           sync.RWMutex
	clients      map[string]models.Client
	sessions     map[string]models.Session
	notes        map[string]models.ProgressNote
	documents    map[string]models.Document
	edges        []models.SemanticEdge
	longitudinal []models.LongitudinalRecord
	aiResults    []models.AIResult
	integrations map[models.IntegrationKind]models.Integration
	reminders    map[string]time.Time
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		clients:      make(map[string]models.Client),
		sessions:     make(map[string]models.Session),
		notes:        make(map[string]models.ProgressNote),
		documents:    make(map[string]models.Document),
		integrations: make(map[models.IntegrationKind]models.Integration),
		reminders:    make(map[string]time.Time),
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func (s *InMemoryStore) AddClient(ctx context.Context, c models.Client) (models.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := s.clients[c.ID]; exists {
		return models.Client{}, ErrConflict
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Tags = cloneStrings(c.Tags)
	s.clients[c.ID] = c
	return c, nil
}

func (s *InMemoryStore) GetClient(ctx context.Context, id string) (models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return models.Client{}, ErrNotFound
	}
	c.Tags = cloneStrings(c.Tags)
	return c, nil
}

func (s *InMemoryStore) ListClients(ctx context.Context, therapistID string) ([]models.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Client, 0, len(s.clients))
	for _, c := range s.clients {
		if therapistID != "" && c.TherapistID != therapistID {
			continue
		}
		c.Tags = cloneStrings(c.Tags)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *InMemoryStore) UpdateClient(ctx context.Context, c models.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.clients[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	c.Tags = cloneStrings(c.Tags)
	s.clients[c.ID] = c
	return nil
}

func (s *InMemoryStore) DeleteClient(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return ErrNotFound
	}
	delete(s.clients, id)
	for sid, sess := range s.sessions {
		if sess.ClientID == id {
			delete(s.sessions, sid)
			delete(s.reminders, sid)
		}
	}
	for nid, n := range s.notes {
		if n.ClientID == id {
			delete(s.notes, nid)
		}
	}
	kept := s.longitudinal[:0]
	for _, r := range s.longitudinal {
		if r.ClientID != id {
			kept = append(kept, r)
		}
	}
	s.longitudinal = kept
	keptAI := s.aiResults[:0]
	for _, r := range s.aiResults {
		if r.ClientID != id {
			keptAI = append(keptAI, r)
		}
	}
	s.aiResults = keptAI
	return nil
}

func (s *InMemoryStore) AddSession(ctx context.Context, sess models.Session) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ExternalID != "" {
		for _, existing := range s.sessions {
			if existing.ExternalID == sess.ExternalID {
				return models.Session{}, ErrConflict
			}
		}
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.ClientName = ""
	s.sessions[sess.ID] = sess
	return s.withClientName(sess), nil
}

// withClientName fills the denormalised client name. Callers hold s.mu.
func (s *InMemoryStore) withClientName(sess models.Session) models.Session {
	if c, ok := s.clients[sess.ClientID]; ok {
		sess.ClientName = c.Name
	}
	return sess
}

func (s *InMemoryStore) GetSession(ctx context.Context, id string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return s.withClientName(sess), nil
}

func (s *InMemoryStore) ListSessions(ctx context.Context, f models.SessionFilter) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Session, 0)
	for _, sess := range s.sessions {
		if f.Matches(sess) {
			out = append(out, s.withClientName(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *InMemoryStore) UpdateSession(ctx context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	sess.ClientName = ""
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) AddProgressNote(ctx context.Context, n models.ProgressNote) (models.ProgressNote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Tags = cloneStrings(n.Tags)
	n.AITags = cloneStrings(n.AITags)
	s.notes[n.ID] = n
	return n, nil
}

func (s *InMemoryStore) GetProgressNote(ctx context.Context, id string) (models.ProgressNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	if !ok {
		return models.ProgressNote{}, ErrNotFound
	}
	n.Tags = cloneStrings(n.Tags)
	n.AITags = cloneStrings(n.AITags)
	return n, nil
}

func (s *InMemoryStore) ListProgressNotes(ctx context.Context, clientID string) ([]models.ProgressNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ProgressNote, 0)
	for _, n := range s.notes {
		if clientID != "" && n.ClientID != clientID {
			continue
		}
		n.Tags = cloneStrings(n.Tags)
		n.AITags = cloneStrings(n.AITags)
		out = append(out, n)
	}
	sortNotes(out)
	return out, nil
}

// sortNotes orders notes newest session first.
func sortNotes(notes []models.ProgressNote) {
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].SessionDate.Equal(notes[j].SessionDate) {
			return notes[i].CreatedAt.After(notes[j].CreatedAt)
		}
		return notes[i].SessionDate.After(notes[j].SessionDate)
	})
}

func (s *InMemoryStore) UpdateProgressNote(ctx context.Context, n models.ProgressNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.notes[n.ID]
	if !ok {
		return ErrNotFound
	}
	n.CreatedAt = old.CreatedAt
	n.Tags = cloneStrings(n.Tags)
	n.AITags = cloneStrings(n.AITags)
	s.notes[n.ID] = n
	return nil
}

func (s *InMemoryStore) DeleteProgressNote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notes[id]; !ok {
		return ErrNotFound
	}
	delete(s.notes, id)
	return nil
}

func (s *InMemoryStore) AddDocument(ctx context.Context, d models.Document) (models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ExternalID != "" {
		for _, existing := range s.documents {
			if existing.ExternalID == d.ExternalID {
				return models.Document{}, ErrConflict
			}
		}
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	s.documents[d.ID] = d
	return d, nil
}

func (s *InMemoryStore) GetDocument(ctx context.Context, id string) (models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return models.Document{}, ErrNotFound
	}
	return d, nil
}

func (s *InMemoryStore) ListDocuments(ctx context.Context, clientID string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Document, 0)
	for _, d := range s.documents {
		if clientID != "" && d.ClientID != clientID {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AddEdges(ctx context.Context, edges []models.SemanticEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range edges {
		if e.ID == "" {
			e.ID = util.GenerateEdgeID()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		s.edges = append(s.edges, e)
	}
	return nil
}

func (s *InMemoryStore) ListEdges(ctx context.Context, documentID string) ([]models.SemanticEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.SemanticEdge, 0)
	for _, e := range s.edges {
		if documentID == "" || e.DocumentID == documentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddLongitudinalRecord(ctx context.Context, r models.LongitudinalRecord) (models.LongitudinalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.longitudinal = append(s.longitudinal, r)
	return r, nil
}

func (s *InMemoryStore) LatestLongitudinal(ctx context.Context, clientID string) (models.LongitudinalRecord, error) {
	history, err := s.LongitudinalHistory(ctx, clientID)
	if err != nil {
		return models.LongitudinalRecord{}, err
	}
	if len(history) == 0 {
		return models.LongitudinalRecord{}, ErrNotFound
	}
	return history[0], nil
}

func (s *InMemoryStore) LongitudinalHistory(ctx context.Context, clientID string) ([]models.LongitudinalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.LongitudinalRecord, 0)
	for _, r := range s.longitudinal {
		if r.ClientID == clientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AddAIResult(ctx context.Context, r models.AIResult) (models.AIResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = util.GenerateResultID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.aiResults = append(s.aiResults, r)
	return r, nil
}

func (s *InMemoryStore) ListAIResults(ctx context.Context, clientID string) ([]models.AIResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AIResult, 0)
	for _, r := range s.aiResults {
		if clientID == "" || r.ClientID == clientID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SaveIntegration(ctx context.Context, i models.Integration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if old, ok := s.integrations[i.Kind]; ok {
		i.CreatedAt = old.CreatedAt
	} else if i.CreatedAt.IsZero() {
		i.CreatedAt = now
	}
	i.UpdatedAt = now
	s.integrations[i.Kind] = i
	return nil
}

func (s *InMemoryStore) GetIntegration(ctx context.Context, kind models.IntegrationKind) (models.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.integrations[kind]
	if !ok {
		return models.Integration{}, ErrNotFound
	}
	return i, nil
}

func (s *InMemoryStore) DeleteIntegration(ctx context.Context, kind models.IntegrationKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.integrations, kind)
	return nil
}

func (s *InMemoryStore) MarkReminderSent(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reminders[sessionID]; !ok {
		s.reminders[sessionID] = at
	}
	return nil
}

func (s *InMemoryStore) ReminderSent(ctx context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reminders[sessionID]
	return ok, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
