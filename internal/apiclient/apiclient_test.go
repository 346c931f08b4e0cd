package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CareDesk/internal/api"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/querycache"
	"github.com/BTreeMap/CareDesk/internal/store"
	"github.com/BTreeMap/CareDesk/internal/testutil"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type invalidations struct {
	mu  sync.Mutex
	all []querycache.Invalidation
}

func (i *invalidations) record(inv querycache.Invalidation) {
	i.mu.Lock()
	i.all = append(i.all, inv)
	i.mu.Unlock()
}

func (i *invalidations) count(key string, prefix bool) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, inv := range i.all {
		if inv.Key == key && inv.Prefix == prefix {
			n++
		}
	}
	return n
}

func newTestClient(t *testing.T, apiOpts ...api.Option) (*Client, *store.InMemoryStore, *invalidations) {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	apiOpts = append([]api.Option{api.WithClock(func() time.Time { return testNow })}, apiOpts...)
	srv := api.NewServer(st, apiOpts...)
	inv := &invalidations{}
	c := New(WithHandler(srv.Handler()), WithCache(querycache.New(querycache.WithOnInvalidate(inv.record))))
	return c, st, inv
}

func TestListClientsIsCachedUntilDelete(t *testing.T) {
	c, st, inv := newTestClient(t)
	p := testutil.SeedPractice(t, st, testNow)
	ctx := context.Background()

	clients, err := c.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(clients))
	}

	// A row added behind the cache's back is not visible while the entry is fresh.
	st.AddClient(ctx, models.Client{Name: "Sam Ortiz", Status: models.ClientStatusActive})
	clients, _ = c.ListClients(ctx)
	if len(clients) != 2 {
		t.Fatalf("expected cached list, got %d clients", len(clients))
	}

	if err := c.DeleteClient(ctx, p.Inactive.ID); err != nil {
		t.Fatalf("DeleteClient: %v", err)
	}
	if n := inv.count(KeyClients, false); n != 1 {
		t.Errorf("expected client list invalidated exactly once, got %d", n)
	}

	clients, err = c.ListClients(ctx)
	if err != nil {
		t.Fatalf("ListClients: %v", err)
	}
	for _, cl := range clients {
		if cl.ID == p.Inactive.ID {
			t.Error("deleted client still listed")
		}
	}
	if len(clients) != 2 {
		t.Errorf("expected 2 clients after delete, got %d", len(clients))
	}
}

func TestRequestErrorCarriesServerMessage(t *testing.T) {
	c, _, _ := newTestClient(t)
	_, err := c.GetClient(context.Background(), "missing")
	var re *RequestError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RequestError, got %T %v", err, err)
	}
	if re.Status != http.StatusNotFound || re.Message != "Client not found" {
		t.Errorf("unexpected request error %+v", re)
	}
	if !errors.Is(err, ErrRequestFailed) || !IsNotFound(err) {
		t.Error("request error must match ErrRequestFailed and IsNotFound")
	}
	if ErrorMessage(err) != "Client not found" {
		t.Errorf("unexpected toast message %q", ErrorMessage(err))
	}
}

func TestRequestErrorFallbackMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("<html>oops</html>"))
	}))
	defer srv.Close()
	c := New(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))

	_, err := c.ListClients(context.Background())
	if ErrorMessage(err) != FallbackMessage {
		t.Errorf("expected fallback message, got %q", ErrorMessage(err))
	}

	down := New(WithBaseURL("http://127.0.0.1:1"))
	_, err = down.AIHealth(context.Background())
	if !errors.Is(err, ErrRequestFailed) || ErrorMessage(err) != FallbackMessage {
		t.Errorf("transport failure must be a request error with the fallback message, got %v", err)
	}
}

func TestInvalidPayloadIsRejectedAtBoundary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","result":[{"id":"n1","clientId":"c1","sessionDate":"2026-06-01T10:00:00Z","content":"x","riskLevel":"extreme","progressRating":4,"aiTags":[],"tags":[]}]}`))
	}))
	defer srv.Close()
	cache := querycache.New()
	c := New(WithBaseURL(srv.URL), WithCache(cache))

	_, err := c.ListProgressNotes(context.Background(), "")
	if !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if cache.Len() != 0 {
		t.Error("invalid payloads must not be cached")
	}
}

func TestRequiredFieldsBlockRequests(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`{"status":"ok","result":[]}`))
	}))
	defer srv.Close()
	c := New(WithBaseURL(srv.URL))
	ctx := context.Background()

	if _, err := c.Recall(ctx, models.RecallRequest{Query: "   "}); !errors.Is(err, models.ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := c.AIResults(ctx, ""); !errors.Is(err, models.ErrEmptyClientID) {
		t.Errorf("expected ErrEmptyClientID, got %v", err)
	}
	if _, err := c.DraftNote(ctx, models.NoteDraftRequest{ClientID: "c1"}); !errors.Is(err, models.ErrEmptyNoteContent) {
		t.Errorf("expected ErrEmptyNoteContent, got %v", err)
	}
	if hits != 0 {
		t.Errorf("no request may fire when required fields are missing, got %d", hits)
	}
	if ErrorMessage(models.ErrEmptyQuery) != "search query is required" {
		t.Errorf("validation errors must surface their own message")
	}
}

func TestUploadInvalidatesDocuments(t *testing.T) {
	c, st, inv := newTestClient(t)
	p := testutil.SeedPractice(t, st, testNow)
	ctx := context.Background()

	docs, _ := c.ListDocuments(ctx, "")
	if len(docs) != 0 {
		t.Fatalf("expected no documents, got %d", len(docs))
	}
	res, err := c.UploadDocument(ctx, "intake.txt", strings.NewReader("Anxiety affects sleep."), p.Active.ID)
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if !res.Success || res.EdgeCount != 1 {
		t.Errorf("unexpected upload result %+v", res)
	}
	if inv.count(KeyDocuments, true) != 1 || inv.count(KeySemanticGraph, true) != 1 {
		t.Errorf("upload must invalidate documents and graph: %+v", inv.all)
	}
	docs, _ = c.ListDocuments(ctx, "")
	if len(docs) != 1 {
		t.Errorf("expected uploaded document to be listed, got %d", len(docs))
	}
}

func TestUploadFailureReportsServerMessage(t *testing.T) {
	c, _, _ := newTestClient(t)
	res, err := c.UploadDocument(context.Background(), "notes.txt", strings.NewReader("hello"), "missing-client")
	if err == nil {
		t.Fatal("expected error for unknown client")
	}
	if res.Success || res.Message != "Client not found" || res.FileName != "notes.txt" {
		t.Errorf("unexpected failure result %+v", res)
	}
}

func TestGenerateLongitudinalInvalidatesClientKeys(t *testing.T) {
	fake := &testutil.FakeGenAI{StructuredOut: `{"summary":"Stable.","trend":"stable","key_themes":[],"risk_trajectory":"flat","recommendations":[]}`}
	c, st, inv := newTestClient(t, api.WithGenAI(fake))
	p := testutil.SeedPractice(t, st, testNow)
	ctx := context.Background()

	latest, err := c.LatestLongitudinal(ctx, p.Active.ID)
	if err != nil || latest != nil {
		t.Fatalf("expected no record yet, got %v, %v", latest, err)
	}
	if _, err := c.GenerateLongitudinal(ctx, p.Active.ID); err != nil {
		t.Fatalf("GenerateLongitudinal: %v", err)
	}
	if inv.count("/api/clients/"+p.Active.ID+"/longitudinal", true) != 1 {
		t.Errorf("expected longitudinal prefix invalidation: %+v", inv.all)
	}
	latest, err = c.LatestLongitudinal(ctx, p.Active.ID)
	if err != nil || latest == nil {
		t.Fatalf("expected a record after generate, got %v, %v", latest, err)
	}
	if latest.Field("trend", "n/a") != "stable" {
		t.Errorf("unexpected trend %q", latest.Field("trend", "n/a"))
	}
}

func TestSyncCalendarFailureKeepsCache(t *testing.T) {
	c, _, inv := newTestClient(t)
	_, err := c.SyncCalendar(context.Background())
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}
	if ErrorMessage(err) != "Calendar integration not configured" {
		t.Errorf("unexpected message %q", ErrorMessage(err))
	}
	if len(inv.all) != 0 {
		t.Errorf("failed mutations must not invalidate, got %+v", inv.all)
	}
}

func TestTimelineAndQueryString(t *testing.T) {
	c, st, _ := newTestClient(t)
	testutil.SeedPractice(t, st, testNow)
	entries, err := c.Timeline(context.Background(), "1month")
	if err != nil {
		t.Fatalf("Timeline: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 sessions in the last month, got %d", len(entries))
	}
	if got := withQuery(KeySessions, "clientId", ""); got != KeySessions {
		t.Errorf("empty parameters must be dropped, got %q", got)
	}
	if got := withQuery(KeySessions, "clientId", "a b"); got != "/api/sessions?clientId=a+b" {
		t.Errorf("unexpected query %q", got)
	}
}

type failingReader struct {
	sent bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if f.sent {
		return 0, errors.New("disk read failed")
	}
	f.sent = true
	return copy(p, "partial content"), nil
}

func TestUploadStopsOnReaderError(t *testing.T) {
	c, st, _ := newTestClient(t)
	ctx := context.Background()

	res, err := c.UploadDocument(ctx, "broken.txt", &failingReader{}, "")
	if err == nil {
		t.Fatal("expected an error when the file cannot be read")
	}
	if res.Success || res.FileName != "broken.txt" {
		t.Errorf("unexpected result %+v", res)
	}
	docs, err := st.ListDocuments(ctx, "")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("a truncated upload must not be stored, got %d documents", len(docs))
	}
}
