package web

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CareDesk/internal/api"
	"github.com/BTreeMap/CareDesk/internal/apiclient"
	"github.com/BTreeMap/CareDesk/internal/integrations"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/oauthflow"
	"github.com/BTreeMap/CareDesk/internal/store"
	"github.com/BTreeMap/CareDesk/internal/testutil"
)

// testNow is a Monday.
var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

const testOrigin = "https://console.example"

func clock() time.Time { return testNow }

func newTestConsole(t *testing.T, apiOpts ...api.Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	return newConsoleWith(t, nil, apiOpts...)
}

func newConsoleWith(t *testing.T, webOpts []Option, apiOpts ...api.Option) (*Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	apiOpts = append([]api.Option{api.WithClock(clock), api.WithConsoleOrigin(testOrigin)}, apiOpts...)
	backend := api.NewServer(st, apiOpts...)

	webOpts = append([]Option{
		WithClock(clock),
		WithLocation(time.UTC),
		WithConsoleOrigin(testOrigin),
		WithPollInterval(10 * time.Millisecond),
	}, webOpts...)
	s, err := NewServer(apiclient.New(apiclient.WithHandler(backend.Handler())), webOpts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s, st
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func postForm(t *testing.T, s *Server, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func assertRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	testutil.AssertHTTPStatus(t, http.StatusSeeOther, rec.Code, "redirect")
	if got := rec.Header().Get("Location"); got != location {
		t.Errorf("expected redirect to %q, got %q", location, got)
	}
}

func assertContains(t *testing.T, body string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(body, w) {
			t.Errorf("expected page to contain %q", w)
		}
	}
}

func TestEmptyStates(t *testing.T) {
	s, _ := newTestConsole(t)

	tests := []struct {
		path string
		want []string
	}{
		{"/", []string{EmptyUpcoming, EmptyRecentNotes}},
		{"/clients", []string{EmptyClients}},
		{"/progress-notes", []string{EmptyNotes}},
		{"/session-timeline", []string{EmptyTimeline}},
		{"/calendar-sync", []string{EmptyCalendars}},
		{"/ai-dashboard", []string{EmptyGraph, EmptyInteractive}},
		{"/drop-zone", []string{EmptyUploads, EmptyDocuments}},
		{"/interactive-notes", []string{EmptyInteractive}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, s, tt.path)
			testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, tt.path)
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("expected HTML, got %q", ct)
			}
			assertContains(t, rec.Body.String(), tt.want...)
		})
	}
}

func TestDashboardShowsPractice(t *testing.T) {
	s, st := newTestConsole(t)
	testutil.SeedPractice(t, st, testNow)

	body := get(t, s, "/").Body.String()
	assertContains(t, body, "Jordan Reyes", "Moderate")
	if strings.Contains(body, EmptyUpcoming) {
		t.Error("the scheduled session must be listed as upcoming")
	}
}

func TestClientDeleteFlow(t *testing.T) {
	s, st := newTestConsole(t)
	p := testutil.SeedPractice(t, st, testNow)

	assertContains(t, get(t, s, "/clients").Body.String(), "Jordan Reyes", "Avery Lin")

	rec := postForm(t, s, "/clients/"+p.Inactive.ID+"/delete", nil)
	assertRedirect(t, rec, "/clients")

	body := get(t, s, "/clients").Body.String()
	assertContains(t, body, "Client deleted", "Jordan Reyes")
	if strings.Contains(body, "Avery Lin") {
		t.Error("deleted client is still listed")
	}
	if strings.Contains(get(t, s, "/clients").Body.String(), "Client deleted") {
		t.Error("a toast must be shown once")
	}
}

func TestClientSearchAndStatusFilter(t *testing.T) {
	s, st := newTestConsole(t)
	testutil.SeedPractice(t, st, testNow)

	body := get(t, s, "/clients?status=inactive").Body.String()
	if strings.Contains(body, "Jordan Reyes") || !strings.Contains(body, "Avery Lin") {
		t.Error("status filter must keep only inactive clients")
	}
	body = get(t, s, "/clients?q=ANXIETY").Body.String()
	if !strings.Contains(body, "Jordan Reyes") || strings.Contains(body, "Avery Lin") {
		t.Error("search must match tags case-insensitively")
	}
}

func TestCreateClient(t *testing.T) {
	s, st := newTestConsole(t)

	rec := postForm(t, s, "/clients", url.Values{"name": {"Sam Ortiz"}, "tags": {"grief, sleep"}})
	testutil.AssertHTTPStatus(t, http.StatusSeeOther, rec.Code, "create client")
	if !strings.HasPrefix(rec.Header().Get("Location"), "/clients/") {
		t.Errorf("expected redirect to the new client, got %q", rec.Header().Get("Location"))
	}
	testutil.AssertClientCount(t, st, 1, "after create")

	rec = postForm(t, s, "/clients", url.Values{"name": {""}})
	assertRedirect(t, rec, "/clients")
	assertContains(t, get(t, s, "/clients").Body.String(), "Could not add client")
}

func TestCreateClientRefreshesCachedList(t *testing.T) {
	s, _ := newTestConsole(t)

	assertContains(t, get(t, s, "/clients").Body.String(), EmptyClients)
	if _, ok := s.api.Cache().Peek(apiclient.KeyClients); !ok {
		t.Fatal("the clients list must be cached after a page render")
	}

	rec := postForm(t, s, "/clients", url.Values{"name": {"Sam Ortiz"}})
	testutil.AssertHTTPStatus(t, http.StatusSeeOther, rec.Code, "create client")

	body := get(t, s, "/clients").Body.String()
	assertContains(t, body, "Sam Ortiz")
	if strings.Contains(body, EmptyClients) {
		t.Error("a stale cached list was rendered after create")
	}
}

func TestClientDetail(t *testing.T) {
	s, st := newTestConsole(t)
	p := testutil.SeedPractice(t, st, testNow)

	rec := get(t, s, "/clients/"+p.Active.ID)
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "client detail")
	assertContains(t, rec.Body.String(), "Jordan Reyes", EmptyLongitudinal, "AI service not configured", "Panic attacks")

	rec = get(t, s, "/clients/missing")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rec.Code, "missing client")
	assertContains(t, rec.Body.String(), "Client not found")
}

func TestGenerateLongitudinalFromConsole(t *testing.T) {
	fake := &testutil.FakeGenAI{StructuredOut: `{"summary":"Steady gains.","trend":"improving","key_themes":["sleep"],"risk_trajectory":"decreasing","recommendations":["continue CBT"]}`}
	s, st := newTestConsole(t, api.WithGenAI(fake))
	p := testutil.SeedPractice(t, st, testNow)

	rec := postForm(t, s, "/clients/"+p.Active.ID+"/longitudinal/generate", nil)
	assertRedirect(t, rec, "/clients/"+p.Active.ID)

	body := get(t, s, "/clients/"+p.Active.ID).Body.String()
	assertContains(t, body, "Longitudinal analysis generated", "Steady gains.", "improving")
	if strings.Contains(body, EmptyLongitudinal) {
		t.Error("generated analysis must replace the empty state")
	}
}

func TestProgressNoteCreateAndDelete(t *testing.T) {
	s, st := newTestConsole(t)
	p := testutil.SeedPractice(t, st, testNow)
	back := "/progress-notes?clientId=" + p.Active.ID

	rec := postForm(t, s, "/progress-notes", url.Values{
		"clientId":       {p.Active.ID},
		"sessionDate":    {"2026-06-14"},
		"content":        {"Discussed relapse prevention."},
		"riskLevel":      {"high"},
		"progressRating": {"4"},
		"tags":           {"relapse, , plan"},
	})
	assertRedirect(t, rec, back)
	assertContains(t, get(t, s, back).Body.String(), "Progress note saved", "Discussed relapse prevention.", "relapse, plan")

	rec = postForm(t, s, "/progress-notes", url.Values{"clientId": {p.Active.ID}, "content": {"x"}, "progressRating": {"ten"}})
	assertRedirect(t, rec, back)
	assertContains(t, get(t, s, back).Body.String(), "Could not save note")

	rec = postForm(t, s, "/progress-notes/"+p.Notes[1].ID+"/delete", url.Values{"return": {back}})
	assertRedirect(t, rec, back)
	body := get(t, s, back).Body.String()
	assertContains(t, body, "Progress note deleted")
	if strings.Contains(body, "Panic attacks") {
		t.Error("deleted note is still listed")
	}
}

func TestDeleteNoteIgnoresForeignReturn(t *testing.T) {
	s, st := newTestConsole(t)
	p := testutil.SeedPractice(t, st, testNow)

	rec := postForm(t, s, "/progress-notes/"+p.Notes[0].ID+"/delete", url.Values{"return": {"//evil.example/x"}})
	assertRedirect(t, rec, "/progress-notes")
}

func TestTimelineRange(t *testing.T) {
	s, st := newTestConsole(t)
	testutil.SeedPractice(t, st, testNow)

	assertContains(t, get(t, s, "/session-timeline?range=1month").Body.String(), "2 sessions", "June 2026")
	assertContains(t, get(t, s, "/session-timeline?range=all").Body.String(), "3 sessions", "February 2026")
	assertContains(t, get(t, s, "/session-timeline?range=bogus").Body.String(), "3 sessions")
}

func TestDraftNoteWithoutAI(t *testing.T) {
	s, st := newTestConsole(t)
	p := testutil.SeedPractice(t, st, testNow)

	rec := postForm(t, s, "/interactive-notes/draft", url.Values{"clientId": {p.Active.ID}, "sessionNotes": {"stressed"}})
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "draft")
	assertContains(t, rec.Body.String(), "Draft failed", "AI service not configured", "stressed")
}

func TestDraftAndSaveNote(t *testing.T) {
	fake := &testutil.FakeGenAI{ChatOut: "```json\n{\"subjective\":\"Reports stress.\",\"objective\":\"Calm.\",\"assessment\":\"Improving.\",\"plan\":\"Continue.\",\"risk_level\":\"Low\",\"progress_rating\":7,\"tags\":[\"Stress\"]}\n```"}
	s, st := newTestConsole(t, api.WithGenAI(fake))
	p := testutil.SeedPractice(t, st, testNow)

	rec := postForm(t, s, "/interactive-notes/draft", url.Values{"clientId": {p.Active.ID}, "sessionNotes": {"stressed about work"}})
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "draft")
	assertContains(t, rec.Body.String(), "Draft ready", "Subjective: Reports stress.", "Save progress note")

	rec = postForm(t, s, "/interactive-notes/save", url.Values{
		"clientId":       {p.Active.ID},
		"content":        {"Subjective: Reports stress."},
		"riskLevel":      {"low"},
		"progressRating": {"7"},
		"tags":           {"stress"},
	})
	assertRedirect(t, rec, "/progress-notes?clientId="+p.Active.ID)

	notes, err := st.ListProgressNotes(t.Context(), p.Active.ID)
	if err != nil {
		t.Fatalf("ListProgressNotes: %v", err)
	}
	if len(notes) != 3 {
		t.Errorf("expected the draft saved as a third note, got %d", len(notes))
	}
}

func TestUploadAction(t *testing.T) {
	s, _ := newTestConsole(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range map[string]string{"intake.txt": "Anxiety affects sleep.", "scan.bin": "\x00\x01\x02"} {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write([]byte(data))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/drop-zone/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assertRedirect(t, rec, "/drop-zone")

	page := get(t, s, "/drop-zone").Body.String()
	assertContains(t, page, "Uploaded intake.txt", "Uploaded scan.bin", "1 relationships")
	if strings.Contains(page, EmptyUploads) || strings.Contains(page, EmptyDocuments) {
		t.Error("uploads must replace the empty states")
	}
	if len(s.uploader.State().Uploading()) != 0 {
		t.Error("nothing may remain uploading")
	}
}

func uploadRequest(t *testing.T, files map[string][]byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, data := range files {
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		part.Write(data)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/drop-zone/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadRejectsOversizeFile(t *testing.T) {
	s, st := newConsoleWith(t, []Option{WithMaxUploadBytes(64)})

	req := uploadRequest(t, map[string][]byte{
		"huge.txt":   bytes.Repeat([]byte("x"), 65),
		"intake.txt": []byte("Anxiety affects sleep."),
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assertRedirect(t, rec, "/drop-zone")

	page := get(t, s, "/drop-zone").Body.String()
	assertContains(t, page, "Upload failed: huge.txt", "File exceeds the 64 byte limit", "Uploaded intake.txt")

	docs, err := st.ListDocuments(t.Context(), "")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 || docs[0].FileName != "intake.txt" {
		t.Errorf("only the small file may reach the backend, got %+v", docs)
	}
	for _, res := range s.uploader.State().Results() {
		if res.FileName == "huge.txt" && res.Success {
			t.Error("oversize file must be reported as failed")
		}
	}
}

func TestUploadBodyLimit(t *testing.T) {
	s, st := newConsoleWith(t, []Option{WithMaxUploadBytes(64)})

	req := uploadRequest(t, map[string][]byte{"dump.txt": bytes.Repeat([]byte("x"), 2<<20)})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assertRedirect(t, rec, "/drop-zone")
	assertContains(t, get(t, s, "/drop-zone").Body.String(), "Upload too large")

	docs, err := st.ListDocuments(t.Context(), "")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("nothing may be stored, got %d documents", len(docs))
	}
}

func TestUploadWithoutFiles(t *testing.T) {
	s, _ := newTestConsole(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("clientId", "")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/drop-zone/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assertRedirect(t, rec, "/drop-zone")
	assertContains(t, get(t, s, "/drop-zone").Body.String(), "No files selected")
}

func TestCalendarSyncUnconfigured(t *testing.T) {
	s, _ := newTestConsole(t)

	rec := postForm(t, s, "/calendar-sync/sync", nil)
	assertRedirect(t, rec, "/calendar-sync")
	assertContains(t, get(t, s, "/calendar-sync").Body.String(), "Calendar sync failed", "Calendar integration not configured", "Not connected.")
}

func TestRecallFromDashboard(t *testing.T) {
	s, st := newTestConsole(t)
	testutil.SeedPractice(t, st, testNow)

	assertContains(t, get(t, s, "/ai-dashboard?q=panic+attacks").Body.String(), "Panic attacks")
	assertContains(t, get(t, s, "/ai-dashboard?q=").Body.String(), "Recall failed")
}

func TestStaticAndUnknownPage(t *testing.T) {
	s, _ := newTestConsole(t)

	rec := get(t, s, "/static/console.css")
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "stylesheet")
	assertContains(t, rec.Body.String(), models.ColorEvergreen)

	rec = get(t, s, "/no-such-page")
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rec.Code, "unknown page")
	assertContains(t, rec.Body.String(), "This page does not exist")
}

func decodeHandshake(t *testing.T, rec *httptest.ResponseRecorder) handshakeResponse {
	t.Helper()
	testutil.AssertHTTPStatus(t, http.StatusOK, rec.Code, "handshake")
	var hr handshakeResponse
	testutil.DecodeResult(t, rec.Body.Bytes(), &hr)
	return hr
}

func postEvent(t *testing.T, s *Server, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateJSONRequest(t, http.MethodPost, "/calendar-sync/handshakes/"+id+"/events", body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func configuredCalendar(t *testing.T) api.Option {
	st := store.NewInMemoryStore()
	t.Cleanup(func() { st.Close() })
	return api.WithCalendar(integrations.NewCalendarProvider(st,
		integrations.WithClientCredentials("client-id", "client-secret"),
		integrations.WithPublicOrigin(testOrigin)))
}

func TestHandshakeURLFailure(t *testing.T) {
	s, _ := newTestConsole(t)

	hr := decodeHandshake(t, postForm(t, s, "/calendar-sync/handshakes", url.Values{"provider": {"calendar"}}))
	if !hr.Done || hr.State != oauthflow.StateFailed {
		t.Fatalf("expected a failed handshake, got %+v", hr.Status)
	}
	assertContains(t, get(t, s, "/calendar-sync").Body.String(), "Could not start Calendar authorization", "Calendar integration not configured")
}

func TestHandshakeResolvesOnConsoleMessage(t *testing.T) {
	s, _ := newTestConsole(t, configuredCalendar(t))

	hr := decodeHandshake(t, postForm(t, s, "/calendar-sync/handshakes", url.Values{"provider": {"calendar"}}))
	if hr.Done || hr.State != oauthflow.StatePopupOpen || hr.URL == "" || hr.Popup != oauthflow.PopupName {
		t.Fatalf("expected an open popup, got %+v", hr)
	}

	foreign := decodeHandshake(t, postEvent(t, s, hr.ID, `{"kind":"message","origin":"https://evil.example","payload":{"type":"oauth-success"}}`))
	if foreign.Done || foreign.State != oauthflow.StatePopupOpen {
		t.Fatalf("a foreign origin must be ignored, got %+v", foreign.Status)
	}

	done := decodeHandshake(t, postEvent(t, s, hr.ID, `{"kind":"message","origin":"https://console.example","payload":{"type":"oauth-success","provider":"calendar"}}`))
	if !done.Done || done.State != oauthflow.StateResolved {
		t.Fatalf("expected resolved, got %+v", done.Status)
	}
	assertContains(t, get(t, s, "/calendar-sync").Body.String(), "Calendar connected")

	// Later events cannot change a finished handshake.
	again := decodeHandshake(t, postEvent(t, s, hr.ID, `{"kind":"popup-closed"}`))
	if again.State != oauthflow.StateResolved {
		t.Errorf("terminal state changed to %s", again.State)
	}
}

func TestHandshakePopupBlockedAndClosed(t *testing.T) {
	s, _ := newTestConsole(t, configuredCalendar(t))

	hr := decodeHandshake(t, postForm(t, s, "/calendar-sync/handshakes", nil))
	blocked := decodeHandshake(t, postEvent(t, s, hr.ID, `{"kind":"popup-blocked"}`))
	if !blocked.Done || blocked.State != oauthflow.StateFailed {
		t.Fatalf("expected failed, got %+v", blocked.Status)
	}
	assertContains(t, get(t, s, "/calendar-sync").Body.String(), "Popup blocked")

	hr = decodeHandshake(t, postForm(t, s, "/calendar-sync/handshakes", nil))
	closed := decodeHandshake(t, postEvent(t, s, hr.ID, `{"kind":"popup-closed"}`))
	if !closed.Done || closed.State != oauthflow.StateCancelled {
		t.Fatalf("expected cancelled, got %+v", closed.Status)
	}
	assertContains(t, get(t, s, "/calendar-sync").Body.String(), "Authorization cancelled")
}

func TestHandshakeRejectsBadEvents(t *testing.T) {
	s, _ := newTestConsole(t)

	rec := postEvent(t, s, "missing", `{"kind":"popup-closed"}`)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rec.Code, "unknown handshake")

	hr := decodeHandshake(t, postForm(t, s, "/calendar-sync/handshakes", nil))
	rec = postEvent(t, s, hr.ID, `{"kind":"start"}`)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rec.Code, "page cannot send start")
	rec = postEvent(t, s, hr.ID, `not json`)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rec.Code, "invalid body")

	rec = postForm(t, s, "/calendar-sync/handshakes", url.Values{"provider": {"dropbox"}})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rec.Code, "unknown provider")

	rec = get(t, s, "/calendar-sync/handshakes/"+hr.ID)
	if got := decodeHandshake(t, rec); got.ID != hr.ID {
		t.Errorf("status returned handshake %q", got.ID)
	}
}

func TestAssetsUsePaletteOnly(t *testing.T) {
	s, _ := newTestConsole(t)
	if len(s.pages) != len(pageNames) {
		t.Fatalf("expected %d parsed pages, got %d", len(pageNames), len(s.pages))
	}
	css := get(t, s, "/static/console.css").Body.String()
	for _, c := range models.BrandPalette {
		if !strings.Contains(css, c) {
			t.Errorf("stylesheet does not define %s", c)
		}
	}
}
