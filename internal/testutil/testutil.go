// Package testutil provides common test utilities and helpers for CareDesk tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/CareDesk/internal/genai"
	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/store"
	"github.com/openai/openai-go"
)

// TestingT is the subset of *testing.T used by the assertion helpers.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
	Fatal(args ...interface{})
}

// NewTestBackend serves h on an httptest server that is closed when the test ends.
func NewTestBackend(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, label string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", label, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// DecodeResult decodes the result field of an APIResponse body into v.
func DecodeResult(t TestingT, body []byte, v interface{}) models.APIResponse {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if v != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, v); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
	}
	return models.APIResponse{Status: envelope.Status, Message: envelope.Message}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TestingT, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// CreateJSONRequest creates an HTTP request with a raw JSON string body.
func CreateJSONRequest(t TestingT, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// Practice is the data created by SeedPractice.
type Practice struct {
	Active   models.Client
	Inactive models.Client
	Sessions []models.Session
	Notes    []models.ProgressNote
}

// SeedPractice adds two clients, three sessions around now and two notes.
func SeedPractice(t TestingT, st store.Store, now time.Time) Practice {
	t.Helper()
	ctx := context.Background()
	var p Practice
	var err error

	p.Active, err = st.AddClient(ctx, models.Client{Name: "Jordan Reyes", TherapistID: "t1", Email: "jordan@example.com", Phone: "+15550100", Status: models.ClientStatusActive, Tags: []string{"anxiety"}})
	if err != nil {
		t.Fatalf("failed to add client: %v", err)
	}
	p.Inactive, err = st.AddClient(ctx, models.Client{Name: "Avery Lin", TherapistID: "t1", Status: models.ClientStatusInactive})
	if err != nil {
		t.Fatalf("failed to add client: %v", err)
	}

	for _, s := range []models.Session{
		{ClientID: p.Active.ID, ScheduledAt: now.AddDate(0, 0, -14), Type: "individual", Status: models.SessionStatusCompleted, DurationMinutes: 50},
		{ClientID: p.Active.ID, ScheduledAt: now.AddDate(0, -4, 0), Type: "individual", Status: models.SessionStatusCompleted, DurationMinutes: 50},
		{ClientID: p.Active.ID, ScheduledAt: now.Add(26 * time.Hour), Type: "individual", Status: models.SessionStatusScheduled, DurationMinutes: 50},
	} {
		added, err := st.AddSession(ctx, s)
		if err != nil {
			t.Fatalf("failed to add session: %v", err)
		}
		p.Sessions = append(p.Sessions, added)
	}

	for _, n := range []models.ProgressNote{
		{ClientID: p.Active.ID, SessionDate: now.AddDate(0, 0, -14), Content: "Client reports anxiety about work. Sleep improved with breathing exercises.", RiskLevel: models.RiskModerate, ProgressRating: 6, Tags: []string{"work"}, AITags: []string{}, CreatedAt: now.AddDate(0, 0, -14)},
		{ClientID: p.Active.ID, SessionDate: now.AddDate(0, -4, 0), Content: "Intake. Panic attacks twice weekly, poor sleep.", RiskLevel: models.RiskHigh, ProgressRating: 3, Tags: []string{}, AITags: []string{}, CreatedAt: now.AddDate(0, -4, 0)},
	} {
		added, err := st.AddProgressNote(ctx, n)
		if err != nil {
			t.Fatalf("failed to add note: %v", err)
		}
		p.Notes = append(p.Notes, added)
	}
	return p
}

// AssertClientCount validates the number of clients in the store.
func AssertClientCount(t TestingT, st store.Store, expected int, label string) {
	t.Helper()
	clients, err := st.ListClients(context.Background(), "")
	if err != nil {
		t.Fatalf("%s: failed to list clients: %v", label, err)
	}
	if len(clients) != expected {
		t.Errorf("%s: expected %d clients, got %d", label, expected, len(clients))
	}
}

// FakeGenAI implements genai.ClientInterface with canned answers.
type FakeGenAI struct {
	ChatOut       string
	StructuredOut string
	Err           error

	mu       sync.Mutex
	requests []genai.StructuredRequest
	chats    int
}

var _ genai.ClientInterface = (*FakeGenAI)(nil)

// GenerateWithMessages returns ChatOut.
func (f *FakeGenAI) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats++
	return f.ChatOut, f.Err
}

// GenerateStructuredJSON records the request and returns StructuredOut.
func (f *FakeGenAI) GenerateStructuredJSON(ctx context.Context, req genai.StructuredRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.StructuredOut, f.Err
}

// Model returns a fixed model name.
func (f *FakeGenAI) Model() string { return "fake-model" }

// StructuredRequests returns the recorded structured requests.
func (f *FakeGenAI) StructuredRequests() []genai.StructuredRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]genai.StructuredRequest(nil), f.requests...)
}

// ChatCalls returns how many chat generations were requested.
func (f *FakeGenAI) ChatCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.chats
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
