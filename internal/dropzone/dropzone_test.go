package dropzone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/CareDesk/internal/apiclient"
	"github.com/BTreeMap/CareDesk/internal/models"
)

type fakeUploadClient struct {
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	failFor map[string]error

	mu       sync.Mutex
	received map[string]string
}

func (f *fakeUploadClient) UploadDocument(ctx context.Context, name string, r io.Reader, clientID string) (models.UploadResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)

	data, _ := io.ReadAll(r)
	f.mu.Lock()
	if f.received == nil {
		f.received = map[string]string{}
	}
	f.received[name] = string(data)
	f.mu.Unlock()

	if err := f.failFor[name]; err != nil {
		return models.UploadResult{FileName: name}, err
	}
	return models.UploadResult{FileName: name, Success: true, DocumentID: "doc-" + name, Message: "Document parsed"}, nil
}

func textFile(name, body string) File {
	return File{Name: name, Open: func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

func TestUploadBoundsConcurrency(t *testing.T) {
	client := &fakeUploadClient{delay: 20 * time.Millisecond}
	u := NewUploader(client)

	var files []File
	for i := 0; i < 7; i++ {
		files = append(files, textFile(fmt.Sprintf("note-%d.txt", i), "body"))
	}
	results := u.Upload(context.Background(), "c1", files)

	if len(results) != 7 {
		t.Fatalf("expected 7 results, got %d", len(results))
	}
	if peak := client.peak.Load(); peak > DefaultConcurrency || peak < 2 {
		t.Errorf("expected concurrent uploads bounded by %d, peak %d", DefaultConcurrency, peak)
	}
	if len(u.State().Uploading()) != 0 {
		t.Errorf("nothing may remain uploading: %v", u.State().Uploading())
	}
	if len(u.State().Results()) != 7 {
		t.Errorf("expected 7 results in state")
	}
}

func TestUploadMovesFilesFromUploadingToResults(t *testing.T) {
	client := &fakeUploadClient{failFor: map[string]error{
		"scan.pdf": &apiclient.RequestError{Status: 413, Message: "File exceeds the 20 MB limit"},
	}}

	var u *Uploader
	var checks []string
	u = NewUploader(client, WithConcurrency(1), WithOnResult(func(res models.UploadResult) {
		for _, n := range u.State().Uploading() {
			if n == res.FileName {
				checks = append(checks, "still uploading: "+n)
			}
		}
	}))

	results := u.Upload(context.Background(), "", []File{textFile("intake.txt", "a"), textFile("scan.pdf", "b")})
	if len(checks) != 0 {
		t.Errorf("files must leave the uploading set when their result is appended: %v", checks)
	}

	byName := map[string]models.UploadResult{}
	for _, r := range results {
		byName[r.FileName] = r
	}
	if ok := byName["intake.txt"]; !ok.Success || ok.DocumentID != "doc-intake.txt" {
		t.Errorf("unexpected success result %+v", ok)
	}
	if bad := byName["scan.pdf"]; bad.Success || bad.Message != "File exceeds the 20 MB limit" {
		t.Errorf("unexpected failure result %+v", bad)
	}
}

func TestUploadOpenFailure(t *testing.T) {
	u := NewUploader(&fakeUploadClient{})
	broken := File{Name: "gone.txt", Open: func() (io.ReadCloser, error) { return nil, errors.New("file vanished") }}
	results := u.Upload(context.Background(), "", []File{broken})
	if len(results) != 1 || results[0].Success || results[0].Message != "file vanished" {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestUploadSendsFileContent(t *testing.T) {
	client := &fakeUploadClient{}
	u := NewUploader(client)
	u.Upload(context.Background(), "c1", []File{textFile("a.txt", "alpha"), textFile("b.txt", "beta")})
	if client.received["a.txt"] != "alpha" || client.received["b.txt"] != "beta" {
		t.Errorf("unexpected received bodies %v", client.received)
	}
}

func TestUploadRejectsOversizeFilesWithoutSending(t *testing.T) {
	client := &fakeUploadClient{}
	u := NewUploader(client, WithMaxFileBytes(8))

	big := textFile("big.txt", "0123456789")
	big.Size = 10
	small := textFile("small.txt", "ok")
	small.Size = 2

	results := u.Upload(context.Background(), "", []File{big, small})
	byName := map[string]models.UploadResult{}
	for _, r := range results {
		byName[r.FileName] = r
	}
	if r := byName["big.txt"]; r.Success || r.Message != "File exceeds the 8 byte limit" {
		t.Errorf("unexpected oversize result %+v", r)
	}
	if !byName["small.txt"].Success {
		t.Errorf("small file must still upload: %+v", byName["small.txt"])
	}
	if _, sent := client.received["big.txt"]; sent {
		t.Error("oversize file must not reach the backend")
	}
	if len(u.State().Uploading()) != 0 {
		t.Errorf("nothing may remain uploading: %v", u.State().Uploading())
	}
}

func TestDefaultMaxFileBytes(t *testing.T) {
	u := NewUploader(&fakeUploadClient{}, WithMaxFileBytes(-1))
	if u.MaxFileBytes() != models.MaxUploadBytes {
		t.Errorf("expected default limit %d, got %d", models.MaxUploadBytes, u.MaxFileBytes())
	}
	if msg := tooLargeMessage(models.MaxUploadBytes); msg != "File exceeds the 20 MB limit" {
		t.Errorf("unexpected message %q", msg)
	}
}
