// Package dropzone orchestrates multi-file uploads from the console drop zone.
package dropzone

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/CareDesk/internal/apiclient"
	"github.com/BTreeMap/CareDesk/internal/models"
)

// DefaultConcurrency is how many files upload at once.
const DefaultConcurrency = 3

// File is one file picked in the drop zone. Size is the declared length
// in bytes; zero means unknown.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// UploadClient posts one file to the backend.
type UploadClient interface {
	UploadDocument(ctx context.Context, name string, r io.Reader, clientID string) (models.UploadResult, error)
}

// State tracks which files are uploading and the results so far. A file
// leaves the uploading set in the same step its result is appended.
type State struct {
	mu        sync.Mutex
	uploading []string
	results   []models.UploadResult
}

// Uploading returns the names still uploading, in submission order.
func (s *State) Uploading() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.uploading...)
}

// Results returns the results in completion order.
func (s *State) Results() []models.UploadResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.UploadResult(nil), s.results...)
}

func (s *State) begin(names []string) {
	s.mu.Lock()
	s.uploading = append(s.uploading, names...)
	s.mu.Unlock()
}

func (s *State) finish(res models.UploadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.uploading {
		if n == res.FileName {
			s.uploading = append(s.uploading[:i], s.uploading[i+1:]...)
			break
		}
	}
	s.results = append(s.results, res)
}

// Opts holds configuration for an Uploader.
type Opts struct {
	Concurrency  int
	MaxFileBytes int64
	OnResult     func(models.UploadResult)
}

// Option defines a configuration option for an Uploader.
type Option func(*Opts)

// WithConcurrency bounds the number of simultaneous uploads.
func WithConcurrency(n int) Option {
	return func(o *Opts) { o.Concurrency = n }
}

// WithMaxFileBytes rejects files declared larger than n bytes without
// sending them.
func WithMaxFileBytes(n int64) Option {
	return func(o *Opts) { o.MaxFileBytes = n }
}

// WithOnResult observes each result as it is appended.
func WithOnResult(fn func(models.UploadResult)) Option {
	return func(o *Opts) { o.OnResult = fn }
}

// Uploader posts drop-zone files concurrently.
type Uploader struct {
	client      UploadClient
	concurrency int
	maxBytes    int64
	onResult    func(models.UploadResult)
	state       *State
}

// NewUploader creates an Uploader with a fresh State.
func NewUploader(client UploadClient, opts ...Option) *Uploader {
	cfg := Opts{Concurrency: DefaultConcurrency, MaxFileBytes: models.MaxUploadBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = models.MaxUploadBytes
	}
	return &Uploader{client: client, concurrency: cfg.Concurrency, maxBytes: cfg.MaxFileBytes, onResult: cfg.OnResult, state: &State{}}
}

// State returns the upload state shared by every Upload call.
func (u *Uploader) State() *State {
	return u.state
}

// Upload posts every file and returns the results of this call in
// completion order. A failed or oversize file is reported with success
// false; other files keep uploading.
func (u *Uploader) Upload(ctx context.Context, clientID string, files []File) []models.UploadResult {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	u.state.begin(names)

	var mu sync.Mutex
	out := make([]models.UploadResult, 0, len(files))

	var g errgroup.Group
	g.SetLimit(u.concurrency)
	for _, f := range files {
		g.Go(func() error {
			res := u.uploadOne(ctx, clientID, f)
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			u.state.finish(res)
			if u.onResult != nil {
				u.onResult(res)
			}
			return nil
		})
	}
	g.Wait()

	slog.Info("Uploader.Upload: batch finished", "files", len(files))
	return out
}

// MaxFileBytes returns the per-file size limit.
func (u *Uploader) MaxFileBytes() int64 {
	return u.maxBytes
}

func (u *Uploader) uploadOne(ctx context.Context, clientID string, f File) models.UploadResult {
	if f.Size > u.maxBytes {
		slog.Warn("Uploader.uploadOne: file too large", "file_name", f.Name, "size", f.Size, "limit", u.maxBytes)
		return models.UploadResult{FileName: f.Name, Success: false, Message: tooLargeMessage(u.maxBytes)}
	}
	rc, err := f.Open()
	if err != nil {
		slog.Warn("Uploader.uploadOne: failed to open file", "file_name", f.Name, "error", err)
		return models.UploadResult{FileName: f.Name, Success: false, Message: err.Error()}
	}
	defer rc.Close()

	res, err := u.client.UploadDocument(ctx, f.Name, rc, clientID)
	if err != nil {
		slog.Warn("Uploader.uploadOne: upload failed", "file_name", f.Name, "error", err)
		return models.UploadResult{FileName: f.Name, Success: false, Message: apiclient.ErrorMessage(err)}
	}
	res.FileName = f.Name
	res.Success = true
	return res
}

func tooLargeMessage(limit int64) string {
	if limit >= 1<<20 {
		return fmt.Sprintf("File exceeds the %d MB limit", limit>>20)
	}
	return fmt.Sprintf("File exceeds the %d byte limit", limit)
}
