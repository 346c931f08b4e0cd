// Package apiclient is the console's typed client for the CareDesk REST API.
//
// Reads go through a querycache.Cache keyed by request path. Every decoded
// payload is validated before it reaches a page, and mutations invalidate
// the keys they affect.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/querycache"
)

// FallbackMessage is shown when a failed request carries no server message.
const FallbackMessage = "Request failed"

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

var (
	// ErrRequestFailed matches every *RequestError.
	ErrRequestFailed = errors.New("request failed")
	// ErrInvalidResponse is returned when a payload fails validation.
	ErrInvalidResponse = errors.New("invalid response")
)

// RequestError is a non-2xx answer or a transport failure.
type RequestError struct {
	Status  int // 0 for transport failures
	Message string
	Path    string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return FallbackMessage
}

// Unwrap exposes ErrRequestFailed and the transport cause.
func (e *RequestError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRequestFailed, e.Err}
	}
	return []error{ErrRequestFailed}
}

// ErrorMessage returns the text a toast should show for err: the server
// message of a RequestError, the validation message of a local check, or
// FallbackMessage.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Error()
	}
	if errors.Is(err, ErrInvalidResponse) || errors.Is(err, context.DeadlineExceeded) {
		return FallbackMessage
	}
	return err.Error()
}

// IsNotFound reports whether err is a 404 answer.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Status == http.StatusNotFound
}

// Opts holds configuration for a Client.
type Opts struct {
	BaseURL    string
	HTTPClient *http.Client
	Handler    http.Handler
	Cache      *querycache.Cache
}

// Option defines a configuration option for a Client.
type Option func(*Opts)

// WithBaseURL points the client at a remote backend, e.g. "http://backend:8080".
func WithBaseURL(base string) Option {
	return func(o *Opts) { o.BaseURL = strings.TrimSuffix(base, "/") }
}

// WithHTTPClient sets the HTTP client used for remote backends.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = hc }
}

// WithHandler serves requests in process through h instead of the network.
func WithHandler(h http.Handler) Option {
	return func(o *Opts) { o.Handler = h }
}

// WithCache sets the query cache. A fresh cache is created otherwise.
func WithCache(c *querycache.Cache) Option {
	return func(o *Opts) { o.Cache = c }
}

// Client is the typed REST client used by the console pages.
type Client struct {
	baseURL string
	hc      *http.Client
	cache   *querycache.Cache
}

// New creates a Client.
func New(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Cache == nil {
		cfg.Cache = querycache.New()
	}
	hc := cfg.HTTPClient
	switch {
	case cfg.Handler != nil:
		hc = &http.Client{Transport: handlerTransport{h: cfg.Handler}, Timeout: DefaultTimeout}
		if cfg.BaseURL == "" {
			cfg.BaseURL = "http://caredesk.internal"
		}
	case hc == nil:
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	slog.Debug("apiclient.New: client created", "base_url", cfg.BaseURL, "in_process", cfg.Handler != nil)
	return &Client{baseURL: cfg.BaseURL, hc: hc, cache: cfg.Cache}
}

// Cache returns the query cache backing the client.
func (c *Client) Cache() *querycache.Cache {
	return c.cache
}

// handlerTransport answers requests by calling an in-process handler.
type handlerTransport struct {
	h http.Handler
}

func (t handlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	if req.Body == nil {
		req.Body = http.NoBody
	}
	t.h.ServeHTTP(rec, req)
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type validator interface {
	Validate() error
}

// do sends one request and decodes the result field of the envelope into out.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		slog.Warn("Client.do: transport failure", "method", method, "path", path, "error", err)
		return &RequestError{Path: path, Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Status: resp.StatusCode, Path: path, Err: err}
	}
	decodeErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("Client.do: request failed", "method", method, "path", path, "status", resp.StatusCode, "message", env.Message)
		return &RequestError{Status: resp.StatusCode, Message: env.Message, Path: path}
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, path, decodeErr)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, path, err)
	}
	return nil
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, contentType, body, out)
}

func validateOne(path string, v interface{}) error {
	if val, ok := v.(validator); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, path, err)
		}
	}
	return nil
}

// getOne fetches and validates a single object through the cache.
func getOne[T any](ctx context.Context, c *Client, key string) (T, error) {
	return querycache.Fetch(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		var out T
		if err := c.do(ctx, http.MethodGet, key, "", nil, &out); err != nil {
			return out, err
		}
		return out, validateOne(key, &out)
	})
}

// getList fetches and validates every element of a list through the cache.
func getList[E any](ctx context.Context, c *Client, key string) ([]E, error) {
	return querycache.Fetch(ctx, c.cache, key, func(ctx context.Context) ([]E, error) {
		var out []E
		if err := c.do(ctx, http.MethodGet, key, "", nil, &out); err != nil {
			return nil, err
		}
		for i := range out {
			if err := validateOne(key, &out[i]); err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
		}
		if out == nil {
			out = []E{}
		}
		return out, nil
	})
}

// withQuery appends non-empty parameters to path in a stable order.
func withQuery(path string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

func fill(pattern, id string) string {
	return strings.Replace(pattern, "{id}", url.PathEscape(id), 1)
}
