// Package integrations connects the practice to Google Calendar and Google
// Drive through OAuth2 and imports their data as sessions and documents.
package integrations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/store"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// Errors returned by providers.
var (
	ErrNotConfigured = errors.New("integration not configured")
	ErrNotConnected  = errors.New("integration not connected")
	ErrInvalidState  = errors.New("invalid or expired OAuth state")
	ErrMissingCode   = errors.New("missing authorization code")
)

// Google API scopes.
const (
	ScopeCalendarReadOnly = "https://www.googleapis.com/auth/calendar.readonly"
	ScopeDriveReadOnly    = "https://www.googleapis.com/auth/drive.readonly"
)

// stateTTL bounds how long an issued OAuth state stays valid.
const stateTTL = 10 * time.Minute

// Opts holds configuration for a provider.
type Opts struct {
	ClientID     string
	ClientSecret string
	PublicOrigin string
	Endpoint     oauth2.Endpoint
	APIBase      string
	HTTPClient   *http.Client
}

// Option defines a configuration option for a provider.
type Option func(*Opts)

// WithClientCredentials sets the OAuth client id and secret.
func WithClientCredentials(id, secret string) Option {
	return func(o *Opts) {
		o.ClientID = id
		o.ClientSecret = secret
	}
}

// WithPublicOrigin sets the externally visible origin used for redirect URLs.
func WithPublicOrigin(origin string) Option {
	return func(o *Opts) { o.PublicOrigin = strings.TrimRight(origin, "/") }
}

// WithEndpoint overrides the OAuth endpoint.
func WithEndpoint(ep oauth2.Endpoint) Option {
	return func(o *Opts) { o.Endpoint = ep }
}

// WithAPIBase points the Calendar and Drive services at another API root,
// e.g. a test server. Empty keeps the library default.
func WithAPIBase(base string) Option {
	return func(o *Opts) { o.APIBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient sets the HTTP client used for token exchange and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// provider holds the OAuth plumbing shared by calendar and drive.
type provider struct {
	kind       models.IntegrationKind
	config     *oauth2.Config
	store      store.Store
	apiBase    string
	httpClient *http.Client

	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

func newProvider(kind models.IntegrationKind, scope, callbackPath string, st store.Store, opts ...Option) *provider {
	cfg := Opts{
		Endpoint:     google.Endpoint,
		PublicOrigin: "http://localhost:8080",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	var oc *oauth2.Config
	if cfg.ClientID != "" && cfg.ClientSecret != "" {
		oc = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.PublicOrigin + callbackPath,
			Scopes:       []string{scope},
			Endpoint:     cfg.Endpoint,
		}
	}
	return &provider{
		kind:       kind,
		config:     oc,
		store:      st,
		apiBase:    cfg.APIBase,
		httpClient: cfg.HTTPClient,
		states:     make(map[string]time.Time),
		now:        time.Now,
	}
}

// Configured reports whether OAuth client credentials are present.
func (p *provider) Configured() bool {
	return p.config != nil
}

// AuthURL issues a new state and returns the consent URL.
func (p *provider) AuthURL() (models.AuthURL, error) {
	if !p.Configured() {
		return models.AuthURL{}, ErrNotConfigured
	}
	state := uuid.NewString()
	p.mu.Lock()
	p.pruneStates()
	p.states[state] = p.now().Add(stateTTL)
	p.mu.Unlock()
	url := p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	slog.Debug("provider.AuthURL: issued consent URL", "kind", p.kind)
	return models.AuthURL{URL: url, State: state}, nil
}

// consumeState validates and removes a state issued by AuthURL.
func (p *provider) consumeState(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	exp, ok := p.states[state]
	if !ok {
		return false
	}
	delete(p.states, state)
	return p.now().Before(exp)
}

// pruneStates drops expired states. Callers hold p.mu.
func (p *provider) pruneStates() {
	now := p.now()
	for s, exp := range p.states {
		if !now.Before(exp) {
			delete(p.states, s)
		}
	}
}

func (p *provider) ctx(ctx context.Context) context.Context {
	if p.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	return ctx
}

// exchange trades the authorization code for a token after validating state.
func (p *provider) exchange(ctx context.Context, state, code string) (*oauth2.Token, error) {
	if !p.Configured() {
		return nil, ErrNotConfigured
	}
	if !p.consumeState(state) {
		return nil, ErrInvalidState
	}
	if code == "" {
		return nil, ErrMissingCode
	}
	tok, err := p.config.Exchange(p.ctx(ctx), code)
	if err != nil {
		slog.Error("provider.exchange: token exchange failed", "kind", p.kind, "error", err)
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	return tok, nil
}

// save persists the token and account for this provider's kind.
func (p *provider) save(ctx context.Context, tok *oauth2.Token, account string, lastSync *time.Time) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	return p.store.SaveIntegration(ctx, models.Integration{
		Kind:      p.kind,
		Account:   account,
		TokenJSON: string(b),
		LastSync:  lastSync,
	})
}

// client returns an authorised HTTP client, persisting a refreshed token.
func (p *provider) client(ctx context.Context) (*http.Client, models.Integration, error) {
	if !p.Configured() {
		return nil, models.Integration{}, ErrNotConfigured
	}
	integ, err := p.store.GetIntegration(ctx, p.kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, models.Integration{}, ErrNotConnected
	}
	if err != nil {
		return nil, models.Integration{}, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(integ.TokenJSON), &tok); err != nil {
		return nil, integ, fmt.Errorf("decode stored token: %w", err)
	}
	cctx := p.ctx(ctx)
	fresh, err := p.config.TokenSource(cctx, &tok).Token()
	if err != nil {
		slog.Warn("provider.client: token refresh failed", "kind", p.kind, "error", err)
		return nil, integ, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != tok.AccessToken {
		if err := p.save(ctx, fresh, integ.Account, integ.LastSync); err != nil {
			slog.Warn("provider.client: failed to persist refreshed token", "kind", p.kind, "error", err)
		}
	}
	return oauth2.NewClient(cctx, oauth2.StaticTokenSource(fresh)), integ, nil
}

// apiOptions builds client options for a Google API service whose paths
// live under path, e.g. "calendar/v3/".
func (p *provider) apiOptions(hc *http.Client, path string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if p.apiBase != "" {
		opts = append(opts, option.WithEndpoint(p.apiBase+"/"+path))
	}
	return opts
}

// Disconnect removes the stored token.
func (p *provider) Disconnect(ctx context.Context) error {
	return p.store.DeleteIntegration(ctx, p.kind)
}

// markSynced records a successful sync time.
func (p *provider) markSynced(ctx context.Context, at time.Time) error {
	integ, err := p.store.GetIntegration(ctx, p.kind)
	if err != nil {
		return err
	}
	t := at.UTC()
	integ.LastSync = &t
	return p.store.SaveIntegration(ctx, integ)
}
