package oauthflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxHandshakeDuration bounds how long a handshake waits for the popup.
const MaxHandshakeDuration = 10 * time.Minute

// finishedRetention is how long a finished handshake stays queryable.
const finishedRetention = 5 * time.Minute

// ErrUnknownHandshake is returned for ids the registry does not hold.
var ErrUnknownHandshake = errors.New("unknown handshake")

// Handshake is one running or finished handshake held by a Registry.
type Handshake struct {
	ID       string
	Provider string
	runner   *Runner
	done     chan struct{}

	mu         sync.Mutex
	result     Result
	err        error
	finishedAt time.Time
}

// Status is the externally visible state of a handshake.
type Status struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	State    State  `json:"state"`
	URL      string `json:"url,omitempty"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Status returns a snapshot of the handshake.
func (h *Handshake) Status() Status {
	st := Status{ID: h.ID, Provider: h.Provider, State: h.runner.State(), URL: h.runner.URL()}
	select {
	case <-h.done:
		st.Done = true
		h.mu.Lock()
		if h.err != nil {
			st.Error = h.err.Error()
		}
		h.mu.Unlock()
	default:
	}
	return st
}

// Result returns the terminal result and error. done is false while the
// handshake is still running.
func (h *Handshake) Result() (res Result, done bool, err error) {
	select {
	case <-h.done:
	default:
		return Result{}, false, nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result, true, h.err
}

// WaitReady blocks until the popup URL is known or the handshake ended.
func (h *Handshake) WaitReady(ctx context.Context) error {
	select {
	case <-h.runner.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the handshake is done.
func (h *Handshake) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registry keeps handshakes by id so page events can reach their runner.
type Registry struct {
	mu    sync.Mutex
	items map[string]*Handshake
	now   func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Handshake), now: time.Now}
}

// Start runs r in the background under a new id. onDone, when set, is called
// once with the terminal result before the handshake reports done.
func (reg *Registry) Start(provider string, r *Runner, onDone func(Result, error)) *Handshake {
	h := &Handshake{ID: uuid.NewString(), Provider: provider, runner: r, done: make(chan struct{})}

	reg.mu.Lock()
	reg.pruneLocked()
	reg.items[h.ID] = h
	reg.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), MaxHandshakeDuration)
	go func() {
		defer cancel()
		res, err := r.Run(ctx)
		if onDone != nil {
			onDone(res, err)
		}
		h.mu.Lock()
		h.result, h.err, h.finishedAt = res, err, reg.now()
		h.mu.Unlock()
		close(h.done)
	}()

	slog.Info("Registry.Start: handshake started", "id", h.ID, "provider", provider)
	return h
}

// Get returns the handshake with id.
func (reg *Registry) Get(id string) (*Handshake, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	h, ok := reg.items[id]
	return h, ok
}

// Deliver passes a page event to the handshake with id and returns that
// handshake. It stays usable after the registry prunes it.
func (reg *Registry) Deliver(id string, e Event) (*Handshake, error) {
	h, ok := reg.Get(id)
	if !ok {
		return nil, ErrUnknownHandshake
	}
	if !h.runner.Deliver(e) {
		slog.Debug("Registry.Deliver: event dropped", "id", id, "kind", e.Kind)
	}
	return h, nil
}

// Len returns the number of handshakes held.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.items)
}

func (reg *Registry) pruneLocked() {
	cutoff := reg.now().Add(-finishedRetention)
	for id, h := range reg.items {
		h.mu.Lock()
		finished := !h.finishedAt.IsZero() && h.finishedAt.Before(cutoff)
		h.mu.Unlock()
		if finished {
			delete(reg.items, id)
		}
	}
}
