package oauthflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is how often the runner checks whether the popup closed.
const DefaultPollInterval = time.Second

// PopupName is the window name consent popups are opened under.
const PopupName = "caredesk-oauth"

// Window is an opened popup.
type Window interface {
	Closed() bool
	Close()
}

// WindowOpener opens popups. A nil Window means the popup was blocked.
type WindowOpener interface {
	Open(url, name string) Window
}

// URLFunc fetches a consent URL from the backend.
type URLFunc func(ctx context.Context) (string, error)

// Result is the terminal outcome of a handshake.
type Result struct {
	State  State
	Effect Effect
	URL    string
}

// RunnerOpts holds configuration for a Runner.
type RunnerOpts struct {
	PollInterval time.Duration
	OnTransition func(from, to State, eff Effect)
}

// RunnerOption defines a configuration option for a Runner.
type RunnerOption func(*RunnerOpts)

// WithPollInterval sets the popup close-poll interval.
func WithPollInterval(d time.Duration) RunnerOption {
	return func(o *RunnerOpts) { o.PollInterval = d }
}

// WithOnTransition observes every state change.
func WithOnTransition(fn func(from, to State, eff Effect)) RunnerOption {
	return func(o *RunnerOpts) { o.OnTransition = fn }
}

// Runner drives one handshake.
type Runner struct {
	origin       string
	fetchURL     URLFunc
	opener       WindowOpener
	poll         time.Duration
	onTransition func(from, to State, eff Effect)

	events    chan Event
	ready     chan struct{} // closed once the URL is known or the run failed
	done      chan struct{}
	readyOnce sync.Once
	started   atomic.Bool

	mu    sync.Mutex
	state State
	url   string
}

// NewRunner creates a Runner that accepts messages only from origin.
func NewRunner(origin string, fetchURL URLFunc, opener WindowOpener, opts ...RunnerOption) *Runner {
	cfg := RunnerOpts{PollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Runner{
		origin:       origin,
		fetchURL:     fetchURL,
		opener:       opener,
		poll:         cfg.PollInterval,
		onTransition: cfg.OnTransition,
		events:       make(chan Event, 8),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
		state:        StateIdle,
	}
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// URL returns the consent URL once it has been fetched.
func (r *Runner) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url
}

// Ready is closed once the popup is open or the handshake ended.
func (r *Runner) Ready() <-chan struct{} { return r.ready }

// Done is closed when the handshake reached a terminal state.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Deliver queues an event from the page. It reports false when the
// handshake has finished or the queue is full.
func (r *Runner) Deliver(e Event) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.events <- e:
		return true
	default:
		slog.Warn("Runner.Deliver: event queue full", "kind", e.Kind)
		return false
	}
}

func (r *Runner) step(e Event) (State, Effect) {
	r.mu.Lock()
	from := r.state
	to, eff := Transition(from, e, r.origin)
	r.state = to
	if e.Kind == EventURLReceived && to == StatePopupOpen {
		r.url = e.URL
	}
	r.mu.Unlock()

	if from != to {
		slog.Debug("Runner.step: transition", "from", from, "to", to, "event", e.Kind, "effect", eff)
		if r.onTransition != nil {
			r.onTransition(from, to, eff)
		}
	}
	return to, eff
}

func (r *Runner) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}

// Run executes the handshake until it resolves, fails, is cancelled or ctx
// ends. The message listener and the close-poll ticker both stop on the
// first terminal transition. Run may be called once.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.started.CompareAndSwap(false, true) {
		return Result{}, fmt.Errorf("oauthflow: runner already started")
	}
	defer close(r.done)
	defer r.markReady()

	r.step(Event{Kind: EventStart})
	u, err := r.fetchURL(ctx)
	if err != nil {
		slog.Warn("Runner.Run: failed to fetch authorization URL", "error", err)
		st, eff := r.step(Event{Kind: EventURLFailed, Err: err})
		return Result{State: st, Effect: eff}, fmt.Errorf("%w: %w", ErrURLUnavailable, err)
	}
	r.step(Event{Kind: EventURLReceived, URL: u})

	w := r.opener.Open(u, PopupName)
	if w == nil {
		st, eff := r.step(Event{Kind: EventPopupBlocked})
		return Result{State: st, Effect: eff, URL: u}, eff.Err()
	}
	r.markReady()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		var st State
		var eff Effect
		select {
		case <-ctx.Done():
			st, eff = r.step(Event{Kind: EventPopupClosed})
			w.Close()
			return Result{State: st, Effect: eff, URL: u}, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		case e := <-r.events:
			st, eff = r.step(e)
		case <-ticker.C:
			if w.Closed() {
				st, eff = r.step(Event{Kind: EventPopupClosed})
			}
		}
		if st.Terminal() {
			if st != StateCancelled {
				w.Close()
			}
			slog.Info("Runner.Run: handshake finished", "state", st, "effect", eff)
			return Result{State: st, Effect: eff, URL: u}, eff.Err()
		}
	}
}

// RemoteWindow stands in for a popup opened by the browser. The page
// reports the popup closing through an event; Close records that the
// handshake no longer needs it.
type RemoteWindow struct {
	closed atomic.Bool
}

// Closed reports whether the popup was closed.
func (w *RemoteWindow) Closed() bool { return w.closed.Load() }

// Close marks the popup closed.
func (w *RemoteWindow) Close() { w.closed.Store(true) }

// RemoteOpener hands out RemoteWindows. The browser opens the real popup
// and reports a block as an EventPopupBlocked.
type RemoteOpener struct{}

// Open returns a new RemoteWindow.
func (RemoteOpener) Open(url, name string) Window {
	return &RemoteWindow{}
}
