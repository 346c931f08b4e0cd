// Package oauthflow implements the console side of the OAuth popup handshake.
//
// A handshake fetches a consent URL, opens it in a popup and then waits for
// either a message from the callback page or the popup being closed. All
// state changes go through Transition, and a handshake resolves exactly once.
package oauthflow

import (
	"errors"
	"log/slog"
)

// State is the state of one handshake.
type State string

const (
	StateIdle        State = "idle"
	StateAwaitingURL State = "awaiting-url"
	StatePopupOpen   State = "popup-open"
	StateResolved    State = "resolved"
	StateCancelled   State = "cancelled"
	StateFailed      State = "failed"
)

// Terminal reports whether no further event can change the state.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateCancelled || s == StateFailed
}

// EventKind names an input to the state machine.
type EventKind string

const (
	EventStart        EventKind = "start"
	EventURLReceived  EventKind = "url-received"
	EventURLFailed    EventKind = "url-failed"
	EventPopupBlocked EventKind = "popup-blocked"
	EventMessage      EventKind = "message"
	EventPopupClosed  EventKind = "popup-closed"
)

// Message types posted by the callback page.
const (
	MessageSuccess = "oauth-success"
	MessageError   = "oauth-error"
)

// Message is the payload the callback page posts to its opener.
type Message struct {
	Type     string `json:"type"`
	Provider string `json:"provider,omitempty"`
}

// Event is one input to Transition.
type Event struct {
	Kind    EventKind `json:"kind"`
	URL     string    `json:"url,omitempty"`
	Err     error     `json:"-"`
	Origin  string    `json:"origin,omitempty"`
	Payload Message   `json:"payload"`
}

// Effect is the side effect the caller performs after a transition.
type Effect string

const (
	EffectNone            Effect = ""
	EffectFetchURL        Effect = "fetch-url"
	EffectOpenPopup       Effect = "open-popup"
	EffectMarkConnected   Effect = "mark-connected"
	EffectNotifyError     Effect = "notify-error"
	EffectNotifyBlocked   Effect = "notify-blocked"
	EffectNotifyCancelled Effect = "notify-cancelled"
	EffectNotifyURLFailed Effect = "notify-url-failed"
)

// Outcome errors returned by Runner.Run.
var (
	ErrPopupBlocked        = errors.New("popup blocked")
	ErrAuthorizationFailed = errors.New("authorization failed")
	ErrCancelled           = errors.New("authorization cancelled")
	ErrURLUnavailable      = errors.New("authorization URL unavailable")
)

// Transition is the only place a handshake changes state. origin is the
// console origin; messages from any other origin are ignored. Terminal
// states ignore every event.
func Transition(s State, e Event, origin string) (State, Effect) {
	if s.Terminal() {
		return s, EffectNone
	}
	switch s {
	case StateIdle:
		if e.Kind == EventStart {
			return StateAwaitingURL, EffectFetchURL
		}
	case StateAwaitingURL:
		switch e.Kind {
		case EventURLReceived:
			return StatePopupOpen, EffectOpenPopup
		case EventURLFailed:
			return StateFailed, EffectNotifyURLFailed
		}
	case StatePopupOpen:
		switch e.Kind {
		case EventPopupBlocked:
			return StateFailed, EffectNotifyBlocked
		case EventPopupClosed:
			return StateCancelled, EffectNotifyCancelled
		case EventMessage:
			if e.Origin != origin {
				slog.Warn("oauthflow.Transition: ignoring message from foreign origin", "origin", e.Origin)
				return s, EffectNone
			}
			switch e.Payload.Type {
			case MessageSuccess:
				return StateResolved, EffectMarkConnected
			case MessageError:
				return StateFailed, EffectNotifyError
			}
		}
	}
	return s, EffectNone
}

// Err maps a terminal effect onto the error Runner.Run reports.
func (e Effect) Err() error {
	switch e {
	case EffectNotifyBlocked:
		return ErrPopupBlocked
	case EffectNotifyError:
		return ErrAuthorizationFailed
	case EffectNotifyCancelled:
		return ErrCancelled
	case EffectNotifyURLFailed:
		return ErrURLUnavailable
	default:
		return nil
	}
}
