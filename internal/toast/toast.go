// Package toast models console notifications and the mutation helper that
// produces them.
package toast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/CareDesk/internal/apiclient"
)

// Kind is the severity of a toast.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Kinds lists every toast kind.
var Kinds = []Kind{KindSuccess, KindError, KindWarning, KindInfo}

// Toast is one notification shown by the console.
type Toast struct {
	Kind    Kind
	Title   string
	Message string
}

// Success builds a success toast.
func Success(title, message string) Toast {
	return Toast{Kind: KindSuccess, Title: title, Message: message}
}

// Info builds an info toast.
func Info(title, message string) Toast {
	return Toast{Kind: KindInfo, Title: title, Message: message}
}

// Warning builds a warning toast.
func Warning(title, message string) Toast {
	return Toast{Kind: KindWarning, Title: title, Message: message}
}

// Failure builds an error toast carrying the raw error message, or the
// generic fallback when the error has none.
func Failure(title string, err error) Toast {
	msg := apiclient.ErrorMessage(err)
	if msg == "" {
		msg = apiclient.FallbackMessage
	}
	return Toast{Kind: KindError, Title: title, Message: msg}
}

// MutateOpts configures Mutate.
type MutateOpts struct {
	Success        string // title of the success toast
	SuccessMessage string
	Failure        string // title of the failure toast
}

// Mutate runs a mutation and turns its outcome into a toast. A failure
// carries the raw error message. Nothing is retried. Cache invalidation
// belongs to the apiclient call made inside fn.
func Mutate(ctx context.Context, fn func(ctx context.Context) error, opts MutateOpts) Toast {
	if err := fn(ctx); err != nil {
		slog.Warn("toast.Mutate: mutation failed", "title", opts.Failure, "error", err)
		return Failure(opts.Failure, err)
	}
	return Success(opts.Success, opts.SuccessMessage)
}

// Queue holds toasts until the next page render drains them.
type Queue struct {
	mu     sync.Mutex
	toasts []Toast
}

// NewQueue creates an empty Queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a toast.
func (q *Queue) Push(t Toast) {
	q.mu.Lock()
	q.toasts = append(q.toasts, t)
	q.mu.Unlock()
}

// Drain returns and removes every queued toast.
func (q *Queue) Drain() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.toasts
	q.toasts = nil
	return out
}
